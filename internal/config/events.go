package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type EventsConfig struct {
	Sinks        []string
	KafkaBrokers []string
	RedisPrefix  string
	Ledger       string
	Trade        string
	Withdrawal   string
	Payout       string
	Notification string
}

func LoadEventsConfig() *EventsConfig {
	viper.SetDefault("events.sinks", "log")
	viper.SetDefault("events.redis_prefix", "events:")
	viper.SetDefault("events.topics.ledger", "wallet.ledger")
	viper.SetDefault("events.topics.trade", "wallet.trades")
	viper.SetDefault("events.topics.withdrawal", "wallet.withdrawals")
	viper.SetDefault("events.topics.payout", "wallet.payouts")
	viper.SetDefault("events.topics.notification", "notifications.otp")
	viper.SetDefault("kafka.brokers", "")

	return &EventsConfig{
		Sinks:        splitList(viper.GetString("events.sinks")),
		KafkaBrokers: splitList(viper.GetString("kafka.brokers")),
		RedisPrefix:  viper.GetString("events.redis_prefix"),
		Ledger:       viper.GetString("events.topics.ledger"),
		Trade:        viper.GetString("events.topics.trade"),
		Withdrawal:   viper.GetString("events.topics.withdrawal"),
		Payout:       viper.GetString("events.topics.payout"),
		Notification: viper.GetString("events.topics.notification"),
	}
}

func (c *EventsConfig) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

func LoadSweeperConfig() *SweeperConfig {
	viper.SetDefault("sweeper.interval", 30*time.Second)
	viper.SetDefault("sweeper.batch_size", 100)

	return &SweeperConfig{
		Interval:  viper.GetDuration("sweeper.interval"),
		BatchSize: viper.GetInt("sweeper.batch_size"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
