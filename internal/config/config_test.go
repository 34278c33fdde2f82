package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithdrawalConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("withdrawal.networks", "trc20, erc20, DOGE")
	viper.Set("withdrawal.fee.erc20.rate", "0.001")

	cfg := LoadWithdrawalConfig()
	assert.Equal(t, 6, cfg.CodeLength)
	assert.Equal(t, 10*time.Minute, cfg.CodeTTL)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Len(t, cfg.Networks, 2)

	_, ok := cfg.Network("DOGE")
	assert.False(t, ok)

	erc, ok := cfg.Network("erc20")
	require.True(t, ok)
	assert.True(t, erc.Fee(decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(6)))

	trc, ok := cfg.Network("TRC20")
	require.True(t, ok)
	assert.True(t, trc.Fee(decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(1)))
}

func TestNetworkConfig_ValidAddress(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	cfg := LoadWithdrawalConfig()

	tests := []struct {
		network string
		address string
		valid   bool
	}{
		{"ERC20", "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{"ERC20", "0x52908400098527886E0F7030069857D2E4169EE", false},
		{"BEP20", "52908400098527886E0F7030069857D2E4169EE7", false},
		{"TRC20", "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8", true},
		{"TRC20", "TJRabPrwbZy45sbavfcjinPJC18kjpRTv0", false},
		{"SOLANA", "7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV", true},
		{"SOLANA", "0x52908400098527886E0F7030069857D2E4169EE7", false},
	}

	for _, tt := range tests {
		t.Run(tt.network+"/"+tt.address, func(t *testing.T) {
			n, ok := cfg.Network(tt.network)
			require.True(t, ok)
			assert.Equal(t, tt.valid, n.ValidAddress(tt.address))
		})
	}
}

func TestLoadEventsConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("events.sinks", "log, Kafka")
	viper.Set("kafka.brokers", "kafka-1:9092,kafka-2:9092")

	cfg := LoadEventsConfig()
	assert.True(t, cfg.HasSink("kafka"))
	assert.False(t, cfg.HasSink("redis"))
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "wallet.payouts", cfg.Payout)
}
