package config

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const base58 = `[1-9A-HJ-NP-Za-km-z]`

var addressPatterns = map[string]*regexp.Regexp{
	"ERC20":   regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`),
	"BEP20":   regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`),
	"POLYGON": regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`),
	"TRC20":   regexp.MustCompile(`^T` + base58 + `{33}$`),
	"SOLANA":  regexp.MustCompile(`^` + base58 + `{32,44}$`),
}

var defaultFixedFees = map[string]string{
	"ERC20":   "5",
	"BEP20":   "0.5",
	"POLYGON": "0.2",
	"TRC20":   "1",
	"SOLANA":  "0.5",
}

// NetworkConfig describes one supported withdrawal network.
type NetworkConfig struct {
	Name           string
	AddressPattern *regexp.Regexp
	FixedFee       decimal.Decimal
	FeeRate        decimal.Decimal
	MinAmount      decimal.Decimal
}

// Fee is fixed + amount * rate, rounded down to the ledger scale.
func (n NetworkConfig) Fee(amount decimal.Decimal) decimal.Decimal {
	return n.FixedFee.Add(amount.Mul(n.FeeRate)).Truncate(18)
}

func (n NetworkConfig) ValidAddress(address string) bool {
	return n.AddressPattern != nil && n.AddressPattern.MatchString(address)
}

type WithdrawalConfig struct {
	CodeLength       int
	CodeTTL          time.Duration
	MaxAttempts      int
	ConfirmRateLimit int
	RateLimitWindow  time.Duration
	Networks         map[string]NetworkConfig
}

func (c *WithdrawalConfig) Network(name string) (NetworkConfig, bool) {
	n, ok := c.Networks[strings.ToUpper(name)]
	return n, ok
}

func LoadWithdrawalConfig() *WithdrawalConfig {
	viper.SetDefault("withdrawal.code_length", 6)
	viper.SetDefault("withdrawal.code_ttl", 10*time.Minute)
	viper.SetDefault("withdrawal.max_attempts", 5)
	viper.SetDefault("withdrawal.confirm_rate_limit", 20)
	viper.SetDefault("withdrawal.rate_limit_window", 15*time.Minute)
	viper.SetDefault("withdrawal.networks", "TRC20,ERC20,BEP20,POLYGON,SOLANA")

	cfg := &WithdrawalConfig{
		CodeLength:       viper.GetInt("withdrawal.code_length"),
		CodeTTL:          viper.GetDuration("withdrawal.code_ttl"),
		MaxAttempts:      viper.GetInt("withdrawal.max_attempts"),
		ConfirmRateLimit: viper.GetInt("withdrawal.confirm_rate_limit"),
		RateLimitWindow:  viper.GetDuration("withdrawal.rate_limit_window"),
		Networks:         make(map[string]NetworkConfig),
	}

	for _, name := range strings.Split(viper.GetString("withdrawal.networks"), ",") {
		name = strings.ToUpper(strings.TrimSpace(name))
		pattern, ok := addressPatterns[name]
		if !ok {
			continue
		}
		key := "withdrawal.fee." + strings.ToLower(name)
		viper.SetDefault(key+".fixed", defaultFixedFees[name])
		viper.SetDefault(key+".rate", "0")
		viper.SetDefault(key+".min", "1")

		cfg.Networks[name] = NetworkConfig{
			Name:           name,
			AddressPattern: pattern,
			FixedFee:       decimalOrZero(viper.GetString(key + ".fixed")),
			FeeRate:        decimalOrZero(viper.GetString(key + ".rate")),
			MinAmount:      decimalOrZero(viper.GetString(key + ".min")),
		}
	}
	return cfg
}

// AddressPattern returns the destination format for a network, if known.
func AddressPattern(network string) (*regexp.Regexp, bool) {
	p, ok := addressPatterns[strings.ToUpper(network)]
	return p, ok
}

func decimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
