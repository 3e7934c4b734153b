package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"

	"loyalchain/crypto"
)

// Config is the top-level paymentd configuration, loaded from TOML.
type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	DataDir              string `toml:"DataDir"`
	ChainID              int64  `toml:"ChainID"`
	FeeBps               uint32 `toml:"FeeBps"`
	HoldingAccount       string `toml:"HoldingAccount"`
	SystemAccount        string `toml:"SystemAccount"`
	FeeCollectionAccount string `toml:"FeeCollectionAccount"`

	Rates     RatesConfig     `toml:"Rates"`
	Gateway   GatewayConfig   `toml:"Gateway"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
}

// RatesConfig seeds the currency oracle. Values are decimal strings so rates
// with no exact binary representation survive the round trip.
type RatesConfig struct {
	TokenPerPoint string            `toml:"TokenPerPoint"`
	PointPerUnit  map[string]string `toml:"PointPerUnit"`
}

type GatewayConfig struct {
	LogRequests bool            `toml:"LogRequests"`
	Auth        AuthConfig      `toml:"Auth"`
	RateLimit   RateLimitConfig `toml:"RateLimit"`
}

type AuthConfig struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// TelemetryConfig controls OTLP trace export. Disabled by default so a bare
// paymentd does not try to dial a collector.
type TelemetryConfig struct {
	Enabled     bool   `toml:"Enabled"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Headers     string `toml:"Headers"`
	Environment string `toml:"Environment"`
}

// Default returns the configuration used when no file overrides are given.
// The reserved accounts are deliberately empty; Validate rejects a config
// that does not name them.
func Default() *Config {
	return &Config{
		ListenAddress: ":8662",
		DataDir:       "./paymentd-data",
		ChainID:       2332,
		FeeBps:        100,
		Rates: RatesConfig{
			TokenPerPoint: "1",
			PointPerUnit:  map[string]string{},
		},
		Gateway: GatewayConfig{
			LogRequests: true,
			RateLimit:   RateLimitConfig{RequestsPerMinute: 600, Burst: 30},
		},
	}
}

// Load reads the configuration from the given path and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration that cannot default.
func (c *Config) Validate() error {
	if c.FeeBps > 10_000 {
		return fmt.Errorf("config: FeeBps out of range: %d", c.FeeBps)
	}
	for name, value := range map[string]string{
		"HoldingAccount":       c.HoldingAccount,
		"SystemAccount":        c.SystemAccount,
		"FeeCollectionAccount": c.FeeCollectionAccount,
	} {
		if value == "" {
			return fmt.Errorf("config: %s required", name)
		}
		if _, err := decodeAccount(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if _, err := c.TokenRate(); err != nil {
		return err
	}
	if _, err := c.PointRates(); err != nil {
		return err
	}
	return nil
}

func decodeAccount(value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// HoldingAddress returns the decoded escrow holding account.
func (c *Config) HoldingAddress() ([20]byte, error) {
	return decodeAccount(c.HoldingAccount)
}

// SystemAddress returns the decoded system account.
func (c *Config) SystemAddress() ([20]byte, error) {
	return decodeAccount(c.SystemAccount)
}

// FeeCollectionAddress returns the decoded fee collection account.
func (c *Config) FeeCollectionAddress() ([20]byte, error) {
	return decodeAccount(c.FeeCollectionAccount)
}

// TokenRate parses the configured token-per-point rate.
func (c *Config) TokenRate() (*big.Rat, error) {
	rate, ok := new(big.Rat).SetString(c.Rates.TokenPerPoint)
	if !ok || rate.Sign() <= 0 {
		return nil, fmt.Errorf("config: invalid TokenPerPoint %q", c.Rates.TokenPerPoint)
	}
	return rate, nil
}

// PointRates parses the configured per-currency point rates.
func (c *Config) PointRates() (map[string]*big.Rat, error) {
	out := make(map[string]*big.Rat, len(c.Rates.PointPerUnit))
	for code, value := range c.Rates.PointPerUnit {
		rate, ok := new(big.Rat).SetString(value)
		if !ok || rate.Sign() <= 0 {
			return nil, fmt.Errorf("config: invalid rate for %s: %q", code, value)
		}
		out[code] = rate
	}
	return out, nil
}
