// Package config implements ssbabeld's viper-driven configuration
// (A1): resend tuning, HMAC keys, kernel backend selection, logging
// and the introspection API's listen address. It mirrors the
// validator-interface pattern of the teacher's own configuration
// layer: a Config struct unmarshalled by viper, validated once before
// the daemon starts.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix viper binds flags
// under (SSBABELD_LOGGING_LEVEL, SSBABELD_KERNEL, ...).
const EnvPrefix = "SSBABELD"

// KernelBackend selects which pkg/kernel implementation the daemon
// wires up.
type KernelBackend string

const (
	// BackendNetlink uses pkg/kernel/netlinkfib (Linux only).
	BackendNetlink KernelBackend = "netlink"
	// BackendMemory uses pkg/kernel/memfib, for tests and non-Linux
	// demonstration runs.
	BackendMemory KernelBackend = "memory"
)

// Resend holds the retransmission engine's tuning knobs.
type Resend struct {
	Max            uint8         `mapstructure:"max"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Logging mirrors the teacher's logging configuration surface.
type Logging struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Destination string `mapstructure:"destination"`
}

// API holds the introspection HTTP server's settings.
type API struct {
	Addr    string `mapstructure:"addr"`
	Metrics bool   `mapstructure:"metrics"`
}

// Config is the top-level, viper-unmarshalled configuration.
type Config struct {
	Kernel KernelBackend `mapstructure:"kernel"`

	Resend Resend `mapstructure:"resend"`

	// Infinity is the unreachable metric sentinel.
	Infinity uint16 `mapstructure:"infinity"`

	// AllowDuplicates, if >= 0, permits a kernel route with a metric
	// below this value to coexist with an installed Babel route for
	// the same Datum instead of uninstalling it during xroute
	// reconciliation. A negative value (the default) always
	// uninstalls.
	AllowDuplicates int `mapstructure:"allow_duplicates"`

	// HMACKeys maps interface name to HMAC key; "default" is the
	// fallback used by interfaces without a specific entry.
	HMACKeys map[string]string `mapstructure:"hmac_keys"`

	Logging Logging `mapstructure:"logging"`
	API     API     `mapstructure:"api"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Kernel: BackendMemory,
		Resend: Resend{
			Max:            3,
			RequestTimeout: 120 * time.Second,
		},
		Infinity:        0xFFFF,
		AllowDuplicates: -1,
		HMACKeys:        map[string]string{},
		Logging: Logging{
			Level:    "info",
			Encoding: "logfmt",
		},
		API: API{
			Addr:    "127.0.0.1:8080",
			Metrics: true,
		},
	}
}

// Load unmarshals v into a Config seeded with Default(), so that
// unset fields keep their defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Validate collects every configuration error instead of stopping at
// the first, matching the teacher's Config.Validate() pattern.
func (c *Config) Validate() error {
	var errs []string

	switch c.Kernel {
	case BackendNetlink, BackendMemory:
	default:
		errs = append(errs, fmt.Sprintf("unknown kernel backend %q", c.Kernel))
	}

	if c.Resend.Max == 0 {
		errs = append(errs, "resend.max must be >= 1")
	}
	if c.Resend.RequestTimeout <= 0 {
		errs = append(errs, "resend.request_timeout must be positive")
	}
	if c.Infinity == 0 {
		errs = append(errs, "infinity must be a positive metric sentinel")
	}
	if _, ok := c.HMACKeys["default"]; !ok && len(c.HMACKeys) > 0 {
		errs = append(errs, "hmac_keys should define a \"default\" fallback entry")
	}
	if c.API.Addr == "" {
		errs = append(errs, "api.addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// KeyBytes returns the configured HMAC keys as []byte, keyed by
// interface name, suitable for auth.MapKeySource.
func (c *Config) KeyBytes() map[string][]byte {
	out := make(map[string][]byte, len(c.HMACKeys))
	for k, v := range c.HMACKeys {
		out[k] = []byte(v)
	}
	return out
}
