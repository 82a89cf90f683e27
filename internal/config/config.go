// Package config loads charms settings from a YAML file, CHARMS_*
// environment variables and bound command-line flags, in increasing order
// of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/spf13/viper"

	"github.com/bitsnark/charms/internal/sandbox"
)

const (
	EnvPrefix = "CHARMS"

	// DefaultConfigName is looked up in the working directory when no
	// config file is given.
	DefaultConfigName = "charms"
)

// Prover backends.
const (
	BackendMock   = "mock"
	BackendRemote = "remote"
)

type Config struct {
	// Metering turns on fuel accounting. Production verification needs it.
	Metering    bool   `mapstructure:"metering"`
	MaxFuel     uint64 `mapstructure:"max_fuel"`
	Parallelism int    `mapstructure:"parallelism"`

	// Mock selects mock proving and verification.
	Mock bool `mapstructure:"mock"`

	// DB is the SQLite cache path. Empty disables the cache.
	DB string `mapstructure:"db"`

	Network  string `mapstructure:"network"`
	LogLevel string `mapstructure:"log_level"`

	Prover Prover `mapstructure:"prover"`
	Fee    Fee    `mapstructure:"fee"`
	Server Server `mapstructure:"server"`
}

type Prover struct {
	Backend string `mapstructure:"backend"`
	Address string `mapstructure:"address"`
}

// Fee is the charms fee added to spell transactions. No fee is charged
// when Address is empty.
type Fee struct {
	Address string `mapstructure:"address"`
	Rate    uint64 `mapstructure:"rate"`
	Base    uint64 `mapstructure:"base"`
}

type Server struct {
	Listen        string `mapstructure:"listen"`
	MetricsListen string `mapstructure:"metrics_listen"`
}

// Amount is the fee in satoshis for a spell whose contracts used cycles.
func (f Fee) Amount(cycles uint64) uint64 {
	if f.Address == "" {
		return 0
	}
	return cycles*f.Rate/1_000_000 + f.Base
}

// PkScript is the output script paying the fee address on network.
func (f Fee) PkScript(network string) ([]byte, error) {
	params, err := NetParams(network)
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(f.Address, params)
	if err != nil {
		return nil, fmt.Errorf("fee address: %w", err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("fee address %s is not a %s address", f.Address, network)
	}
	return txscript.PayToAddrScript(addr)
}

// NetParams maps a network name to its chain parameters.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}

// New returns a viper instance with defaults and environment binding.
// Keys map to variables by upper-casing and replacing dots, so fee.rate
// is CHARMS_FEE_RATE.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("metering", true)
	v.SetDefault("max_fuel", sandbox.DefaultMaxFuel)
	v.SetDefault("parallelism", 1)
	v.SetDefault("mock", false)
	v.SetDefault("db", "")
	v.SetDefault("network", "mainnet")
	v.SetDefault("log_level", "info")
	v.SetDefault("prover.backend", BackendMock)
	v.SetDefault("prover.address", "")
	v.SetDefault("fee.address", "")
	v.SetDefault("fee.rate", 500)
	v.SetDefault("fee.base", 1000)
	v.SetDefault("server.listen", "127.0.0.1:17784")
	v.SetDefault("server.metrics_listen", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file into v, or charms.yaml from the working directory when
// file is empty and one exists, then decodes and validates the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxFuel == 0 {
		return fmt.Errorf("config: max_fuel must be positive")
	}
	if !c.Mock && !c.Metering {
		return fmt.Errorf("config: metering is required unless mock is set")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("config: parallelism must be at least 1")
	}
	switch c.Prover.Backend {
	case BackendMock:
	case BackendRemote:
		if c.Prover.Address == "" {
			return fmt.Errorf("config: prover.address is required for the remote backend")
		}
	default:
		return fmt.Errorf("config: unknown prover.backend %q", c.Prover.Backend)
	}
	if _, err := NetParams(c.Network); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Fee.Address != "" {
		if _, err := c.Fee.PkScript(c.Network); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return level, nil
}
