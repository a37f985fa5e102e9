package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	ChainID         int64         `mapstructure:"chain_id"`
	RPCURL          string        `mapstructure:"rpc_url"`
	PrivateKey      string        `mapstructure:"private_key"`
	NativeAsset     string        `mapstructure:"native_asset"`
	WrappedNative   string        `mapstructure:"wrapped_native"`
	Vault           string        `mapstructure:"vault"`
	Relayer         string        `mapstructure:"relayer"`
	Multicall       string        `mapstructure:"multicall"`
	SlippageBps     int64         `mapstructure:"slippage_bps"`
	Gasless         bool          `mapstructure:"gasless"`
	HighPriceImpact float64       `mapstructure:"high_price_impact"`
	Deadline        time.Duration `mapstructure:"deadline"`
	BlockInterval   time.Duration `mapstructure:"block_interval"`
	HistoryFile     string        `mapstructure:"history_file"`

	Tokens    []TokenConfig   `mapstructure:"tokens"`
	Liquidity LiquidityConfig `mapstructure:"liquidity"`
	Pools     []PoolConfig    `mapstructure:"pools"`
	Offchain  OffchainConfig  `mapstructure:"offchain"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

type LiquidityConfig struct {
	Source          string        `mapstructure:"source"`
	PoolIDs         []string      `mapstructure:"pool_ids"`
	JoinExitPools   []string      `mapstructure:"join_exit_pools"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxHops         int           `mapstructure:"max_hops"`
}

// PoolConfig is a weighted pool given inline, used by the static liquidity source.
// Balances are raw token units; weights and the fee are decimal fractions.
type PoolConfig struct {
	ID          string            `mapstructure:"id"`
	Address     string            `mapstructure:"address"`
	SwapFee     string            `mapstructure:"swap_fee"`
	TotalSupply string            `mapstructure:"total_supply"`
	JoinExit    bool              `mapstructure:"join_exit"`
	Tokens      []PoolTokenConfig `mapstructure:"tokens"`
}

type PoolTokenConfig struct {
	Address string `mapstructure:"address"`
	Balance string `mapstructure:"balance"`
	Weight  string `mapstructure:"weight"`
}

type OffchainConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	JWTToken     string        `mapstructure:"jwt_token"`
	Networks     []int64       `mapstructure:"networks"`
	Settlement   string        `mapstructure:"settlement"`
	QuoteTimeout time.Duration `mapstructure:"quote_timeout"`
	ValidFor     time.Duration `mapstructure:"valid_for"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	AppData      string        `mapstructure:"app_data"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	DB       int           `mapstructure:"db"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

const (
	ProviderGnosis   = "gnosis"
	ProviderOneClick = "oneclick"

	SourceStatic  = "static"
	SourceOnchain = "onchain"

	MaxSlippageBps = 5000
)

var globalConfig *Config

// Load reads configuration from the config file and environment variables. An empty
// path searches for .venue-swap.yaml in $HOME and the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".venue-swap")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("VENUE_SWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// secrets are usually only given through the environment
	_ = v.BindEnv("private_key", "VENUE_SWAP_PRIVATE_KEY")
	_ = v.BindEnv("offchain.jwt_token", "VENUE_SWAP_JWT_TOKEN")
	_ = v.BindEnv("redis.password", "VENUE_SWAP_REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chain_id", 1)
	v.SetDefault("native_asset", "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
	v.SetDefault("slippage_bps", 50)
	v.SetDefault("high_price_impact", 0.05)
	v.SetDefault("deadline", "20m")
	v.SetDefault("block_interval", "12s")

	v.SetDefault("liquidity.source", SourceStatic)
	v.SetDefault("liquidity.refresh_interval", "30s")
	v.SetDefault("liquidity.max_hops", 3)

	v.SetDefault("offchain.provider", ProviderGnosis)
	v.SetDefault("offchain.networks", []int64{1})
	v.SetDefault("offchain.quote_timeout", "5s")
	v.SetDefault("offchain.valid_for", "20m")
	v.SetDefault("offchain.rate_limit", 5)

	v.SetDefault("redis.ttl", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/venue-swap.log")

	// registered so that AutomaticEnv can override them
	for _, key := range []string{
		"rpc_url", "wrapped_native", "vault", "relayer", "multicall", "history_file",
		"offchain.base_url", "offchain.settlement", "offchain.app_data",
		"redis.addr", "metrics.addr",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("gasless", false)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive")
	}
	if c.SlippageBps < 0 || c.SlippageBps > MaxSlippageBps {
		return fmt.Errorf("slippage_bps must be between 0 and %d, got %d", MaxSlippageBps, c.SlippageBps)
	}
	if c.HighPriceImpact <= 0 || c.HighPriceImpact >= 1 {
		return fmt.Errorf("high_price_impact must be between 0 and 1, got %v", c.HighPriceImpact)
	}

	addresses := map[string]string{
		"native_asset":        c.NativeAsset,
		"wrapped_native":      c.WrappedNative,
		"vault":               c.Vault,
		"relayer":             c.Relayer,
		"multicall":           c.Multicall,
		"offchain.settlement": c.Offchain.Settlement,
	}
	for name, addr := range addresses {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %q", name, addr)
		}
	}

	for i, t := range c.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("tokens[%d]: symbol is required", i)
		}
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("tokens[%d] %s: invalid address %q", i, t.Symbol, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return fmt.Errorf("tokens[%d] %s: decimals out of range", i, t.Symbol)
		}
	}

	switch c.Liquidity.Source {
	case SourceStatic:
	case SourceOnchain:
		if c.RPCURL == "" || c.Vault == "" || c.Multicall == "" {
			return fmt.Errorf("onchain liquidity needs rpc_url, vault and multicall")
		}
	default:
		return fmt.Errorf("unknown liquidity source %q", c.Liquidity.Source)
	}
	if c.Liquidity.RefreshInterval <= 0 {
		return fmt.Errorf("liquidity.refresh_interval must be positive")
	}

	for i, p := range c.Pools {
		if !common.IsHexAddress(p.Address) {
			return fmt.Errorf("pools[%d]: invalid address %q", i, p.Address)
		}
		if len(p.Tokens) < 2 {
			return fmt.Errorf("pools[%d]: needs at least two tokens", i)
		}
	}

	switch c.Offchain.Provider {
	case ProviderGnosis, ProviderOneClick:
	default:
		return fmt.Errorf("unknown offchain provider %q", c.Offchain.Provider)
	}
	if c.Offchain.QuoteTimeout <= 0 || c.Offchain.ValidFor <= 0 {
		return fmt.Errorf("offchain.quote_timeout and offchain.valid_for must be positive")
	}
	if c.Offchain.Provider == ProviderOneClick && c.Gasless && c.Offchain.JWTToken == "" {
		return fmt.Errorf("JWT token not found. Please set VENUE_SWAP_JWT_TOKEN environment variable or offchain.jwt_token in .venue-swap.yaml")
	}
	return nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
