package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL        string
	ChainID       int64
	RPCRateLimit  float64
	RPCBurst      int
	LogLevel      string
	WrappedNative string
	NativeSymbol  string

	Catalog    string
	CatalogTTL time.Duration
	PruneEmpty bool

	MaxInFlight    int
	AttemptTimeout time.Duration
	RetryBackoff   time.Duration
	MaxHops        int
	MaxAttempts    int
	Intermediates  []string

	PriceImpact    bool
	ImpactProbeBps int64

	Split          bool
	SplitTolerance decimal.Decimal
	SplitSteps     int

	Out            string
	PGDSN          string
	Listen         string
	APIRateLimit   float64
	APIBurst       int
	RequestTimeout time.Duration

	Venues []VenueConfig
	Tokens []TokenConfig
}

// VenueConfig describes one DEX deployment in the config file.
type VenueConfig struct {
	Name        string   `mapstructure:"name"`
	Protocol    string   `mapstructure:"protocol"`
	Router      string   `mapstructure:"router"`
	Quoter      string   `mapstructure:"quoter"`
	Factory     string   `mapstructure:"factory"`
	FeeTiers    []uint32 `mapstructure:"fee-tiers"`
	QuoterShape string   `mapstructure:"quoter-shape"`
	MultiHop    string   `mapstructure:"multihop"`
}

// TokenConfig is trusted token metadata that skips chain lookups.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
	Symbol   string `mapstructure:"symbol"`
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUOTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc", "https://bsc-dataseed.bnbchain.org")
	v.SetDefault("rpc-rate-limit", 25.0)
	v.SetDefault("rpc-burst", 10)
	v.SetDefault("log-level", "info")
	v.SetDefault("wrapped-native", wbnb)
	v.SetDefault("native-symbol", "BNB")
	v.SetDefault("catalog", "static")
	v.SetDefault("catalog-ttl", 10*time.Minute)
	v.SetDefault("prune-empty", false)
	v.SetDefault("max-in-flight", 16)
	v.SetDefault("attempt-timeout", 3*time.Second)
	v.SetDefault("retry-backoff", 200*time.Millisecond)
	v.SetDefault("max-hops", 3)
	v.SetDefault("max-attempts", 256)
	v.SetDefault("intermediates", []string{wbnb, usdt, busd, usdc})
	v.SetDefault("price-impact", true)
	v.SetDefault("impact-probe-bps", int64(10))
	v.SetDefault("split", false)
	v.SetDefault("split-tolerance", "0.005")
	v.SetDefault("split-steps", 20)
	v.SetDefault("listen", ":8080")
	v.SetDefault("api-rate-limit", 20.0)
	v.SetDefault("api-burst", 40)
	v.SetDefault("request-timeout", 10*time.Second)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	tolerance, err := decimal.NewFromString(strings.TrimSpace(v.GetString("split-tolerance")))
	if err != nil {
		return Config{}, fmt.Errorf("split-tolerance: %w", err)
	}

	cfg := Config{
		RPCURL:         v.GetString("rpc"),
		ChainID:        v.GetInt64("chain-id"),
		RPCRateLimit:   v.GetFloat64("rpc-rate-limit"),
		RPCBurst:       v.GetInt("rpc-burst"),
		LogLevel:       v.GetString("log-level"),
		WrappedNative:  v.GetString("wrapped-native"),
		NativeSymbol:   v.GetString("native-symbol"),
		Catalog:        v.GetString("catalog"),
		CatalogTTL:     v.GetDuration("catalog-ttl"),
		PruneEmpty:     v.GetBool("prune-empty"),
		MaxInFlight:    v.GetInt("max-in-flight"),
		AttemptTimeout: v.GetDuration("attempt-timeout"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		MaxHops:        v.GetInt("max-hops"),
		MaxAttempts:    v.GetInt("max-attempts"),
		Intermediates:  getStringSlice(v, "intermediates"),
		PriceImpact:    v.GetBool("price-impact"),
		ImpactProbeBps: v.GetInt64("impact-probe-bps"),
		Split:          v.GetBool("split"),
		SplitTolerance: tolerance,
		SplitSteps:     v.GetInt("split-steps"),
		Out:            v.GetString("report-out"),
		PGDSN:          v.GetString("pg-dsn"),
		Listen:         v.GetString("listen"),
		APIRateLimit:   v.GetFloat64("api-rate-limit"),
		APIBurst:       v.GetInt("api-burst"),
		RequestTimeout: v.GetDuration("request-timeout"),
	}

	if v.IsSet("venues") {
		if err := v.UnmarshalKey("venues", &cfg.Venues); err != nil {
			return Config{}, fmt.Errorf("venues: %w", err)
		}
	} else {
		cfg.Venues = DefaultVenues()
	}
	if v.IsSet("tokens") {
		if err := v.UnmarshalKey("tokens", &cfg.Tokens); err != nil {
			return Config{}, fmt.Errorf("tokens: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside the engine.
func (c Config) Validate() error {
	if c.MaxHops < 1 || c.MaxHops > 3 {
		return fmt.Errorf("max-hops must be between 1 and 3, got %d", c.MaxHops)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max-in-flight must be positive, got %d", c.MaxInFlight)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt-timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive")
	}
	switch c.Catalog {
	case "static", "discovered":
	default:
		return fmt.Errorf("catalog must be static or discovered, got %q", c.Catalog)
	}
	if c.SplitTolerance.IsNegative() {
		return fmt.Errorf("split-tolerance must not be negative")
	}
	if c.ImpactProbeBps < 1 || c.ImpactProbeBps > 10000 {
		return fmt.Errorf("impact-probe-bps must be between 1 and 10000, got %d", c.ImpactProbeBps)
	}
	return nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
