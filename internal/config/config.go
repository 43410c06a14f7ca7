// internal/config/config.go
package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config is the application configuration loaded from file with
// SOLANA_VOLUME_BOT_* environment overrides.
type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	MongoURL     string   `mapstructure:"mongo_url"`
	DBName       string   `mapstructure:"db_name"`
	JitoEndpoint string   `mapstructure:"jito_endpoint"`
	PriceURL     string   `mapstructure:"price_url"`
	WalletsFile  string   `mapstructure:"wallets_file"`
	DebugLogging bool     `mapstructure:"debug_logging"`

	// Trading parameters.
	JitoTipSol        float64 `mapstructure:"jito_tip_sol"`
	SwapFee           float64 `mapstructure:"swap_fee"`
	MinWorkingBalance float64 `mapstructure:"min_working_balance"`
	MaxWalletSize     int     `mapstructure:"max_wallet_size"`

	// Operator fee wallets. Shares are fixed at 20/15/15 percent of the
	// collected fee; the remaining 50 percent goes to the referrer.
	TaxWallet1 string `mapstructure:"tax_wallet1"`
	TaxWallet2 string `mapstructure:"tax_wallet2"`
	TaxWallet3 string `mapstructure:"tax_wallet3"`
}

const (
	DefaultJitoEndpoint      = "https://frankfurt.mainnet.block-engine.jito.wtf"
	DefaultPriceURL          = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"
	DefaultJitoTipSol        = 0.0001
	DefaultSwapFee           = 0.005
	DefaultMinWorkingBalance = 0.1
	DefaultMaxWalletSize     = 30
	DefaultTaxWallet         = "FEE1QhTscRTPYwFv4hhVRdofcVE1pTemZUcxEeTtfWCs"
)

// LoadConfig reads and validates configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"db_name":             "volumebot",
		"jito_endpoint":       DefaultJitoEndpoint,
		"price_url":           DefaultPriceURL,
		"wallets_file":        "configs/wallets.yaml",
		"jito_tip_sol":        DefaultJitoTipSol,
		"swap_fee":            DefaultSwapFee,
		"min_working_balance": DefaultMinWorkingBalance,
		"max_wallet_size":     DefaultMaxWalletSize,
		"tax_wallet1":         DefaultTaxWallet,
		"tax_wallet2":         DefaultTaxWallet,
		"tax_wallet3":         DefaultTaxWallet,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.MongoURL == "" {
		return errors.New("mongo_url is required")
	}
	if err := validateURL(cfg.JitoEndpoint, "http"); err != nil {
		return errors.New("invalid jito_endpoint")
	}
	if cfg.JitoTipSol <= 0 {
		return errors.New("invalid jito_tip_sol")
	}
	if cfg.SwapFee < 0 || cfg.SwapFee >= 1 {
		return errors.New("invalid swap_fee")
	}
	if cfg.MinWorkingBalance <= 0 {
		return errors.New("invalid min_working_balance")
	}
	if cfg.MaxWalletSize <= 0 {
		return errors.New("invalid max_wallet_size")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLANA_VOLUME_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envMongo := v.GetString("MONGO_URL"); envMongo != "" {
		cfg.MongoURL = envMongo
	}

	if envRPCList := v.GetString("RPC_LIST"); envRPCList != "" {
		var cleanRPCs []string
		for _, rpc := range strings.Split(envRPCList, ",") {
			if clean := strings.TrimSpace(rpc); clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
}
