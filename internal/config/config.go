// Package config defines all configuration for the trade executor.
// Config is loaded from a YAML file (default: configs/config.yaml); a .env
// file is read first so per-account secrets can be supplied via
// EXEC_<ACCOUNT>_API_KEY / EXEC_<ACCOUNT>_API_SECRET without appearing in
// the YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bybit-executor/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Demo           bool             `mapstructure:"demo"`
	MaxWaitSeconds int              `mapstructure:"max_wait_seconds"`
	Accounts       []AccountConfig  `mapstructure:"accounts"`
	Calculator     CalculatorConfig `mapstructure:"calculator"`
	Logging        LoggingConfig    `mapstructure:"logging"`
}

// AccountConfig holds one venue account. Name is the stable identifier used
// in logs and the summary; the key pair may be left empty in the YAML and
// supplied via the environment.
type AccountConfig struct {
	Name      string `mapstructure:"name"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// CalculatorConfig sizes the tier ladder.
//
//   - AccountSize: notional account size the risk fractions apply to.
//   - RiskFractions: account fraction risked per tier, deepest entry first.
type CalculatorConfig struct {
	AccountSize   float64   `mapstructure:"account_size"`
	RiskFractions []float64 `mapstructure:"risk_fractions"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file, after loading .env into the process
// environment. Per-account secrets are overridden from
// EXEC_<UPPERCASE_NAME>_API_KEY / _API_SECRET when set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for i := range cfg.Accounts {
		prefix := "EXEC_" + strings.ToUpper(cfg.Accounts[i].Name)
		if key := os.Getenv(prefix + "_API_KEY"); key != "" {
			cfg.Accounts[i].APIKey = key
		}
		if secret := os.Getenv(prefix + "_API_SECRET"); secret != "" {
			cfg.Accounts[i].APISecret = secret
		}
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for _, acct := range c.Accounts {
		if acct.Name == "" {
			return fmt.Errorf("every account needs a name")
		}
		if _, dup := seen[acct.Name]; dup {
			return fmt.Errorf("duplicate account name %q", acct.Name)
		}
		seen[acct.Name] = struct{}{}
		if acct.APIKey == "" || acct.APISecret == "" {
			return fmt.Errorf("account %q: api_key and api_secret are required (set EXEC_%s_API_KEY / _API_SECRET)",
				acct.Name, strings.ToUpper(acct.Name))
		}
	}
	if c.MaxWaitSeconds <= 0 {
		return fmt.Errorf("max_wait_seconds must be > 0")
	}
	if c.Calculator.AccountSize <= 0 {
		return fmt.Errorf("calculator.account_size must be > 0")
	}
	if n := len(c.Calculator.RiskFractions); n != 0 && n != types.NumTiers {
		return fmt.Errorf("calculator.risk_fractions needs exactly %d entries, got %d", types.NumTiers, n)
	}
	return nil
}

// Credentials converts the account list into the engine's credential type.
func (c *Config) Credentials() []types.Credentials {
	creds := make([]types.Credentials, len(c.Accounts))
	for i, acct := range c.Accounts {
		creds[i] = types.Credentials{Name: acct.Name, APIKey: acct.APIKey, APISecret: acct.APISecret}
	}
	return creds
}
