package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/account"
	"github.com/kieran-lim/CDC-Camper-Bot/internal/domain/session"
)

// Config holds the complete application configuration
type Config struct {
	Program   ProgramConfig   `mapstructure:"program"`
	Accounts  []AccountConfig `mapstructure:"accounts"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Driver    DriverConfig    `mapstructure:"driver"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ProgramConfig defines the booking behavior and scheduling knobs
type ProgramConfig struct {
	AutoReserve        bool     `mapstructure:"auto_reserve"`
	ReserveForSameDay  bool     `mapstructure:"reserve_for_same_day"`
	SlotsPerReserve    int      `mapstructure:"slots_per_reserve"`
	BookFromOtherTeams bool     `mapstructure:"book_from_other_teams"`
	MonitoredTypes     []string `mapstructure:"monitored_types"`

	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Stagger       time.Duration `mapstructure:"stagger"`
	LoginAttempts int           `mapstructure:"login_attempts"`
	PollCycles    int           `mapstructure:"poll_cycles"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`

	// AutoRestart reruns the full account pass on the cron schedule below
	// instead of exiting after a single pass.
	AutoRestart bool   `mapstructure:"auto_restart"`
	RestartCron string `mapstructure:"restart_cron"`
}

// AccountConfig is one portal account as written in the config file
type AccountConfig struct {
	Name           string   `mapstructure:"name"`
	Username       string   `mapstructure:"username"`
	Password       string   `mapstructure:"password"`
	Enabled        bool     `mapstructure:"enabled"`
	MonitoredTypes []string `mapstructure:"monitored_types"`
}

// TelegramConfig defines the notification channel settings. The token comes
// from the environment, never the config file.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"-"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// DriverConfig defines how to reach the browser automation sidecar
type DriverConfig struct {
	SidecarURL string        `mapstructure:"sidecar_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// WorkspaceConfig defines where per-account scratch directories live
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// Load loads configuration from the YAML file, environment variables and a
// .env file if one is present. Environment variables win over the file.
func Load(configPath string) (*Config, error) {
	// godotenv will not override variables already set in the environment.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("CAMPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("program.auto_reserve", false)
	v.SetDefault("program.reserve_for_same_day", false)
	v.SetDefault("program.slots_per_reserve", 1)
	v.SetDefault("program.book_from_other_teams", false)
	v.SetDefault("program.monitored_types", []string{"practical"})
	v.SetDefault("program.max_concurrent", 2)
	v.SetDefault("program.stagger", "30s")
	v.SetDefault("program.login_attempts", 3)
	v.SetDefault("program.poll_cycles", 1)
	v.SetDefault("program.poll_interval", "1m")
	v.SetDefault("program.auto_restart", true)
	v.SetDefault("program.restart_cron", "0 * * * *")

	v.SetDefault("telegram.enabled", false)

	v.SetDefault("driver.sidecar_url", "http://localhost:8191")
	v.SetDefault("driver.timeout", "90s")

	v.SetDefault("workspace.root", "temp")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.environment", "development")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if _, err := cfg.MonitoredCategories(); err != nil {
		return err
	}
	for _, acc := range cfg.Accounts {
		for _, raw := range acc.MonitoredTypes {
			if _, err := session.ParseCategory(raw); err != nil {
				return fmt.Errorf("account %q: %w", acc.Name, err)
			}
		}
	}

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			return fmt.Errorf("telegram is enabled but TELEGRAM_TOKEN is not set")
		}
		if cfg.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram is enabled but telegram.chat_id is not set")
		}
	}

	if cfg.Program.AutoRestart && cfg.Program.RestartCron == "" {
		return fmt.Errorf("program.auto_restart requires program.restart_cron")
	}
	if cfg.Driver.SidecarURL == "" {
		return fmt.Errorf("driver.sidecar_url is not set")
	}
	if cfg.Program.SlotsPerReserve <= 0 {
		return fmt.Errorf("program.slots_per_reserve must be positive")
	}
	return nil
}

// MonitoredCategories resolves the program-wide default category list.
func (c *Config) MonitoredCategories() ([]session.Category, error) {
	cats := make([]session.Category, 0, len(c.Program.MonitoredTypes))
	for _, raw := range c.Program.MonitoredTypes {
		cat, err := session.ParseCategory(raw)
		if err != nil {
			return nil, err
		}
		cats = append(cats, cat)
	}
	return cats, nil
}

// AccountList converts the configured accounts into domain accounts,
// applying the program-wide monitored categories to accounts that do not
// override them. Accounts without credentials are dropped, not fatal.
func (c *Config) AccountList() (valid []account.Account, skipped []string, err error) {
	defaults, err := c.MonitoredCategories()
	if err != nil {
		return nil, nil, err
	}

	accounts := make([]account.Account, 0, len(c.Accounts))
	for _, raw := range c.Accounts {
		monitored := make([]session.Category, 0, len(raw.MonitoredTypes))
		for _, rawCat := range raw.MonitoredTypes {
			cat, perr := session.ParseCategory(rawCat)
			if perr != nil {
				return nil, nil, fmt.Errorf("account %q: %w", raw.Name, perr)
			}
			monitored = append(monitored, cat)
		}
		accounts = append(accounts, account.Account{
			Name:      raw.Name,
			Username:  raw.Username,
			Password:  raw.Password,
			Enabled:   raw.Enabled,
			Monitored: monitored,
		})
	}

	valid, skipped = account.Normalize(accounts, defaults)
	return valid, skipped, nil
}
