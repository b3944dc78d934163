package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pelletier/go-toml"
)

// ConfigError wraps every failure surfaced while loading the observer's
// configuration: a bad path, a TOML parse failure, or a semantic
// violation such as a duplicate pool name.
type ConfigError struct {
	Kind string // "read", "parse", "duplicate_pool_name", "unsupported"
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Kind, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// fileConfig is the literal TOML shape, decoded before any validation or
// type conversion (e.g. seconds -> time.Duration).
type fileConfig struct {
	DatabasePath   string          `toml:"database_path"`
	PostgresqlURL  string          `toml:"postgresql_url"`
	WebsocketAddr  string          `toml:"websocket_address"`
	DiscordWebhook string          `toml:"discord_webhook_url"`
	MaxFailsAlert  int             `toml:"max_connect_failures_before_alert"`
	Pools          []filePoolEntry `toml:"pools"`
}

type filePoolEntry struct {
	Name        string `toml:"name"`
	Endpoint    string `toml:"endpoint"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	MaxLifetime int    `toml:"max_lifetime"`
}

// Config is the validated, process-ready configuration.
type Config struct {
	DatabasePath               string
	WebsocketAddr              string
	DiscordWebhookURL          string
	MaxConnectFailuresForAlert int
	Pools                      []Pool
}

// DBEnabled reports whether the DB writer should be started.
func (c Config) DBEnabled() bool { return c.DatabasePath != "" }

// WSEnabled reports whether the WebSocket server should be started.
func (c Config) WSEnabled() bool { return c.WebsocketAddr != "" }

const defaultConfigFileName = "config.toml"

// configPath resolves the config file location from the CONFIG_FILE
// environment variable. With no override, it prefers "config.toml" in the
// working directory and falls back to the same file under the platform's
// per-user application data directory.
func configPath() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigFileName); err == nil {
		return defaultConfigFileName
	}
	appDir := btcutil.AppDataDir("stratum-observer", false)
	if appDir == "" {
		return defaultConfigFileName
	}
	return filepath.Join(appDir, defaultConfigFileName)
}

// loadConfig reads and validates the configuration at path. It is the
// only place config errors are raised; everything downstream assumes a
// Config value is already valid.
func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Kind: "read", Err: err}
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Config{}, &ConfigError{Kind: "parse", Err: err}
	}

	return validateConfig(fc)
}

func validateConfig(fc fileConfig) (Config, error) {
	if fc.PostgresqlURL != "" && fc.DatabasePath == "" {
		return Config{}, &ConfigError{
			Kind: "unsupported",
			Err:  errors.New("postgresql_url is accepted in config but no PostgreSQL driver is wired into this build; set database_path for the sqlite-backed writer instead"),
		}
	}

	seen := make(map[string]struct{}, len(fc.Pools))
	pools := make([]Pool, 0, len(fc.Pools))
	for _, p := range fc.Pools {
		if _, dup := seen[p.Name]; dup {
			return Config{}, &ConfigError{Kind: "duplicate_pool_name", Err: fmt.Errorf("duplicate pool name %q", p.Name)}
		}
		seen[p.Name] = struct{}{}

		maxLifetime := time.Duration(p.MaxLifetime) * time.Second
		if p.MaxLifetime <= 0 {
			maxLifetime = defaultMaxLifetime
		}

		pools = append(pools, Pool{
			Name:        p.Name,
			Endpoint:    p.Endpoint,
			User:        p.User,
			Password:    p.Password,
			MaxLifetime: maxLifetime,
		})
	}

	maxFailsAlert := fc.MaxFailsAlert
	if maxFailsAlert <= 0 {
		maxFailsAlert = 5
	}

	return Config{
		DatabasePath:               fc.DatabasePath,
		WebsocketAddr:              fc.WebsocketAddr,
		DiscordWebhookURL:          fc.DiscordWebhook,
		MaxConnectFailuresForAlert: maxFailsAlert,
		Pools:                      pools,
	}, nil
}
