package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendBunt     = "bunt"
	BackendMemory   = "memory"
)

type Config struct {
	Debug    bool
	Server   ServerConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Bunt     BuntConfig
	Session  SessionConfig
	Log      LogConfig
}

type ServerConfig struct {
	Addr         string
	AllowOrigins string
}

type StoreConfig struct {
	// Backend holding profiles and activity logs: postgres, bunt or memory.
	Backend string
}

type PostgresConfig struct {
	Dsn     string
	Verbose bool
}

type BuntConfig struct {
	// Path of the profile database file. ":memory:" keeps it in memory.
	Path string
}

type SessionConfig struct {
	// Path of the buntdb file holding sessions and login challenges.
	Path string
}

type LogConfig struct {
	// Syslog tag. Empty disables the syslog hook.
	Syslog string
}

// New returns a viper instance reading NAMETAG_ prefixed environment
// variables, e.g. NAMETAG_POSTGRES_DSN for postgres.dsn.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("nametag")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("debug", false)
	v.SetDefault("server.addr", ":2137")
	v.SetDefault("server.allow_origins", "*")
	v.SetDefault("store.backend", BackendPostgres)
	v.SetDefault("postgres.verbose", false)
	v.SetDefault("bunt.path", "profiles.db")
	v.SetDefault("session.path", "kv.db")
	v.SetDefault("log.syslog", "")
	return v
}

// Load reads the config file if one was set and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Debug: v.GetBool("debug"),
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			AllowOrigins: v.GetString("server.allow_origins"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString("store.backend")),
		},
		Postgres: PostgresConfig{
			Dsn:     v.GetString("postgres.dsn"),
			Verbose: v.GetBool("postgres.verbose"),
		},
		Bunt: BuntConfig{
			Path: v.GetString("bunt.path"),
		},
		Session: SessionConfig{
			Path: v.GetString("session.path"),
		},
		Log: LogConfig{
			Syslog: v.GetString("log.syslog"),
		},
	}

	if cfg.Server.Addr == "" {
		return nil, errors.New("server addr not set")
	}
	if cfg.Session.Path == "" {
		return nil, errors.New("session path not set")
	}
	switch cfg.Store.Backend {
	case BackendPostgres:
		if cfg.Postgres.Dsn == "" {
			return nil, errors.New("postgres dsn not set")
		}
	case BackendBunt:
		if cfg.Bunt.Path == "" {
			return nil, errors.New("bunt path not set")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return cfg, nil
}
