// Package config loads dbagent settings from defaults, an optional YAML file
// and DBAGENT_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/backends"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/eventsfactory"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/executor"
	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/statecache"
)

// EnvPrefix prefixes every environment variable, e.g. DBAGENT_DATABASE_URL
const EnvPrefix = "DBAGENT"

// DefaultFile is read when no config file is given and it exists
const DefaultFile = "dbagent.yaml"

// State store types
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreEtcd   = "etcd"
	StoreMemory = "memory"
)

// Config holds the application configuration
type Config struct {
	Database   DatabaseConfig                 `mapstructure:"database"`
	Migrations MigrationsConfig               `mapstructure:"migrations"`
	State      StateConfig                    `mapstructure:"state"`
	Project    ProjectConfig                  `mapstructure:"project"`
	Features   []statecache.FeatureDefinition `mapstructure:"features"`
	Events     EventsConfig                   `mapstructure:"events"`
	Server     ServerConfig                   `mapstructure:"server"`
	AI         AIConfig                       `mapstructure:"ai"`
	Log        LogConfig                      `mapstructure:"log"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	Schema       string `mapstructure:"schema"`
	ExecFunction string `mapstructure:"exec_function"`
}

type MigrationsConfig struct {
	Dirs              []string `mapstructure:"dirs"`
	TrackingTable     string   `mapstructure:"tracking_table"`
	FallbackDir       string   `mapstructure:"fallback_dir"`
	RequireReversible bool     `mapstructure:"require_reversible"`
}

type StateConfig struct {
	Store           string        `mapstructure:"store"`
	Path            string        `mapstructure:"path"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Etcd            EtcdConfig    `mapstructure:"etcd"`
}

type EtcdConfig struct {
	Endpoints []string      `mapstructure:"endpoints"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	Prefix    string        `mapstructure:"prefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ProjectConfig struct {
	Root          string   `mapstructure:"root"`
	RouteDirs     []string `mapstructure:"route_dirs"`
	ComponentDirs []string `mapstructure:"component_dirs"`
}

type EventsConfig struct {
	Type               string   `mapstructure:"type"`
	KafkaBrokers       []string `mapstructure:"kafka_brokers"`
	KafkaTopic         string   `mapstructure:"kafka_topic"`
	KafkaGroupID       string   `mapstructure:"kafka_group_id"`
	PulsarURL          string   `mapstructure:"pulsar_url"`
	PulsarTopic        string   `mapstructure:"pulsar_topic"`
	PulsarSubscription string   `mapstructure:"pulsar_subscription"`
	// Subscribe makes serve invalidate the state cache when another agent
	// applies or rolls back a migration
	Subscribe bool `mapstructure:"subscribe"`
}

type ServerConfig struct {
	HTTPPort string `mapstructure:"http_port"`
	GRPCPort string `mapstructure:"grpc_port"`
	APIToken string `mapstructure:"api_token"`
	Watch    bool   `mapstructure:"watch"`
}

type AIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// New returns a viper instance with defaults and environment binding set up
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.exec_function", "")

	v.SetDefault("migrations.dirs", executor.DefaultMigrationDirs)
	v.SetDefault("migrations.tracking_table", "migrations")
	v.SetDefault("migrations.fallback_dir", "")
	v.SetDefault("migrations.require_reversible", false)

	v.SetDefault("state.store", StoreFile)
	v.SetDefault("state.path", statecache.DefaultFile)
	v.SetDefault("state.sqlite_path", ".dbagent/state.db")
	v.SetDefault("state.ttl", statecache.DefaultTTL)
	v.SetDefault("state.refresh_interval", time.Duration(0))
	v.SetDefault("state.etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("state.etcd.username", "")
	v.SetDefault("state.etcd.password", "")
	v.SetDefault("state.etcd.prefix", "/dbagent/")
	v.SetDefault("state.etcd.timeout", 5*time.Second)

	v.SetDefault("project.root", ".")
	v.SetDefault("project.route_dirs", statecache.DefaultRouteDirs)
	v.SetDefault("project.component_dirs", statecache.DefaultComponentDirs)

	v.SetDefault("events.type", "none")
	v.SetDefault("events.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka_topic", "dbagent-migrations")
	v.SetDefault("events.pulsar_url", "pulsar://localhost:6650")
	v.SetDefault("events.pulsar_topic", "dbagent-migrations")
	v.SetDefault("events.kafka_group_id", "dbagent")
	v.SetDefault("events.pulsar_subscription", "dbagent")
	v.SetDefault("events.subscribe", false)

	v.SetDefault("server.http_port", "7070")
	v.SetDefault("server.grpc_port", "9090")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.watch", true)

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	// Unprefixed variables commonly set by hosting platforms
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("server.api_token", EnvPrefix+"_SERVER_API_TOKEN", EnvPrefix+"_API_TOKEN")
	_ = v.BindEnv("ai.api_key", EnvPrefix+"_AI_API_KEY", "ANTHROPIC_API_KEY")

	return v
}

// Load reads file (or DefaultFile when present) into v and decodes the result.
// A missing default file is not an error; a missing explicit file is.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Migrations.Dirs = splitList(cfg.Migrations.Dirs)
	cfg.Project.RouteDirs = splitList(cfg.Project.RouteDirs)
	cfg.Project.ComponentDirs = splitList(cfg.Project.ComponentDirs)
	cfg.Events.KafkaBrokers = splitList(cfg.Events.KafkaBrokers)
	cfg.State.Etcd.Endpoints = splitList(cfg.State.Etcd.Endpoints)
	return &cfg, nil
}

// splitList expands comma separated entries, which is how list values
// arrive from environment variables
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks settings that depend on each other
func (c *Config) Validate() error {
	if c.Database.URL == "" && c.Database.Host == "" {
		return errors.New("database.url or database.host is required")
	}
	if len(c.Migrations.Dirs) == 0 {
		return errors.New("migrations.dirs must list at least one directory")
	}

	switch c.State.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	case StoreEtcd:
		if len(c.State.Etcd.Endpoints) == 0 {
			return errors.New("state.etcd.endpoints is required for the etcd store")
		}
	default:
		return fmt.Errorf("unsupported state store %q (want file, sqlite, etcd or memory)", c.State.Store)
	}
	if c.State.TTL <= 0 {
		return fmt.Errorf("state.ttl must be positive, got %s", c.State.TTL)
	}
	if c.State.RefreshInterval < 0 {
		return fmt.Errorf("state.refresh_interval must not be negative, got %s", c.State.RefreshInterval)
	}

	switch strings.ToLower(c.Events.Type) {
	case "", "none":
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			return errors.New("events.kafka_brokers is required for kafka events")
		}
	case "pulsar":
		if c.Events.PulsarURL == "" {
			return errors.New("events.pulsar_url is required for pulsar events")
		}
	default:
		return fmt.Errorf("unsupported events type %q (want none, kafka or pulsar)", c.Events.Type)
	}

	for i, f := range c.Features {
		if f.Name == "" {
			return fmt.Errorf("features[%d]: name is required", i)
		}
	}
	return nil
}

// Connection returns the database settings in backend form
func (c *Config) Connection() *backends.ConnectionConfig {
	return &backends.ConnectionConfig{
		URL:          c.Database.URL,
		Host:         c.Database.Host,
		Port:         c.Database.Port,
		Username:     c.Database.User,
		Password:     c.Database.Password,
		Database:     c.Database.Name,
		SSLMode:      c.Database.SSLMode,
		Schema:       c.Database.Schema,
		ExecFunction: c.Database.ExecFunction,
	}
}

// EventsFactory returns the publisher settings
func (c *Config) EventsFactory() *eventsfactory.Config {
	return &eventsfactory.Config{
		Type:               c.Events.Type,
		KafkaBrokers:       c.Events.KafkaBrokers,
		KafkaTopic:         c.Events.KafkaTopic,
		PulsarURL:          c.Events.PulsarURL,
		PulsarTopic:        c.Events.PulsarTopic,
		KafkaGroupID:       c.Events.KafkaGroupID,
		PulsarSubscription: c.Events.PulsarSubscription,
	}
}

// EtcdStore returns the etcd store settings
func (c *Config) EtcdStore() statecache.EtcdConfig {
	return statecache.EtcdConfig{
		Endpoints: c.State.Etcd.Endpoints,
		Username:  c.State.Etcd.Username,
		Password:  c.State.Etcd.Password,
		Prefix:    c.State.Etcd.Prefix,
		Timeout:   c.State.Etcd.Timeout,
	}
}
