package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Tree    TreeConfig    `mapstructure:"tree"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	Server  ServerConfig  `mapstructure:"server"`
}

type StorageConfig struct {
	Path     string         `mapstructure:"path"`
	LockFile string         `mapstructure:"lock_file"`
	Memgraph MemgraphConfig `mapstructure:"memgraph"`
}

type MemgraphConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type TreeConfig struct {
	Materialized MaterializedConfig `mapstructure:"materialized"`
	Adjacency    AdjacencyConfig    `mapstructure:"adjacency"`
}

type MaterializedConfig struct {
	Root      string `mapstructure:"root"`
	Separator string `mapstructure:"separator"`
	Width     int    `mapstructure:"width"`
}

type AdjacencyConfig struct {
	CascadeLevels bool `mapstructure:"cascade_levels"`
}

// AuditConfig schedules periodic integrity checks. An empty interval disables them.
type AuditConfig struct {
	Interval string `mapstructure:"interval"`
}

type AlertsConfig struct {
	Webhook WebhookConfig `mapstructure:"webhook"`
	Stdout  StdoutConfig  `mapstructure:"stdout"`
}

type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type StdoutConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ServerConfig struct {
	Listen     string `mapstructure:"listen"`
	ReadOnly   bool   `mapstructure:"read_only"`
	APIToken   string `mapstructure:"api_token"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

// Load reads the configuration from file and environment variables.
// Environment variables use the ARBOR_ prefix with "_" in place of ".",
// e.g. ARBOR_SERVER_LISTEN.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".arbor"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("arbor")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ARBOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.expandEnv()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.path", "./data/arbor.db")
	v.SetDefault("storage.lock_file", "")
	v.SetDefault("storage.memgraph.enabled", false)
	v.SetDefault("storage.memgraph.uri", "bolt://localhost:7687")
	v.SetDefault("storage.memgraph.username", "")
	v.SetDefault("storage.memgraph.password", "")
	v.SetDefault("tree.materialized.root", "001")
	v.SetDefault("tree.materialized.separator", ".")
	v.SetDefault("tree.materialized.width", 3)
	v.SetDefault("tree.adjacency.cascade_levels", false)
	v.SetDefault("audit.interval", "")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.cors_origin", "")
	v.SetDefault("alerts.stdout.enabled", true)
	v.SetDefault("alerts.webhook.enabled", false)
	v.SetDefault("alerts.webhook.url", "")
}

// expandEnv resolves ${VAR} references in secrets so they can stay out of
// the config file.
func (c *Config) expandEnv() {
	c.Server.APIToken = os.ExpandEnv(c.Server.APIToken)
	c.Storage.Memgraph.Password = os.ExpandEnv(c.Storage.Memgraph.Password)
	for k, val := range c.Alerts.Webhook.Headers {
		c.Alerts.Webhook.Headers[k] = os.ExpandEnv(val)
	}
}
