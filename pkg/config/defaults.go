package config

import (
	"strings"
	"time"

	"github.com/collabtree/collabd/pkg/adapter/collab"
	"github.com/collabtree/collabd/pkg/adapter/rest"
	"github.com/collabtree/collabd/pkg/record"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit
// values are preserved. Backend-specific option defaults are handled by
// the backend constructors.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDirectoryDefaults(&cfg.Directory)
	applyAdaptersDefaults(&cfg.Adapters)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.LeafLabel == "" {
		cfg.LeafLabel = record.DefaultLeafLabel
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Neo4j == nil {
		cfg.Neo4j = make(map[string]any)
	}

	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/var/lib/collabd/directory"
	}
}

// applyAdaptersDefaults sets adapter defaults.
//
// The COLLAB adapter is enabled by default when no adapter has been
// configured at all, so a freshly loaded config serves something.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	if !cfg.Collab.Enabled && !cfg.REST.Enabled && cfg.Collab.Port == 0 && cfg.REST.Port == 0 {
		cfg.Collab.Enabled = true
	}

	applyCollabDefaults(&cfg.Collab)
	applyRESTDefaults(&cfg.REST)
}

func applyCollabDefaults(cfg *collab.Config) {
	if cfg.Port == 0 {
		cfg.Port = collab.DefaultPort
	}
	// MaxConnections defaults to 0 (unlimited)
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyRESTDefaults(cfg *rest.Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied. Useful for generating sample configuration files and tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Directory: DirectoryConfig{
			Memory: make(map[string]any),
			Badger: make(map[string]any),
			Neo4j:  make(map[string]any),
		},
		Adapters: AdaptersConfig{
			Collab: collab.Config{Enabled: true},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
