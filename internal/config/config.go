// Package config handles configuration loading for the EmbedView server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Contexts map[string]ContextConfig `yaml:"contexts"`
	Ingest   IngestConfig             `yaml:"ingest"`
	Cache    CacheConfig              `yaml:"cache"`
	Render   RenderConfig             `yaml:"render"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	CORSOrigins    []string `yaml:"cors_origins"`
	Title          string   `yaml:"title"`
	DefaultContext string   `yaml:"default_context"`
}

// ContextConfig contains per-context data source settings.
type ContextConfig struct {
	// PagesDir holds JSON (optionally zstd-compressed) page files loaded at
	// startup.
	PagesDir string `yaml:"pages_dir"`
	// TileDBArray optionally names a sparse TileDB array of projection
	// tuples. Requires a build with -tags tiledb.
	TileDBArray string `yaml:"tiledb_array"`
	// RemapIDs shifts incoming entity ids past the resident maximum.
	RemapIDs bool `yaml:"remap_ids"`
	// ContinuousKeys lists metadata keys to expose as range filters.
	ContinuousKeys []string `yaml:"continuous_keys"`
	// ColorBy names the discrete filter coloring the points initially.
	ColorBy string `yaml:"color_by"`
}

// IngestConfig contains background ingestion settings.
type IngestConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	QueueSize     int    `yaml:"queue_size"`
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	PreviewSizeMB     int `yaml:"preview_size_mb"`
	PreviewTTLMinutes int `yaml:"preview_ttl_minutes"`
	QueryEntries      int `yaml:"query_entries"`
}

// RenderConfig contains preview rendering settings.
type RenderConfig struct {
	ImageSize        int     `yaml:"image_size"`
	DefaultPointSize float64 `yaml:"default_point_size"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			Title:          "EmbedView",
			DefaultContext: "records",
		},
		Contexts: map[string]ContextConfig{
			"records": {ColorBy: "dataset"},
			"objects": {ColorBy: "dataset"},
		},
		Ingest: IngestConfig{
			MaxConcurrent: 1,
			QueueSize:     100,
			SQLitePath:    "./data/ingest_jobs.db",
			RetentionDays: 7,
		},
		Cache: CacheConfig{
			PreviewSizeMB:     256,
			PreviewTTLMinutes: 10,
			QueryEntries:      128,
		},
		Render: RenderConfig{
			ImageSize:        512,
			DefaultPointSize: 1.5,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if len(cfg.Contexts) == 0 {
		cfg.Contexts = defaults.Contexts
	}
	if cfg.Server.DefaultContext == "" {
		if _, ok := cfg.Contexts[defaults.Server.DefaultContext]; ok {
			cfg.Server.DefaultContext = defaults.Server.DefaultContext
		} else {
			for id := range cfg.Contexts {
				cfg.Server.DefaultContext = id
				break
			}
		}
	}
	if cfg.Ingest.MaxConcurrent == 0 {
		cfg.Ingest.MaxConcurrent = defaults.Ingest.MaxConcurrent
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = defaults.Ingest.QueueSize
	}
	if cfg.Ingest.SQLitePath == "" {
		cfg.Ingest.SQLitePath = defaults.Ingest.SQLitePath
	}
	if cfg.Ingest.RetentionDays == 0 {
		cfg.Ingest.RetentionDays = defaults.Ingest.RetentionDays
	}
	if cfg.Cache.PreviewSizeMB == 0 {
		cfg.Cache.PreviewSizeMB = defaults.Cache.PreviewSizeMB
	}
	if cfg.Cache.PreviewTTLMinutes == 0 {
		cfg.Cache.PreviewTTLMinutes = defaults.Cache.PreviewTTLMinutes
	}
	if cfg.Cache.QueryEntries == 0 {
		cfg.Cache.QueryEntries = defaults.Cache.QueryEntries
	}
	if cfg.Render.ImageSize == 0 {
		cfg.Render.ImageSize = defaults.Render.ImageSize
	}
	if cfg.Render.DefaultPointSize == 0 {
		cfg.Render.DefaultPointSize = defaults.Render.DefaultPointSize
	}
}
