// Package config loads and validates the YAML configuration that
// parametrizes the station pipelines: broker endpoint, remote service
// bases, per-station group/status/movement settings, caches, and logging.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete tracker configuration.
type Config struct {
	Broker   BrokerConfig    `yaml:"broker"`
	Catalog  ServiceConfig   `yaml:"catalog"`
	Registry ServiceConfig   `yaml:"registry"`
	Suppress SuppressConfig  `yaml:"suppress"`
	Cache    CacheConfig     `yaml:"cache"`
	Logging  LoggingConfig   `yaml:"logging"`
	Stats    StatsConfig     `yaml:"stats"`
	Stations []StationConfig `yaml:"stations"`
}

// BrokerConfig contains MQTT push-channel settings.
type BrokerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TopicPrefix string `yaml:"topic_prefix"`
	Buffer      int    `yaml:"buffer"`
}

// ServiceConfig points at one of the remote HTTP collaborators. Catalog
// serves attribute and image lookups; registry receives status updates,
// movement registrations, and antenna audit entries.
type ServiceConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// SuppressConfig controls windowed read-burst suppression.
type SuppressConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
}

// CacheConfig contains attribute cache and learned identity store paths.
// Empty paths disable the corresponding store.
type CacheConfig struct {
	AttrDir      string `yaml:"attr_dir"`
	AttrTTLHours int    `yaml:"attr_ttl_hours"`
	IdentityPath string `yaml:"identity_path"`
}

// LoggingConfig contains file logging settings.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// StatsConfig controls the periodic counter summary.
type StatsConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// StationConfig parametrizes one station pipeline instance. The four
// station views of the original deployment differ only in these values.
type StationConfig struct {
	Name            string `yaml:"name"`             // display name, e.g. "Entrada PT-1"
	Group           string `yaml:"group"`            // push-channel group, e.g. "EntradaMP"
	StatusCode      int    `yaml:"status_code"`      // lifecycle status written on each new read
	MovementPath    string `yaml:"movement_path"`    // registry movement endpoint segment, e.g. "EntradaAlmacen"
	Location        string `yaml:"location"`         // warehouse location recorded with the movement
	TimestampField  string `yaml:"timestamp_field"`  // movement body field name, "fechaEntrada" or "fechaSalida"
	DefaultOperator string `yaml:"default_operator"` // fallback operator badge EPC for the antenna audit
}

// Load loads configuration from a YAML file and applies defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if strings.TrimSpace(c.Broker.Host) == "" {
		return fmt.Errorf("config: broker host is required")
	}
	if c.Broker.Port <= 0 {
		c.Broker.Port = 1883
	}
	if strings.TrimSpace(c.Broker.TopicPrefix) == "" {
		c.Broker.TopicPrefix = "warehouse/antenna"
	}
	if c.Broker.Buffer <= 0 {
		c.Broker.Buffer = 1000
	}
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		return fmt.Errorf("config: catalog base_url is required")
	}
	if strings.TrimSpace(c.Registry.BaseURL) == "" {
		return fmt.Errorf("config: registry base_url is required")
	}
	if c.Catalog.TimeoutMS <= 0 {
		c.Catalog.TimeoutMS = 5000
	}
	if c.Registry.TimeoutMS <= 0 {
		c.Registry.TimeoutMS = 5000
	}
	if c.Suppress.WindowSeconds < 0 {
		c.Suppress.WindowSeconds = 0
	}
	if c.Cache.AttrTTLHours <= 0 {
		c.Cache.AttrTTLHours = 24
	}
	if c.Logging.Enabled && c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 7
	}
	if c.Stats.IntervalSeconds <= 0 {
		c.Stats.IntervalSeconds = 60
	}
	if len(c.Stations) == 0 {
		return fmt.Errorf("config: at least one station is required")
	}
	seen := make(map[string]bool, len(c.Stations))
	for i := range c.Stations {
		st := &c.Stations[i]
		if strings.TrimSpace(st.Group) == "" {
			return fmt.Errorf("config: station %d has no group", i)
		}
		if seen[st.Group] {
			return fmt.Errorf("config: duplicate station group %q", st.Group)
		}
		seen[st.Group] = true
		if strings.TrimSpace(st.Name) == "" {
			st.Name = st.Group
		}
		if st.StatusCode <= 0 {
			return fmt.Errorf("config: station %q has no status_code", st.Group)
		}
		if strings.TrimSpace(st.MovementPath) == "" {
			return fmt.Errorf("config: station %q has no movement_path", st.Group)
		}
		if strings.TrimSpace(st.TimestampField) == "" {
			st.TimestampField = "fechaEntrada"
		}
	}
	return nil
}

// CatalogTimeout returns the catalog lookup bound as a duration.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutMS) * time.Millisecond
}

// RegistryTimeout returns the side-effect dispatch bound as a duration.
func (c *Config) RegistryTimeout() time.Duration {
	return time.Duration(c.Registry.TimeoutMS) * time.Millisecond
}

// SuppressWindow returns the read-burst suppression window.
func (c *Config) SuppressWindow() time.Duration {
	return time.Duration(c.Suppress.WindowSeconds) * time.Second
}

// AttrTTL returns the attribute cache freshness bound.
func (c *Config) AttrTTL() time.Duration {
	return time.Duration(c.Cache.AttrTTLHours) * time.Hour
}

// Print displays the configuration summary at startup.
func (c *Config) Print() {
	fmt.Printf("Broker: %s:%d (prefix %s)\n", c.Broker.Host, c.Broker.Port, c.Broker.TopicPrefix)
	fmt.Printf("Catalog: %s (timeout %s)\n", c.Catalog.BaseURL, c.CatalogTimeout())
	fmt.Printf("Registry: %s (timeout %s)\n", c.Registry.BaseURL, c.RegistryTimeout())
	if c.Suppress.WindowSeconds > 0 {
		fmt.Printf("Read suppression: %ds window\n", c.Suppress.WindowSeconds)
	}
	for _, st := range c.Stations {
		fmt.Printf("Station %s: group=%s status=%d movement=%s location=%s\n",
			st.Name, st.Group, st.StatusCode, st.MovementPath, st.Location)
	}
}
