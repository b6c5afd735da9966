package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WarrantyRule decides how the aggregate warranty flag of a repair summary is
// derived from the operations on an issue.
type WarrantyRule string

const (
	// WarrantyAll marks a summary under warranty only when every operation is.
	WarrantyAll WarrantyRule = "all"
	// WarrantyAny marks a summary under warranty when at least one operation is.
	WarrantyAny WarrantyRule = "any"
)

// Config models repairdesk.yml.
type Config struct {
	Workshop struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"workshop"`
	Warranty struct {
		Aggregate WarrantyRule `yaml:"aggregate"`
	} `yaml:"warranty"`
	Notifications struct {
		// Cron spec for the expired-notification sweep; empty disables it.
		RetentionSchedule  string `yaml:"retention_schedule"`
		DefaultExpiryHours int    `yaml:"default_expiry_hours"`
	} `yaml:"notifications"`
	Server struct {
		DashboardCacheSeconds int `yaml:"dashboard_cache_seconds"`
	} `yaml:"server"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workshop.ID == "" {
		return fmt.Errorf("config.workshop.id is required")
	}
	switch c.Warranty.Aggregate {
	case WarrantyAll, WarrantyAny:
	default:
		return fmt.Errorf("config.warranty.aggregate must be 'all' or 'any'")
	}
	if c.Notifications.DefaultExpiryHours < 0 {
		return fmt.Errorf("config.notifications.default_expiry_hours must not be negative")
	}
	if c.Server.DashboardCacheSeconds < 0 {
		return fmt.Errorf("config.server.dashboard_cache_seconds must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "repairdesk.yml")
}

// Load reads config from workspace, falling back to defaults when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default("workshop-1"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("workshop-1")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default Config for a workshop.
func Default(workshopID string) *Config {
	var cfg Config
	cfg.Workshop.ID = workshopID
	cfg.Workshop.Name = "Repair Desk"
	cfg.Warranty.Aggregate = WarrantyAll
	cfg.Notifications.RetentionSchedule = "@hourly"
	cfg.Notifications.DefaultExpiryHours = 720
	cfg.Server.DashboardCacheSeconds = 5
	return &cfg
}
