// Package config loads the checklist bot configuration on top of the core one.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/m3rciful/checklistbot/checklist/analysis"
	coreconfig "github.com/m3rciful/checklistbot/core/config"
	coredatabase "github.com/m3rciful/checklistbot/core/database"
)

// Defaults applied when the corresponding keys are zero.
const (
	DefaultLocations   = 5
	DefaultItems       = 5
	DefaultMaxSessions = 10000
)

// ChecklistConfig sizes the conversation.
type ChecklistConfig struct {
	Locations   int `yaml:"locations" envconfig:"CHECKLIST_LOCATIONS"`
	Items       int `yaml:"items" envconfig:"CHECKLIST_ITEMS"`
	MaxSessions int `yaml:"max_sessions" envconfig:"CHECKLIST_MAX_SESSIONS"`
}

// AnalysisConfig configures the OpenAI-compatible analysis backend.
type AnalysisConfig struct {
	APIKey       string `yaml:"api_key" envconfig:"OPENAI_API_KEY"`
	Organization string `yaml:"organization" envconfig:"OPENAI_ORGANIZATION"`
	BaseURL      string `yaml:"base_url" envconfig:"OPENAI_BASE_URL"`
	Model        string `yaml:"model" envconfig:"OPENAI_MODEL"`
	MaxTokens    int    `yaml:"max_tokens" envconfig:"OPENAI_MAX_TOKENS"`
	// TimeoutSeconds bounds one analysis call; 0 disables the bound.
	TimeoutSeconds int `yaml:"timeout_seconds" envconfig:"OPENAI_TIMEOUT_SECONDS"`
}

// Timeout returns TimeoutSeconds as a duration.
func (a AnalysisConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics; empty disables the endpoint.
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// Config is the full bot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Checklist ChecklistConfig     `yaml:"checklist"`
	Analysis  AnalysisConfig      `yaml:"analysis"`
	Database  coredatabase.Config `yaml:"database"`
	Metrics   MetricsConfig       `yaml:"metrics"`
}

// CoreConfig returns the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Config
}

// Load reads the YAML file at path, applies environment overrides, fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults to the checklist sections and validates them.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	ck := &cfg.Checklist
	if ck.Locations == 0 {
		ck.Locations = DefaultLocations
	}
	if ck.Items == 0 {
		ck.Items = DefaultItems
	}
	if ck.MaxSessions == 0 {
		ck.MaxSessions = DefaultMaxSessions
	}
	if ck.Locations < 1 {
		return fmt.Errorf("checklist.locations must be >= 1")
	}
	if ck.Items < 1 {
		return fmt.Errorf("checklist.items must be >= 1")
	}
	if ck.MaxSessions < 1 {
		return fmt.Errorf("checklist.max_sessions must be >= 1")
	}

	an := &cfg.Analysis
	an.APIKey = strings.TrimSpace(an.APIKey)
	if an.APIKey == "" {
		return fmt.Errorf("analysis.api_key is required")
	}
	an.Model = strings.TrimSpace(an.Model)
	if an.Model == "" {
		an.Model = analysis.DefaultModel
	}
	if an.MaxTokens == 0 {
		an.MaxTokens = analysis.DefaultMaxTokens
	}
	if an.MaxTokens < 0 {
		return fmt.Errorf("analysis.max_tokens must be > 0")
	}
	if an.TimeoutSeconds < 0 {
		return fmt.Errorf("analysis.timeout_seconds must be >= 0")
	}

	cfg.Metrics.Listen = strings.TrimSpace(cfg.Metrics.Listen)
	return nil
}
