// Package config defines workflow configuration: which stages run, in what
// order, and with what per-stage overrides. Configurations come from three
// places — an explicit stage list, a named YAML workflow file, or a JSON
// OrchestratorConfig sent by the frontend — and all normalize to a
// WorkflowConfig before the engine sees them.
package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValidStages is the closed set of stage names the orchestrator accepts.
var ValidStages = map[string]bool{
	"plan":     true,
	"build":    true,
	"test":     true,
	"review":   true,
	"document": true,
	"merge":    true,
}

// StageConfig holds per-stage configuration overrides.
type StageConfig struct {
	Name           string         `yaml:"name" json:"name"`
	Enabled        bool           `yaml:"enabled" json:"enabled"`
	Required       bool           `yaml:"required" json:"required"`
	DependsOn      []string       `yaml:"depends_on" json:"depends_on"`
	MaxRetries     int            `yaml:"max_retries" json:"max_retries"`
	TimeoutMinutes int            `yaml:"timeout_minutes" json:"timeout_minutes"`
	Model          string         `yaml:"model" json:"model"`
	CustomArgs     map[string]any `yaml:"config" json:"config"`
}

// OrchestratorConfig is the master configuration accepted from the CLI
// --config flag or an HTTP trigger body.
type OrchestratorConfig struct {
	Stages            []string                `json:"stages"`
	MaxInstances      int                     `json:"max_instances"`
	MaxRetries        int                     `json:"max_retries"`
	RetryDelaySeconds int                     `json:"retry_delay_seconds"`
	TimeoutMinutes    int                     `json:"timeout_minutes"`
	ContinueOnFailure bool                    `json:"continue_on_failure"`
	StageConfig       map[string]*StageConfig `json:"stage_config"`
	Metadata          map[string]any          `json:"metadata"`
}

// ParseOrchestratorConfig decodes a JSON OrchestratorConfig and applies
// defaults for unset numeric fields.
func ParseOrchestratorConfig(data []byte) (*OrchestratorConfig, error) {
	cfg := &OrchestratorConfig{
		MaxInstances:      1,
		RetryDelaySeconds: 30,
		TimeoutMinutes:    60,
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing orchestrator config: %w", err)
	}
	for name, sc := range cfg.StageConfig {
		if sc == nil {
			cfg.StageConfig[name] = &StageConfig{Name: name, Enabled: true, Required: true}
			continue
		}
		if sc.Name == "" {
			sc.Name = name
		}
	}
	return cfg, nil
}

// StageConfigFor returns the override for a stage, or a default-enabled
// config when none was supplied.
func (c *OrchestratorConfig) StageConfigFor(name string) StageConfig {
	if sc, ok := c.StageConfig[name]; ok && sc != nil {
		return *sc
	}
	return StageConfig{Name: name, Enabled: true, Required: true}
}

// WorkflowConfig is the fully resolved workflow the engine executes.
type WorkflowConfig struct {
	Name        string         `yaml:"name"`
	DisplayName string         `yaml:"display_name"`
	Description string         `yaml:"description"`
	Stages      []StageConfig  `yaml:"stages"`
	OnFailure   map[string]any `yaml:"on_failure"`
}

// FailureStrategy returns the configured failure strategy, defaulting to
// "stop".
func (w *WorkflowConfig) FailureStrategy() string {
	if s, ok := w.OnFailure["strategy"].(string); ok && s != "" {
		return s
	}
	return "stop"
}

// ValidateStages checks a stage list against the closed stage set and
// returns the invalid entries.
func ValidateStages(stages []string) []string {
	var invalid []string
	for _, s := range stages {
		if !ValidStages[s] {
			invalid = append(invalid, s)
		}
	}
	return invalid
}

// StageNames returns the sorted valid stage names for error messages.
func StageNames() []string {
	names := make([]string, 0, len(ValidStages))
	for n := range ValidStages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SplitStageList parses a comma-separated --stages value, trimming blanks.
func SplitStageList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
