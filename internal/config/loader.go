package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader resolves workflow configurations. WorkflowsDir holds named YAML
// workflows (adws/workflows/<name>.yaml).
type Loader struct {
	WorkflowsDir string
}

// NewLoader returns a loader rooted at the given project directory.
func NewLoader(projectRoot string) *Loader {
	return &Loader{WorkflowsDir: filepath.Join(projectRoot, "adws", "workflows")}
}

// Load reads a named workflow from the workflows directory.
func (l *Loader) Load(workflowName string) (*WorkflowConfig, error) {
	path := filepath.Join(l.WorkflowsDir, workflowName+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workflow config not found: %s", workflowName)
		}
		return nil, err
	}
	var cfg WorkflowConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing workflow %s: %w", workflowName, err)
	}
	if cfg.Name == "" {
		cfg.Name = workflowName
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = workflowName
	}
	for i := range cfg.Stages {
		sc := &cfg.Stages[i]
		if sc.Name == "" {
			return nil, fmt.Errorf("workflow %s: stage %d has no name", workflowName, i+1)
		}
		if !ValidStages[sc.Name] {
			return nil, fmt.Errorf("workflow %s: unknown stage %q", workflowName, sc.Name)
		}
		// YAML omission of enabled/required means true, but the zero value
		// is false; treat a stage with no explicit knobs as enabled.
		if !sc.Enabled && !stageExplicitlyDisabled(data, sc.Name) {
			sc.Enabled = true
			sc.Required = true
		}
	}
	return &cfg, nil
}

// stageExplicitlyDisabled reports whether the raw YAML contains an
// "enabled: false" under the named stage. Crude but avoids a custom
// unmarshaller for a single tri-state field.
func stageExplicitlyDisabled(raw []byte, stage string) bool {
	var doc struct {
		Stages []map[string]any `yaml:"stages"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for _, m := range doc.Stages {
		if m["name"] == stage {
			if v, ok := m["enabled"].(bool); ok {
				return !v
			}
			return false
		}
	}
	return false
}

// FromStages builds a dynamic workflow from an ordered stage list. Each
// stage depends on its predecessor.
func (l *Loader) FromStages(stages []string) *WorkflowConfig {
	cfgs := make([]StageConfig, 0, len(stages))
	for i, name := range stages {
		var deps []string
		if i > 0 {
			deps = []string{stages[i-1]}
		}
		cfgs = append(cfgs, StageConfig{
			Name:      name,
			Enabled:   true,
			Required:  true,
			DependsOn: deps,
		})
	}
	return &WorkflowConfig{
		Name:        "dynamic_" + strings.Join(stages, "_"),
		DisplayName: "Dynamic: " + strings.Join(stages, " -> "),
		Description: "Dynamically created workflow from stage list",
		Stages:      cfgs,
	}
}

// FromOrchestratorConfig builds a workflow from a frontend-supplied
// OrchestratorConfig, applying per-stage overrides.
func (l *Loader) FromOrchestratorConfig(oc *OrchestratorConfig) *WorkflowConfig {
	cfgs := make([]StageConfig, 0, len(oc.Stages))
	for i, name := range oc.Stages {
		var deps []string
		if i > 0 {
			deps = []string{oc.Stages[i-1]}
		}
		sc := oc.StageConfigFor(name)
		if len(sc.DependsOn) > 0 {
			deps = sc.DependsOn
		}
		if sc.MaxRetries == 0 {
			sc.MaxRetries = oc.MaxRetries
		}
		if sc.TimeoutMinutes == 0 {
			sc.TimeoutMinutes = oc.TimeoutMinutes
		}
		sc.DependsOn = deps
		cfgs = append(cfgs, sc)
	}
	strategy := "stop"
	if oc.ContinueOnFailure {
		strategy = "continue"
	}
	return &WorkflowConfig{
		Name:        "dynamic_" + strings.Join(oc.Stages, "_"),
		DisplayName: "Dynamic: " + strings.Join(oc.Stages, " -> "),
		Description: "Dynamically created workflow",
		Stages:      cfgs,
		OnFailure:   map[string]any{"strategy": strategy},
	}
}

// ListWorkflows returns the available named workflows.
func (l *Loader) ListWorkflows() []string {
	entries, err := os.ReadDir(l.WorkflowsDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}
