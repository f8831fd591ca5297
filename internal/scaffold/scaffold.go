// Package scaffold creates the on-disk layout a fresh project needs:
// the workflows directory with a starter sdlc workflow, plus the agents,
// trees, and database directories.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
)

const sdlcWorkflow = `name: sdlc
display_name: Full SDLC
description: Plan, build, test, review, document, and merge an issue end to end.
stages:
  - name: plan
  - name: build
  - name: test
  - name: review
    config:
      modes: [comprehensive]
      fail_on_critical: true
      fail_on_high: true
  - name: document
  - name: merge
    config:
      strategy: squash
on_failure:
  strategy: stop
`

const planBuildWorkflow = `name: plan_build
display_name: Plan and Build
description: Plan an issue and implement it, leaving review and merge for later.
stages:
  - name: plan
  - name: build
`

// Init writes the directory skeleton under projectRoot. Existing files
// are left untouched.
func Init(projectRoot string) error {
	dirs := []string{
		filepath.Join(projectRoot, "adws", "workflows"),
		filepath.Join(projectRoot, "adws", "database"),
		filepath.Join(projectRoot, "agents"),
		filepath.Join(projectRoot, "trees"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}

	workflows := map[string]string{
		"sdlc.yaml":       sdlcWorkflow,
		"plan_build.yaml": planBuildWorkflow,
	}
	for name, content := range workflows {
		path := filepath.Join(projectRoot, "adws", "workflows", name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}
