package gitops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Issue is the slice of gh issue data the orchestrator cares about.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// IssueView fetches an issue via the gh CLI.
func (g *Git) IssueView(ctx context.Context, number int) (*Issue, error) {
	out, err := g.run(ctx, "", "gh", "issue", "view", fmt.Sprint(number),
		"--json", "number,title,body,state,labels")
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal([]byte(out), &issue); err != nil {
		return nil, fmt.Errorf("parsing issue %d: %w", number, err)
	}
	return &issue, nil
}

// Classify derives the issue class from labels, defaulting to /chore.
// The leading slash is the internal representation.
func (i *Issue) Classify() string {
	for _, l := range i.Labels {
		switch strings.ToLower(l.Name) {
		case "feature", "enhancement":
			return "/feature"
		case "bug":
			return "/bug"
		case "patch":
			return "/patch"
		case "chore":
			return "/chore"
		}
	}
	return "/chore"
}

// AsMap returns the issue as a generic payload for the issue_json column.
func (i *Issue) AsMap() map[string]any {
	data, err := json.Marshal(i)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
