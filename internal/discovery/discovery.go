// Package discovery is the read-only projection over the state store used
// by list endpoints, which get the issue-title fallback from issue_json
// here. The CLI `adw status` view applies the same fallback through
// state.ADWState.TitleOrFallback; stages and the engine never derive titles.
package discovery

import (
	"github.com/agentick/adw/internal/store"
)

// AdwSummary is the list-view shape the frontend consumes.
type AdwSummary struct {
	ADWID       string `json:"adw_id"`
	IssueClass  string `json:"issue_class"`
	IssueNumber *int   `json:"issue_number"`
	IssueTitle  string `json:"issue_title"`
	BranchName  string `json:"branch_name"`
	Completed   bool   `json:"completed"`
}

// Discovery reads summaries from the store.
type Discovery struct {
	store *store.Store
}

func New(s *store.Store) *Discovery {
	return &Discovery{store: s}
}

// ListActive returns summaries for all visible workflows. Issue classes
// are exposed without their leading slash; missing titles fall back to
// issue_json.title.
func (d *Discovery) ListActive() ([]AdwSummary, error) {
	rows, err := d.store.ListAll()
	if err != nil {
		return nil, err
	}
	out := make([]AdwSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, AdwSummary{
			ADWID:       row.ADWID,
			IssueClass:  stripClass(row.IssueClass),
			IssueNumber: row.IssueNumber,
			IssueTitle:  titleFor(row),
			BranchName:  row.BranchName,
			Completed:   row.Completed,
		})
	}
	return out, nil
}

func stripClass(class string) string {
	if len(class) > 0 && class[0] == '/' {
		return class[1:]
	}
	return class
}

func titleFor(row store.Summary) string {
	if row.IssueTitle != "" {
		return row.IssueTitle
	}
	if t, ok := row.IssueJSON["title"].(string); ok {
		return t
	}
	return ""
}
