package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MirrorPath returns the legacy on-disk state mirror location for an adw_id.
func MirrorPath(projectRoot, adwID string) string {
	return filepath.Join(projectRoot, "agents", adwID, "adw_state.json")
}

// DBOnly reports whether the ADW_DB_ONLY environment variable disables the
// JSON mirror fallback.
func DBOnly() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ADW_DB_ONLY")))
	return v == "1" || v == "true" || v == "yes"
}

// ReadMirror loads a legacy adw_state.json mirror. Returns (nil, nil) when
// no mirror exists. Mirrors are read-fallback only; nothing writes them.
func ReadMirror(projectRoot, adwID string) (*ADWState, error) {
	data, err := os.ReadFile(MirrorPath(projectRoot, adwID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var s ADWState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.ADWID == "" {
		s.ADWID = adwID
	}
	return &s, nil
}

// ListMirrors scans agents/ for directories holding a state mirror and
// returns their adw_ids. Used by the migration command.
func ListMirrors(projectRoot string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(projectRoot, "agents"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || !ValidID(e.Name()) {
			continue
		}
		if _, err := os.Stat(MirrorPath(projectRoot, e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
