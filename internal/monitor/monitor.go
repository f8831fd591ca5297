package monitor

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentick/adw/internal/logger"
)

// Sink receives every event the monitor produces. The server wires this
// to the WebSocket broadcast manager.
type Sink func(Event)

// Monitor watches agents/<adw_id>/ for .jsonl files and tails each one,
// converting lines to typed events. New sub-agent files appearing later
// are picked up automatically.
type Monitor struct {
	adwID string
	dir   string
	sink  Sink
	log   *logger.Logger

	mu      sync.Mutex
	offsets map[string]int64 // path -> bytes consumed
	partial map[string]string
}

// New creates a monitor for one workflow's agent directory
// (agents/<adw_id>/ under projectRoot).
func New(projectRoot, adwID string, sink Sink, log *logger.Logger) *Monitor {
	return &Monitor{
		adwID:   adwID,
		dir:     filepath.Join(projectRoot, "agents", adwID),
		sink:    sink,
		log:     log.With("component", "monitor", "adw_id", adwID),
		offsets: make(map[string]int64),
		partial: make(map[string]string),
	}
}

// Run tails the directory until ctx is cancelled. fsnotify drives the hot
// path; a slow poll catches files on filesystems with unreliable events.
func (m *Monitor) Run(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := m.watchAll(watcher); err != nil {
		return err
	}
	m.scan()

	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
					continue
				}
			}
			if strings.HasSuffix(ev.Name, ".jsonl") &&
				(ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create)) {
				m.tail(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("watch error", "error", err)
		case <-poll.C:
			_ = m.watchAll(watcher)
			m.scan()
		}
	}
}

// watchAll registers the agent dir and its sub-agent dirs.
func (m *Monitor) watchAll(watcher *fsnotify.Watcher) error {
	if err := watcher.Add(m.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			_ = watcher.Add(filepath.Join(m.dir, e.Name()))
		}
	}
	return nil
}

// scan tails every known .jsonl file once.
func (m *Monitor) scan() {
	_ = filepath.WalkDir(m.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") {
			m.tail(path)
		}
		return nil
	})
}

// tail reads any bytes appended to path since the last visit and emits
// events for each complete line.
func (m *Monitor) tail(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	offset := m.offsets[path]
	if info, err := f.Stat(); err == nil && info.Size() < offset {
		// Truncated/rotated file; start over.
		offset = 0
		m.partial[path] = ""
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	reader := bufio.NewReader(f)
	agentName := m.agentNameFor(path)
	for {
		chunk, err := reader.ReadString('\n')
		if err != nil {
			// Hold the trailing partial line until its newline arrives.
			m.partial[path] += chunk
			m.offsets[path] = offset + int64(len(chunk))
			return
		}
		offset += int64(len(chunk))
		m.offsets[path] = offset

		line := strings.TrimRight(m.partial[path]+chunk, "\r\n")
		m.partial[path] = ""
		if strings.TrimSpace(line) == "" {
			continue
		}
		for _, ev := range ParseLine([]byte(line), m.adwID, agentName) {
			m.sink(ev)
		}
	}
}

// agentNameFor derives the sub-agent name from the file's location:
// agents/<adw_id>/<agent_name>/file.jsonl. Files directly under the adw
// directory use their base name.
func (m *Monitor) agentNameFor(path string) string {
	rel, err := filepath.Rel(m.dir, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 1 {
		return parts[0]
	}
	return strings.TrimSuffix(parts[0], ".jsonl")
}
