package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentick/adw/internal/logger"
	"github.com/agentick/adw/internal/state"
)

// Supervisor runs one Monitor per workflow directory under agents/,
// picking up new workflows as their directories appear.
type Supervisor struct {
	projectRoot string
	sink        Sink
	log         *logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewSupervisor(projectRoot string, sink Sink, log *logger.Logger) *Supervisor {
	return &Supervisor{
		projectRoot: projectRoot,
		sink:        sink,
		log:         log,
		running:     make(map[string]context.CancelFunc),
	}
}

// Run scans for workflow directories until ctx is cancelled, spawning a
// monitor for each new one.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	s.spawnNew(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.spawnNew(ctx)
		}
	}
}

func (s *Supervisor) spawnNew(ctx context.Context) {
	entries, err := os.ReadDir(filepath.Join(s.projectRoot, "agents"))
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !state.ValidID(e.Name()) {
			continue
		}
		adwID := e.Name()

		s.mu.Lock()
		_, exists := s.running[adwID]
		s.mu.Unlock()
		if exists {
			continue
		}

		mctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.running[adwID] = cancel
		s.mu.Unlock()

		m := New(s.projectRoot, adwID, s.sink, s.log)
		s.log.Info("starting agent log monitor", "adw_id", adwID)
		go func() {
			if err := m.Run(mctx); err != nil && mctx.Err() == nil {
				s.log.Warn("monitor stopped", "adw_id", adwID, "error", err)
			}
			s.mu.Lock()
			delete(s.running, adwID)
			s.mu.Unlock()
		}()
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.running {
		cancel()
	}
}
