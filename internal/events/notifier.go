package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentick/adw/internal/logger"
)

// Notifier forwards lifecycle events to the backend's /api/stage-event
// endpoint, which broadcasts them to WebSocket clients. Delivery is
// best-effort: failures are logged, never surfaced to the engine.
type Notifier struct {
	endpoint string
	client   *http.Client
	log      *logger.Logger
}

// NewNotifier targets the backend at baseURL (e.g. "http://localhost:8000").
func NewNotifier(baseURL string, log *logger.Logger) *Notifier {
	return &Notifier{
		endpoint: baseURL + "/api/stage-event",
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log.With("component", "notifier"),
	}
}

// Notify posts the orchestrator-event shape. Always returns nil side
// effects on failure besides a log line.
func (n *Notifier) Notify(p StagePayload) {
	body, err := json.Marshal(p)
	if err != nil {
		n.log.Warn("marshal stage event", "error", err)
		return
	}
	resp, err := n.client.Post(n.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		n.log.Debug("stage event delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("stage event rejected", "status", fmt.Sprint(resp.StatusCode))
	}
}
