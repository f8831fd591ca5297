package worktree

import "strings"

// Legacy port allocation. When a reverse proxy serves worktree hostnames
// (<adw_id>.localhost) no local ports are allocated; otherwise each adw_id
// maps deterministically into a reserved range.

const (
	portRangeSize     = 15
	backendPortBase   = 9100
	websocketPortBase = 9200
	frontendPortBase  = 9300
)

// PortOffset maps an adw_id onto an offset in [0, portRangeSize) by
// interpreting its first 8 characters as base-36 digits.
func PortOffset(adwID string) int {
	id := strings.ToLower(adwID)
	if len(id) > 8 {
		id = id[:8]
	}
	var n uint64
	for _, c := range id {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'z':
			d = uint64(c-'a') + 10
		default:
			continue
		}
		n = n*36 + d
	}
	return int(n % portRangeSize)
}

// Ports returns the deterministic (backend, websocket, frontend) triple
// for an adw_id.
func Ports(adwID string) (backend, websocket, frontend int) {
	off := PortOffset(adwID)
	return backendPortBase + off, websocketPortBase + off, frontendPortBase + off
}

// Hostname returns the proxy hostname used when Caddy is routing.
func Hostname(adwID string) string {
	return adwID + ".localhost"
}
