package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeScanResult is sent for every completed text or file scan
	EventTypeScanResult EventType = "scan_result"
	// EventTypePatternAdded is sent when a detection rule is added at runtime
	EventTypePatternAdded EventType = "pattern_added"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ScanResultEvent describes a scan. Scanned content is never included.
type ScanResultEvent struct {
	Source      string  `json:"source"` // "text" or "file"
	Path        string  `json:"path,omitempty"`
	Format      string  `json:"format,omitempty"`
	Size        int64   `json:"size"`
	ContainsPII bool    `json:"contains_pii"`
	CacheHit    bool    `json:"cache_hit,omitempty"`
	Error       string  `json:"error,omitempty"`
	DurationMS  float64 `json:"duration_ms"`
}

// PatternAddedEvent announces a new rule
type PatternAddedEvent struct {
	Pattern    string `json:"pattern"`
	TotalRules int    `json:"total_rules"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	ActiveRules      int    `json:"active_rules"`
	RuleGeneration   uint64 `json:"rule_generation"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	Events      map[EventType]bool // nil means every event
	ConnectedAt time.Time
	IP          string
	UserAgent   string
}

func (c *Client) wants(t EventType) bool {
	if c.Events == nil {
		return true
	}
	return c.Events[t]
}
