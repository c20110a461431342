package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType identifies a stream event.
type EventType string

const (
	// EventTypePIIDetected fires after tokenization. Carries category
	// counts only, never detected values.
	EventTypePIIDetected EventType = "pii.detected"
	// EventTypeAnalysisStarted fires when a contract enters analysis.
	EventTypeAnalysisStarted EventType = "analysis.started"
	// EventTypeAnalysisCompleted fires when a contract is stored.
	EventTypeAnalysisCompleted EventType = "analysis.completed"
	// EventTypeAnalysisFailed fires when analysis errors out.
	EventTypeAnalysisFailed EventType = "analysis.failed"
	// EventTypeContractDeleted fires when a stored contract is removed.
	EventTypeContractDeleted EventType = "contract.deleted"
	// EventTypeSystemStats carries periodic hub and store statistics.
	EventTypeSystemStats EventType = "system.stats"
	// EventTypeConnection fires on client connect and disconnect.
	EventTypeConnection EventType = "connection"
)

// Event is the envelope sent to stream clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// PIIDetectedEvent reports what categories were found in a document.
// Values and spans are deliberately absent.
type PIIDetectedEvent struct {
	RequestID      string         `json:"request_id"`
	FileName       string         `json:"file_name,omitempty"`
	Detector       string         `json:"detector"`
	CategoryCounts map[string]int `json:"category_counts"`
	TotalTokens    int            `json:"total_tokens"`
	ProcessingMS   float64        `json:"processing_ms"`
}

// AnalysisEvent reports analysis lifecycle transitions.
type AnalysisEvent struct {
	RequestID  string  `json:"request_id"`
	FileName   string  `json:"file_name,omitempty"`
	ContractID int64   `json:"contract_id,omitempty"`
	CacheHit   bool    `json:"cache_hit,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms,omitempty"`
}

// ContractDeletedEvent reports removal of a stored contract.
type ContractDeletedEvent struct {
	ContractID int64 `json:"contract_id"`
}

// SystemStatsEvent carries periodic service statistics.
type SystemStatsEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalAnalyses    int64  `json:"total_analyses"`
	StoredContracts  int64  `json:"stored_contracts"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent reports stream client connects and disconnects.
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected" or "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage is a message received from a stream client.
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows which event types a client receives.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client is one connected stream consumer.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPong     time.Time
	IP           string
	UserAgent    string
}
