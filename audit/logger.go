// Package audit records client operation events (initialization, cache
// replacement, refreshes) to a pluggable sink. Events carry only masked
// credentials and cache identifiers, never key values.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config selects and configures an audit sink. A nil or disabled config
// yields the no-op logger.
type Config struct {
	Enabled bool           `json:"enabled"`
	Type    ConfigType     `json:"type"`
	Options map[string]any `json:"options"` // provider-specific options
}

type ConfigType string

const (
	FileAuditType ConfigType = "file"
	NoOp          ConfigType = ""
)

// Logger is the pluggable audit sink.
type Logger interface {
	Log(action string, success bool, metadata map[string]any) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event is one recorded operation.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// QueryOptions filters recorded events.
type QueryOptions struct {
	Since   *time.Time
	Until   *time.Time
	Action  string
	Success *bool // nil = all, true = only successes, false = only failures
	Limit   int
	Offset  int
}

// QueryResult is a page of matching events, newest first.
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	Filtered   int     `json:"filtered"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger builds the sink described by config. Nil and disabled
// configs get the no-op logger.
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}
	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// parseOptions converts the free-form options map into a typed options
// struct via a JSON round trip.
func parseOptions(options map[string]any, target any) error {
	if len(options) == 0 {
		return nil
	}
	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return nil
}
