package authcore

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is one security-relevant occurrence. Raw passwords, codes
// and tokens never appear in events; token references use the jti only.
type AuditEvent struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	Success   bool      `json:"success"`
	AccountID string    `json:"account_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the dispatcher. Write must be safe for
// concurrent use and should not block; slow sinks cause event drops, not
// auth latency.
type AuditSink interface {
	Write(event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Write(AuditEvent) {}

// ChannelSink forwards events to a caller-owned channel, dropping when
// the channel is full.
type ChannelSink struct {
	C chan AuditEvent
}

// NewChannelSink returns a sink buffering up to size events.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{C: make(chan AuditEvent, size)}
}

func (s *ChannelSink) Write(event AuditEvent) {
	select {
	case s.C <- event:
	default:
	}
}

// JSONWriterSink writes one JSON object per line to w.
type JSONWriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONWriterSink wraps w, typically a log file or os.Stderr.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w}
}

func (s *JSONWriterSink) Write(event AuditEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	line = append(line, '\n')
	s.mu.Lock()
	_, _ = s.w.Write(line)
	s.mu.Unlock()
}
