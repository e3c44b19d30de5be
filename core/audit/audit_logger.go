package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Entry records one security-relevant outcome: a block rejection, a chain
// replacement, a karma flush, an API authorization decision.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Category  string            `json:"category"` // e.g. "block_rejected", "karma_flush"
	Actor     string            `json:"actor,omitempty"`
	Outcome   string            `json:"outcome"` // "committed", "authority", ...
	Reason    string            `json:"reason,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Logger is the interface for recording audit entries.
type Logger interface {
	Log(entry Entry)
}

// LogrusAuditLogger writes audit entries as structured log lines.
type LogrusAuditLogger struct {
	log *logrus.Logger
}

// NewLogrusAuditLogger wraps a logrus logger; nil uses the standard one.
func NewLogrusAuditLogger(log *logrus.Logger) *LogrusAuditLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusAuditLogger{log: log}
}

func (l *LogrusAuditLogger) Log(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	fields := logrus.Fields{
		"audit_id": entry.ID,
		"category": entry.Category,
		"outcome":  entry.Outcome,
	}
	if entry.Actor != "" {
		fields["actor"] = entry.Actor
	}
	for k, v := range entry.Fields {
		fields[k] = v
	}
	l.log.WithFields(fields).Info(entry.Reason)
}

// NopLogger discards entries. Tests and light tooling.
type NopLogger struct{}

func (NopLogger) Log(Entry) {}
