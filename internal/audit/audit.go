// Package audit defines the event sink used by the admission pipeline.
//
// Every state transition a reviewer or tenant could later dispute (approval,
// rejection, capacity refusal, provenance attach, eviction) emits an event.
// The sink is pluggable; the default writes structured records through zap so
// a host daemon can route them with the rest of its logs.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memgate/internal/logging"
)

// Event outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)

// Event is a single audit record.
type Event struct {
	// Type names the event class (e.g. "review.approve", "ingest.validate").
	Type string `json:"event_type"`

	// Actor is who performed the action (user ID or system component).
	Actor string `json:"actor"`

	// Resource identifies what was acted on (queue ID, memory ID).
	Resource string `json:"resource"`

	// Action is the operation attempted.
	Action string `json:"action"`

	// Outcome is one of the Outcome* constants.
	Outcome string `json:"outcome"`

	// Details carries event-specific context.
	Details map[string]any `json:"details,omitempty"`

	// Timestamp is when the event occurred. Zero means "now" at log time.
	Timestamp time.Time `json:"timestamp"`
}

// Logger is the audit sink consumed by the pipeline's components.
//
// Implementations must be safe to call while the caller holds its own lock;
// they make no concurrency promises beyond that, so they must not call back
// into the component that emitted the event.
type Logger interface {
	LogEvent(ctx context.Context, e Event)
}

// ZapLogger writes audit events as structured zap records.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger creates an audit logger on top of zap. A nil logger is
// replaced with a no-op zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("audit")}
}

// LogEvent writes the event at info level, with any correlation fields the
// context carries.
func (l *ZapLogger) LogEvent(ctx context.Context, e Event) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fields := append(logging.ContextFields(ctx),
		zap.String("actor", e.Actor),
		zap.String("resource", e.Resource),
		zap.String("action", e.Action),
		zap.String("outcome", e.Outcome),
		zap.Time("timestamp", ts),
		zap.Any("details", e.Details),
	)
	l.logger.Info(e.Type, fields...)
}

// NopLogger discards all events. Used when no sink is injected.
type NopLogger struct{}

// LogEvent implements Logger.
func (NopLogger) LogEvent(context.Context, Event) {}

var _ Logger = (*ZapLogger)(nil)
var _ Logger = NopLogger{}
