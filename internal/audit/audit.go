// Package audit writes billing state changes to append-only sinks. The core
// never reads entries back, and a failing sink never fails the operation
// that produced the entry.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Audit actions written by the billing subsystem.
const (
	ActionWebhookApplied = "billing.webhook_applied"
	ActionReconciled     = "billing.reconciled"
	ActionManualLock     = "billing.manual_lock"
	ActionManualUnlock   = "billing.manual_unlock"
	ActionOverrideClear  = "billing.override_cleared"
	ActionCheckoutOpened = "billing.checkout_opened"
	ActionProvisioned    = "billing.provisioned"
)

// Entry is one audit record.
type Entry struct {
	ID       uuid.UUID      `json:"id"`
	TenantID uuid.UUID      `json:"tenantId"`
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Details  map[string]any `json:"details,omitempty"`
	At       time.Time      `json:"at"`
}

// Sink is an append-only audit destination.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Write(ctx context.Context, e Entry) error { return f(ctx, e) }

// Recorder writes entries without surfacing errors to the caller.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

// NewRecorder wraps sink so that failures are logged and swallowed.
// A nil sink discards entries.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

// Record fills in the id and timestamp and writes the entry.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.sink == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := r.sink.Write(ctx, e); err != nil {
		r.logger.Warn("audit write failed",
			"action", e.Action,
			"tenant_id", e.TenantID,
			"error", err,
		)
	}
}

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JSONSink writes one JSON line per entry.
type JSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONSink creates a sink writing JSON lines to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w}
}

func (s *JSONSink) Write(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(data)
	return err
}

// LogSink writes entries to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs each entry at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Write(ctx context.Context, e Entry) error {
	s.logger.InfoContext(ctx, "audit",
		"action", e.Action,
		"tenant_id", e.TenantID,
		"actor", e.Actor,
		"details", e.Details,
	)
	return nil
}
