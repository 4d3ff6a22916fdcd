// Package audit records money-movement events as structured log entries,
// separate from operational logging.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event types
const (
	EventCharge    = "CHARGE"
	EventDeposit   = "DEPOSIT"
	EventRefund    = "REFUND"
	EventFreeze    = "FUND_FROZEN"
	EventUnfreeze  = "FUND_UNFROZEN"
	EventOnboarded = "GROUP_ONBOARDED"
	EventError     = "ERROR"
)

type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	AttemptID   string            `json:"attempt_id,omitempty"`
	FundID      string            `json:"fund_id,omitempty"`
	ExternalRef string            `json:"external_ref,omitempty"`
	Amount      int64             `json:"amount,omitempty"`
	Status      string            `json:"status"`
	Details     map[string]string `json:"details,omitempty"`
}

type Logger struct {
	logger *slog.Logger
}

// NewLogger writes audit events through l, or slog.Default() when l is nil.
func NewLogger(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{logger: l.With("component", "audit")}
}

func (a *Logger) LogCharge(ctx context.Context, attemptID, idempotencyKey, externalRef string, amount int64, status string) {
	a.log(ctx, Event{
		EventType:   EventCharge,
		AttemptID:   attemptID,
		ExternalRef: externalRef,
		Amount:      amount,
		Status:      status,
		Details:     map[string]string{"idempotency_key": idempotencyKey},
	})
}

func (a *Logger) LogDeposit(ctx context.Context, fundID, transactionID, externalRef string, amount int64, status string) {
	a.log(ctx, Event{
		EventType:   EventDeposit,
		FundID:      fundID,
		ExternalRef: externalRef,
		Amount:      amount,
		Status:      status,
		Details:     map[string]string{"transaction_id": transactionID},
	})
}

func (a *Logger) LogRefund(ctx context.Context, attemptID, externalRef string, amount int64, status string) {
	a.log(ctx, Event{
		EventType:   EventRefund,
		AttemptID:   attemptID,
		ExternalRef: externalRef,
		Amount:      amount,
		Status:      status,
	})
}

func (a *Logger) LogOperation(ctx context.Context, operation, attemptID, fundID, details string) {
	a.log(ctx, Event{
		EventType: operation,
		AttemptID: attemptID,
		FundID:    fundID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) LogError(ctx context.Context, attemptID, fundID string, err error) {
	a.log(ctx, Event{
		EventType: EventError,
		AttemptID: attemptID,
		FundID:    fundID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(ctx context.Context, event Event) {
	if a == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	level := slog.LevelInfo
	if event.EventType == EventError || event.EventType == EventFreeze {
		level = slog.LevelError
	}
	a.logger.LogAttrs(ctx, level, "AUDIT", slog.Any("event", event))
}
