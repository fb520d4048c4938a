package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// ExecutionStore is the slice of store.Store the FSM needs.
type ExecutionStore interface {
	TransitionExecution(ctx context.Context, id string, from, to schema.ExecutionStatus, update store.ExecutionUpdate) error
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ExecutionFSM validates and persists execution status transitions.
// Persistence is guarded on the from status, so of two racing transitions
// out of the same status only one succeeds; the loser gets CONFLICT.
type ExecutionFSM struct {
	store  ExecutionStore
	logger *slog.Logger
}

// NewExecutionFSM creates an ExecutionFSM persisting through s.
func NewExecutionFSM(s ExecutionStore, logger *slog.Logger) *ExecutionFSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionFSM{store: s, logger: logger}
}

// Transition moves executionID from one status to another, applying update
// in the same guarded write, then appends the matching event. A failed
// event append is logged; the transition itself has already happened.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus, update store.ExecutionUpdate) error {
	if !IsValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	update.Status = &to
	if err := f.store.TransitionExecution(ctx, executionID, from, to, update); err != nil {
		return err
	}

	event := &store.Event{
		ExecutionID: executionID,
		Type:        executionEventType(from, to),
		Payload:     transitionPayload(update),
		Timestamp:   time.Now().UTC(),
	}
	if update.CurrentNodeID != nil {
		event.NodeID = *update.CurrentNodeID
	}
	if err := f.store.AppendEvent(ctx, event); err != nil {
		f.logger.WarnContext(ctx, "append transition event failed",
			slog.String("execution_id", executionID),
			slog.String("event", event.Type),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// IsValidTransition reports whether from -> to is allowed.
func IsValidTransition(from, to schema.ExecutionStatus) bool {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func executionEventType(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		if from == schema.ExecutionStatusPaused {
			return schema.EventExecutionResumed
		}
		return schema.EventExecutionStarted
	case schema.ExecutionStatusPaused:
		return schema.EventExecutionPaused
	case schema.ExecutionStatusCompleted:
		return schema.EventExecutionCompleted
	default:
		return schema.EventExecutionFailed
	}
}

func transitionPayload(update store.ExecutionUpdate) json.RawMessage {
	if update.Logs == nil || update.Logs.Error == "" {
		return nil
	}
	data, err := json.Marshal(map[string]any{"error": update.Logs.Error})
	if err != nil {
		return nil
	}
	return data
}

// ValidExecutionTransitions defines the allowed execution status transitions.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusPaused, schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed},
	schema.ExecutionStatusPaused:    {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
}
