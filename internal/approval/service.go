package approval

import (
	"context"
	"log/slog"

	"github.com/rendis/autoflow/internal/queue"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// Enqueuer publishes execute tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Service resolves pending actions on behalf of their owner.
type Service struct {
	gate   *Gate
	store  store.Store
	queue  Enqueuer
	logger *slog.Logger
}

// NewService creates an approval Service.
func NewService(gate *Gate, s store.Store, q Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gate: gate, store: s, queue: q, logger: logger}
}

// Approve approves actionID. A tool gate enqueues a resume of its execution
// at the gated node; an automation gate activates its workflow and is
// consumed.
func (s *Service) Approve(ctx context.Context, actionID, requester string) (*store.PendingAction, error) {
	action, err := s.load(ctx, actionID, requester)
	if err != nil {
		return nil, err
	}
	if err := s.gate.ResolveAction(ctx, action, schema.ApprovalStatusApproved); err != nil {
		return nil, err
	}

	switch action.Kind {
	case schema.ApprovalKindAutomation:
		active := true
		if err := s.store.UpdateWorkflow(ctx, action.WorkflowID, store.WorkflowUpdate{IsActive: &active}); err != nil {
			return action, err
		}
		s.logger.InfoContext(ctx, "workflow activated by approval",
			slog.String("workflow_id", action.WorkflowID),
			slog.String("action_id", action.ID),
		)
		if err := s.gate.Consume(ctx, action); err != nil {
			s.logger.WarnContext(ctx, "consume automation approval",
				slog.String("action_id", action.ID),
				slog.String("error", err.Error()),
			)
		}
	default:
		if action.ExecutionID == "" {
			// Chat-scoped gate; the chat consumes it on its next turn.
			return action, nil
		}
		task := queue.Task{
			WorkflowID:   action.WorkflowID,
			UserID:       action.OwnerID,
			ExecutionID:  action.ExecutionID,
			ResumeNodeID: action.NodeID,
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return action, schema.NewErrorf(schema.ErrCodeQueue, "enqueue resume: %s", err.Error()).WithCause(err)
		}
	}
	return action, nil
}

// Reject rejects actionID. A rejected tool gate leaves its execution paused.
func (s *Service) Reject(ctx context.Context, actionID, requester string) (*store.PendingAction, error) {
	action, err := s.load(ctx, actionID, requester)
	if err != nil {
		return nil, err
	}
	if err := s.gate.ResolveAction(ctx, action, schema.ApprovalStatusRejected); err != nil {
		return nil, err
	}
	return action, nil
}

// Pending lists the actions awaiting a decision from owner.
func (s *Service) Pending(ctx context.Context, owner string, limit int) ([]*store.PendingAction, error) {
	actions, err := s.store.ListPendingActions(ctx, store.PendingActionFilter{
		OwnerID: owner,
		Status:  schema.ApprovalStatusAwaiting,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	now := s.gate.now()
	live := actions[:0]
	for _, a := range actions {
		if !a.Expired(now) {
			live = append(live, a)
		}
	}
	return live, nil
}

func (s *Service) load(ctx context.Context, actionID, requester string) (*store.PendingAction, error) {
	action, err := s.store.GetPendingAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action.OwnerID != requester {
		return nil, schema.NewErrorf(schema.ErrCodeForbidden, "pending action %s belongs to another user", actionID)
	}
	return action, nil
}
