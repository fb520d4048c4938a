package approval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// Gate references. One live pending action may exist per reference.
func ExecutionRef(executionID string) string { return "execution:" + executionID }
func ChatRef(chatID string) string           { return "chat:" + chatID }
func WorkflowRef(workflowID string) string   { return "workflow:" + workflowID }

// Outcome is the result of resolving a gate.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	// OutcomeNone means nothing awaited a decision on the reference.
	OutcomeNone Outcome = "none"
	// OutcomeAmbiguous means a free-text reply could not be classified.
	OutcomeAmbiguous Outcome = "ambiguous"
)

// Request describes a gate to open.
type Request struct {
	Kind        schema.ApprovalKind
	Ref         string
	WorkflowID  string
	ExecutionID string
	ChatID      string
	NodeID      string
	ToolName    string
	ToolArgs    map[string]any
	OwnerID     string
}

// Notifier tells an owner that a gate awaits their decision.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, payload map[string]any) error
}

// Gate creates, queries and resolves pending actions.
type Gate struct {
	store    store.Store
	highRisk map[string]struct{}
	ttl      time.Duration
	now      func() time.Time
	notifier Notifier
	logger   *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTTL sets how long a new gate stays open. Zero means no expiry.
func WithTTL(ttl time.Duration) GateOption {
	return func(g *Gate) { g.ttl = ttl }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// WithNotifier pushes every new gate to its owner. Delivery is best-effort.
func WithNotifier(n Notifier) GateOption {
	return func(g *Gate) { g.notifier = n }
}

// NewGate creates a Gate. highRisk is the set of tools needing approval.
func NewGate(s store.Store, highRisk map[string]struct{}, opts ...GateOption) *Gate {
	g := &Gate{
		store:    s,
		highRisk: highRisk,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// RequiresApproval reports whether tool is in the high-risk set.
func (g *Gate) RequiresApproval(tool string) bool {
	_, ok := g.highRisk[tool]
	return ok
}

// Create opens a gate. A live record on the same reference yields
// APPROVAL_CONFLICT whose details carry the existing id and node.
func (g *Gate) Create(ctx context.Context, req Request) (*store.PendingAction, error) {
	if req.Ref == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "gate reference is empty")
	}
	if req.Kind == "" {
		req.Kind = schema.ApprovalKindTool
	}

	now := g.now()
	action := &store.PendingAction{
		ID:          store.NewActionID(),
		Kind:        req.Kind,
		GateRef:     req.Ref,
		WorkflowID:  req.WorkflowID,
		ExecutionID: req.ExecutionID,
		ChatID:      req.ChatID,
		NodeID:      req.NodeID,
		ToolName:    req.ToolName,
		ToolArgs:    req.ToolArgs,
		Status:      schema.ApprovalStatusAwaiting,
		OwnerID:     req.OwnerID,
		CreatedAt:   now,
	}
	if g.ttl > 0 {
		exp := now.Add(g.ttl)
		action.ExpiresAt = &exp
	}

	if err := g.store.CreatePendingAction(ctx, action); err != nil {
		if schema.HasCode(err, schema.ErrCodeConflict) {
			conflict := schema.NewErrorf(schema.ErrCodeApprovalConflict,
				"reference %s already has a pending action", req.Ref).
				WithNode(req.NodeID).
				WithCause(err)
			var flowErr *schema.FlowError
			if errors.As(err, &flowErr) {
				conflict = conflict.WithDetails(flowErr.Details)
			}
			return nil, conflict
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create pending action: %s", err.Error()).WithCause(err)
	}

	g.logger.InfoContext(ctx, "approval requested",
		slog.String("action_id", action.ID),
		slog.String("gate_ref", action.GateRef),
		slog.String("tool", action.ToolName),
	)
	g.notify(ctx, action)
	return action, nil
}

func (g *Gate) notify(ctx context.Context, action *store.PendingAction) {
	if g.notifier == nil || action.OwnerID == "" {
		return
	}
	payload := map[string]any{
		"type":        schema.EventApprovalRequested,
		"action_id":   action.ID,
		"kind":        string(action.Kind),
		"workflow_id": action.WorkflowID,
	}
	if action.ExecutionID != "" {
		payload["execution_id"] = action.ExecutionID
	}
	if action.ToolName != "" {
		payload["tool"] = action.ToolName
		payload["tool_args"] = action.ToolArgs
	}
	if err := g.notifier.Notify(ctx, action.OwnerID, payload); err != nil {
		g.logger.WarnContext(ctx, "approval notification failed",
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetLatest returns the live record for ref, preferring an approved one,
// or nil when there is none. Expired records are not returned.
func (g *Gate) GetLatest(ctx context.Context, ref string) (*store.PendingAction, error) {
	action, err := g.store.LatestPendingAction(ctx, ref)
	if err != nil {
		return nil, err
	}
	if action == nil || action.Expired(g.now()) {
		return nil, nil
	}
	return action, nil
}

// Resolve applies decision to the record awaiting approval on ref.
func (g *Gate) Resolve(ctx context.Context, ref string, decision schema.Decision) (Outcome, *store.PendingAction, error) {
	var to schema.ApprovalStatus
	switch decision {
	case schema.DecisionApproved:
		to = schema.ApprovalStatusApproved
	case schema.DecisionRejected:
		to = schema.ApprovalStatusRejected
	default:
		return OutcomeAmbiguous, nil, nil
	}

	action, err := g.GetLatest(ctx, ref)
	if err != nil {
		return OutcomeNone, nil, err
	}
	if action == nil || action.Status != schema.ApprovalStatusAwaiting {
		return OutcomeNone, nil, nil
	}
	if err := g.transition(ctx, action, to); err != nil {
		if schema.HasCode(err, schema.ErrCodeConflict) {
			// Someone else resolved it first.
			return OutcomeNone, nil, nil
		}
		return OutcomeNone, nil, err
	}
	return outcomeFor(to), action, nil
}

// ResolveText classifies a free-text reply and applies it to ref.
func (g *Gate) ResolveText(ctx context.Context, ref, text string) (Outcome, *store.PendingAction, error) {
	return g.Resolve(ctx, ref, schema.ClassifyDecision(text))
}

// ResolveAction applies to to a known action. Expired actions yield CONFLICT.
func (g *Gate) ResolveAction(ctx context.Context, action *store.PendingAction, to schema.ApprovalStatus) error {
	if action.Status != schema.ApprovalStatusAwaiting {
		return schema.NewErrorf(schema.ErrCodeConflict, "pending action %s is %s", action.ID, action.Status).
			WithDetails(map[string]any{"current_status": string(action.Status)})
	}
	if action.Expired(g.now()) {
		return schema.NewErrorf(schema.ErrCodeConflict, "pending action %s expired", action.ID).
			WithDetails(map[string]any{"expires_at": action.ExpiresAt})
	}
	return g.transition(ctx, action, to)
}

// Consume deletes an approved action right before the gated call runs.
// It fails with CONFLICT if the action is no longer approved.
func (g *Gate) Consume(ctx context.Context, action *store.PendingAction) error {
	return g.store.DeletePendingAction(ctx, action.ID, schema.ApprovalStatusApproved)
}

func (g *Gate) transition(ctx context.Context, action *store.PendingAction, to schema.ApprovalStatus) error {
	if err := g.store.ResolvePendingAction(ctx, action.ID, schema.ApprovalStatusAwaiting, to); err != nil {
		return err
	}
	now := g.now()
	action.Status = to
	action.ResolvedAt = &now

	g.logger.InfoContext(ctx, "approval resolved",
		slog.String("action_id", action.ID),
		slog.String("gate_ref", action.GateRef),
		slog.String("status", string(to)),
	)
	return nil
}

func outcomeFor(s schema.ApprovalStatus) Outcome {
	if s == schema.ApprovalStatusApproved {
		return OutcomeApproved
	}
	return OutcomeRejected
}
