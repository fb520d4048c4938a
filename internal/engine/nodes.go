package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/approval"
	"github.com/rendis/autoflow/internal/capabilities"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// run is the state of one Execute call.
type run struct {
	wf     *store.Workflow
	exec   *store.Execution
	values *expressions.ContextStore
}

// nodeHandler runs one node and returns the result stored under its id.
type nodeHandler func(ctx context.Context, r *run, node schema.Node) (any, error)

func (e *Executor) handlers() map[schema.NodeType]nodeHandler {
	return map[schema.NodeType]nodeHandler{
		schema.NodeTypeTool:      e.runTool,
		schema.NodeTypeCondition: e.runCondition,
		schema.NodeTypeDelay:     e.runDelay,
		schema.NodeTypeApproval:  e.runApproval,
	}
}

func (e *Executor) runNode(ctx context.Context, r *run, node schema.Node) (any, error) {
	h, ok := e.nodeHandlers[node.Type]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "node %q has unknown type %q", node.ID, node.Type).WithNode(node.ID)
	}
	return h(ctx, r, node)
}

func (e *Executor) runTool(ctx context.Context, r *run, node schema.Node) (any, error) {
	if node.Tool == "" {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "tool node %q names no tool", node.ID).WithNode(node.ID)
	}
	args := expressions.Resolve(node.Arguments, r.values)

	if e.gate != nil && e.gate.RequiresApproval(node.Tool) {
		approvedArgs, allowed, err := e.checkApproval(ctx, r, node, args)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, e.pauseForApproval(ctx, r, node, args)
		}
		args = approvedArgs
	}

	result, err := e.tools.Invoke(ctx, node.Tool, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var toolErr *capabilities.ToolError
		if errors.As(err, &toolErr) {
			e.logger.WarnContext(ctx, "tool returned an error",
				slog.String("tool", node.Tool),
				slog.String("error", toolErr.Message),
			)
			e.appendEvent(ctx, r.exec.ID, node.ID, schema.EventNodeToolError, map[string]any{"tool": node.Tool, "error": toolErr.Message})
			return toolErr.Result(), nil
		}
		var flowErr *schema.FlowError
		if errors.As(err, &flowErr) {
			if flowErr.NodeID == "" {
				flowErr = flowErr.WithNode(node.ID)
			}
			return nil, flowErr
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "tool %s failed: %s", node.Tool, err.Error()).
			WithNode(node.ID).
			WithCause(err)
	}
	return result, nil
}

// checkApproval decides whether a high-risk call may run now. A matching
// approved record is consumed and its stored arguments are used.
func (e *Executor) checkApproval(ctx context.Context, r *run, node schema.Node, args map[string]any) (map[string]any, bool, error) {
	latest, err := e.gate.GetLatest(ctx, approval.ExecutionRef(r.exec.ID))
	if err != nil {
		return nil, false, err
	}
	if latest != nil && latest.Status == schema.ApprovalStatusApproved && latest.NodeID == node.ID {
		if err := e.gate.Consume(ctx, latest); err != nil {
			return nil, false, schema.NewErrorf(schema.ErrCodeApprovalConflict, "consume approval %s: %s", latest.ID, err.Error()).
				WithNode(node.ID).
				WithCause(err)
		}
		e.appendEvent(ctx, r.exec.ID, node.ID, schema.EventApprovalConsumed, map[string]any{"action_id": latest.ID})
		if latest.ToolArgs != nil {
			return latest.ToolArgs, true, nil
		}
		return args, true, nil
	}

	switch r.exec.Type {
	case schema.ExecutionTypeManual:
		return args, true, nil
	case schema.ExecutionTypeScheduled:
		if r.wf.IsActive {
			return args, true, nil
		}
	}
	return nil, false, nil
}

// pauseForApproval commits the pause before the gate is opened, so an
// approval can only ever find the execution paused.
func (e *Executor) pauseForApproval(ctx context.Context, r *run, node schema.Node, args map[string]any) error {
	nodeID := node.ID
	if err := e.fsm.Transition(ctx, r.exec.ID, r.exec.Status, schema.ExecutionStatusPaused, store.ExecutionUpdate{
		CurrentNodeID: &nodeID,
		Context:       r.values.Snapshot(),
	}); err != nil {
		return err
	}
	r.exec.Status = schema.ExecutionStatusPaused
	r.exec.CurrentNodeID = nodeID

	action, err := e.gate.Create(ctx, approval.Request{
		Kind:        schema.ApprovalKindTool,
		Ref:         approval.ExecutionRef(r.exec.ID),
		WorkflowID:  r.wf.ID,
		ExecutionID: r.exec.ID,
		NodeID:      node.ID,
		ToolName:    node.Tool,
		ToolArgs:    args,
		OwnerID:     r.exec.UserID,
	})
	switch {
	case err == nil:
		e.appendEvent(ctx, r.exec.ID, node.ID, schema.EventApprovalRequested, map[string]any{"action_id": action.ID, "tool": node.Tool})
	case schema.HasCode(err, schema.ErrCodeApprovalConflict):
		e.logger.InfoContext(ctx, "approval already pending", slog.String("error", err.Error()))
	default:
		// Paused with no gate would wait forever; the caller fails it.
		return err
	}
	return ErrPaused
}

// runCondition returns the node's resolved arguments; routing happens on
// its outgoing edges.
func (e *Executor) runCondition(_ context.Context, r *run, node schema.Node) (any, error) {
	args := expressions.Resolve(node.Arguments, r.values)
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func (e *Executor) runDelay(ctx context.Context, r *run, node schema.Node) (any, error) {
	d, err := validation.DelayDuration(expressions.Resolve(node.Arguments, r.values))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "delay node %q: %s", node.ID, err.Error()).
			WithNode(node.ID).
			WithCause(err)
	}
	if d <= 0 {
		return true, nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runApproval is a pass-through; approval is enforced on high-risk tools.
func (e *Executor) runApproval(context.Context, *run, schema.Node) (any, error) {
	return true, nil
}
