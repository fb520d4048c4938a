package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

const pendingActionColumns = `id, kind, gate_ref, workflow_id, execution_id, chat_id, node_id, tool_name, tool_args,
	status, owner_id, expires_at, created_at, resolved_at`

const liveStatuses = `('awaiting_approval', 'approved')`

// --- Pending Actions ---

// CreatePendingAction inserts a gate. A live record already holding the gate
// reference yields CONFLICT with the existing id in the details; an expired
// awaiting record is rejected first so it no longer blocks the reference.
func (s *SQLStore) CreatePendingAction(ctx context.Context, action *PendingAction) error {
	args, err := marshalMapOrDefault(action.ToolArgs)
	if err != nil {
		return fmt.Errorf("marshal tool_args: %w", err)
	}
	action.CreatedAt = timeOrNow(action.CreatedAt)
	if action.Status == "" {
		action.Status = schema.ApprovalStatusAwaiting
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.liveAction(ctx, tx, action.GateRef)
	if err != nil {
		return err
	}
	if existing != nil {
		now := time.Now().UTC()
		if existing.Status != schema.ApprovalStatusAwaiting || !existing.Expired(now) {
			return pendingConflict(action.GateRef, existing)
		}
		if _, err := tx.ExecContext(ctx, s.q(
			`UPDATE pending_actions SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`),
			string(schema.ApprovalStatusRejected), now, existing.ID, string(schema.ApprovalStatusAwaiting),
		); err != nil {
			return fmt.Errorf("expire pending action %s: %w", existing.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO pending_actions (`+pendingActionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		action.ID, string(action.Kind), action.GateRef, nullStr(action.WorkflowID), nullStr(action.ExecutionID),
		nullStr(action.ChatID), nullStr(action.NodeID), nullStr(action.ToolName), args,
		string(action.Status), action.OwnerID, nullTime(action.ExpiresAt), action.CreatedAt, nullTime(action.ResolvedAt),
	)
	if err != nil {
		if s.uniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "gate %q already has a live pending action", action.GateRef).
				WithCause(err)
		}
		return fmt.Errorf("insert pending action: %w", err)
	}
	return tx.Commit()
}

func pendingConflict(gateRef string, existing *PendingAction) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeConflict, "gate %q already has a live pending action", gateRef).
		WithDetails(map[string]any{
			"existing_id":     existing.ID,
			"existing_status": string(existing.Status),
			"node_id":         existing.NodeID,
		})
}

func (s *SQLStore) liveAction(ctx context.Context, q queryer, gateRef string) (*PendingAction, error) {
	row := q.QueryRowContext(ctx, s.q(`SELECT `+pendingActionColumns+` FROM pending_actions
		 WHERE gate_ref = ? AND status IN `+liveStatuses+`
		 ORDER BY CASE status WHEN 'approved' THEN 0 ELSE 1 END, created_at DESC LIMIT 1`), gateRef)
	action, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return action, err
}

func (s *SQLStore) GetPendingAction(ctx context.Context, id string) (*PendingAction, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+pendingActionColumns+` FROM pending_actions WHERE id = ?`), id)
	action, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("pending_action", id)
	}
	return action, err
}

func (s *SQLStore) LatestPendingAction(ctx context.Context, gateRef string) (*PendingAction, error) {
	return s.liveAction(ctx, s.db, gateRef)
}

func (s *SQLStore) ResolvePendingAction(ctx context.Context, id string, from, to schema.ApprovalStatus) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE pending_actions SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`),
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return err
	}
	return s.checkGuarded(ctx, res, "pending_actions", "pending_action", id)
}

func (s *SQLStore) DeletePendingAction(ctx context.Context, id string, expected schema.ApprovalStatus) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM pending_actions WHERE id = ? AND status = ?`), id, string(expected))
	if err != nil {
		return err
	}
	return s.checkGuarded(ctx, res, "pending_actions", "pending_action", id)
}

func (s *SQLStore) ListPendingActions(ctx context.Context, filter PendingActionFilter) ([]*PendingAction, error) {
	var where []string
	var args []any

	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.GateRef != "" {
		where = append(where, "gate_ref = ?")
		args = append(args, filter.GateRef)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + pendingActionColumns + ` FROM pending_actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func scanPendingAction(r rowScanner) (*PendingAction, error) {
	a := &PendingAction{}
	var (
		kind, status, argsJSON                          string
		workflowID, executionID, chatID, nodeID, toolNm sql.NullString
		expiresAt, resolvedAt                           sql.NullTime
	)
	if err := r.Scan(&a.ID, &kind, &a.GateRef, &workflowID, &executionID, &chatID, &nodeID, &toolNm, &argsJSON,
		&status, &a.OwnerID, &expiresAt, &a.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	a.Kind = schema.ApprovalKind(kind)
	a.Status = schema.ApprovalStatus(status)
	a.WorkflowID = workflowID.String
	a.ExecutionID = executionID.String
	a.ChatID = chatID.String
	a.NodeID = nodeID.String
	a.ToolName = toolNm.String
	a.ExpiresAt = timePtr(expiresAt)
	a.ResolvedAt = timePtr(resolvedAt)

	var err error
	if a.ToolArgs, err = unmarshalMap(argsJSON); err != nil {
		return nil, fmt.Errorf("unmarshal tool_args: %w", err)
	}
	return a, nil
}
