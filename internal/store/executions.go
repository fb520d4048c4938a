package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

const executionColumns = `id, workflow_id, user_id, execution_type, status, current_node_id, context, logs,
	started_at, finished_at, created_at, updated_at`

// --- Executions ---

func (s *SQLStore) CreateExecution(ctx context.Context, exec *Execution) error {
	contextJSON, err := marshalMapOrDefault(exec.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	logsJSON, err := marshalPtr(exec.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	exec.CreatedAt = timeOrNow(exec.CreatedAt)
	exec.UpdatedAt = timeOrNow(exec.UpdatedAt)
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		exec.ID, exec.WorkflowID, exec.UserID, string(exec.Type), string(exec.Status),
		nullStr(exec.CurrentNodeID), contextJSON, logsJSON,
		nullTime(exec.StartedAt), nullTime(exec.FinishedAt), exec.CreatedAt, exec.UpdatedAt,
	)
	if err != nil && s.uniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %q already exists", exec.ID).WithCause(err)
	}
	return err
}

func (s *SQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+executionColumns+` FROM executions WHERE id = ?`), id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	return exec, err
}

func (s *SQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	sets, args, err := s.executionSets(update)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLStore) TransitionExecution(ctx context.Context, id string, from, to schema.ExecutionStatus, update ExecutionUpdate) error {
	update.Status = &to
	sets, args, err := s.executionSets(update)
	if err != nil {
		return err
	}
	args = append(args, id, string(from))
	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ? AND status = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return err
	}
	return s.checkGuarded(ctx, res, "executions", "execution", id)
}

func (s *SQLStore) TouchExecutions(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{at.UTC(), string(schema.ExecutionStatusRunning)}
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf("UPDATE executions SET updated_at = ? WHERE status = ? AND id IN (%s)", strings.Join(marks, ", "))
	_, err := s.db.ExecContext(ctx, s.q(query), args...)
	return err
}

func (s *SQLStore) executionSets(update ExecutionUpdate) ([]string, []any, error) {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentNodeID != nil {
		sets = append(sets, "current_node_id = ?")
		args = append(args, nullStr(*update.CurrentNodeID))
	}
	if update.Context != nil {
		contextJSON, err := marshalMapOrDefault(update.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, contextJSON)
	}
	if update.Logs != nil {
		logsJSON, err := marshalPtr(update.Logs)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal logs: %w", err)
		}
		sets = append(sets, "logs = ?")
		args = append(args, logsJSON)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC())
	}
	return sets, args, nil
}

func (s *SQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := "SELECT " + executionColumns + " FROM executions"
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

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(r rowScanner) (*Execution, error) {
	e := &Execution{}
	var (
		execType, status      string
		currentNode, logsJSON sql.NullString
		contextJSON           string
		startedAt, finishedAt sql.NullTime
	)
	if err := r.Scan(&e.ID, &e.WorkflowID, &e.UserID, &execType, &status, &currentNode, &contextJSON, &logsJSON,
		&startedAt, &finishedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Type = schema.ExecutionType(execType)
	e.Status = schema.ExecutionStatus(status)
	e.CurrentNodeID = currentNode.String
	e.StartedAt = timePtr(startedAt)
	e.FinishedAt = timePtr(finishedAt)

	var err error
	if e.Context, err = unmarshalMap(contextJSON); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if logsJSON.Valid && logsJSON.String != "" {
		e.Logs = &ExecutionLogs{}
		if err := json.Unmarshal([]byte(logsJSON.String), e.Logs); err != nil {
			return nil, fmt.Errorf("unmarshal logs: %w", err)
		}
	}
	return e, nil
}
