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

const workflowColumns = `id, owner_id, name, description, trigger_type, frequency, schedule_config, is_active,
	start_node_id, end_node_ids, last_run_at, total_runs, created_at, updated_at`

// --- Workflows ---

func (s *SQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	scheduleJSON, err := marshalPtr(wf.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule_config: %w", err)
	}
	endNodes, err := json.Marshal(nonNilStrings(wf.EndNodeIDs))
	if err != nil {
		return fmt.Errorf("marshal end_node_ids: %w", err)
	}
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = timeOrNow(wf.UpdatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO workflows (`+workflowColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		wf.ID, wf.OwnerID, wf.Name, nullStr(wf.Description), string(wf.TriggerType), nullStr(string(wf.Frequency)),
		scheduleJSON, s.boolArg(wf.IsActive), wf.StartNodeID, string(endNodes),
		nullTime(wf.LastRunAt), wf.TotalRuns, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}

	for i, n := range wf.Nodes {
		args, err := marshalMapOrDefault(n.Arguments)
		if err != nil {
			return fmt.Errorf("marshal node %s arguments: %w", n.ID, err)
		}
		pos, err := marshalPtr(n.Position)
		if err != nil {
			return fmt.Errorf("marshal node %s position: %w", n.ID, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO workflow_nodes (workflow_id, id, node_type, tool, arguments, position, ordinal)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			wf.ID, n.ID, string(n.Type), nullStr(n.Tool), args, pos, i,
		); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	for i, e := range wf.Edges {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO workflow_edges (workflow_id, id, source, target, edge_condition, ordinal)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			wf.ID, e.ID, e.Source, e.Target, nullStr(e.Condition), i,
		); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`), id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	if wf.Nodes, err = s.loadNodes(ctx, id); err != nil {
		return nil, err
	}
	if wf.Edges, err = s.loadEdges(ctx, id); err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *SQLStore) loadNodes(ctx context.Context, workflowID string) ([]schema.Node, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, node_type, tool, arguments, position FROM workflow_nodes WHERE workflow_id = ? ORDER BY ordinal ASC`),
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []schema.Node
	for rows.Next() {
		var (
			n            schema.Node
			nodeType     string
			tool, pos    sql.NullString
			argumentsRaw string
		)
		if err := rows.Scan(&n.ID, &nodeType, &tool, &argumentsRaw, &pos); err != nil {
			return nil, err
		}
		n.Type = schema.NodeType(nodeType)
		n.Tool = tool.String
		if n.Arguments, err = unmarshalMap(argumentsRaw); err != nil {
			return nil, fmt.Errorf("unmarshal node %s arguments: %w", n.ID, err)
		}
		if pos.Valid && pos.String != "" {
			n.Position = &schema.Position{}
			if err := json.Unmarshal([]byte(pos.String), n.Position); err != nil {
				return nil, fmt.Errorf("unmarshal node %s position: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *SQLStore) loadEdges(ctx context.Context, workflowID string) ([]schema.Edge, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, source, target, edge_condition FROM workflow_edges WHERE workflow_id = ? ORDER BY ordinal ASC`),
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []schema.Edge
	for rows.Next() {
		var e schema.Edge
		var cond sql.NullString
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &cond); err != nil {
			return nil, err
		}
		e.Condition = cond.String
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *SQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, s.boolArg(*update.IsActive))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.IncrementRuns {
		sets = append(sets, "total_runs = total_runs + 1")
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *SQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	var where []string
	var args []any

	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, s.boolArg(*filter.IsActive))
	}
	if filter.TriggerType != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, string(filter.TriggerType))
	}

	query := "SELECT " + workflowColumns + " FROM workflows"
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

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *SQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM workflows WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(r rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		description, frequency, scheduleJSON sql.NullString
		triggerType, endNodesJSON            string
		lastRunAt                            sql.NullTime
	)
	if err := r.Scan(&wf.ID, &wf.OwnerID, &wf.Name, &description, &triggerType, &frequency, &scheduleJSON,
		&wf.IsActive, &wf.StartNodeID, &endNodesJSON, &lastRunAt, &wf.TotalRuns, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Description = description.String
	wf.TriggerType = schema.TriggerType(triggerType)
	wf.Frequency = schema.Frequency(frequency.String)
	wf.LastRunAt = timePtr(lastRunAt)
	if scheduleJSON.Valid && scheduleJSON.String != "" {
		wf.Schedule = &schema.ScheduleConfig{}
		if err := json.Unmarshal([]byte(scheduleJSON.String), wf.Schedule); err != nil {
			return nil, fmt.Errorf("unmarshal schedule_config: %w", err)
		}
	}
	if endNodesJSON != "" {
		if err := json.Unmarshal([]byte(endNodesJSON), &wf.EndNodeIDs); err != nil {
			return nil, fmt.Errorf("unmarshal end_node_ids: %w", err)
		}
	}
	return wf, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
