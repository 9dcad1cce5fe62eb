// Package postgres provides an automation.Store backed by PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store is a PostgreSQL implementation of automation.Store.
type Store struct {
	db *pgxpool.Pool
}

var _ automation.Store = (*Store)(nil)

// New returns a Store using the given pool. Call Migrate before first use.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Open connects to the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

const workflowColumns = `id, name, description, trigger_type, enabled, graph,
	webhook_token, webhook_secret, created_at, updated_at`

func (s *Store) CreateWorkflow(ctx context.Context, w *automation.Workflow) error {
	graph, err := json.Marshal(w.Graph)
	if err != nil {
		return fmt.Errorf("postgres: encode graph: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			trigger_type = EXCLUDED.trigger_type, enabled = EXCLUDED.enabled,
			graph = EXCLUDED.graph, webhook_token = EXCLUDED.webhook_token,
			webhook_secret = EXCLUDED.webhook_secret, updated_at = EXCLUDED.updated_at`,
		w.ID, w.Name, w.Description, string(w.TriggerType), w.Enabled, graph,
		nullString(w.WebhookToken), w.WebhookSecret, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*automation.Workflow, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

func (s *Store) GetWorkflowByWebhookToken(ctx context.Context, token string) (*automation.Workflow, error) {
	if token == "" {
		return nil, automation.ErrWorkflowNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE webhook_token = $1`, token)
	return scanWorkflow(row)
}

func (s *Store) UpdateWorkflow(ctx context.Context, w *automation.Workflow) error {
	graph, err := json.Marshal(w.Graph)
	if err != nil {
		return fmt.Errorf("postgres: encode graph: %w", err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE workflows SET
			name = $2, description = $3, trigger_type = $4, enabled = $5, graph = $6,
			webhook_token = $7, webhook_secret = $8, updated_at = $9
		WHERE id = $1`,
		w.ID, w.Name, w.Description, string(w.TriggerType), w.Enabled, graph,
		nullString(w.WebhookToken), w.WebhookSecret, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrWorkflowNotFound
	}
	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrWorkflowNotFound
	}
	return nil
}

func (s *Store) ListWorkflows(ctx context.Context, filter automation.WorkflowFilter) ([]*automation.Workflow, error) {
	var (
		where []string
		args  []any
	)
	if filter.TriggerType != "" {
		args = append(args, string(filter.TriggerType))
		where = append(where, fmt.Sprintf("trigger_type = $%d", len(args)))
	}
	if filter.EnabledOnly {
		where = append(where, "enabled")
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows` + whereClause(where) + ` ORDER BY seq`
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list workflows: %w", err)
	}
	defer rows.Close()

	var out []*automation.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorkflow(row pgx.Row) (*automation.Workflow, error) {
	var (
		w           automation.Workflow
		triggerType string
		graph       []byte
		token       *string
	)
	err := row.Scan(&w.ID, &w.Name, &w.Description, &triggerType, &w.Enabled, &graph,
		&token, &w.WebhookSecret, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, automation.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan workflow: %w", err)
	}
	w.TriggerType = automation.TriggerType(triggerType)
	if token != nil {
		w.WebhookToken = *token
	}
	if err := json.Unmarshal(graph, &w.Graph); err != nil {
		return nil, fmt.Errorf("postgres: decode graph of workflow %q: %w", w.ID, err)
	}
	return &w, nil
}

const executionColumns = `id, workflow_id, workflow_name, trigger_type, trigger_data, graph,
	status, error_message, created_at, started_at, completed_at`

func (s *Store) CreateExecution(ctx context.Context, e *automation.Execution) error {
	triggerData, err := json.Marshal(e.TriggerData)
	if err != nil {
		return fmt.Errorf("postgres: encode trigger data: %w", err)
	}
	graph, err := json.Marshal(e.Graph)
	if err != nil {
		return fmt.Errorf("postgres: encode graph: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.WorkflowID, e.WorkflowName, string(e.TriggerType), triggerData, graph,
		string(e.Status), e.ErrorMessage, e.CreatedAt, nullTime(e.StartedAt), nullTime(e.CompletedAt))
	if err != nil {
		return fmt.Errorf("postgres: create execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*automation.Execution, error) {
	row := s.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	return scanExecution(row)
}

func (s *Store) ListExecutions(ctx context.Context, filter automation.ExecutionFilter) ([]*automation.Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + executionColumns + ` FROM executions` + whereClause(where) +
		` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []*automation.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MarkExecutionRunning(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE executions SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`,
		id, string(automation.ExecutionStatusRunning), startedAt, string(automation.ExecutionStatusPending))
	if err != nil {
		return fmt.Errorf("postgres: mark execution running: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	status, err := s.executionStatus(ctx, id)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return automation.ErrExecutionFinalized
	}
	return nil
}

func (s *Store) FinishExecution(ctx context.Context, id string, status automation.ExecutionStatus, completedAt time.Time, errorMessage string) error {
	tag, err := s.db.Exec(ctx, `UPDATE executions SET status = $2, completed_at = $3, error_message = $4
		WHERE id = $1 AND status IN ($5, $6)`,
		id, string(status), completedAt, errorMessage,
		string(automation.ExecutionStatusPending), string(automation.ExecutionStatusRunning))
	if err != nil {
		return fmt.Errorf("postgres: finish execution: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.executionStatus(ctx, id); err != nil {
		return err
	}
	return automation.ErrExecutionFinalized
}

func (s *Store) executionStatus(ctx context.Context, id string) (automation.ExecutionStatus, error) {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", automation.ErrExecutionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: execution status: %w", err)
	}
	return automation.ExecutionStatus(status), nil
}

func scanExecution(row pgx.Row) (*automation.Execution, error) {
	var (
		e                      automation.Execution
		triggerType, status    string
		triggerData, graph     []byte
		startedAt, completedAt *time.Time
	)
	err := row.Scan(&e.ID, &e.WorkflowID, &e.WorkflowName, &triggerType, &triggerData, &graph,
		&status, &e.ErrorMessage, &e.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, automation.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan execution: %w", err)
	}
	e.TriggerType = automation.TriggerType(triggerType)
	e.Status = automation.ExecutionStatus(status)
	e.StartedAt = fromNullTime(startedAt)
	e.CompletedAt = fromNullTime(completedAt)
	if err := json.Unmarshal(triggerData, &e.TriggerData); err != nil {
		return nil, fmt.Errorf("postgres: decode trigger data of execution %q: %w", e.ID, err)
	}
	if err := json.Unmarshal(graph, &e.Graph); err != nil {
		return nil, fmt.Errorf("postgres: decode graph of execution %q: %w", e.ID, err)
	}
	return &e, nil
}

func (s *Store) AppendNodeLog(ctx context.Context, log *automation.NodeLog) error {
	warnings, err := nullJSON(log.Warnings, len(log.Warnings) == 0)
	if err != nil {
		return fmt.Errorf("postgres: encode warnings: %w", err)
	}
	output, err := nullJSON(log.Output, log.Output == nil)
	if err != nil {
		return fmt.Errorf("postgres: encode output of node %q: %w", log.NodeID, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO node_logs (id, execution_id, node_id, node_type, status,
			error_message, skip_reason, warnings, output, branch, tolerated, path_id, step,
			started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		log.ID, log.ExecutionID, log.NodeID, string(log.NodeType), string(log.Status),
		log.ErrorMessage, log.SkipReason, warnings, output, log.Branch, log.Tolerated, log.PathID, log.Step,
		nullTime(log.StartedAt), nullTime(log.CompletedAt))
	if err != nil {
		return fmt.Errorf("postgres: append node log: %w", err)
	}
	return nil
}

func (s *Store) ListNodeLogs(ctx context.Context, executionID string) ([]*automation.NodeLog, error) {
	rows, err := s.db.Query(ctx, `SELECT id, execution_id, node_id, node_type, status,
			error_message, skip_reason, warnings, output, branch, tolerated, path_id, step,
			started_at, completed_at
		FROM node_logs WHERE execution_id = $1 ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list node logs: %w", err)
	}
	defer rows.Close()

	out := []*automation.NodeLog{}
	for rows.Next() {
		var (
			l                      automation.NodeLog
			nodeType, status       string
			warnings, output       []byte
			startedAt, completedAt *time.Time
		)
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.NodeID, &nodeType, &status,
			&l.ErrorMessage, &l.SkipReason, &warnings, &output, &l.Branch, &l.Tolerated, &l.PathID, &l.Step,
			&startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan node log: %w", err)
		}
		l.NodeType = automation.NodeKind(nodeType)
		l.Status = automation.NodeStatus(status)
		l.StartedAt = fromNullTime(startedAt)
		l.CompletedAt = fromNullTime(completedAt)
		if warnings != nil {
			if err := json.Unmarshal(warnings, &l.Warnings); err != nil {
				return nil, fmt.Errorf("postgres: decode warnings of %q: %w", l.ID, err)
			}
		}
		if output != nil {
			if err := json.Unmarshal(output, &l.Output); err != nil {
				return nil, fmt.Errorf("postgres: decode output of %q: %w", l.ID, err)
			}
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

const suspensionColumns = `id, execution_id, path_id, node_id, step, resume_at, scope, created_at`

func (s *Store) SaveSuspension(ctx context.Context, susp *automation.Suspension) error {
	scope, err := json.Marshal(susp.Scope)
	if err != nil {
		return fmt.Errorf("postgres: encode scope: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO suspensions (`+suspensionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			step = EXCLUDED.step, resume_at = EXCLUDED.resume_at, scope = EXCLUDED.scope`,
		susp.ID, susp.ExecutionID, susp.PathID, susp.NodeID, susp.Step, susp.ResumeAt, scope, susp.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save suspension: %w", err)
	}
	return nil
}

func (s *Store) ListDueSuspensions(ctx context.Context, before time.Time) ([]*automation.Suspension, error) {
	return s.querySuspensions(ctx, `SELECT `+suspensionColumns+` FROM suspensions
		WHERE resume_at <= $1 ORDER BY resume_at, id`, before)
}

func (s *Store) ListSuspensions(ctx context.Context, executionID string) ([]*automation.Suspension, error) {
	return s.querySuspensions(ctx, `SELECT `+suspensionColumns+` FROM suspensions
		WHERE execution_id = $1 ORDER BY resume_at, id`, executionID)
}

func (s *Store) querySuspensions(ctx context.Context, query string, arg any) ([]*automation.Suspension, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("postgres: list suspensions: %w", err)
	}
	defer rows.Close()

	var out []*automation.Suspension
	for rows.Next() {
		var (
			susp  automation.Suspension
			scope []byte
		)
		if err := rows.Scan(&susp.ID, &susp.ExecutionID, &susp.PathID, &susp.NodeID, &susp.Step,
			&susp.ResumeAt, &scope, &susp.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan suspension: %w", err)
		}
		if err := json.Unmarshal(scope, &susp.Scope); err != nil {
			return nil, fmt.Errorf("postgres: decode scope of %q: %w", susp.ID, err)
		}
		out = append(out, &susp)
	}
	return out, rows.Err()
}

func (s *Store) ClaimSuspension(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM suspensions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: claim suspension: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteSuspensions(ctx context.Context, executionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM suspensions WHERE execution_id = $1`, executionID); err != nil {
		return fmt.Errorf("postgres: delete suspensions: %w", err)
	}
	return nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// nullJSON encodes v, or returns nil for SQL NULL when empty is set.
func nullJSON(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}
