package automation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore persists workflows and executions as JSON files under a data
// directory:
//
//	workflows/<id>.json
//	executions/<id>/execution.json
//	executions/<id>/node_logs.jsonl
//	suspensions/<id>.json
//
// It serializes access within one process and is not safe for use by
// several processes sharing a directory.
type FileStore struct {
	dataDir string
	mu      sync.Mutex
}

// NewFileStore creates the data directory if needed. An empty dataDir
// defaults to ~/.deepnoodle/automation.
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".deepnoodle", "automation")
	}
	for _, sub := range []string{"workflows", "executions", "suspensions"} {
		dir := filepath.Join(dataDir, sub)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}
	return &FileStore{dataDir: dataDir}, nil
}

func (s *FileStore) workflowPath(id string) string {
	return filepath.Join(s.dataDir, "workflows", id+".json")
}

func (s *FileStore) executionDir(id string) string {
	return filepath.Join(s.dataDir, "executions", id)
}

func (s *FileStore) suspensionPath(id string) string {
	return filepath.Join(s.dataDir, "suspensions", id+".json")
}

func (s *FileStore) CreateWorkflow(ctx context.Context, w *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.workflowPath(w.ID), w)
}

func (s *FileStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readWorkflow(id)
}

func (s *FileStore) readWorkflow(id string) (*Workflow, error) {
	var w Workflow
	if err := readJSON(s.workflowPath(id), &w); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *FileStore) GetWorkflowByWebhookToken(ctx context.Context, token string) (*Workflow, error) {
	if token == "" {
		return nil, ErrWorkflowNotFound
	}
	workflows, err := s.ListWorkflows(ctx, WorkflowFilter{})
	if err != nil {
		return nil, err
	}
	for _, w := range workflows {
		if w.WebhookToken == token {
			return w, nil
		}
	}
	return nil, ErrWorkflowNotFound
}

func (s *FileStore) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.workflowPath(w.ID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrWorkflowNotFound
		}
		return err
	}
	return writeJSON(s.workflowPath(w.ID), w)
}

func (s *FileStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.workflowPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrWorkflowNotFound
		}
		return fmt.Errorf("failed to delete workflow file: %w", err)
	}
	return nil
}

func (s *FileStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "workflows"))
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}
	var out []*Workflow
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), ".json")
		if entry.IsDir() || !ok {
			continue
		}
		w, err := s.readWorkflow(id)
		if err != nil {
			return nil, err
		}
		if filter.Match(w) {
			out = append(out, w)
		}
	}
	sortStable(out, func(a, b *Workflow) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *FileStore) CreateExecution(ctx context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.executionDir(e.ID), "execution.json"), e)
}

func (s *FileStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readExecution(id)
}

func (s *FileStore) readExecution(id string) (*Execution, error) {
	var e Execution
	if err := readJSON(filepath.Join(s.executionDir(id), "execution.json"), &e); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *FileStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(filepath.Join(s.dataDir, "executions"))
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to read executions directory: %w", err)
	}
	var out []*Execution
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		e, err := s.readExecution(entry.Name())
		if err != nil {
			// Skip executions we can't read
			continue
		}
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()
	SortExecutions(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *FileStore) updateExecution(id string, fn func(e *Execution) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.readExecution(id)
	if err != nil {
		return err
	}
	if err := fn(e); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.executionDir(id), "execution.json"), e)
}

func (s *FileStore) MarkExecutionRunning(ctx context.Context, id string, startedAt time.Time) error {
	return s.updateExecution(id, func(e *Execution) error {
		return markRunning(e, startedAt)
	})
}

func (s *FileStore) FinishExecution(ctx context.Context, id string, status ExecutionStatus, completedAt time.Time, errorMessage string) error {
	return s.updateExecution(id, func(e *Execution) error {
		return finish(e, status, completedAt, errorMessage)
	})
}

func (s *FileStore) AppendNodeLog(ctx context.Context, log *NodeLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.executionDir(log.ExecutionID), "node_logs.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileStore) ListNodeLogs(ctx context.Context, executionID string) ([]*NodeLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.executionDir(executionID), "node_logs.jsonl"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*NodeLog{}, nil
		}
		return nil, err
	}
	logs := []*NodeLog{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry NodeLog
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, err
		}
		logs = append(logs, &entry)
	}
	return logs, scanner.Err()
}

func (s *FileStore) SaveSuspension(ctx context.Context, susp *Suspension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.suspensionPath(susp.ID), susp)
}

func (s *FileStore) ListDueSuspensions(ctx context.Context, before time.Time) ([]*Suspension, error) {
	return s.listSuspensions(func(susp *Suspension) bool { return !susp.ResumeAt.After(before) })
}

func (s *FileStore) ListSuspensions(ctx context.Context, executionID string) ([]*Suspension, error) {
	return s.listSuspensions(func(susp *Suspension) bool { return susp.ExecutionID == executionID })
}

func (s *FileStore) listSuspensions(match func(*Suspension) bool) ([]*Suspension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Join(s.dataDir, "suspensions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read suspensions directory: %w", err)
	}
	var out []*Suspension
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var susp Suspension
		if err := readJSON(filepath.Join(dir, entry.Name()), &susp); err != nil {
			return nil, err
		}
		if match(&susp) {
			out = append(out, &susp)
		}
	}
	sortSuspensions(out)
	return out, nil
}

func (s *FileStore) ClaimSuspension(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.suspensionPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileStore) DeleteSuspensions(ctx context.Context, executionID string) error {
	pending, err := s.ListSuspensions(ctx, executionID)
	if err != nil {
		return err
	}
	for _, susp := range pending {
		if _, err := s.ClaimSuspension(ctx, susp.ID); err != nil {
			return err
		}
	}
	return nil
}

// writeJSON writes v to a temporary file and renames it into place so that
// readers never observe a partial document.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}
