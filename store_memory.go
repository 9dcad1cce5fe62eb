package automation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It is used for tests and
// single-process runs.
type MemoryStore struct {
	mu          sync.RWMutex
	workflows   map[string]*Workflow
	order       []string
	executions  map[string]*Execution
	nodeLogs    map[string][]*NodeLog
	suspensions map[string]*Suspension
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:   make(map[string]*Workflow),
		executions:  make(map[string]*Execution),
		nodeLogs:    make(map[string][]*NodeLog),
		suspensions: make(map[string]*Suspension),
	}
}

func (s *MemoryStore) CreateWorkflow(ctx context.Context, w *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[w.ID]; !exists {
		s.order = append(s.order, w.ID)
	}
	s.workflows[w.ID] = w.Clone()
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return w.Clone(), nil
}

func (s *MemoryStore) GetWorkflowByWebhookToken(ctx context.Context, token string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" {
		return nil, ErrWorkflowNotFound
	}
	for _, id := range s.order {
		if w := s.workflows[id]; w.WebhookToken == token {
			return w.Clone(), nil
		}
	}
	return nil, ErrWorkflowNotFound
}

func (s *MemoryStore) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[w.ID]; !ok {
		return ErrWorkflowNotFound
	}
	s.workflows[w.ID] = w.Clone()
	return nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.workflows, id)
	for i, wid := range s.order {
		if wid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Workflow
	for _, id := range s.order {
		if w := s.workflows[id]; filter.Match(w) {
			out = append(out, w.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateExecution(ctx context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	s.mu.RLock()
	var out []*Execution
	for _, e := range s.executions {
		if filter.Match(e) {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()
	SortExecutions(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkExecutionRunning(ctx context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	return markRunning(e, startedAt)
}

func (s *MemoryStore) FinishExecution(ctx context.Context, id string, status ExecutionStatus, completedAt time.Time, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	return finish(e, status, completedAt, errorMessage)
}

func (s *MemoryStore) AppendNodeLog(ctx context.Context, log *NodeLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *log
	s.nodeLogs[log.ExecutionID] = append(s.nodeLogs[log.ExecutionID], &cp)
	return nil
}

func (s *MemoryStore) ListNodeLogs(ctx context.Context, executionID string) ([]*NodeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.nodeLogs[executionID]
	out := make([]*NodeLog, 0, len(logs))
	for _, l := range logs {
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveSuspension(ctx context.Context, susp *Suspension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *susp
	s.suspensions[susp.ID] = &cp
	return nil
}

func (s *MemoryStore) ListDueSuspensions(ctx context.Context, before time.Time) ([]*Suspension, error) {
	return s.listSuspensions(func(susp *Suspension) bool { return !susp.ResumeAt.After(before) }), nil
}

func (s *MemoryStore) ListSuspensions(ctx context.Context, executionID string) ([]*Suspension, error) {
	return s.listSuspensions(func(susp *Suspension) bool { return susp.ExecutionID == executionID }), nil
}

func (s *MemoryStore) listSuspensions(match func(*Suspension) bool) []*Suspension {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Suspension
	for _, susp := range s.suspensions {
		if match(susp) {
			cp := *susp
			out = append(out, &cp)
		}
	}
	sortSuspensions(out)
	return out
}

func (s *MemoryStore) ClaimSuspension(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.suspensions[id]; !ok {
		return false, nil
	}
	delete(s.suspensions, id)
	return true, nil
}

func (s *MemoryStore) DeleteSuspensions(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, susp := range s.suspensions {
		if susp.ExecutionID == executionID {
			delete(s.suspensions, id)
		}
	}
	return nil
}

func markRunning(e *Execution, startedAt time.Time) error {
	switch {
	case e.Status.Terminal():
		return ErrExecutionFinalized
	case e.Status == ExecutionStatusRunning:
		return nil
	}
	e.Status = ExecutionStatusRunning
	e.StartedAt = startedAt
	return nil
}

func finish(e *Execution, status ExecutionStatus, completedAt time.Time, errorMessage string) error {
	if e.Status.Terminal() {
		return ErrExecutionFinalized
	}
	e.Status = status
	e.CompletedAt = completedAt
	e.ErrorMessage = errorMessage
	return nil
}

func sortStable[T any](items []T, less func(a, b T) bool) {
	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
}
