package nodes

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/automation"
	"go.jetify.com/typeid"
)

// LogMailer logs messages instead of delivering them.
type LogMailer struct {
	mu   sync.Mutex
	sent []Email
}

func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) Send(ctx context.Context, email Email) (string, error) {
	id, err := typeid.WithPrefix("msg")
	if err != nil {
		return "", err
	}
	automation.LoggerFromContext(ctx).Info("email sent",
		"message_id", id.String(),
		"to", email.To,
		"subject", email.Subject)
	m.mu.Lock()
	m.sent = append(m.sent, email)
	m.mu.Unlock()
	return id.String(), nil
}

// Sent returns the messages sent so far.
func (m *LogMailer) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.sent...)
}

// MemoryCRM keeps leads, customers, and tasks in memory. It backs local
// runs of the CLI and tests.
type MemoryCRM struct {
	mu        sync.Mutex
	leads     map[string]map[string]any
	customers map[string]map[string]any
	tasks     []Task
}

func NewMemoryCRM() *MemoryCRM {
	return &MemoryCRM{
		leads:     map[string]map[string]any{},
		customers: map[string]map[string]any{},
	}
}

// PutLead stores a lead record.
func (c *MemoryCRM) PutLead(id string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record := automation.NormalizeMap(fields)
	record["id"] = id
	c.leads[id] = record
}

// PutCustomer stores a customer record.
func (c *MemoryCRM) PutCustomer(id string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record := automation.NormalizeMap(fields)
	record["id"] = id
	c.customers[id] = record
}

func (c *MemoryCRM) GetLead(ctx context.Context, id string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lead, ok := c.leads[id]
	if !ok {
		return nil, fmt.Errorf("lead %q: %w", id, ErrNotFound)
	}
	return automation.NormalizeMap(lead), nil
}

// UpdateLead upserts: an unknown or empty id creates the lead.
func (c *MemoryCRM) UpdateLead(ctx context.Context, id string, fields map[string]any) (map[string]any, error) {
	if id == "" {
		tid, err := typeid.WithPrefix("lead")
		if err != nil {
			return nil, err
		}
		id = tid.String()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lead, ok := c.leads[id]
	if !ok {
		lead = map[string]any{"id": id}
		c.leads[id] = lead
	}
	for k, v := range automation.NormalizeMap(fields) {
		lead[k] = v
	}
	return automation.NormalizeMap(lead), nil
}

func (c *MemoryCRM) GetCustomer(ctx context.Context, id string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	customer, ok := c.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %q: %w", id, ErrNotFound)
	}
	return automation.NormalizeMap(customer), nil
}

func (c *MemoryCRM) CreateTask(ctx context.Context, task Task) (string, error) {
	id, err := typeid.WithPrefix("task")
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.tasks = append(c.tasks, task)
	c.mu.Unlock()
	automation.LoggerFromContext(ctx).Info("task created", "task_id", id.String(), "title", task.Title)
	return id.String(), nil
}

// Tasks returns the tasks created so far.
func (c *MemoryCRM) Tasks() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Task(nil), c.tasks...)
}
