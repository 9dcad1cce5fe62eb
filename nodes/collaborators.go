package nodes

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by collaborators for unknown records.
var ErrNotFound = errors.New("record not found")

// Email is a message handed to a Mailer. Placeholders are already resolved.
type Email struct {
	To         []string
	Cc         []string
	Subject    string
	Body       string
	TemplateID string
}

// Mailer delivers email.
type Mailer interface {
	Send(ctx context.Context, email Email) (messageID string, err error)
}

// Task is a follow-up task for a CRM user.
type Task struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AssigneeID  string    `json:"assignee_id,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	DueDate     time.Time `json:"due_date,omitzero"`
	LeadID      string    `json:"lead_id,omitempty"`
}

// TaskService creates tasks.
type TaskService interface {
	CreateTask(ctx context.Context, task Task) (taskID string, err error)
}

// CRM reads and updates business records. Records are plain JSON objects.
// UpdateLead with an empty id creates the lead.
type CRM interface {
	GetLead(ctx context.Context, id string) (map[string]any, error)
	UpdateLead(ctx context.Context, id string, fields map[string]any) (map[string]any, error)
	GetCustomer(ctx context.Context, id string) (map[string]any, error)
}
