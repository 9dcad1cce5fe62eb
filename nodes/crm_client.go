package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/deepnoodle-ai/automation/retry"
)

// CRMClientOptions configures a CRMClient.
type CRMClientOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// CRMClient talks to the CRM's REST API. It implements CRM and
// TaskService.
type CRMClient struct {
	baseURL string
	token   string
	client  *http.Client
	timeout time.Duration
}

func NewCRMClient(opts CRMClientOptions) (*CRMClient, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid crm base url %q", opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &CRMClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		client:  opts.HTTPClient,
		timeout: opts.Timeout,
	}, nil
}

func (c *CRMClient) GetLead(ctx context.Context, id string) (map[string]any, error) {
	var lead map[string]any
	err := c.do(ctx, http.MethodGet, "/leads/"+url.PathEscape(id), nil, &lead)
	return lead, err
}

// UpdateLead patches the lead. An empty id posts the fields to /leads so
// the CRM creates the lead.
func (c *CRMClient) UpdateLead(ctx context.Context, id string, fields map[string]any) (map[string]any, error) {
	var lead map[string]any
	if id == "" {
		err := c.do(ctx, http.MethodPost, "/leads", fields, &lead)
		return lead, err
	}
	err := c.do(ctx, http.MethodPatch, "/leads/"+url.PathEscape(id), fields, &lead)
	return lead, err
}

func (c *CRMClient) GetCustomer(ctx context.Context, id string) (map[string]any, error) {
	var customer map[string]any
	err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(id), nil, &customer)
	return customer, err
}

func (c *CRMClient) CreateTask(ctx context.Context, task Task) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks", task, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("crm returned no task id")
	}
	return created.ID, nil
}

func (c *CRMClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id, ok := automation.ExecutionIDFromContext(ctx); ok {
		req.Header.Set("X-Automation-Execution-ID", id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("crm %s: %w", path, ErrNotFound)
	case resp.StatusCode >= 300:
		return &retry.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: truncate(string(data), 256)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("crm %s: invalid response: %w", path, err)
	}
	return nil
}
