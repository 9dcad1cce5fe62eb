package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/deepnoodle-ai/automation/retry"
	"golang.org/x/time/rate"
)

const maxResponseBody = 1 << 20

// NewHTTPClient returns a client with a pooled transport shared by all
// HTTP nodes. Timeouts are applied per request.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

type httpExecutor struct {
	client    *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	retryWait time.Duration
}

type httpRequest struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
}

func (e *httpExecutor) Execute(ctx context.Context, in *automation.NodeInput) (*automation.NodeResult, error) {
	cfg := in.Config.(*automation.HTTPRequestConfig)
	req, err := e.buildRequest(in, cfg)
	if err != nil {
		return nil, err
	}

	logger := automation.LoggerFromContext(ctx)
	attempts := 0
	var output map[string]any
	err = retry.Do(ctx, func() error {
		attempts++
		out, err := e.do(ctx, req)
		if err != nil {
			return err
		}
		output = out
		return nil
	},
		retry.WithMaxRetries(cfg.Retries),
		retry.WithBaseWait(e.retryWait),
		retry.WithJitter(0.1),
		retry.OnRetry(func(attempt int, err error, wait time.Duration) {
			logger.Warn("retrying http request", "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		if attempts > 1 {
			return nil, fmt.Errorf("%w (after %d attempts)", err, attempts)
		}
		return nil, err
	}
	output["attempts"] = attempts
	return &automation.NodeResult{Output: output}, nil
}

func (e *httpExecutor) buildRequest(in *automation.NodeInput, cfg *automation.HTTPRequestConfig) (*httpRequest, error) {
	req := &httpRequest{
		method:  strings.ToUpper(strings.TrimSpace(cfg.Method)),
		url:     strings.TrimSpace(in.Resolve(cfg.URL)),
		headers: make(map[string]string, len(cfg.Headers)),
		timeout: e.timeout,
	}
	if req.method == "" {
		req.method = http.MethodGet
	}
	if cfg.TimeoutSeconds > 0 {
		req.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	for k, v := range cfg.Headers {
		req.headers[k] = in.Resolve(v)
	}
	switch body := cfg.Body.(type) {
	case nil:
	case string:
		if resolved := in.Resolve(body); resolved != "" {
			req.body = []byte(resolved)
		}
	default:
		data, err := json.Marshal(in.ResolveValue(body))
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		req.body = data
		if !hasHeader(req.headers, "Content-Type") {
			req.headers["Content-Type"] = "application/json"
		}
	}
	return req, nil
}

// do performs a single attempt. Responses with status 400 and above are
// returned as *retry.StatusError.
func (e *httpExecutor) do(ctx context.Context, r *httpRequest) (map[string]any, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, retry.NewNonRecoverableError(fmt.Errorf("rate limiter: %w", err))
	}
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(reqCtx, r.method, r.url, body)
	if err != nil {
		return nil, retry.NewNonRecoverableError(fmt.Errorf("failed to create request: %w", err))
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if id, ok := automation.ExecutionIDFromContext(ctx); ok {
		req.Header.Set("X-Automation-Execution-ID", id)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timeout after %s: %w", r.timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &retry.StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(strings.TrimSpace(string(data)), 512),
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	var parsed any = string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			parsed = v
		}
	}
	return map[string]any{
		"status_code": resp.StatusCode,
		"status":      resp.Status,
		"headers":     headers,
		"body":        parsed,
	}, nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
