// Package pgnotify delivers trigger events published with PostgreSQL
// NOTIFY, for CRM databases that emit business events from triggers.
package pgnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/lib/pq"
)

// Options configures a Source.
type Options struct {
	DSN     string
	Channel string
	// PingInterval is how often an idle connection is checked. Defaults to 90s.
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Source listens on one NOTIFY channel. Each notification payload is a
// JSON object:
//
//	{"type": "lead_created", "workflow_id": "", "payload": {...}}
type Source struct {
	dsn          string
	channel      string
	pingInterval time.Duration
	logger       *slog.Logger
}

var _ automation.EventSource = (*Source)(nil)

func New(opts Options) (*Source, error) {
	if opts.DSN == "" {
		return nil, errors.New("dsn is required")
	}
	if opts.Channel == "" {
		return nil, errors.New("channel is required")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 90 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{
		dsn:          opts.DSN,
		channel:      opts.Channel,
		pingInterval: opts.PingInterval,
		logger:       opts.Logger,
	}, nil
}

func (s *Source) Name() string {
	return "pgnotify:" + s.channel
}

// Subscribe listens until ctx is done. Notifications sent while the
// listener was reconnecting are lost.
func (s *Source) Subscribe(ctx context.Context, handle automation.EventHandler) error {
	listener := pq.NewListener(s.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			s.logger.Warn("listener connection attempt failed", "channel", s.channel, "error", err)
		case pq.ListenerEventDisconnected:
			s.logger.Warn("listener disconnected", "channel", s.channel, "error", err)
		case pq.ListenerEventReconnected:
			s.logger.Info("listener reconnected", "channel", s.channel)
		}
	})
	defer listener.Close()

	if err := listener.Listen(s.channel); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			if n == nil {
				// Connection was re-established.
				continue
			}
			event, err := decodeNotification(n.Extra)
			if err != nil {
				s.logger.Error("dropping malformed event", "channel", s.channel, "error", err)
				continue
			}
			if err := handle(ctx, event); err != nil {
				s.logger.Error("failed to dispatch event", "channel", s.channel,
					"trigger_type", event.Type, "error", err)
			}
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				s.logger.Warn("listener ping failed", "channel", s.channel, "error", err)
			}
		}
	}
}

type notification struct {
	Type       string         `json:"type"`
	WorkflowID string         `json:"workflow_id"`
	Payload    map[string]any `json:"payload"`
}

func decodeNotification(extra string) (automation.Event, error) {
	var n notification
	if err := json.Unmarshal([]byte(extra), &n); err != nil {
		return automation.Event{}, fmt.Errorf("invalid notification: %w", err)
	}
	if n.Type == "" {
		return automation.Event{}, errors.New(`missing "type" field`)
	}
	triggerType := automation.TriggerType(n.Type)
	if !strings.HasPrefix(n.Type, "trigger_") {
		triggerType = automation.TriggerType("trigger_" + n.Type)
	}
	if !triggerType.Valid() {
		return automation.Event{}, fmt.Errorf("unsupported trigger type %q", n.Type)
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}
	return automation.Event{
		Type:       triggerType,
		WorkflowID: n.WorkflowID,
		Payload:    n.Payload,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
