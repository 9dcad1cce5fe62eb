// Package redisstream delivers trigger events from a Redis stream consumed
// through a consumer group.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/deepnoodle-ai/automation"
	"github.com/redis/go-redis/v9"
)

// Options configures a Source.
type Options struct {
	Client   *redis.Client
	Stream   string
	Group    string
	Consumer string
	// Block bounds each XREADGROUP call. Defaults to 5s.
	Block time.Duration
	// Count is the maximum number of messages read per call. Defaults to 10.
	Count  int64
	Logger *slog.Logger
}

// Source reads events from a Redis stream. Each message carries a "type"
// field naming the trigger type, a "payload" field holding a JSON object,
// and an optional "workflow_id" field.
type Source struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
	count    int64
	logger   *slog.Logger
}

var _ automation.EventSource = (*Source)(nil)

func New(opts Options) (*Source, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Stream == "" {
		return nil, errors.New("stream is required")
	}
	if opts.Group == "" {
		opts.Group = "automation"
	}
	if opts.Consumer == "" {
		host, _ := os.Hostname()
		opts.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Source{
		client:   opts.Client,
		stream:   opts.Stream,
		group:    opts.Group,
		consumer: opts.Consumer,
		block:    opts.Block,
		count:    opts.Count,
		logger:   opts.Logger,
	}, nil
}

func (s *Source) Name() string {
	return "redis:" + s.stream
}

// Subscribe creates the consumer group if needed and reads new messages
// until ctx is done. Messages are acknowledged once handled, including
// malformed ones, which are logged and dropped.
func (s *Source) Subscribe(ctx context.Context, handle automation.EventHandler) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    s.count,
			Block:    s.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to read stream", "stream", s.stream, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.process(ctx, msg, handle)
			}
		}
	}
}

func (s *Source) process(ctx context.Context, msg redis.XMessage, handle automation.EventHandler) {
	defer s.ack(ctx, msg.ID)

	event, err := decodeMessage(msg.Values)
	if err != nil {
		s.logger.Error("dropping malformed event", "stream", s.stream, "message_id", msg.ID, "error", err)
		return
	}
	if err := handle(ctx, event); err != nil {
		s.logger.Error("failed to dispatch event", "stream", s.stream, "message_id", msg.ID,
			"trigger_type", event.Type, "error", err)
	}
}

func (s *Source) ack(ctx context.Context, id string) {
	if err := s.client.XAck(context.WithoutCancel(ctx), s.stream, s.group, id).Err(); err != nil {
		s.logger.Warn("failed to ack message", "stream", s.stream, "message_id", id, "error", err)
	}
}

// decodeMessage converts stream message fields into an event. The trigger
// prefix on the type is optional, so "lead_created" and
// "trigger_lead_created" are equivalent.
func decodeMessage(values map[string]any) (automation.Event, error) {
	rawType, _ := values["type"].(string)
	if rawType == "" {
		return automation.Event{}, errors.New(`missing "type" field`)
	}
	triggerType := automation.TriggerType(rawType)
	if !strings.HasPrefix(rawType, "trigger_") {
		triggerType = automation.TriggerType("trigger_" + rawType)
	}
	if !triggerType.Valid() {
		return automation.Event{}, fmt.Errorf("unsupported trigger type %q", rawType)
	}

	payload := map[string]any{}
	if raw, ok := values["payload"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return automation.Event{}, fmt.Errorf("invalid payload: %w", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}
	workflowID, _ := values["workflow_id"].(string)
	return automation.Event{
		Type:       triggerType,
		WorkflowID: workflowID,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
