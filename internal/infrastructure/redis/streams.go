package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/kioskpos/internal/infrastructure/observability"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const publishBuffer = 256

// StatePublisher appends every state change to a Redis stream. Changes are
// written by a single goroutine in the order they were observed.
type StatePublisher struct {
	client     *redis.Client
	stream     string
	maxLen     int64
	instanceID string
	metrics    *observability.Metrics
	logger     zerolog.Logger

	queue chan service.StateChange
	done  chan struct{}
	once  sync.Once
}

func NewStatePublisher(
	client *redis.Client,
	stream string,
	maxLen int64,
	instanceID string,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *StatePublisher {
	p := &StatePublisher{
		client:     client,
		stream:     stream,
		maxLen:     maxLen,
		instanceID: instanceID,
		metrics:    metrics,
		logger:     logger,
		queue:      make(chan service.StateChange, publishBuffer),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

// OnStateChange implements service.Observer. It never blocks; when the
// buffer is full the change is dropped.
func (p *StatePublisher) OnStateChange(change service.StateChange) {
	select {
	case p.queue <- change:
	default:
		p.observe("dropped")
		p.logger.Warn().Str("state", string(change.State)).Msg("state stream buffer full, dropping change")
	}
}

// Close flushes queued changes and stops the writer.
func (p *StatePublisher) Close() {
	p.once.Do(func() { close(p.queue) })
	<-p.done
}

func (p *StatePublisher) run() {
	defer close(p.done)
	for change := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := p.Publish(ctx, change)
		cancel()
		if err != nil {
			p.observe("error")
			p.logger.Error().Err(err).Str("state", string(change.State)).Msg("failed to publish state change")
			continue
		}
		p.observe("ok")
	}
}

// Publish writes one change to the stream.
func (p *StatePublisher) Publish(ctx context.Context, change service.StateChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal state change: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"instance_id": p.instanceID,
			"attempt_id":  change.AttemptID,
			"state":       string(change.State),
			"payload":     string(payload),
			"timestamp":   change.At.UnixMilli(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish state change: %w", err)
	}
	return nil
}

func (p *StatePublisher) observe(status string) {
	if p.metrics != nil {
		p.metrics.StreamPublished.WithLabelValues(status).Inc()
	}
}

// DecodeStateChange parses a message written by StatePublisher.
func DecodeStateChange(msg redis.XMessage) (service.StateChange, error) {
	var change service.StateChange
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return change, fmt.Errorf("message %s has no payload", msg.ID)
	}
	if err := json.Unmarshal([]byte(raw), &change); err != nil {
		return change, fmt.Errorf("message %s: invalid payload: %w", msg.ID, err)
	}
	return change, nil
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string { return c.stream }

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	// Create stream if it doesn't exist
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XStream, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			// No new messages
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	return streams, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.stream, c.group, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}
