package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	progressChannelPrefix  = "broadcast:progress:"
	progressSnapshotPrefix = "broadcast:snapshot:"
)

// RedisProgressBroker publishes snapshots through redis so observers attached
// to any instance see them. Local subscribers still live in the hub.
type RedisProgressBroker struct {
	rc      *redis.Client
	prefix  string
	ttl     time.Duration
	hub     *ProgressHub
	logger  zerolog.Logger
	running atomic.Bool
}

// NewRedisProgressBroker creates a broker over an existing client and hub
func NewRedisProgressBroker(rc *redis.Client, prefix string, ttl time.Duration, hub *ProgressHub, logger zerolog.Logger) *RedisProgressBroker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisProgressBroker{
		rc:     rc,
		prefix: prefix,
		ttl:    ttl,
		hub:    hub,
		logger: logger.With().Str("component", "progress").Logger(),
	}
}

func (b *RedisProgressBroker) channel(jobID uuid.UUID) string {
	return b.prefix + progressChannelPrefix + jobID.String()
}

func (b *RedisProgressBroker) snapshotKey(jobID uuid.UUID) string {
	return b.prefix + progressSnapshotPrefix + jobID.String()
}

// Subscribe registers a local stream; see ProgressHub.Subscribe
func (b *RedisProgressBroker) Subscribe(jobID uuid.UUID, buffer int) (<-chan ProgressSnapshot, func()) {
	return b.hub.Subscribe(jobID, buffer)
}

// Publish stores the snapshot as the job's last known state and broadcasts it.
// When redis fails, or no subscription loop runs here, local delivery happens directly.
func (b *RedisProgressBroker) Publish(ctx context.Context, snapshot ProgressSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Error().Err(err).Str("job_id", snapshot.JobID.String()).Msg("failed to encode progress snapshot")
		b.hub.Deliver(snapshot)
		return
	}

	pipe := b.rc.Pipeline()
	pipe.Set(ctx, b.snapshotKey(snapshot.JobID), data, b.ttl)
	pipe.Publish(ctx, b.channel(snapshot.JobID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn().Err(err).Str("job_id", snapshot.JobID.String()).Msg("redis publish failed, delivering locally")
		b.hub.Deliver(snapshot)
		return
	}

	if !b.running.Load() {
		b.hub.Deliver(snapshot)
	}
}

// LastSnapshot returns the most recent snapshot stored for a job, or nil
func (b *RedisProgressBroker) LastSnapshot(ctx context.Context, jobID uuid.UUID) (*ProgressSnapshot, error) {
	data, err := b.rc.Get(ctx, b.snapshotKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read progress snapshot: %w", err)
	}
	var snapshot ProgressSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode progress snapshot: %w", err)
	}
	return &snapshot, nil
}

// Run feeds the local hub from the pattern subscription until ctx is done
func (b *RedisProgressBroker) Run(ctx context.Context) error {
	pattern := b.prefix + progressChannelPrefix + "*"
	pubsub := b.rc.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	b.running.Store(true)
	defer b.running.Store(false)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("progress subscription closed")
			}
			var snapshot ProgressSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed progress message")
				continue
			}
			if snapshot.JobID == uuid.Nil {
				id, err := uuid.Parse(strings.TrimPrefix(msg.Channel, b.prefix+progressChannelPrefix))
				if err != nil {
					continue
				}
				snapshot.JobID = id
			}
			b.hub.Deliver(snapshot)
		}
	}
}

// Start runs the subscription loop in the background, resubscribing after
// failures. The returned function stops it.
func (b *RedisProgressBroker) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			err := b.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				b.logger.Error().Err(err).Msg("progress subscription failed, retrying")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
