package progress

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"studymate/internal/platform/logger"
)

type envelope struct {
	OwnerID string `json:"owner_id"`
	Event   Event  `json:"event"`
}

// bridgeBuffer bounds the events waiting for a Redis PUBLISH.
const bridgeBuffer = 256

// RedisBridge relays events through a Redis channel so a client connected to
// one instance sees progress from an ingestion running on another.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	out     chan envelope
	dropped atomic.Int64
	log     *logger.Logger
}

func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub, log *logger.Logger) *RedisBridge {
	return &RedisBridge{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		out:     make(chan envelope, bridgeBuffer),
		log:     log.With("component", "progress.RedisBridge", "channel", channel),
	}
}

// Publish queues the event for the drain loop started by Run and never
// blocks the caller. When the queue is full the event is dropped.
func (b *RedisBridge) Publish(ownerID string, ev Event) {
	select {
	case b.out <- envelope{OwnerID: ownerID, Event: ev}:
	default:
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.log.Warn("progress queue full, dropping event", "owner_id", ownerID, "dropped", n)
		}
	}
}

// Dropped returns how many events Publish discarded.
func (b *RedisBridge) Dropped() int64 {
	return b.dropped.Load()
}

func (b *RedisBridge) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.out:
			b.send(ctx, env)
		}
	}
}

// send is best effort; a Redis failure is logged and the event dropped.
func (b *RedisBridge) send(ctx context.Context, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.log.Warn("marshal progress envelope failed", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("publish progress failed", "owner_id", env.OwnerID, "err", err)
	}
}

// Run drains queued events to Redis and forwards channel messages to the
// local hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.drain(ctx)

	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("decode progress envelope failed", "err", err)
				continue
			}
			b.hub.Publish(env.OwnerID, env.Event)
		}
	}
}
