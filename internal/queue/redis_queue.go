package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis Streams-backed broker implementation.
// The consumer-group mechanics (XADD / XGROUP CREATE / XREADGROUP / XACK)
// are adapted from the teacher's chat package
// (internal/chat/redis_queue.go), which implements the same at-least-once,
// per-message-ack shape this component needs; this version uses the real
// github.com/redis/go-redis/v9 client rather than the teacher's hand-rolled
// RESP connection, since nothing here needs the teacher's bespoke protocol
// parsing and the client gives pooling and reconnects for free.
type RedisConfig struct {
	Addr         string
	Password     string
	Stream       string
	Group        string
	Logger       *slog.Logger
	BlockTimeout time.Duration
	Buffer       int
}

// NewRedisQueue constructs a Queue backed by a Redis stream and consumer
// group. The caller is responsible for ensuring Redis is reachable.
func NewRedisQueue(cfg RedisConfig) (Queue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("queue: redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "meetingsync:zoomhook"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "ingest-workers"
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})

	q := &redisQueue{
		client:       client,
		stream:       stream,
		group:        group,
		buffer:       buffer,
		blockTimeout: blockTimeout,
		logger:       logger,
	}
	if err := q.ensureGroup(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

type redisQueue struct {
	client       *redis.Client
	stream       string
	group        string
	buffer       int
	blockTimeout time.Duration
	logger       *slog.Logger

	groupOnce sync.Once
	groupErr  error
}

func (q *redisQueue) ensureGroup(ctx context.Context) error {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !isBusyGroup(err) {
			q.groupErr = fmt.Errorf("queue: create consumer group: %w", err)
		}
	})
	return q.groupErr
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func (q *redisQueue) Publish(ctx context.Context, job Job) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// Ping reports whether the Redis connection backing this broker is alive.
func (q *redisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *redisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.ensureGroup(ctx); err != nil && q.logger != nil {
		q.logger.Error("queue consumer group setup failed", "error", err)
	}
	sub := &redisSubscription{
		queue:    q,
		consumer: randomConsumerID(),
		cancel:   cancel,
		ch:       make(chan Delivery, q.buffer),
	}
	go sub.run(ctx)
	return sub
}

type redisSubscription struct {
	queue    *redisQueue
	consumer string
	cancel   context.CancelFunc

	once sync.Once
	ch   chan Delivery
}

func (s *redisSubscription) Deliveries() <-chan Delivery { return s.ch }

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}

func (s *redisSubscription) run(ctx context.Context) {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		streams, err := s.queue.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.queue.group,
			Consumer: s.consumer,
			Streams:  []string{s.queue.stream, ">"},
			Count:    32,
			Block:    s.queue.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			if s.queue.logger != nil {
				s.queue.logger.Warn("queue read failed", "error", err)
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, stream := range streams {
			for _, message := range stream.Messages {
				s.deliver(ctx, message)
			}
		}
	}
}

func (s *redisSubscription) deliver(ctx context.Context, message redis.XMessage) {
	raw, _ := message.Values["payload"].(string)
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		if s.queue.logger != nil {
			s.queue.logger.Error("queue decode failed", "error", err, "id", message.ID)
		}
		s.ack(ctx, message.ID)
		return
	}
	id := message.ID
	delivery := Delivery{Job: job, ack: func() error {
		return s.queue.client.XAck(context.Background(), s.queue.stream, s.queue.group, id).Err()
	}}
	select {
	case s.ch <- delivery:
	case <-ctx.Done():
	}
}

func (s *redisSubscription) ack(ctx context.Context, id string) {
	if err := s.queue.client.XAck(ctx, s.queue.stream, s.queue.group, id).Err(); err != nil && s.queue.logger != nil {
		s.queue.logger.Warn("queue ack failed", "id", id, "error", err)
	}
}

func randomConsumerID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return "consumer-" + hex.EncodeToString(buf[:])
}
