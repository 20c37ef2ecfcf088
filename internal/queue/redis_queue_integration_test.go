package queue

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestRedisQueuePublishConsume exercises the real Redis Streams broker.
// Gated behind an env var (teacher convention, e.g.
// internal/chat/redis_queue_integration_test.go) since consumer groups are
// not supported by lightweight fakes like miniredis.
func TestRedisQueuePublishConsume(t *testing.T) {
	addr := os.Getenv("MEETINGSYNC_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("MEETINGSYNC_REDIS_TEST_ADDR not set")
	}

	q, err := NewRedisQueue(RedisConfig{Addr: addr, Stream: "meetingsync:test:" + t.Name(), Group: "test-workers"})
	if err != nil {
		t.Fatalf("NewRedisQueue: %v", err)
	}
	sub := q.Subscribe()
	defer sub.Close()

	if err := q.Publish(context.Background(), Job{UUID: "abc==", IngestID: 42}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case d := <-sub.Deliveries():
		if d.Job.UUID != "abc==" || d.Job.IngestID != 42 {
			t.Fatalf("unexpected job: %+v", d.Job)
		}
		if err := d.Ack(); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
