package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueuePublishConsume(t *testing.T) {
	q := NewMemoryQueue()
	sub := q.Subscribe()
	defer sub.Close()

	if err := q.Publish(context.Background(), Job{UUID: "abc==", IngestID: 7}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case d := <-sub.Deliveries():
		if d.Job.UUID != "abc==" || d.Job.IngestID != 7 {
			t.Fatalf("unexpected job: %+v", d.Job)
		}
		if err := d.Ack(); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryQueueSubscribersIndependentAfterClose(t *testing.T) {
	q := NewMemoryQueue()
	sub1 := q.Subscribe()
	sub2 := q.Subscribe()
	sub1.Close()

	if err := q.Publish(context.Background(), Job{UUID: "u", IngestID: 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-sub2.Deliveries():
	case <-time.After(time.Second):
		t.Fatal("expected remaining subscriber to still receive deliveries")
	}
}
