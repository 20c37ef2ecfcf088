// Package queue is the Broker Bridge: it produces ingest-job messages onto
// a named durable queue and consumes them with per-message acknowledgment.
// The only queue in the deployment is the fixed "zoomhook" queue (spec §6);
// message shape is {"uuid": <string>, "ingest_id": <integer>}.
package queue

import "context"

// Job is the broker message payload: the recording uuid and the Ingest row
// id created for it.
type Job struct {
	UUID     string `json:"uuid"`
	IngestID int64  `json:"ingest_id"`
}

// Delivery wraps a consumed Job with its acknowledgment callback. The
// consumer acks after the engine returns success or a non-retryable
// failure; a retryable failure leaves the message un-acked (spec §6). The
// Redis subscription reads only new stream entries and never claims
// pending ones, so an un-acked message stays in the consumer group's
// pending list and is not delivered again; the row itself is recovered by
// the engine's reaper.
type Delivery struct {
	Job Job
	ack func() error
}

// Ack acknowledges successful (or terminally failed) processing of the
// delivery.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Queue is the Broker Bridge contract: publish ingest jobs, and consume them
// with per-message acknowledgment.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	Subscribe() Subscription
	// Ping reports whether the broker is reachable, for the health endpoint.
	Ping(ctx context.Context) error
}

// Subscription is a single consumer's view of the queue.
type Subscription interface {
	Deliveries() <-chan Delivery
	Close()
}
