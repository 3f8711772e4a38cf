// Package broker wraps the two coordination-fabric substrates (spec.md
// §4.2): a durable task broker (NATS JetStream, three queues) and a pub/sub
// channel (Redis) carrying per-run events. NATS publish/subscribe wrapping
// is grounded on the SWARM repo's natsctx.go; the Redis channel naming and
// JSON envelope are grounded on the original's pubsub.py.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Queue names (spec.md §4.2/§6).
const (
	QueueWorkflow = "workflow"
	QueueLog      = "log"
	QueueSandbox  = "sandbox"
)

// TaskBroker wraps a NATS JetStream connection providing the three durable
// queues. Tasks are acknowledged only after their handler returns
// successfully; on failure, JetStream's configured MaxDeliver/backoff
// policy redelivers.
type TaskBroker struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewTaskBroker connects to url and ensures the three durable streams
// exist.
func NewTaskBroker(url string) (*TaskBroker, error) {
	nc, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening jetstream context: %w", err)
	}
	tb := &TaskBroker{nc: nc, js: js}
	for _, q := range []string{QueueWorkflow, QueueLog, QueueSandbox} {
		if err := tb.ensureStream(q); err != nil {
			nc.Close()
			return nil, err
		}
	}
	return tb, nil
}

func (b *TaskBroker) ensureStream(queue string) error {
	_, err := b.js.StreamInfo(queue)
	if err == nil {
		return nil
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     queue,
		Subjects: []string{queue + ".>"},
		Storage:  nats.FileStorage,
	})
	return err
}

// Publish enqueues payload (JSON-encoded) on queue.subject. At-least-once:
// JetStream persists until the consumer acks.
func (b *TaskBroker) Publish(queue, subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = b.js.Publish(queue+"."+subject, data)
	return err
}

// Handler processes one task's raw JSON payload. Returning nil acks the
// message; a non-nil error leaves it for JetStream's redelivery policy.
type Handler func(ctx context.Context, data []byte) error

// Consume runs a durable pull consumer on queue with concurrency workers,
// blocking until ctx is cancelled.
func (b *TaskBroker) Consume(ctx context.Context, queue string, concurrency int, h Handler) error {
	sub, err := b.js.PullSubscribe(queue+".>", queue+"-workers", nats.ManualAck())
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", queue, err)
	}
	defer sub.Unsubscribe()

	sem := make(chan struct{}, concurrency)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msgs, err := sub.Fetch(concurrency, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			return err
		}
		for _, msg := range msgs {
			sem <- struct{}{}
			go func(m *nats.Msg) {
				defer func() { <-sem }()
				if err := h(ctx, m.Data); err != nil {
					_ = m.Nak()
					return
				}
				_ = m.Ack()
			}(msg)
		}
	}
}

func (b *TaskBroker) Close() { b.nc.Close() }

// Channel wraps Redis pub/sub for the per-run event channel `run:{run_id}`
// (spec.md §4.2/§6) and the TTL-bounded distributed lock (spec.md §5).
type Channel struct {
	rdb *redis.Client
}

func NewChannel(url string) (*Channel, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Channel{rdb: redis.NewClient(opt)}, nil
}

// Envelope is the {"type": ..., "data": ...} message shape published on a
// run's channel, matching the original's pubsub.py exactly.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Publish emits one event on `run:{runID}`.
func (c *Channel) Publish(ctx context.Context, runID, eventType string, data interface{}) error {
	payload, err := json.Marshal(Envelope{Type: eventType, Data: data})
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, "run:"+runID, payload).Err()
}

// Subscribe streams decoded envelopes on `run:{runID}` to out until the
// context is cancelled or a terminal event (workflow_finish/error) is
// observed, then unsubscribes — mirroring the original's
// subscribe_workflow_events generator.
func (c *Channel) Subscribe(ctx context.Context, runID string, out chan<- Envelope) error {
	sub := c.rdb.Subscribe(ctx, "run:"+runID)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			out <- env
			if env.Type == "workflow_finish" || env.Type == "error" {
				return nil
			}
		}
	}
}

// AcquireLock takes a TTL-bounded named lock via SET NX EX (spec.md §5),
// default 120s, grounded on the original's distributed_lock.py.
func (c *Channel) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:"+key, "1", ttl).Result()
}

// ReleaseLock drops a previously acquired lock.
func (c *Channel) ReleaseLock(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, "lock:"+key).Err()
}

func (c *Channel) Close() error { return c.rdb.Close() }
