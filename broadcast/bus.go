package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"github.com/stalwartgo/core/stats"
)

// Topic is the pub/sub channel every node publishes to and subscribes on.
const Topic = "stwt.agora"

// FlushInterval bounds how long an event can sit in the batcher before
// being sent, even if MaxBatchEvents hasn't been reached.
const FlushInterval = 200 * time.Millisecond

// Bus publishes batched events onto Redis pub/sub and delivers received
// batches to Handler, discarding any batch whose node-id equals its own.
type Bus struct {
	client *redis.Client
	nodeID uint16
	Handler func(Event)

	mu      sync.Mutex
	pending []Event
	timer   *time.Timer
}

func NewBus(client *redis.Client, nodeID uint16) *Bus {
	return &Bus{client: client, nodeID: nodeID}
}

// Publish appends e to the pending batch, flushing immediately once
// MaxBatchEvents is reached, or after FlushInterval otherwise.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.Lock()
	b.pending = append(b.pending, e)
	full := len(b.pending) >= MaxBatchEvents
	if !full && b.timer == nil {
		b.timer = time.AfterFunc(FlushInterval, func() { b.flush(context.Background()) })
	}
	b.mu.Unlock()

	if full {
		b.flush(ctx)
	}
}

func (b *Bus) flush(ctx context.Context) {
	b.mu.Lock()
	events := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(events) == 0 {
		return
	}
	stats.BroadcastBatchSize.Observe(float64(len(events)))
	frame := EncodeBatch(b.nodeID, events)
	if err := b.client.Publish(ctx, Topic, frame).Err(); err != nil {
		glog.Errorf("broadcast: publish failed: %v", err)
	}
}

// Listen subscribes to Topic and dispatches every decoded event from
// batches not originating from this node to Handler. It blocks until ctx
// is cancelled or the subscription errors.
func (b *Bus) Listen(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, Topic)
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
			nodeID, events, err := DecodeBatch([]byte(msg.Payload))
			if err != nil {
				glog.Errorf("broadcast: decode failed: %v", err)
				continue
			}
			if nodeID == b.nodeID {
				continue
			}
			for _, e := range events {
				if b.Handler != nil {
					b.Handler(e)
				}
			}
		}
	}
}
