// Package inmem implements the bus in process memory. It preserves the
// consumer-group contract (each message claimed by exactly one subscriber of
// a channel) and is used by tests and fake-Redis deployments.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/earth2dfm/dfm/bus"
)

// queueCapacity bounds each channel's backlog.
const queueCapacity = 1024

type (
	// Bus is the in-memory bus implementation.
	Bus struct {
		mu     sync.Mutex
		queues map[string]chan bus.Delivery
	}

	// subscription forwards from the shared channel queue until closed.
	subscription struct {
		out    chan bus.Delivery
		cancel context.CancelFunc
	}
)

// New constructs an empty in-memory bus.
func New() *Bus {
	return &Bus{queues: make(map[string]chan bus.Delivery)}
}

func (b *Bus) queue(ch bus.Channel) chan bus.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	name := ch.StreamName()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan bus.Delivery, queueCapacity)
		b.queues[name] = q
	}
	return q
}

// Publish appends the payload to the channel queue.
func (b *Bus) Publish(ctx context.Context, ch bus.Channel, payload []byte) error {
	msg := make([]byte, len(payload))
	copy(msg, payload)
	delivery := bus.Delivery{
		Payload: msg,
		Ack:     func(context.Context) error { return nil },
	}
	select {
	case b.queue(ch) <- delivery:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("channel %s backlog full", ch.StreamName())
	}
}

// Subscribe joins the channel. Multiple subscribers compete for messages,
// matching consumer-group semantics.
func (b *Bus) Subscribe(ctx context.Context, ch bus.Channel) (bus.Subscription, error) {
	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		out:    make(chan bus.Delivery),
		cancel: cancel,
	}
	q := b.queue(ch)
	go func() {
		defer close(sub.out)
		for {
			select {
			case <-runCtx.Done():
				return
			case delivery := <-q:
				select {
				case sub.out <- delivery:
				case <-runCtx.Done():
					return
				}
			}
		}
	}()
	return sub, nil
}

// C returns the delivery channel.
func (s *subscription) C() <-chan bus.Delivery { return s.out }

// Close stops forwarding.
func (s *subscription) Close(context.Context) { s.cancel() }
