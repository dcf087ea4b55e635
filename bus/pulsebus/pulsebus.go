// Package pulsebus implements the bus over goa.design/pulse streams. Each
// channel maps to one Redis stream named "<SRC>.<DST>.<topic>.stream" with a
// single consumer group "<SRC>.<DST>.<topic>.group"; messages travel inside
// a {"msg": <JSON>} envelope.
package pulsebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/earth2dfm/dfm/bus"
	"github.com/earth2dfm/dfm/telemetry"
)

type (
	// Options configures the Pulse-backed bus.
	Options struct {
		// Redis is the Redis connection backing the streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per stream. Zero
		// uses Pulse defaults.
		StreamMaxLen int
		// Buffer is the delivery channel capacity. Defaults to 64.
		Buffer int
		// Logger receives consume-loop diagnostics. Defaults to no-op.
		Logger telemetry.Logger
	}

	// Bus is the Pulse-backed bus implementation.
	Bus struct {
		redis  *redis.Client
		maxLen int
		buffer int
		log    telemetry.Logger

		mu      sync.Mutex
		streams map[string]*streaming.Stream
	}

	// subscription consumes one sink and adapts events to deliveries.
	subscription struct {
		sink   *streaming.Sink
		out    chan bus.Delivery
		cancel context.CancelFunc
	}

	// envelope is the wire form of a channel message.
	envelope struct {
		Msg json.RawMessage `json:"msg"`
	}
)

// New constructs a Pulse-backed bus. The Redis field in opts is required.
func New(opts Options) (*Bus, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		buffer:  buffer,
		log:     telemetry.Or(opts.Logger),
		streams: make(map[string]*streaming.Stream),
	}, nil
}

// stream returns the memoized Pulse stream for a channel.
func (b *Bus) stream(ch bus.Channel) (*streaming.Stream, error) {
	name := ch.StreamName()
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[name]; ok {
		return s, nil
	}
	var streamOptions []streamopts.Stream
	if b.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(b.maxLen))
	}
	s, err := streaming.NewStream(name, b.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("create pulse stream %s: %w", name, err)
	}
	b.streams[name] = s
	return s, nil
}

// Publish wraps the payload in the message envelope and appends it to the
// channel's stream.
func (b *Bus) Publish(ctx context.Context, ch bus.Channel, payload []byte) error {
	s, err := b.stream(ch)
	if err != nil {
		return err
	}
	wrapped, err := json.Marshal(envelope{Msg: payload})
	if err != nil {
		return fmt.Errorf("wrap %s message: %w", ch.StreamName(), err)
	}
	if _, err := s.Add(ctx, "msg", wrapped); err != nil {
		return fmt.Errorf("pulse add %s: %w", ch.StreamName(), err)
	}
	return nil
}

// Subscribe joins the channel's consumer group and starts the consume loop.
func (b *Bus) Subscribe(ctx context.Context, ch bus.Channel) (bus.Subscription, error) {
	s, err := b.stream(ch)
	if err != nil {
		return nil, err
	}
	sink, err := s.NewSink(ctx, ch.GroupName())
	if err != nil {
		return nil, fmt.Errorf("create pulse sink %s: %w", ch.GroupName(), err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		sink:   sink,
		out:    make(chan bus.Delivery, b.buffer),
		cancel: cancel,
	}
	go b.consume(runCtx, ch, sub)
	return sub, nil
}

// consume adapts sink events to deliveries. Acking is deferred to the
// handler: unacked events are redelivered by Pulse.
func (b *Bus) consume(ctx context.Context, ch bus.Channel, sub *subscription) {
	defer close(sub.out)
	events := sub.sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal(evt.Payload, &env); err != nil {
				b.log.Warn(ctx, "discard malformed bus message",
					"channel", ch.StreamName(), "err", err.Error())
				if ackErr := sub.sink.Ack(ctx, evt); ackErr != nil {
					b.log.Warn(ctx, "ack malformed bus message", "err", ackErr.Error())
				}
				continue
			}
			delivery := bus.Delivery{
				Payload: env.Msg,
				Ack: func(ackCtx context.Context) error {
					return sub.sink.Ack(ackCtx, evt)
				},
			}
			select {
			case sub.out <- delivery:
			case <-ctx.Done():
				return
			}
		}
	}
}

// C returns the delivery channel.
func (s *subscription) C() <-chan bus.Delivery { return s.out }

// Close stops consumption and closes the sink.
func (s *subscription) Close(ctx context.Context) {
	s.cancel()
	s.sink.Close(ctx)
}
