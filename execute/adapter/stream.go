// Package adapter implements the dataflow runtime: restartable multi-consumer
// streams, the adapter contract executing one graph node, operator shapes,
// and the cache read/write paths.
package adapter

import (
	"context"
	"errors"
	"sync"
)

// ErrEnd is the terminal tag of a stream. Consumers match on it explicitly;
// it is not a failure.
var ErrEnd = errors.New("stream exhausted")

type (
	// Producer drives a stream: it calls emit for each value and returns nil
	// on normal termination. A returned error poisons the stream.
	Producer func(ctx context.Context, emit func(any) error) error

	// Filter accepts or rejects a produced value before publication.
	Filter func(ctx context.Context, v any) (bool, error)

	// slot is one settled position of the stream: a value, an error, or the
	// terminal marker.
	slot struct {
		value any
		err   error
		end   bool
	}

	// Stream is a restartable, multi-consumer lazy sequence. Every consumer
	// observes the same values in the same order. A producer error or the
	// terminal marker settles the trailing position permanently.
	Stream struct {
		producer Producer
		filters  []Filter
		tap      func(ctx context.Context, v any) error

		mu         sync.Mutex
		slots      []slot
		grown      chan struct{}
		started    bool
		terminated bool
		cancel     context.CancelFunc
		done       chan struct{}
	}

	// Iterator is one consumer's cursor over a stream.
	Iterator struct {
		stream *Stream
		cursor int
	}

	// StreamOption customizes stream construction.
	StreamOption func(*Stream)
)

// WithFilters registers value filters, evaluated in order in the producer.
func WithFilters(filters ...Filter) StreamOption {
	return func(s *Stream) { s.filters = append(s.filters, filters...) }
}

// WithTap registers a callback invoked for every published value, after
// filtering. A tap error poisons the stream.
func WithTap(tap func(ctx context.Context, v any) error) StreamOption {
	return func(s *Stream) { s.tap = tap }
}

// NewStream constructs an unstarted stream over a producer.
func NewStream(producer Producer, opts ...StreamOption) *Stream {
	s := &Stream{
		producer: producer,
		grown:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromValues constructs an already-terminated stream over materialized
// values, as used by the cache read path.
func FromValues(values []any) *Stream {
	slots := make([]slot, 0, len(values)+1)
	for _, v := range values {
		slots = append(slots, slot{value: v})
	}
	slots = append(slots, slot{end: true})
	s := &Stream{
		slots:      slots,
		grown:      make(chan struct{}),
		done:       make(chan struct{}),
		started:    true,
		terminated: true,
	}
	close(s.done)
	return s
}

// Start launches the producer. It is idempotent; only the first call spawns
// the producer task.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	prodCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		err := s.producer(prodCtx, func(v any) error {
			return s.publish(prodCtx, v)
		})
		if err != nil {
			s.settle(slot{err: err})
			return
		}
		s.settle(slot{end: true})
	}()
}

// publish runs filters and the tap, then appends the value.
func (s *Stream) publish(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, filter := range s.filters {
		ok, err := filter(ctx, v)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	if s.tap != nil {
		if err := s.tap(ctx, v); err != nil {
			return err
		}
	}
	s.append(slot{value: v})
	return nil
}

// append adds a slot and wakes waiting consumers.
func (s *Stream) append(sl slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.slots = append(s.slots, sl)
	if sl.end || sl.err != nil {
		s.terminated = true
	}
	close(s.grown)
	s.grown = make(chan struct{})
}

// settle appends a terminal slot exactly once.
func (s *Stream) settle(sl slot) {
	s.append(sl)
}

// Cancel stops the producer and poisons the tail for any consumer not yet
// past it.
func (s *Stream) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.settle(slot{err: context.Canceled})
}

// Done is closed when the producer task has finished.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Iterator returns a fresh consumer cursor starting at the first value.
func (s *Stream) Iterator() *Iterator {
	return &Iterator{stream: s}
}

// Next returns the next value. It blocks until the value is available, the
// stream terminates (ErrEnd), the stream is poisoned (the producer error),
// or ctx is done. Terminal positions are sticky: repeated calls keep
// returning the same outcome.
func (it *Iterator) Next(ctx context.Context) (any, error) {
	s := it.stream
	for {
		s.mu.Lock()
		if it.cursor < len(s.slots) {
			sl := s.slots[it.cursor]
			if sl.end {
				s.mu.Unlock()
				return nil, ErrEnd
			}
			if sl.err != nil {
				s.mu.Unlock()
				return nil, sl.err
			}
			it.cursor++
			s.mu.Unlock()
			return sl.value, nil
		}
		wait := s.grown
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Collect drains a fresh iterator into a slice. It returns the values
// observed before the terminal, and the producer error if the stream was
// poisoned.
func (s *Stream) Collect(ctx context.Context) ([]any, error) {
	it := s.Iterator()
	var values []any
	for {
		v, err := it.Next(ctx)
		if errors.Is(err, ErrEnd) {
			return values, nil
		}
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
}
