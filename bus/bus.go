// Package bus defines the at-least-once FIFO channel abstraction the DFM
// services coordinate over. A channel is identified by (sender, receiver,
// topic); consumer groups ensure each message is handled by exactly one
// consumer per group, and messages are acknowledged after the handler
// completes.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Channel identifies one pubsub channel.
	Channel struct {
		Source string
		Target string
		Topic  string
	}

	// Delivery is one claimed message. Ack must be called after the handler
	// completes; unacknowledged messages are redelivered by the backend.
	Delivery struct {
		Payload []byte
		Ack     func(ctx context.Context) error
	}

	// Subscription is a consumer-group membership on one channel.
	Subscription interface {
		// C returns the delivery channel. It is closed when the
		// subscription closes.
		C() <-chan Delivery
		// Close stops consumption and releases backend resources.
		Close(ctx context.Context)
	}

	// Bus publishes and consumes channel messages.
	Bus interface {
		Publish(ctx context.Context, ch Channel, payload []byte) error
		Subscribe(ctx context.Context, ch Channel) (Subscription, error)
	}
)

// The well-known coordination channels.
var (
	ExecuteChannel   = Channel{Source: "ANY", Target: "EXECUTE", Topic: "req"}
	SchedulerChannel = Channel{Source: "ANY", Target: "SCHEDULER", Topic: "req"}
	UplinkChannel    = Channel{Source: "ANY", Target: "UPLINK", Topic: "req"}
)

// StreamName returns the backing stream name.
func (c Channel) StreamName() string {
	return fmt.Sprintf("%s.%s.%s.stream", c.Source, c.Target, c.Topic)
}

// GroupName returns the consumer group name.
func (c Channel) GroupName() string {
	return fmt.Sprintf("%s.%s.%s.group", c.Source, c.Target, c.Topic)
}

// PublishJSON marshals v and publishes it on ch.
func PublishJSON(ctx context.Context, b Bus, ch Channel, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", ch.StreamName(), err)
	}
	return b.Publish(ctx, ch, payload)
}
