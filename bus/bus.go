// Package bus provides the in-process event bus that fans state-change
// events out to independent subscribers with per-subscription backpressure.
//
// Every published event carries a globally monotonic sequence number. Each
// subscription owns a bounded FIFO queue and an overflow policy; one slow
// subscriber never affects delivery to the others. Consumption is pull-based
// for Go-idiomatic concurrent use.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors.
var (
	ErrClosed        = errors.New("subscription closed")
	ErrBusClosed     = errors.New("bus closed")
	ErrEmpty         = errors.New("no event available")
	ErrInvalidTopic  = errors.New("invalid topic")
	ErrInvalidConfig = errors.New("invalid subscription config")
)

// Event is an immutable unit of data flowing through the bus.
// Sequence and Timestamp are assigned by the bus at publish time.
type Event struct {
	// Topic is the hierarchical, dot-separated identifier the event was
	// published under (e.g. "sync.update", "cog.intent").
	Topic string `json:"topic"`

	// Payload is producer-defined structured data. The bus never
	// inspects it.
	Payload map[string]any `json:"payload"`

	// Sequence is a strictly increasing 64-bit counter, global across
	// all topics. Never reused.
	Sequence uint64 `json:"sequence"`

	// Timestamp is the publish instant.
	Timestamp time.Time `json:"timestamp"`
}

// Policy selects the overflow behavior applied when a subscription's
// queue is full at enqueue time.
type Policy int

const (
	// DropNew discards the incoming event; the queue is unchanged.
	DropNew Policy = iota

	// DropOldest evicts the oldest queued event and appends the incoming
	// one, so the consumer always sees the most recent N events.
	DropOldest

	// Block makes the publisher wait up to the subscription's
	// BlockTimeout for space; on timeout the event is dropped for that
	// subscription only.
	Block
)

// String returns the policy's external configuration name.
func (p Policy) String() string {
	switch p {
	case DropNew:
		return "drop"
	case DropOldest:
		return "latest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParsePolicy maps an external configuration value to a Policy.
// Recognized values: "drop", "latest", "block".
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "drop":
		return DropNew, nil
	case "latest":
		return DropOldest, nil
	case "block":
		return Block, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, name)
	}
}

// MatchTopic reports whether a topic matches a filter. A filter is an
// exact topic, a "prefix.*" wildcard, or "*" for all topics. The empty
// filter matches everything.
func MatchTopic(filter, topic string) bool {
	if filter == "" || filter == "*" {
		return true
	}
	if strings.HasSuffix(filter, ".*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(filter, "*"))
	}
	return filter == topic
}

// ValidateTopic checks if a topic is valid for publishing.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.HasPrefix(topic, ".") || strings.HasSuffix(topic, ".") {
		return ErrInvalidTopic
	}
	return nil
}

// SubscribeOptions configure a new subscription.
type SubscribeOptions struct {
	// Filter selects which topics are delivered. See MatchTopic.
	Filter string

	// Capacity bounds the number of buffered, undelivered events.
	// Must be positive.
	Capacity int

	// Policy is the overflow behavior on a full queue.
	Policy Policy

	// BlockTimeout is how long a publisher waits for space under the
	// Block policy. Required (> 0) when Policy is Block, ignored
	// otherwise. Indefinite blocking is deliberately unsupported.
	BlockTimeout time.Duration
}

// Validate rejects configurations the bus will not coerce.
func (o SubscribeOptions) Validate() error {
	if o.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, o.Capacity)
	}
	switch o.Policy {
	case DropNew, DropOldest:
	case Block:
		if o.BlockTimeout <= 0 {
			return fmt.Errorf("%w: block policy requires a positive BlockTimeout", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown policy %d", ErrInvalidConfig, o.Policy)
	}
	return nil
}

// Bus is the event broker: a registry of subscriptions plus fan-out.
type Bus interface {
	// Publish assigns sequence and timestamp, then enqueues the event
	// into every open subscription whose filter matches, applying each
	// subscription's policy independently. Zero deliveries is valid.
	Publish(topic string, payload map[string]any) (*Event, error)

	// Subscribe registers a subscription ready to receive immediately.
	Subscribe(opts SubscribeOptions) (Subscription, error)

	// Unsubscribe closes the subscription with the given id, releasing
	// its queue and waking blocked waiters. Unknown ids are a no-op.
	Unsubscribe(id string)

	// Status returns delivery counters and the live subscriber count.
	Status() Status

	// Close shuts down the bus, closing every subscription.
	// Subsequent publishes fail with ErrBusClosed. Idempotent.
	Close() error
}

// Subscription is a bounded per-subscriber queue with exactly one
// logical reader. Enforcing single-reader use is the caller's job.
type Subscription interface {
	// ID returns the unique subscription handle.
	ID() string

	// Next returns the next buffered event, waiting up to timeout for
	// one to arrive. Returns ErrEmpty on timeout. After the
	// subscription is closed, remaining buffered events drain first,
	// then Next returns ErrClosed permanently. A concurrent close
	// wakes a blocked Next promptly.
	Next(timeout time.Duration) (*Event, error)

	// TryNext returns a buffered event without waiting, ErrEmpty if
	// the queue is empty, or ErrClosed once closed and drained.
	TryNext() (*Event, error)

	// Unsubscribe closes the subscription. Idempotent.
	Unsubscribe() error

	// Dropped returns how many events were discarded for this
	// subscription under its overflow policy.
	Dropped() uint64
}

// Status reports bus-level counters. Dropped events are informational,
// never an error.
type Status struct {
	Name        string `json:"name"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}
