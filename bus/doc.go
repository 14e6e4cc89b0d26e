// Package bus provides the in-process event bus for tri-node state
// synchronization and cognition activity.
//
// # Overview
//
// The Bus interface fans published events out to every matching
// subscription independently. Each subscription owns a bounded FIFO
// queue with a configurable overflow policy, so a slow consumer can
// never stall producers or other consumers beyond its own policy.
//
// # Overflow Policies
//
//   - DropNew ("drop"): discard the incoming event when the queue is full
//   - DropOldest ("latest"): evict the oldest event, keep the newest N
//   - Block ("block"): the publisher waits up to BlockTimeout for space,
//     then the event is dropped for that subscription only
//
// # Patterns
//
// Pub/Sub - broadcast to all matching subscriptions:
//
//	b.Publish("sync.update", payload)
//	sub, _ := b.Subscribe(bus.SubscribeOptions{Filter: "sync.*", Capacity: 100, Policy: bus.DropOldest})
//	for {
//	    event, err := sub.Next(time.Second)
//	    if err == bus.ErrClosed {
//	        break
//	    }
//	    // Handle event
//	}
//
// Topic filters match an exact topic, a "prefix.*" wildcard, or "*"
// for all topics.
//
// # Ordering
//
// Every event carries a bus-wide monotonic sequence number assigned at
// publish time. Delivery within one subscription is FIFO; no ordering
// is guaranteed, or meaningful, across subscriptions.
package bus
