package bus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func dropSub(t *testing.T, b *MemoryBus, filter string, capacity int, policy Policy) Subscription {
	t.Helper()
	sub, err := b.Subscribe(SubscribeOptions{Filter: filter, Capacity: capacity, Policy: policy})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	return sub
}

// --- Unit Tests ---

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		want    Policy
		wantErr bool
	}{
		{"drop", DropNew, false},
		{"latest", DropOldest, false},
		{"block", Block, false},
		{"BLOCK", Block, false},
		{"error", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"", "sync.update", true},
		{"*", "anything", true},
		{"sync.update", "sync.update", true},
		{"sync.update", "sync.reset", false},
		{"sync.*", "sync.update", true},
		{"sync.*", "sync.reset", true},
		{"sync.*", "cog.intent", false},
		{"cog.*", "cog.intent.focus", true},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}

func TestSubscribeOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    SubscribeOptions
		wantErr bool
	}{
		{"valid drop", SubscribeOptions{Capacity: 10, Policy: DropNew}, false},
		{"valid latest", SubscribeOptions{Capacity: 1, Policy: DropOldest}, false},
		{"valid block", SubscribeOptions{Capacity: 5, Policy: Block, BlockTimeout: time.Second}, false},
		{"zero capacity", SubscribeOptions{Capacity: 0, Policy: DropNew}, true},
		{"negative capacity", SubscribeOptions{Capacity: -1, Policy: DropNew}, true},
		{"block without timeout", SubscribeOptions{Capacity: 5, Policy: Block}, true},
		{"unknown policy", SubscribeOptions{Capacity: 5, Policy: Policy(99)}, true},
	}

	for _, tt := range tests {
		err := tt.opts.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: error should wrap ErrInvalidConfig, got %v", tt.name, err)
		}
	}
}

// --- Integration Tests ---

func TestMemoryBus_PublishNoSubscribers(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	event, err := b.Publish("sync.update", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if event.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", event.Sequence)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
}

func TestMemoryBus_SequenceMonotonic(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	var last uint64
	for i := 0; i < 100; i++ {
		event, err := b.Publish("sync.update", nil)
		if err != nil {
			t.Fatalf("Publish error: %v", err)
		}
		if event.Sequence <= last {
			t.Fatalf("sequence %d not greater than %d", event.Sequence, last)
		}
		last = event.Sequence
	}
}

func TestMemoryBus_DeliveryInOrder(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	sub := dropSub(t, b, "sync.update", 100, DropNew)
	defer sub.Unsubscribe()

	for i := 0; i < 10; i++ {
		b.Publish("sync.update", map[string]any{"i": i})
	}

	for i := 0; i < 10; i++ {
		event, err := sub.Next(time.Second)
		if err != nil {
			t.Fatalf("Next error at %d: %v", i, err)
		}
		if got := event.Payload["i"].(int); got != i {
			t.Errorf("event %d out of order: got payload %d", i, got)
		}
	}
}

func TestMemoryBus_FilterIsolation(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	syncSub := dropSub(t, b, "sync.*", 100, DropNew)
	cogSub := dropSub(t, b, "cog.intent", 100, DropNew)
	allSub := dropSub(t, b, "*", 100, DropNew)
	defer syncSub.Unsubscribe()
	defer cogSub.Unsubscribe()
	defer allSub.Unsubscribe()

	b.Publish("sync.update", nil)
	b.Publish("sync.reset", nil)
	b.Publish("cog.intent", nil)

	count := func(sub Subscription) int {
		n := 0
		for {
			if _, err := sub.TryNext(); err != nil {
				return n
			}
			n++
		}
	}

	if got := count(syncSub); got != 2 {
		t.Errorf("sync.* received %d events, want 2", got)
	}
	if got := count(cogSub); got != 1 {
		t.Errorf("cog.intent received %d events, want 1", got)
	}
	if got := count(allSub); got != 3 {
		t.Errorf("* received %d events, want 3", got)
	}
}

func TestMemoryBus_DropNewRetainsFirst(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	const capacity = 5
	sub := dropSub(t, b, "t", capacity, DropNew)
	defer sub.Unsubscribe()

	for i := 0; i < capacity+3; i++ {
		b.Publish("t", map[string]any{"i": i})
	}

	// Retained events are exactly the first C published, in order.
	for i := 0; i < capacity; i++ {
		event, err := sub.TryNext()
		if err != nil {
			t.Fatalf("TryNext error at %d: %v", i, err)
		}
		if got := event.Payload["i"].(int); got != i {
			t.Errorf("slot %d: got payload %d, want %d", i, got, i)
		}
	}
	if _, err := sub.TryNext(); err != ErrEmpty {
		t.Errorf("queue should be empty, got %v", err)
	}
	if got := sub.Dropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestMemoryBus_DropOldestRetainsLast(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	const capacity = 5
	sub := dropSub(t, b, "t", capacity, DropOldest)
	defer sub.Unsubscribe()

	const total = capacity + 4
	for i := 0; i < total; i++ {
		b.Publish("t", map[string]any{"i": i})
	}

	// Retained events are exactly the last C published, in order.
	for i := total - capacity; i < total; i++ {
		event, err := sub.TryNext()
		if err != nil {
			t.Fatalf("TryNext error: %v", err)
		}
		if got := event.Payload["i"].(int); got != i {
			t.Errorf("got payload %d, want %d", got, i)
		}
	}
	if _, err := sub.TryNext(); err != ErrEmpty {
		t.Errorf("queue should be empty, got %v", err)
	}
}

func TestMemoryBus_QueueNeverExceedsCapacity(t *testing.T) {
	for _, policy := range []Policy{DropNew, DropOldest} {
		t.Run(policy.String(), func(t *testing.T) {
			b := NewMemoryBus("test")
			defer b.Close()

			const capacity = 3
			sub := dropSub(t, b, "t", capacity, policy)
			defer sub.Unsubscribe()

			for i := 0; i < 20; i++ {
				b.Publish("t", nil)
			}

			n := 0
			for {
				if _, err := sub.TryNext(); err != nil {
					break
				}
				n++
			}
			if n > capacity {
				t.Errorf("drained %d events, capacity %d", n, capacity)
			}
		})
	}
}

func TestMemoryBus_BlockPolicyKeepsPace(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	sub, err := b.Subscribe(SubscribeOptions{
		Filter:       "t",
		Capacity:     2,
		Policy:       Block,
		BlockTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	const total = 20
	received := make(chan uint64, total)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			event, err := sub.Next(2 * time.Second)
			if err != nil {
				t.Errorf("Next error: %v", err)
				return
			}
			received <- event.Sequence
		}
	}()

	for i := 0; i < total; i++ {
		if _, err := b.Publish("t", nil); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}
	wg.Wait()
	close(received)

	// No event is dropped while the consumer keeps pace.
	if got := sub.Dropped(); got != 0 {
		t.Errorf("dropped = %d, want 0", got)
	}
	var last uint64
	n := 0
	for seq := range received {
		if seq <= last {
			t.Errorf("sequence %d not increasing after %d", seq, last)
		}
		last = seq
		n++
	}
	if n != total {
		t.Errorf("received %d events, want %d", n, total)
	}
}

func TestMemoryBus_BlockPolicyTimeoutDrops(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	sub, err := b.Subscribe(SubscribeOptions{
		Filter:       "t",
		Capacity:     1,
		Policy:       Block,
		BlockTimeout: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	// Nobody is draining: the first publish fills the queue, the second
	// waits out the timeout and is dropped.
	b.Publish("t", map[string]any{"i": 0})
	start := time.Now()
	b.Publish("t", map[string]any{"i": 1})
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("publish returned after %v, expected to wait near the timeout", elapsed)
	}

	if got := sub.Dropped(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	event, err := sub.TryNext()
	if err != nil {
		t.Fatalf("TryNext error: %v", err)
	}
	if got := event.Payload["i"].(int); got != 0 {
		t.Errorf("retained payload %d, want 0", got)
	}
}

func TestMemoryBus_BlockedSubscriberDoesNotStallOthers(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	stalled, err := b.Subscribe(SubscribeOptions{
		Filter:       "t",
		Capacity:     1,
		Policy:       Block,
		BlockTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer stalled.Unsubscribe()
	healthy := dropSub(t, b, "t", 10, DropNew)
	defer healthy.Unsubscribe()

	b.Publish("t", nil) // fills the stalled queue
	b.Publish("t", nil) // waits on stalled, must still reach healthy

	for i := 0; i < 2; i++ {
		if _, err := healthy.TryNext(); err != nil {
			t.Fatalf("healthy subscriber missing event %d: %v", i, err)
		}
	}
}

// --- Failure Tests ---

func TestMemoryBus_SubscribeInvalidConfig(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	if _, err := b.Subscribe(SubscribeOptions{Capacity: 0, Policy: DropNew}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestMemoryBus_PublishInvalidTopic(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	for _, topic := range []string{"", ".sync", "sync."} {
		if _, err := b.Publish(topic, nil); err != ErrInvalidTopic {
			t.Errorf("Publish(%q): expected ErrInvalidTopic, got %v", topic, err)
		}
	}
}

func TestMemoryBus_NextTimeout(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	sub := dropSub(t, b, "t", 10, DropNew)
	defer sub.Unsubscribe()

	start := time.Now()
	_, err := sub.Next(50 * time.Millisecond)
	if err != ErrEmpty {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("Next returned before timeout")
	}
}

func TestMemoryBus_UnsubscribeWakesBlockedNext(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	sub := dropSub(t, b, "t", 10, DropNew)

	result := make(chan error, 1)
	go func() {
		_, err := sub.Next(5 * time.Second)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sub.Unsubscribe()

	select {
	case err := <-result:
		if err != ErrClosed {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("blocked Next not woken by Unsubscribe")
	}
}

func TestMemoryBus_CloseWakesBlockedNext(t *testing.T) {
	b := NewMemoryBus("test")

	sub := dropSub(t, b, "t", 10, DropNew)

	result := make(chan error, 1)
	go func() {
		_, err := sub.Next(5 * time.Second)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-result:
		if err != ErrClosed {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("blocked Next not woken by Close")
	}
}

func TestMemoryBus_DrainAfterClose(t *testing.T) {
	b := NewMemoryBus("test")

	sub := dropSub(t, b, "t", 10, DropNew)
	b.Publish("t", map[string]any{"i": 0})
	b.Publish("t", map[string]any{"i": 1})
	b.Close()

	// Buffered events drain first, then ErrClosed permanently.
	for i := 0; i < 2; i++ {
		if _, err := sub.Next(time.Second); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := sub.Next(10 * time.Millisecond); err != ErrClosed {
			t.Fatalf("after drain: expected ErrClosed, got %v", err)
		}
	}
}

func TestMemoryBus_PublishAfterClose(t *testing.T) {
	b := NewMemoryBus("test")
	b.Close()

	if _, err := b.Publish("t", nil); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	if _, err := b.Subscribe(SubscribeOptions{Capacity: 1, Policy: DropNew}); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

func TestMemoryBus_UnsubscribeIdempotent(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	sub := dropSub(t, b, "t", 10, DropNew)
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Unsubscribe(sub.ID())
	b.Unsubscribe("no-such-id")

	b.Publish("t", nil)
	if _, err := sub.TryNext(); err != ErrClosed {
		t.Errorf("expected ErrClosed after unsubscribe, got %v", err)
	}
}

func TestMemoryBus_Status(t *testing.T) {
	b := NewMemoryBus("qnf")
	defer b.Close()

	sub := dropSub(t, b, "t", 1, DropNew)
	defer sub.Unsubscribe()

	b.Publish("t", nil)
	b.Publish("t", nil) // dropped, queue full

	status := b.Status()
	if status.Name != "qnf" {
		t.Errorf("name = %q, want %q", status.Name, "qnf")
	}
	if status.Published != 2 {
		t.Errorf("published = %d, want 2", status.Published)
	}
	if status.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", status.Dropped)
	}
	if status.Subscribers != 1 {
		t.Errorf("subscribers = %d, want 1", status.Subscribers)
	}
}

// --- Concurrency Tests ---

func TestMemoryBus_ConcurrentPublishers(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	const publishers = 8
	const perPublisher = 50
	sub := dropSub(t, b, "*", publishers*perPublisher, DropNew)
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				b.Publish(fmt.Sprintf("topic.%d", p), nil)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for {
		event, err := sub.TryNext()
		if err != nil {
			break
		}
		if seen[event.Sequence] {
			t.Errorf("sequence %d delivered twice", event.Sequence)
		}
		seen[event.Sequence] = true
	}
	if len(seen) != publishers*perPublisher {
		t.Errorf("received %d events, want %d", len(seen), publishers*perPublisher)
	}
}

func TestMemoryBus_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	b := NewMemoryBus("test")
	defer b.Close()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				b.Publish("t", nil)
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub, err := b.Subscribe(SubscribeOptions{Filter: "t", Capacity: 4, Policy: DropOldest})
				if err != nil {
					t.Errorf("Subscribe error: %v", err)
					return
				}
				sub.TryNext()
				sub.Unsubscribe()
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestMemoryBus_SubscribeDuringClose(t *testing.T) {
	// Registrations racing a concurrent Close must either fail with
	// ErrBusClosed or come back already wired for teardown; a returned
	// subscription left open on a closed bus would strand its reader.
	for i := 0; i < 500; i++ {
		b := NewMemoryBus("test")

		start := make(chan struct{})
		subs := make(chan Subscription, 8)
		var wg sync.WaitGroup

		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				sub, err := b.Subscribe(SubscribeOptions{Filter: "t", Capacity: 4, Policy: DropNew})
				if err == nil {
					subs <- sub
				} else if !errors.Is(err, ErrBusClosed) {
					t.Errorf("Subscribe error: %v", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			b.Close()
		}()

		close(start)
		wg.Wait()
		close(subs)

		// Close has returned, so every surviving subscription must be
		// closed: Next wakes with ErrClosed instead of idling to its
		// timeout.
		for sub := range subs {
			if _, err := sub.Next(100 * time.Millisecond); !errors.Is(err, ErrClosed) {
				t.Fatalf("Next after Close = %v, want ErrClosed", err)
			}
		}
	}
}

// --- Performance Tests ---

func BenchmarkMemoryBus_Publish(b *testing.B) {
	mb := NewMemoryBus("bench")
	defer mb.Close()

	sub, _ := mb.Subscribe(SubscribeOptions{Filter: "bench", Capacity: 1024, Policy: DropOldest})
	go func() {
		for {
			if _, err := sub.Next(time.Second); err == ErrClosed {
				return
			}
		}
	}()

	payload := map[string]any{"k": "v"}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		mb.Publish("bench", payload)
	}
}
