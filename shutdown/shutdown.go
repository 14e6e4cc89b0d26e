// Package shutdown coordinates ordered teardown of the daemon's
// layers: the gateway stops accepting clients first, then the sync
// core closes, then telemetry flushes.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sentinelprime/synckit/logging"
)

// Teardown phases, lowest first. Hooks in the same phase run
// concurrently.
const (
	PhaseGateway   = 10
	PhaseCore      = 20
	PhaseTelemetry = 30
)

var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrHookFailed indicates one or more hooks returned an error.
	ErrHookFailed = errors.New("one or more shutdown hooks failed")
)

// Hook releases one component's resources. The context carries the
// overall deadline.
type Hook func(ctx context.Context) error

type registration struct {
	name  string
	phase int
	fn    Hook
}

// Coordinator runs registered hooks phase by phase on shutdown.
type Coordinator struct {
	timeout time.Duration
	log     *logging.Logger

	mu    sync.Mutex
	hooks []registration

	once  sync.Once
	done  chan struct{}
	err   error
	sigCh chan os.Signal
}

// New creates a coordinator. Timeout bounds the whole teardown.
func New(timeout time.Duration, log *logging.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logging.New()
	}
	return &Coordinator{
		timeout: timeout,
		log:     log.WithComponent("shutdown"),
		done:    make(chan struct{}),
		sigCh:   make(chan os.Signal, 1),
	}
}

// Register adds a hook to the given phase.
func (c *Coordinator) Register(name string, phase int, fn Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, registration{name: name, phase: phase, fn: fn})
}

// HandleSignals arranges for SIGINT/SIGTERM to trigger shutdown.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c.sigCh
		c.log.Info("signal received, shutting down")
		c.Shutdown(context.Background())
	}()
}

// Trigger initiates shutdown as if a signal had arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.sigCh <- syscall.SIGTERM:
	default:
	}
}

// Done is closed once teardown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err reports the teardown outcome. Valid after Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Shutdown runs all hooks in phase order under the configured
// timeout. Later calls return ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		c.err = c.run(ctx)
		close(c.done)
	})
	if first {
		return c.err
	}
	select {
	case <-c.done:
		return c.err
	default:
		return ErrAlreadyShutdown
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	hooks := make([]registration, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].phase < hooks[j].phase })

	var failed bool
	for start := 0; start < len(hooks); {
		end := start
		for end < len(hooks) && hooks[end].phase == hooks[start].phase {
			end++
		}
		if c.runPhase(ctx, hooks[start:end]) {
			failed = true
		}
		start = end

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if failed {
		return ErrHookFailed
	}
	return nil
}

// runPhase executes one phase's hooks concurrently and reports
// whether any failed.
func (c *Coordinator) runPhase(ctx context.Context, hooks []registration) bool {
	var (
		wg        sync.WaitGroup
		failed    sync.Once
		anyFailed bool
	)
	for _, h := range hooks {
		wg.Add(1)
		go func(h registration) {
			defer wg.Done()
			start := time.Now()
			if err := h.fn(ctx); err != nil {
				failed.Do(func() { anyFailed = true })
				c.log.Error("hook failed", map[string]any{
					"hook":  h.name,
					"error": err.Error(),
				})
				return
			}
			c.log.Debug("hook complete", map[string]any{
				"hook":     h.name,
				"duration": time.Since(start).String(),
			})
		}(h)
	}
	wg.Wait()
	return anyFailed
}
