package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Bus supervises the dispatcher: the listener, the fallback poller, the stale
// sweeper, and N claim workers. A Bus is single-use: Start once, then
// Shutdown or Close.
type Bus struct {
	store  Store
	router *Router
	logger *slog.Logger

	workers          int
	pollInterval     time.Duration
	staleAfter       time.Duration
	staleRecovery    bool
	backoffBase      time.Duration
	backoffCap       time.Duration
	shutdownTimeout  time.Duration
	channel          string
	listenConnString string

	mu       sync.Mutex
	started  bool
	quit     chan struct{}
	quitOnce sync.Once
	cancel   context.CancelFunc

	wakeChs  []chan struct{}
	workerWg sync.WaitGroup
	auxWg    sync.WaitGroup

	processed atomic.Int64
}

// New creates a Bus over the given store and router.
func New(store Store, router *Router, opts ...Option) (*Bus, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if router == nil {
		return nil, ErrRouterNil
	}

	b := &Bus{
		store:           store,
		router:          router,
		logger:          slog.Default(),
		workers:         5,
		pollInterval:    time.Second,
		staleAfter:      5 * time.Minute,
		staleRecovery:   true,
		backoffBase:     2 * time.Second,
		backoffCap:      5 * time.Minute,
		shutdownTimeout: 30 * time.Second,
		channel:         DefaultChannel,
		quit:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Start ensures the target schema exists, freezes the router, and launches
// the listener, the poller, the stale sweeper, and the workers. A schema or
// permission failure refuses to start. The supplied context governs startup
// only; the running bus is stopped via Shutdown or Close.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}

	if ensurer, ok := b.store.(SchemaEnsurer); ok {
		if err := ensurer.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("start event bus: %w", err)
		}
	}

	b.router.freeze()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	b.wakeChs = make([]chan struct{}, b.workers)
	for i := range b.workers {
		wake := make(chan struct{}, 1)
		b.wakeChs[i] = wake

		w := &worker{
			id:          uuid.New().String(),
			store:       b.store,
			router:      b.router,
			wake:        wake,
			quit:        b.quit,
			backoffBase: b.backoffBase,
			backoffCap:  b.backoffCap,
			logger:      b.logger,
			processed:   &b.processed,
		}

		b.workerWg.Add(1)
		go func() {
			defer b.workerWg.Done()
			w.run(runCtx)
		}()
	}

	p := &poller{interval: b.pollInterval, wake: b.wakeAll}
	b.auxWg.Add(1)
	go func() {
		defer b.auxWg.Done()
		p.run(runCtx)
	}()

	if b.staleRecovery {
		b.auxWg.Add(1)
		go func() {
			defer b.auxWg.Done()
			b.runStaleSweep(runCtx)
		}()
	}

	if b.listenConnString != "" {
		l := &listener{
			connString: b.listenConnString,
			channel:    b.channel,
			wake:       b.wakeAll,
			logger:     b.logger,
		}
		b.auxWg.Add(1)
		go func() {
			defer b.auxWg.Done()
			l.run(runCtx)
		}()
	}

	b.started = true

	b.logger.Info("event bus started",
		slog.Int("workers", b.workers),
		slog.String("channel", b.channel),
		slog.Duration("poll_interval", b.pollInterval),
		slog.Bool("listener", b.listenConnString != ""))

	return nil
}

// Shutdown stops claiming and waits for in-flight events to finish, up to
// ctx's deadline. On timeout it returns ErrShutdownTimeout and abandons the
// remaining claims; their rows return via the stale sweep. The listener
// connection is closed last.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return ErrNotStarted
	}
	b.mu.Unlock()

	b.quitOnce.Do(func() { close(b.quit) })
	b.wakeAll()

	done := make(chan struct{})
	go func() {
		b.workerWg.Wait()
		close(done)
	}()

	var timedOut bool
	select {
	case <-done:
	case <-ctx.Done():
		timedOut = true
	}

	b.cancel()
	b.auxWg.Wait()

	if timedOut {
		b.logger.Warn("shutdown timed out, abandoning in-flight events to stale recovery")
		return ErrShutdownTimeout
	}

	b.logger.Info("event bus stopped", slog.Int64("processed", b.processed.Load()))

	return nil
}

// Close stops the bus without waiting for in-flight events. Cancellation is
// cooperative: handlers observe it through their context, and any row still
// running when they exit is reclaimed by stale recovery.
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return ErrNotStarted
	}
	b.mu.Unlock()

	b.quitOnce.Do(func() { close(b.quit) })
	b.cancel()
	b.workerWg.Wait()
	b.auxWg.Wait()

	b.logger.Info("event bus closed", slog.Int64("processed", b.processed.Load()))

	return nil
}

// Run starts the bus and returns a function suitable for errgroup: it blocks
// until ctx is cancelled, then shuts down gracefully within the configured
// shutdown timeout.
func (b *Bus) Run(ctx context.Context) func() error {
	return func() error {
		if err := b.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.shutdownTimeout)
		defer cancel()

		if err := b.Shutdown(shutdownCtx); err != nil && !errors.Is(err, ErrShutdownTimeout) {
			return err
		}
		return nil
	}
}

// WorkerCount returns the configured pool size.
func (b *Bus) WorkerCount() int {
	return b.workers
}

// Processed returns how many events this bus has dispatched since Start.
func (b *Bus) Processed() int64 {
	return b.processed.Load()
}

// Wake nudges every worker to attempt a claim. Producers sharing the process
// with the bus (e.g. over MemoryStorage, which has no notify channel) can
// call it after publishing instead of waiting for the next poll tick.
func (b *Bus) Wake() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()

	if started {
		b.wakeAll()
	}
}

// wakeAll delivers one coalesced wake to every worker. Sends never block: a
// worker that already has a pending wake absorbs the signal.
func (b *Bus) wakeAll() {
	for _, ch := range b.wakeChs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// runStaleSweep periodically reclaims rows whose worker died mid-dispatch.
func (b *Bus) runStaleSweep(ctx context.Context) {
	interval := b.staleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.store.RecoverStale(ctx, b.staleAfter)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Error("stale event recovery failed", slog.String("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				b.logger.Warn("reclaimed stale events", slog.Int64("count", n))
				b.wakeAll()
			}
		}
	}
}
