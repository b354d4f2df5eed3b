package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/roach88/tangle/internal/listener"
	"github.com/roach88/tangle/internal/resolve"
	"github.com/roach88/tangle/internal/safe"
	"github.com/roach88/tangle/internal/typeindex"
)

// Engine is the dispatch engine.
//
// Submissions are queued in FIFO order and started one at a time by the Run
// loop. Each runs resolution, selection and listener invocation while holding
// the executor token (see executor.go).
//
// Thread-safety model:
//   - Submit, SubmitAsync and the registration methods: safe from any
//     goroutine, including handlers
//   - Run: must be called from exactly one goroutine
type Engine struct {
	index    *typeindex.Index
	resolver *resolve.Resolver
	registry *listener.Registry
	clock    *Clock
	ids      IDGenerator
	logger   *slog.Logger

	queue    *submissionQueue
	token    chan struct{}
	inflight sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}

	listenerSeq atomic.Int64

	maxExpansions int
	queueHint     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIDGenerator sets the submission ID generator. Defaults to UUIDv7.
func WithIDGenerator(gen IDGenerator) Option {
	return func(e *Engine) {
		if gen != nil {
			e.ids = gen
		}
	}
}

// WithMaxExpansions bounds involvement resolution per submission.
//
// Default: resolve.DefaultMaxExpansions. Zero disables the bound.
func WithMaxExpansions(n int) Option {
	return func(e *Engine) {
		e.maxExpansions = n
	}
}

// WithQueueHint preallocates room for n queued submissions.
func WithQueueHint(n int) Option {
	return func(e *Engine) {
		e.queueHint = n
	}
}

// WithClock sets the logical clock stamping submissions.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// New creates an Engine. Call Run to start processing submissions.
func New(opts ...Option) *Engine {
	e := &Engine{
		index:         typeindex.New(),
		clock:         NewClock(),
		ids:           UUIDv7Generator{},
		logger:        slog.Default(),
		token:         make(chan struct{}, 1),
		stopped:       make(chan struct{}),
		maxExpansions: resolve.DefaultMaxExpansions,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.queue = newSubmissionQueue(e.queueHint)
	e.resolver = resolve.New(e.index,
		resolve.WithMaxExpansions(e.maxExpansions),
		resolve.WithLogger(e.logger),
	)
	e.registry = listener.NewRegistry(
		listener.WithLogger(e.logger),
		listener.WithReservedOwner(e),
	)
	return e
}

// Index returns the type index holding mappers, identities and parents.
func (e *Engine) Index() *typeindex.Index {
	return e.index
}

// RegisterMapper adds a mapper for values of type t (and of types that have
// t as an ancestor).
func (e *Engine) RegisterMapper(t reflect.Type, fn typeindex.MapperFunc) error {
	if t == nil || fn == nil {
		return fmt.Errorf("register mapper: %w", typeindex.ErrInvalidRegistration)
	}
	e.index.RegisterMapper(t, fn)
	return nil
}

// RegisterIdentity sets the identity function of the exact type t.
func (e *Engine) RegisterIdentity(t reflect.Type, fn typeindex.IdentityFunc) error {
	return e.index.RegisterIdentity(t, fn)
}

// DeclareParent makes child values usable wherever parent values are
// expected, converting them with upcast.
func (e *Engine) DeclareParent(child, parent reflect.Type, upcast typeindex.UpcastFunc) error {
	return e.index.DeclareParent(child, parent, upcast)
}

// Listen registers a listener built from cfg.
func (e *Engine) Listen(cfg listener.Config) (*listener.Listener, error) {
	to, err := e.canonicalTo(cfg)
	if err != nil {
		return nil, err
	}
	cfg.To = to

	id := fmt.Sprintf("listener-%d", e.listenerSeq.Add(1))
	l, err := listener.New(cfg, id)
	if err != nil {
		return nil, err
	}
	e.registry.Register(l)

	e.logger.Debug("listener registered",
		"listener", l.Name(),
		"target", l.Target().String(),
		"priority", l.Priority(),
		"once", l.Once(),
	)
	return l, nil
}

// canonicalTo replaces each To object by its identity key, so it compares
// equal to the keys in involvement sets.
func (e *Engine) canonicalTo(cfg listener.Config) ([]any, error) {
	if len(cfg.To) == 0 {
		return nil, nil
	}
	to := make([]any, len(cfg.To))
	for i, obj := range cfg.To {
		to[i] = obj
		err := safe.Call(func() error {
			if key, ok := e.index.ResolveIdentity(obj); ok {
				to[i] = key
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listener %q: identity of to[%d] (%T): %w", cfg.Name, i, obj, err)
		}
	}
	return to, nil
}

// Unlisten removes l. Returns false if it was not registered.
func (e *Engine) Unlisten(l *listener.Listener) bool {
	return e.registry.Unregister(l)
}

// UnlistenOwner removes every listener registered with owner.
func (e *Engine) UnlistenOwner(owner any) (bool, error) {
	return e.registry.UnregisterByOwner(owner)
}

// Listeners returns the registered listeners in delivery order.
func (e *Engine) Listeners() []*listener.Listener {
	return e.registry.Listeners()
}

// Submit dispatches event and waits for the outcome.
//
// Called from a handler with the handler's context, the nested submission
// runs inline, before Submit returns, and the outer handler resumes after
// it. Otherwise the submission is queued behind earlier ones.
//
// On failure the returned Result, when non-nil, describes how far dispatch
// got.
func (e *Engine) Submit(ctx context.Context, event any) (*Result, error) {
	if e.holding(ctx) != nil {
		return e.dispatch(ctx, event)
	}
	return e.SubmitAsync(ctx, event).Wait(ctx)
}

// SubmitAsync queues event and returns immediately.
//
// ctx is handed to the handlers; a submission whose ctx is done before it
// starts fails with the context error without being processed. Called from
// a handler or child task, the queued submission keeps ctx's values but not
// its cancellation, which ends when the calling submission finishes.
func (e *Engine) SubmitAsync(ctx context.Context, event any) *Pending {
	if e.dispatching(ctx) {
		ctx = context.WithoutCancel(withoutLease(ctx))
	}
	p := newPending()
	if !e.queue.Enqueue(&submission{ctx: ctx, event: event, pending: p}) {
		p.finish(nil, ErrStopped)
	}
	return p
}

// QueueLen returns the number of submissions waiting to start.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run starts submissions in FIFO order until ctx is cancelled or Stop is
// called. Submissions still queued at that point fail with ErrStopped; Run
// waits for the ones already started before returning.
//
// Must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")
	defer e.inflight.Wait()

	for {
		sub, ok := e.queue.TryDequeue()
		if ok {
			if !e.start(ctx, sub) {
				sub.pending.finish(nil, ErrStopped)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.shutdown()
			return ctx.Err()

		case <-e.stopped:
			e.logger.Info("engine stopping: stopped")
			e.shutdown()
			return nil

		case <-e.queue.Wait():
			// Loop back to TryDequeue; Stop also closes stopped.
		}
	}
}

// Stop closes the queue. Run returns once in-flight submissions finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.queue.Close()
		close(e.stopped)
	})
}

// start hands the token to sub. Returns false if the engine stopped while
// waiting for it.
func (e *Engine) start(ctx context.Context, sub *submission) bool {
	if err := sub.ctx.Err(); err != nil {
		sub.pending.finish(nil, fmt.Errorf("submission cancelled before start: %w", err))
		return true
	}

	if !e.acquire(ctx) {
		return false
	}

	e.inflight.Add(1)
	go e.serve(sub)
	return true
}

// serve runs one submission on the token Run acquired for it.
func (e *Engine) serve(sub *submission) {
	defer e.inflight.Done()

	l := &lease{engine: e}
	l.held.Store(true)

	res, err := e.dispatch(withLease(sub.ctx, l), sub.event)

	if l.held.CompareAndSwap(true, false) {
		e.release()
	}
	sub.pending.finish(res, err)
}

func (e *Engine) shutdown() {
	e.Stop()
	for _, sub := range e.queue.Drain() {
		sub.pending.finish(nil, ErrStopped)
	}
}
