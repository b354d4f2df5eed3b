package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tangle/internal/demo"
	"github.com/roach88/tangle/internal/engine"
	"github.com/roach88/tangle/internal/invocation"
	"github.com/roach88/tangle/internal/listener"
	"github.com/roach88/tangle/internal/testutil"
)

// DefaultStepTimeout bounds each submit step.
const DefaultStepTimeout = 5 * time.Second

// Harness runs one scenario against a fresh engine.
type Harness struct {
	engine    *engine.Engine
	world     *demo.World
	listeners map[string]*listener.Listener
	logger    *slog.Logger
	timeout   time.Duration
}

// Option configures a scenario run.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	timeout       time.Duration
	engineOptions []engine.Option
}

// WithLogger sets the logger for the harness and its engine.
// Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStepTimeout bounds each submit step. Defaults to DefaultStepTimeout.
func WithStepTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithEngineOptions passes extra options to the engine. The submission ID
// generator is always the scenario's deterministic one.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) {
		o.engineOptions = append(o.engineOptions, opts...)
	}
}

// Run executes a scenario and returns the result.
//
// Each run uses a fresh engine with the demo domain registered, and
// deterministic submission IDs and sequence numbers, so traces are
// reproducible.
//
// Execution flow:
//  1. Register the demo domain and the scenario listeners
//  2. Run steps in order, checking expectations
//  3. Evaluate assertions over the complete trace
//
// Failed expectations and assertions are reported in the Result. An error is
// returned only when the scenario cannot be executed.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logger:  testutil.DiscardLogger(),
		timeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	prefix := scenario.IDPrefix
	if prefix == "" {
		prefix = "sub"
	}
	engineOpts := append([]engine.Option{engine.WithLogger(o.logger)}, o.engineOptions...)
	engineOpts = append(engineOpts, engine.WithIDGenerator(engine.NewSequenceGenerator(prefix)))
	eng := engine.New(engineOpts...)

	if err := demo.Register(eng); err != nil {
		return nil, err
	}

	h := &Harness{
		engine:    eng,
		world:     demo.NewWorld(),
		listeners: make(map[string]*listener.Listener, len(scenario.Listeners)),
		logger:    o.logger.With("scenario", scenario.Name),
		timeout:   o.timeout,
	}
	for i, spec := range scenario.Listeners {
		if err := h.listen(spec); err != nil {
			return nil, fmt.Errorf("listener %d: %w", i, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(runCtx)
	}()
	defer func() {
		eng.Stop()
		cancel()
		<-done
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.executeStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.AddTrace(ev)
		if step.Expect != nil {
			for _, msg := range checkExpect(ev, step.Expect) {
				result.AddError(msg)
			}
		}
	}

	for _, l := range eng.Listeners() {
		result.Listeners = append(result.Listeners, l.Name())
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"steps", len(scenario.Steps),
		"pass", result.Pass,
		"errors", len(result.Errors),
	)
	return result, nil
}

// listen registers one scenario listener.
func (h *Harness) listen(spec ListenerSpec) error {
	target, err := demo.TypeOf(spec.On)
	if err != nil {
		return err
	}

	cfg := listener.Config{
		Name:     spec.Name,
		Target:   target,
		Priority: spec.Priority,
		Once:     spec.Once,
		Handler:  handlerFor(spec),
	}
	if spec.Owner != "" {
		cfg.Owner = spec.Owner
	}
	for _, s := range spec.To {
		ref, err := demo.ParseRef(s)
		if err != nil {
			return err
		}
		cfg.To = append(cfg.To, ref)
	}
	if spec.MatchText != "" {
		cfg.Filters = append(cfg.Filters, textFilter(spec.MatchText))
	}

	l, err := h.engine.Listen(cfg)
	if err != nil {
		return err
	}
	h.listeners[spec.Name] = l
	return nil
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step) (TraceEvent, error) {
	ev := TraceEvent{Step: index, Op: step.Op()}

	switch ev.Op {
	case OpSubmit:
		event, err := h.world.Build(*step.Submit)
		if err != nil {
			return ev, err
		}
		ev.Event = eventLabel(event, step.Submit.Kind)

		sctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		res, err := h.engine.Submit(sctx, event)
		recordOutcome(&ev, res, err)

		h.logger.Debug("step submitted",
			"step", index,
			"event", ev.Event,
			"state", ev.State,
		)

	case OpUnregister:
		ev.Target = step.Unregister
		ev.Removed = h.engine.Unlisten(h.listeners[step.Unregister])

	case OpUnregisterOwner:
		ev.Target = step.UnregisterOwner
		removed, err := h.engine.UnlistenOwner(step.UnregisterOwner)
		if err != nil {
			return ev, err
		}
		ev.Removed = removed

	default:
		return ev, fmt.Errorf("step has no operation")
	}
	return ev, nil
}

// recordOutcome copies a submission outcome into ev. Slices are sorted
// where the engine gives no order.
func recordOutcome(ev *TraceEvent, res *engine.Result, err error) {
	if res != nil {
		ev.SubmissionID = res.ID()
		ev.Seq = res.Seq()
		ev.State = res.State().String()
		for _, l := range res.Received() {
			ev.Received = append(ev.Received, l.Name())
		}
		if inv := res.Involved(); inv != nil {
			for _, obj := range inv.Items() {
				ev.Involved = append(ev.Involved, fmt.Sprint(obj))
			}
			slices.Sort(ev.Involved)
		}
		if data := res.Data(); data != nil {
			for _, k := range data.Keys() {
				ev.Data = append(ev.Data, k.Name)
			}
			slices.Sort(ev.Data)
		}
		if reason, ok := res.DiscardReason(); ok {
			ev.Reason = reason
		}
	}
	if err != nil {
		ev.Error = describeError(err)
		if ev.State == "" {
			ev.State = engine.StateFailed.String()
		}
	}
}

// describeError renders err without the parts that depend on timing, such as
// which listener was running when a child task failed.
func describeError(err error) string {
	var he *engine.HandlerError
	if errors.As(err, &he) {
		if he.Child != "" {
			return fmt.Sprintf("child task %q failed: %v", he.Child, he.Err)
		}
		return fmt.Sprintf("listener %q failed: %v", he.Listener, he.Err)
	}
	return err.Error()
}

func eventLabel(event any, kind string) string {
	if e, ok := event.(demo.Entity); ok {
		return e.Ref().String()
	}
	return kind
}

func handlerFor(spec ListenerSpec) listener.Handler {
	name := spec.Name
	return func(ctx context.Context, inv *invocation.Invocation) error {
		switch spec.Action {
		case "", ActionRecord:
			return record(inv, name)

		case ActionDiscard:
			if spec.Reason != "" {
				inv.DiscardBecause(spec.Reason)
			} else {
				inv.Discard()
			}
			return nil

		case ActionFail:
			return errors.New(reasonOr(spec.Reason, "listener failed"))

		case ActionPanic:
			panic(reasonOr(spec.Reason, "listener panicked"))

		case ActionSpawn:
			child := name + "/child"
			inv.Go(child, func(context.Context) error {
				return record(inv, child)
			})
			return record(inv, name)

		case ActionSpawnFail:
			inv.Go(name+"/child", func(context.Context) error {
				return errors.New(reasonOr(spec.Reason, "child failed"))
			})
			// Waiting for the failure keeps the outcome independent of
			// scheduling.
			return inv.Await(ctx, func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			})

		case ActionAwait:
			if err := inv.Await(ctx, func(ctx context.Context) error { return ctx.Err() }); err != nil {
				return err
			}
			return record(inv, name)

		default:
			return fmt.Errorf("unknown action %q", spec.Action)
		}
	}
}

// record stores the event label under the listener's name.
func record(inv *invocation.Invocation, name string) error {
	return inv.Data().PutNamed(name, eventLabel(inv.Event(), "event"))
}

// textFilter matches message text containing substr. Both sides are NFC
// normalized and case folded.
func textFilter(substr string) listener.Filter {
	want := foldText(substr)
	return func(inv *invocation.Invocation) (bool, error) {
		switch m := inv.Event().(type) {
		case *demo.Message:
			return strings.Contains(foldText(m.Text), want), nil
		case *demo.SystemMessage:
			return strings.Contains(foldText(m.Text), want), nil
		default:
			return false, nil
		}
	}
}

func foldText(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
