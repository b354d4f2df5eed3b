package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tangle/internal/invocation"
	"github.com/roach88/tangle/internal/listener"
	"github.com/roach88/tangle/internal/resolve"
	"github.com/roach88/tangle/internal/safe"
	"github.com/roach88/tangle/internal/testutil"
	"github.com/roach88/tangle/internal/typeindex"
)

type (
	user    struct{ ID string }
	guild   struct{ ID string }
	channel struct {
		ID    string
		Guild guild
	}
	message struct {
		ID      string
		Author  user
		Channel channel
	}
	systemMessage struct{ message }

	ping      struct{ N int }
	slowEvent struct{}
	fastEvent struct{}
	outer     struct{}
	inner     struct{}

	pluginOwner struct{ name string }
)

func sampleMessage() message {
	return message{
		ID:      "m1",
		Author:  user{ID: "u1"},
		Channel: channel{ID: "c1", Guild: guild{ID: "g1"}},
	}
}

// startEngine runs an engine for the duration of the test.
func startEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(testutil.DiscardLogger()),
		WithIDGenerator(NewSequenceGenerator("sub")),
	}
	e := New(append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		e.Stop()
		cancel()
		<-done
	})
	return e
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func record(rec *testutil.Recorder, label string) listener.Handler {
	return func(context.Context, *invocation.Invocation) error {
		rec.Record(label)
		return nil
	}
}

func listen[T any](t *testing.T, e *Engine, cfg listener.Config) *listener.Listener {
	t.Helper()
	cfg.Target = typeindex.Of[T]()
	l, err := e.Listen(cfg)
	require.NoError(t, err)
	return l
}

func receivedNames(res *Result) []string {
	var out []string
	for _, l := range res.Received() {
		out = append(out, l.Name())
	}
	return out
}

func TestEngine_PriorityOrder(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	for _, p := range []struct {
		name     string
		priority int
	}{{"c", 0}, {"a", 100}, {"e", -100}, {"b", 10}, {"d", -10}} {
		listen[message](t, e, listener.Config{Name: p.name, Priority: p.priority, Handler: record(rec, p.name)})
	}

	res, err := e.Submit(testContext(t), sampleMessage())

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, rec.Events())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, receivedNames(res))
	assert.Equal(t, StateCompleted, res.State())
	assert.Equal(t, "sub-1", res.ID())
	assert.Equal(t, int64(1), res.Seq())
	assert.Equal(t, sampleMessage(), res.Event())
	assert.False(t, res.Discarded())
	assert.NoError(t, res.Err())
}

func TestEngine_SubtypeDelivery(t *testing.T) {
	e := startEngine(t)
	require.NoError(t, Inherit(e, func(s systemMessage) message { return s.message }))

	var got []string
	_, err := On(e, listener.Config{Name: "messages"}, func(ctx context.Context, m message, inv *invocation.Invocation) error {
		got = append(got, m.ID)
		return nil
	})
	require.NoError(t, err)
	_, err = On(e, listener.Config{Name: "system only"}, func(ctx context.Context, s systemMessage, inv *invocation.Invocation) error {
		got = append(got, "system:"+s.ID)
		return nil
	})
	require.NoError(t, err)

	ctx := testContext(t)
	_, err = e.Submit(ctx, systemMessage{message: message{ID: "s1"}})
	require.NoError(t, err)
	_, err = e.Submit(ctx, message{ID: "m2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "system:s1", "m2"}, got)
}

func TestEngine_Discard(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	listen[message](t, e, listener.Config{Name: "high", Priority: 100, Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		rec.Record("high")
		inv.DiscardBecause("spam")
		return nil
	}})
	listen[message](t, e, listener.Config{Name: "low", Priority: 10, Handler: record(rec, "low")})

	res, err := e.Submit(testContext(t), sampleMessage())

	require.NoError(t, err, "discard is not an error")
	assert.True(t, res.Discarded())
	assert.Equal(t, StateDiscarded, res.State())
	assert.Equal(t, []string{"high"}, receivedNames(res))
	assert.Equal(t, []string{"high"}, rec.Events())
	reason, ok := res.DiscardReason()
	assert.True(t, ok)
	assert.Equal(t, "spam", reason)
}

func TestEngine_DiscardWithoutReason(t *testing.T) {
	e := startEngine(t)
	listen[message](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		inv.Discard()
		return nil
	}})

	res, err := e.Submit(testContext(t), sampleMessage())

	require.NoError(t, err)
	assert.True(t, res.Discarded())
	_, ok := res.DiscardReason()
	assert.False(t, ok)
}

func TestEngine_ErrorPropagationThenReuse(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	boom := errors.New("boom")
	listen[message](t, e, listener.Config{Name: "failing", Priority: 50, Handler: func(context.Context, *invocation.Invocation) error {
		rec.Record("failing")
		return boom
	}})
	listen[message](t, e, listener.Config{Name: "after", Priority: 10, Handler: record(rec, "after")})
	listen[ping](t, e, listener.Config{Name: "pong", Handler: record(rec, "pong")})
	ctx := testContext(t)

	res, err := e.Submit(ctx, sampleMessage())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrHandler)
	assert.True(t, IsHandlerError(err))
	assert.False(t, IsChildError(err))
	var he *HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "failing", he.Listener)
	assert.Equal(t, "sub-1", he.SubmissionID)
	require.NotNil(t, res)
	assert.Equal(t, StateFailed, res.State())
	assert.Equal(t, err, res.Err())
	assert.Equal(t, []string{"failing"}, receivedNames(res))

	res, err = e.Submit(ctx, ping{N: 1})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State())
	assert.Equal(t, []string{"failing", "pong"}, rec.Events())
	assert.Len(t, e.Listeners(), 3, "failures leave the registry alone")
}

func TestEngine_HandlerPanic(t *testing.T) {
	e := startEngine(t)
	listen[ping](t, e, listener.Config{Name: "panicky", Handler: func(context.Context, *invocation.Invocation) error {
		panic("handler exploded")
	}})

	_, err := e.Submit(testContext(t), ping{})

	assert.ErrorIs(t, err, ErrHandler)
	assert.ErrorIs(t, err, safe.ErrPanic)
}

func TestEngine_Once(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	once := listen[ping](t, e, listener.Config{Name: "once", Once: true, Handler: record(rec, "once")})
	listen[ping](t, e, listener.Config{Name: "always", Handler: record(rec, "always")})
	ctx := testContext(t)

	first, err := e.Submit(ctx, ping{N: 1})
	require.NoError(t, err)
	second, err := e.Submit(ctx, ping{N: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"once", "always"}, receivedNames(first))
	assert.Equal(t, []string{"always"}, receivedNames(second))
	assert.Equal(t, []string{"once", "always", "always"}, rec.Events())
	assert.Len(t, e.Listeners(), 1)
	assert.False(t, e.Unlisten(once), "a fired once listener is already unregistered")
}

func TestEngine_OnceWithReentrantSubmit(t *testing.T) {
	e := startEngine(t)
	calls := 0
	var nested *Result
	listen[ping](t, e, listener.Config{Name: "once", Once: true, Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		calls++
		res, err := e.Submit(ctx, ping{N: 2})
		nested = res
		return err
	}})

	res, err := e.Submit(testContext(t), ping{N: 1})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"once"}, receivedNames(res))
	require.NotNil(t, nested)
	assert.Empty(t, nested.Received())
	assert.Empty(t, e.Listeners())
}

func TestEngine_ListenerAddedDuringDispatch(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	added := false
	listen[ping](t, e, listener.Config{Name: "adder", Priority: 10, Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		rec.Record("adder")
		if !added {
			added = true
			_, err := e.Listen(listener.Config{Name: "late", Target: typeindex.Of[ping](), Priority: 20, Handler: record(rec, "late")})
			return err
		}
		return nil
	}})
	ctx := testContext(t)

	first, err := e.Submit(ctx, ping{N: 1})
	require.NoError(t, err)
	second, err := e.Submit(ctx, ping{N: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"adder"}, receivedNames(first))
	assert.Equal(t, []string{"late", "adder"}, receivedNames(second))
	assert.Equal(t, []string{"adder", "late", "adder"}, rec.Events())
}

func TestEngine_OnceRemovedEvenWhenHandlerFails(t *testing.T) {
	e := startEngine(t)
	calls := 0
	listen[ping](t, e, listener.Config{Once: true, Handler: func(context.Context, *invocation.Invocation) error {
		calls++
		return errors.New("first and last")
	}})
	ctx := testContext(t)

	_, err := e.Submit(ctx, ping{})
	require.Error(t, err)
	_, err = e.Submit(ctx, ping{})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestEngine_OwnerUnregistration(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	plugin := &pluginOwner{name: "moderation"}
	listen[ping](t, e, listener.Config{Name: "p1", Owner: plugin, Handler: record(rec, "p1")})
	listen[message](t, e, listener.Config{Name: "p2", Owner: plugin, Handler: record(rec, "p2")})
	listen[ping](t, e, listener.Config{Name: "core", Handler: record(rec, "core")})

	removed, err := e.UnlistenOwner(plugin)
	require.NoError(t, err)
	assert.True(t, removed)

	ctx := testContext(t)
	_, err = e.Submit(ctx, ping{})
	require.NoError(t, err)
	_, err = e.Submit(ctx, sampleMessage())
	require.NoError(t, err)

	assert.Equal(t, []string{"core"}, rec.Events())

	_, err = e.UnlistenOwner(e)
	assert.ErrorIs(t, err, listener.ErrReservedOwner)
}

func TestEngine_Unlisten(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	l := listen[ping](t, e, listener.Config{Handler: record(rec, "x")})

	assert.True(t, e.Unlisten(l))
	assert.False(t, e.Unlisten(l))

	_, err := e.Submit(testContext(t), ping{})
	require.NoError(t, err)
	assert.Empty(t, rec.Events())
}

func TestEngine_DataBagVisibleInResult(t *testing.T) {
	e := startEngine(t)
	listen[message](t, e, listener.Config{Name: "writer", Priority: 10, Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		return invocation.PutNamed(inv.Data(), "score", 3)
	}})
	listen[message](t, e, listener.Config{Name: "reader", Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		score, err := invocation.Get[int](inv.Data(), "score")
		if err != nil {
			return err
		}
		return invocation.Put(inv.Data(), score*2)
	}})

	res, err := e.Submit(testContext(t), sampleMessage())

	require.NoError(t, err)
	doubled, err := invocation.Get[int](res.Data(), "")
	require.NoError(t, err)
	assert.Equal(t, 6, doubled)
	assert.Same(t, res.Invocation().Data(), res.Data())
}

func TestEngine_DuplicateDataKeyFailsSubmission(t *testing.T) {
	e := startEngine(t)
	put := func(ctx context.Context, inv *invocation.Invocation) error {
		return invocation.PutNamed(inv.Data(), "k", "v")
	}
	listen[ping](t, e, listener.Config{Name: "first", Priority: 1, Handler: put})
	listen[ping](t, e, listener.Config{Name: "second", Handler: put})

	_, err := e.Submit(testContext(t), ping{})

	assert.ErrorIs(t, err, invocation.ErrDuplicateKey)
	var he *HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "second", he.Listener)
}

func TestEngine_InvolvementTargeting(t *testing.T) {
	e := startEngine(t)
	require.NoError(t, Map(e, func(m message) ([]any, error) {
		return []any{m.Author, m.Channel}, nil
	}))
	require.NoError(t, Map(e, func(c channel) ([]any, error) {
		return []any{c.Guild}, nil
	}))
	require.NoError(t, Identify(e, func(u user) string { return "user:" + u.ID }))
	rec := &testutil.Recorder{}
	listen[message](t, e, listener.Config{Name: "u1", To: []any{"user:u1"}, Handler: record(rec, "u1")})
	listen[message](t, e, listener.Config{Name: "u2", To: []any{"user:u2"}, Handler: record(rec, "u2")})
	listen[message](t, e, listener.Config{Name: "guild", To: []any{guild{ID: "g1"}}, Handler: record(rec, "guild")})

	res, err := e.Submit(testContext(t), sampleMessage())

	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "guild"}, rec.Events())
	assert.ElementsMatch(t, []any{"user:u1", channel{ID: "c1", Guild: guild{ID: "g1"}}, guild{ID: "g1"}}, res.Involved().Items())
}

func TestEngine_ToObjectsUseIdentity(t *testing.T) {
	e := startEngine(t)
	require.NoError(t, Map(e, func(m message) ([]any, error) {
		return []any{m.Author}, nil
	}))
	require.NoError(t, Identify(e, func(u user) string { return "user:" + u.ID }))
	rec := &testutil.Recorder{}
	l := listen[message](t, e, listener.Config{Name: "by-instance", To: []any{user{ID: "u1"}}, Handler: record(rec, "by-instance")})
	listen[message](t, e, listener.Config{Name: "other", To: []any{user{ID: "u2"}}, Handler: record(rec, "other")})

	res, err := e.Submit(testContext(t), sampleMessage())

	require.NoError(t, err)
	assert.Equal(t, []any{"user:u1"}, res.Involved().Items())
	assert.Equal(t, []string{"by-instance"}, receivedNames(res))
	assert.Equal(t, []any{"user:u1"}, l.To())
}

func TestEngine_ToIdentityPanicFailsRegistration(t *testing.T) {
	e := startEngine(t)
	require.NoError(t, Identify(e, func(u user) string { panic("no key") }))

	_, err := e.Listen(listener.Config{
		Name:    "x",
		Target:  typeindex.Of[message](),
		To:      []any{user{ID: "u1"}},
		Handler: record(&testutil.Recorder{}, "x"),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, safe.ErrPanic)
	assert.Contains(t, err.Error(), "to[0]")
	assert.Empty(t, e.Listeners())
}

func TestEngine_MapperFailure(t *testing.T) {
	e := startEngine(t)
	require.NoError(t, Map(e, func(m message) ([]any, error) {
		return nil, errors.New("lookup failed")
	}))
	rec := &testutil.Recorder{}
	listen[message](t, e, listener.Config{Handler: record(rec, "message")})
	listen[ping](t, e, listener.Config{Handler: record(rec, "ping")})
	ctx := testContext(t)

	res, err := e.Submit(ctx, sampleMessage())

	assert.ErrorIs(t, err, resolve.ErrMapper)
	assert.False(t, IsHandlerError(err))
	require.NotNil(t, res)
	assert.Equal(t, StateFailed, res.State())
	assert.Nil(t, res.Involved())
	assert.Nil(t, res.Data())

	_, err = e.Submit(ctx, ping{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ping"}, rec.Events())
}

func TestEngine_ChildFailure(t *testing.T) {
	e := startEngine(t)
	boom := errors.New("child boom")
	listen[ping](t, e, listener.Config{Name: "spawner", Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		inv.Go("worker", func(ctx context.Context) error { return boom })
		return nil
	}})

	res, err := e.Submit(testContext(t), ping{})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsChildError(err))
	var he *HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "worker", he.Child)
	assert.Equal(t, StateFailed, res.State())
}

func TestEngine_ChildrenJoinedBeforeResult(t *testing.T) {
	e := startEngine(t)
	listen[ping](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		inv.Go("slow", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return invocation.PutNamed(inv.Data(), "child", "done")
		})
		return nil
	}})

	res, err := e.Submit(testContext(t), ping{})

	require.NoError(t, err)
	v, err := invocation.Get[string](res.Data(), "child")
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestEngine_ChildDiscardAfterLastHandler(t *testing.T) {
	e := startEngine(t)
	listen[ping](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		inv.Go("late", func(ctx context.Context) error {
			inv.DiscardBecause("late")
			return nil
		})
		return nil
	}})

	res, err := e.Submit(testContext(t), ping{})

	require.NoError(t, err)
	assert.True(t, res.Discarded())
	reason, _ := res.DiscardReason()
	assert.Equal(t, "late", reason)
}

func TestEngine_ChildMaySubmit(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	listen[inner](t, e, listener.Config{Handler: record(rec, "inner")})
	listen[outer](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		inv.Go("forward", func(ctx context.Context) error {
			_, err := e.Submit(ctx, inner{})
			return err
		})
		rec.Record("outer")
		return nil
	}})

	_, err := e.Submit(testContext(t), outer{})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, rec.Events())
}

func TestEngine_CancellationInsideHandler(t *testing.T) {
	e := startEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listen[ping](t, e, listener.Config{Name: "canceller", Handler: func(hctx context.Context, inv *invocation.Invocation) error {
		cancel()
		<-hctx.Done()
		return hctx.Err()
	}})
	listen[message](t, e, listener.Config{Handler: record(&testutil.Recorder{}, "m")})

	_, err := e.SubmitAsync(ctx, ping{}).Wait(testContext(t))

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrHandler)

	res, err := e.Submit(testContext(t), sampleMessage())
	require.NoError(t, err, "the executor was released")
	assert.Equal(t, StateCompleted, res.State())
}

func TestEngine_CancelledBeforeStart(t *testing.T) {
	e := startEngine(t)
	called := false
	listen[ping](t, e, listener.Config{Handler: func(context.Context, *invocation.Invocation) error {
		called = true
		return nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.SubmitAsync(ctx, ping{}).Wait(testContext(t))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.False(t, called)
}

func TestEngine_SubmitAsyncPreservesOrder(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	_, err := On(e, listener.Config{}, func(ctx context.Context, p ping, inv *invocation.Invocation) error {
		rec.Record(string(rune('a' + p.N)))
		return nil
	})
	require.NoError(t, err)

	var pending []*Pending
	for i := 0; i < 5; i++ {
		pending = append(pending, e.SubmitAsync(context.Background(), ping{N: i}))
	}

	ctx := testContext(t)
	var seqs []int64
	for _, p := range pending {
		res, err := p.Wait(ctx)
		require.NoError(t, err)
		seqs = append(seqs, res.Seq())
		select {
		case <-p.Done():
		default:
			t.Fatal("Done must be closed after Wait returns")
		}
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, rec.Events())
	assert.IsIncreasing(t, seqs)
}

func TestEngine_AwaitLetsOthersRun(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	release := make(chan struct{})
	listen[slowEvent](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		rec.Record("slow-start")
		err := inv.Await(ctx, func(ctx context.Context) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		rec.Record("slow-end")
		return err
	}})
	listen[fastEvent](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		rec.Record("fast")
		close(release)
		return nil
	}})

	slow := e.SubmitAsync(context.Background(), slowEvent{})
	fast := e.SubmitAsync(context.Background(), fastEvent{})

	ctx := testContext(t)
	_, err := fast.Wait(ctx)
	require.NoError(t, err)
	_, err = slow.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"slow-start", "fast", "slow-end"}, rec.Events())
}

func TestEngine_BlockingKeepsExecutor(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	listen[slowEvent](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		rec.Record("slow-start")
		time.Sleep(20 * time.Millisecond)
		rec.Record("slow-end")
		return nil
	}})
	listen[fastEvent](t, e, listener.Config{Handler: record(rec, "fast")})

	slow := e.SubmitAsync(context.Background(), slowEvent{})
	fast := e.SubmitAsync(context.Background(), fastEvent{})

	ctx := testContext(t)
	_, err := slow.Wait(ctx)
	require.NoError(t, err)
	_, err = fast.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"slow-start", "slow-end", "fast"}, rec.Events())
}

func TestEngine_ReentrantSubmitRunsInline(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	listen[inner](t, e, listener.Config{Handler: record(rec, "inner")})
	var nested *Result
	listen[outer](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		rec.Record("outer-before")
		res, err := e.Submit(ctx, inner{})
		nested = res
		rec.Record("outer-after")
		return err
	}})

	res, err := e.Submit(testContext(t), outer{})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer-before", "inner", "outer-after"}, rec.Events())
	assert.Equal(t, "sub-1", res.ID())
	require.NotNil(t, nested)
	assert.Equal(t, "sub-2", nested.ID())
}

func TestEngine_SubmitAsyncFromHandlerQueues(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	listen[inner](t, e, listener.Config{Handler: record(rec, "inner")})
	var queued *Pending
	listen[outer](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		queued = e.SubmitAsync(ctx, inner{})
		rec.Record("outer")
		return nil
	}})

	ctx := testContext(t)
	_, err := e.Submit(ctx, outer{})
	require.NoError(t, err)
	_, err = queued.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"outer", "inner"}, rec.Events())
}

func TestEngine_SubmitAsyncFromChildQueues(t *testing.T) {
	e := startEngine(t)
	rec := &testutil.Recorder{}
	listen[inner](t, e, listener.Config{Handler: record(rec, "inner")})
	queued := make(chan *Pending, 1)
	listen[outer](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		inv.Go("fire", func(ctx context.Context) error {
			queued <- e.SubmitAsync(ctx, inner{})
			return nil
		})
		return nil
	}})

	ctx := testContext(t)
	_, err := e.Submit(ctx, outer{})
	require.NoError(t, err)

	res, err := (<-queued).Wait(ctx)
	require.NoError(t, err, "the queued submission outlives the child's context")
	assert.Equal(t, StateCompleted, res.State())
	assert.Equal(t, []string{"inner"}, rec.Events())
}

func TestEngine_Stop(t *testing.T) {
	e := New(WithLogger(testutil.DiscardLogger()))
	queued := e.SubmitAsync(context.Background(), ping{})
	assert.Equal(t, 1, e.QueueLen())

	e.Stop()
	require.NoError(t, e.Run(context.Background()))

	_, err := queued.Wait(testContext(t))
	assert.ErrorIs(t, err, ErrStopped)

	_, err = e.Submit(testContext(t), ping{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_RunReturnsContextError(t *testing.T) {
	e := New(WithLogger(testutil.DiscardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	_, err := e.Submit(testContext(t), ping{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_RunWaitsForInflight(t *testing.T) {
	e := New(WithLogger(testutil.DiscardLogger()))
	started := make(chan struct{})
	finished := false
	listen[slowEvent](t, e, listener.Config{Handler: func(ctx context.Context, inv *invocation.Invocation) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished = true
		return nil
	}})
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	p := e.SubmitAsync(context.Background(), slowEvent{})
	<-started
	e.Stop()

	require.NoError(t, <-done)
	assert.True(t, finished)
	_, err := p.Wait(testContext(t))
	assert.NoError(t, err)
}

func TestEngine_RegistrationValidation(t *testing.T) {
	e := New(WithLogger(testutil.DiscardLogger()))

	_, err := e.Listen(listener.Config{Target: typeindex.Of[ping]()})
	assert.ErrorIs(t, err, listener.ErrNilHandler)

	assert.ErrorIs(t, e.RegisterMapper(nil, nil), typeindex.ErrInvalidRegistration)
	assert.ErrorIs(t, Map[ping](e, nil), typeindex.ErrInvalidRegistration)

	require.NoError(t, Identify(e, func(u user) string { return u.ID }))
	err = Identify(e, func(u user) string { return "again" })
	assert.ErrorIs(t, err, typeindex.ErrDuplicateIdentity)

	_, err = On[ping](e, listener.Config{}, nil)
	assert.ErrorIs(t, err, listener.ErrNilHandler)
}

func TestEngine_LogsStateTransitions(t *testing.T) {
	logger, buf := testutil.CaptureLogger()
	e := startEngine(t, WithLogger(logger))
	listen[ping](t, e, listener.Config{Name: "logged", Handler: func(context.Context, *invocation.Invocation) error { return nil }})

	_, err := e.Submit(testContext(t), ping{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "submission_id=sub-1")
	assert.Contains(t, out, "state=resolving")
	assert.Contains(t, out, "state=invoking")
	assert.Contains(t, out, "state=completed")
}

func TestEngine_DefaultIDsAreUUIDv7(t *testing.T) {
	e := New(WithLogger(testutil.DiscardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	res, err := e.Submit(testContext(t), ping{})

	require.NoError(t, err)
	parsed, err := uuid.Parse(res.ID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}
