package usecase

import (
	"context"
	"testing"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/pipeline"
	"orderflow/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollerFixture struct {
	clock    *clock
	source   *fakeSource
	store    *memStore
	exec     *fakeExecutor
	outcomes *recordingOutcomes
	poller   *Poller
}

func newPollerFixture(t *testing.T, cfg PollerConfig) *pollerFixture {
	t.Helper()
	f := &pollerFixture{
		clock:    newClock(),
		source:   &fakeSource{},
		store:    &memStore{},
		exec:     &fakeExecutor{fail: map[domain.OrderID]string{}, panic: map[domain.OrderID]bool{}},
		outcomes: &recordingOutcomes{},
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxProcessedIDs == 0 {
		cfg.MaxProcessedIDs = 100
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Millisecond
	}
	f.poller = &Poller{
		Source:   f.source,
		Store:    f.store,
		Executor: f.exec,
		Policy:   testPolicy(f.clock),
		Outcomes: f.outcomes,
		Config:   cfg,
	}
	return f
}

func TestPollerProcessedOrdersAreNeverRerun(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.source.orders = orders(1, 2)
	ctx := context.Background()

	first := f.poller.Cycle(ctx)
	assert.Equal(t, 2, first.Succeeded)

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		report := f.poller.Cycle(ctx)
		assert.Zero(t, report.Succeeded)
		assert.Equal(t, 2, report.Selection.Processed)
	}

	assert.Equal(t, 1, f.exec.ranCount(1))
	assert.Equal(t, 1, f.exec.ranCount(2))
	assert.Equal(t, []domain.OrderID{1, 2}, f.outcomes.succeeded)
	assert.Equal(t, []domain.OrderID{1, 2}, f.store.state.ProcessedIDs)
}

func TestPollerTerminalAfterMaxAttempts(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.source.orders = orders(9)
	f.exec.fail[9] = "checkout button missing"
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		report := f.poller.Cycle(ctx)
		require.Equal(t, 1, report.Failed, "attempt %d", attempt)
		f.clock.Advance(time.Hour)
	}

	rec, ok := f.store.state.Failure(9)
	require.True(t, ok)
	assert.True(t, rec.Terminal)
	assert.Equal(t, 3, rec.Count)
	assert.Equal(t, "checkout", rec.LastStep)

	require.Len(t, f.outcomes.terminal, 1)
	assert.Equal(t, domain.OrderID(9), f.outcomes.terminal[0].id)

	for i := 0; i < 5; i++ {
		f.clock.Advance(1000 * time.Hour)
		report := f.poller.Cycle(ctx)
		assert.Equal(t, 1, report.Selection.Terminal)
	}
	assert.Equal(t, 3, f.exec.ranCount(9))
	assert.Len(t, f.outcomes.terminal, 1)
}

func TestPollerRetryableFailuresAreNotReported(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.source.orders = orders(4)
	f.exec.fail[4] = "flaky"

	report := f.poller.Cycle(context.Background())

	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Terminal)
	assert.Empty(t, f.outcomes.terminal)
	assert.Empty(t, f.outcomes.alerts)

	report = f.poller.Cycle(context.Background())
	assert.Equal(t, 1, report.Selection.Backoff)
	assert.Equal(t, 1, f.exec.ranCount(4))
}

func TestPollerRecoveryClearsFailure(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.source.orders = orders(3)
	f.exec.fail[3] = "flaky"
	ctx := context.Background()

	f.poller.Cycle(ctx)
	_, ok := f.store.state.Failure(3)
	require.True(t, ok)

	delete(f.exec.fail, 3)
	f.clock.Advance(2 * time.Minute)
	report := f.poller.Cycle(ctx)

	assert.Equal(t, 1, report.Succeeded)
	_, ok = f.store.state.Failure(3)
	assert.False(t, ok)
	assert.Equal(t, []domain.OrderID{3}, f.store.state.ProcessedIDs)
}

func TestPollerRingBufferEviction(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{MaxProcessedIDs: 3})
	ctx := context.Background()

	for _, id := range []domain.OrderID{1, 2, 3, 4} {
		f.source.orders = orders(id)
		f.poller.Cycle(ctx)
	}

	assert.Equal(t, []domain.OrderID{2, 3, 4}, f.store.state.ProcessedIDs)
}

func TestPollerPersistsAfterEveryChange(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.source.orders = orders(1, 2, 3)
	f.exec.fail[2] = "x"

	f.poller.Cycle(context.Background())

	assert.Equal(t, 3, f.store.saves)
	assert.Equal(t, []domain.OrderID{1, 3}, f.store.state.ProcessedIDs)
	_, ok := f.store.state.Failure(2)
	assert.True(t, ok)
}

func TestPollerFailureIsolatedPerOrder(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.source.orders = orders(1, 2, 3)
	f.exec.panic[2] = true

	report := f.poller.Cycle(context.Background())

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	rec, ok := f.store.state.Failure(2)
	require.True(t, ok)
	assert.Equal(t, "pipeline", rec.LastStep)
	assert.Equal(t, "panic: step crashed", rec.LastError)
}

func TestPollerFetchFailureSkipsCycle(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.source.err = errBoom

	report := f.poller.Cycle(context.Background())

	assert.ErrorIs(t, report.Err, errBoom)
	assert.Empty(t, f.exec.runs)
	require.Len(t, f.outcomes.alerts, 1)
	assert.Contains(t, f.outcomes.alerts[0], "poll cycle skipped")

	f.source.err = nil
	f.source.panic = true
	report = f.poller.Cycle(context.Background())
	assert.Error(t, report.Err)
	assert.Len(t, f.outcomes.alerts, 2)
}

func TestPollerSaveFailureDoesNotStopTheLoop(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.store.saveErr = errBoom
	f.source.orders = orders(1, 2)

	report := f.poller.Cycle(context.Background())

	assert.Equal(t, 2, report.Succeeded)
	assert.Len(t, f.outcomes.alerts, 2)
	assert.Contains(t, f.outcomes.alerts[0], "could not be saved")

	report = f.poller.Cycle(context.Background())
	assert.Equal(t, 2, report.Selection.Processed, "in-memory state stays authoritative")
}

func TestPollerLoadFailureStartsFresh(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{Once: true})
	f.store.loadErr = errBoom
	f.source.orders = orders(1)

	require.NoError(t, f.poller.Run(context.Background()))

	require.NotEmpty(t, f.outcomes.alerts)
	assert.Contains(t, f.outcomes.alerts[0], "could not be loaded")
	assert.Equal(t, []domain.OrderID{1}, f.outcomes.succeeded)
}

func TestPollerOnceRunsExactlyOneCycle(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{Once: true})

	require.NoError(t, f.poller.Run(context.Background()))
	assert.Equal(t, 1, f.source.calls)

	f2 := newPollerFixture(t, PollerConfig{Once: true})
	f2.source.orders = orders(1, 2, 3, 4, 5, 6, 7)
	require.NoError(t, f2.poller.Run(context.Background()))
	assert.Equal(t, 1, f2.source.calls)
	assert.Len(t, f2.exec.runs, 5)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, f.poller.Loaded, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerDryRun(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{DryRun: true})
	f.source.orders = orders(1, 2)

	report := f.poller.Cycle(context.Background())

	assert.Len(t, report.Selection.Eligible, 2)
	assert.Empty(t, f.exec.runs)
	assert.Zero(t, f.store.saves)
	assert.False(t, f.poller.Snapshot().IsProcessed(1))
}

func TestPollerRequeueMakesTerminalOrderEligible(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.source.orders = orders(8)
	f.exec.fail[8] = "x"
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.poller.Cycle(ctx)
		f.clock.Advance(time.Hour)
	}
	require.True(t, f.poller.Policy.IsTerminal(f.poller.Snapshot(), 8))

	delete(f.exec.fail, 8)
	require.NoError(t, f.poller.Requeue(8))
	report := f.poller.Cycle(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.True(t, f.poller.Snapshot().IsProcessed(8))
}

func TestPollerRequeueQueueFull(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	for i := 0; i < requeueBuffer; i++ {
		require.NoError(t, f.poller.Requeue(domain.OrderID(i)))
	}
	assert.ErrorIs(t, f.poller.Requeue(999), ErrRequeueBusy)
}

func TestRequeueOffline(t *testing.T) {
	c := newClock()
	st := domain.NewState()
	testPolicy(c).MarkFailed(st, 5, "cart", "x")
	store := &memStore{state: st}

	cleared, err := Requeue(context.Background(), store, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, []domain.OrderID{5}, cleared)
	assert.Empty(t, store.state.Failed)

	cleared, err = Requeue(context.Background(), store, 6)
	require.NoError(t, err)
	assert.Empty(t, cleared)
	assert.Equal(t, 1, store.saves)
}

func TestPollerWithRealPipeline(t *testing.T) {
	cart := &scriptedStep{key: "cart"}
	checkout := &scriptedStep{key: "checkout", result: ports.StepResult{ExitCode: 1, Stderr: "card declined\n"}}
	confirm := &scriptedStep{key: "confirm"}

	f := newPollerFixture(t, PollerConfig{})
	f.poller.Executor = Pipeline{Planner: staticPlanner{steps: []pipeline.PlannedStep{
		{Key: "cart", Step: cart, Timeout: time.Second},
		{Key: "checkout", Step: checkout, Timeout: time.Second},
		{Key: "confirm", Step: confirm, Timeout: time.Second},
	}}}
	f.source.orders = orders(77)

	report := f.poller.Cycle(context.Background())

	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, confirm.calls)
	rec, ok := f.store.state.Failure(77)
	require.True(t, ok)
	assert.Equal(t, "checkout", rec.LastStep)
	assert.Equal(t, "card declined", rec.LastError)
}
