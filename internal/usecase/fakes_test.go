package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/pipeline"
	"orderflow/internal/ports"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	orders []domain.Order
	err    error
	panic  bool
	calls  int
}

func (s *fakeSource) Fetch(context.Context) ([]domain.Order, error) {
	s.calls++
	if s.panic {
		panic("upstream exploded")
	}
	return s.orders, s.err
}

type memStore struct {
	state   *domain.State
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) (*domain.State, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.state == nil {
		return domain.NewState(), nil
	}
	return m.state.Clone(), nil
}

func (m *memStore) Save(_ context.Context, s *domain.State) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = s.Clone()
	return nil
}

// fakeExecutor fails orders listed in fail, succeeds all others.
type fakeExecutor struct {
	fail  map[domain.OrderID]string
	panic map[domain.OrderID]bool
	runs  []domain.OrderID
}

func (e *fakeExecutor) Run(_ context.Context, o domain.Order) Result {
	e.runs = append(e.runs, o.ID)
	if e.panic[o.ID] {
		panic("step crashed")
	}
	if reason, ok := e.fail[o.ID]; ok {
		return Result{Step: "checkout", Reason: reason}
	}
	return Result{OK: true}
}

func (e *fakeExecutor) Plan(o domain.Order) pipeline.Plan {
	return pipeline.Plan{Kind: domain.DeliveryBranch}
}

func (e *fakeExecutor) ranCount(id domain.OrderID) int {
	n := 0
	for _, r := range e.runs {
		if r == id {
			n++
		}
	}
	return n
}

type terminalEvent struct {
	id  domain.OrderID
	rec domain.FailureRecord
}

type recordingOutcomes struct {
	succeeded []domain.OrderID
	terminal  []terminalEvent
	alerts    []string
}

func (r *recordingOutcomes) Succeeded(_ context.Context, id domain.OrderID) {
	r.succeeded = append(r.succeeded, id)
}

func (r *recordingOutcomes) Terminal(_ context.Context, id domain.OrderID, rec domain.FailureRecord) {
	r.terminal = append(r.terminal, terminalEvent{id: id, rec: rec})
}

func (r *recordingOutcomes) Alert(_ context.Context, msg string) {
	r.alerts = append(r.alerts, msg)
}

type statusCall struct {
	id      domain.OrderID
	status  string
	comment string
}

type fakeStatus struct {
	calls []statusCall
	err   error
}

func (f *fakeStatus) UpdateStatus(_ context.Context, id domain.OrderID, status, comment string) error {
	f.calls = append(f.calls, statusCall{id: id, status: status, comment: comment})
	return f.err
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(_ context.Context, msg string) error {
	f.messages = append(f.messages, msg)
	return f.err
}

// scriptedStep returns a fixed result, optionally blocking until ctx ends.
type scriptedStep struct {
	key    string
	result ports.StepResult
	block  bool
	panic  bool
	calls  int
	env    []string
}

func (s *scriptedStep) Name() string { return s.key }

func (s *scriptedStep) Run(ctx context.Context, env []string) ports.StepResult {
	s.calls++
	s.env = env
	if s.panic {
		panic("selector not found")
	}
	if s.block {
		<-ctx.Done()
		return ports.StepResult{ExitCode: -1, Err: ctx.Err()}
	}
	return s.result
}

type staticPlanner struct {
	steps []pipeline.PlannedStep
	env   map[string]string
}

func (p staticPlanner) Plan(o domain.Order) pipeline.Plan {
	env := map[string]string{"ORDER_ID": o.ID.String()}
	for k, v := range p.env {
		env[k] = v
	}
	return pipeline.Plan{Kind: domain.DeliveryBranch, Steps: p.steps, Env: env}
}

func orders(ids ...domain.OrderID) []domain.Order {
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Order{ID: id, Payload: map[string]any{"id": int64(id)}})
	}
	return out
}

var errBoom = errors.New("boom")
