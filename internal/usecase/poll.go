package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/pipeline"
	"orderflow/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Executor interface {
	Run(ctx context.Context, o domain.Order) Result
	Plan(o domain.Order) pipeline.Plan
}

// Outcomes receives the events that leave the process.
type Outcomes interface {
	Succeeded(ctx context.Context, id domain.OrderID)
	Terminal(ctx context.Context, id domain.OrderID, rec domain.FailureRecord)
	Alert(ctx context.Context, msg string)
}

type PollerConfig struct {
	Interval        time.Duration
	BatchSize       int
	MaxProcessedIDs int
	// Once returns after a single cycle.
	Once bool
	// DryRun selects orders and logs their plans without running them.
	DryRun bool
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID        string
	Selection Selection
	Succeeded int
	Failed    int
	Terminal  int
	// Err is set when the cycle was skipped because fetching or filtering failed.
	Err error
}

// Poller is the single-threaded scheduler: fetch, filter, run each eligible
// order in turn, persist after every state change, sleep, repeat. The
// in-memory state is owned by the goroutine calling Run.
type Poller struct {
	Source   ports.OrderSource
	Store    ports.StateStore
	Executor Executor
	Policy   RetryPolicy
	Outcomes Outcomes
	Config   PollerConfig

	state *domain.State

	mu       sync.RWMutex
	snapshot *domain.State

	reqOnce  sync.Once
	requests chan domain.OrderID
}

func (p *Poller) now() time.Time { return p.Policy.now() }

// Run loads the state once and polls until ctx is cancelled, or after one
// cycle in Once mode.
func (p *Poller) Run(ctx context.Context) error {
	p.Load(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}
		report := p.Cycle(ctx)
		log.Ctx(ctx).Debug().Str("cycle", report.ID).
			Int("succeeded", report.Succeeded).
			Int("failed", report.Failed).
			Int("terminal", report.Terminal).
			Msg("cycle finished")

		if p.Config.Once {
			return nil
		}
		if err := sleepCtx(ctx, p.Config.Interval); err != nil {
			log.Ctx(ctx).Info().Msg("poller stopped")
			return nil
		}
	}
}

// Load reads the persisted state. Any failure degrades to a fresh state.
func (p *Poller) Load(ctx context.Context) {
	st, err := p.Store.Load(ctx)
	if err != nil || st == nil {
		log.Ctx(ctx).Error().Err(err).Msg("state load failed, starting with empty state")
		p.Outcomes.Alert(ctx, fmt.Sprintf("orchestrator state could not be loaded, starting fresh: %v", err))
		st = domain.NewState()
	}
	p.state = st
	p.publish()
	log.Ctx(ctx).Info().
		Int("processed", len(st.ProcessedIDs)).
		Int("failed", len(st.Failed)).
		Msg("state loaded")
}

// Cycle runs one fetch -> filter -> execute -> persist iteration.
func (p *Poller) Cycle(ctx context.Context) CycleReport {
	if p.state == nil {
		p.Load(ctx)
	}

	report := CycleReport{ID: uuid.NewString()}
	logger := log.Ctx(ctx).With().Str("cycle", report.ID).Logger()
	ctx = logger.WithContext(ctx)

	p.applyRequeues(ctx)

	sel, err := p.selectOrders(ctx)
	if err != nil {
		report.Err = err
		logger.Error().Err(err).Msg("cycle skipped")
		p.Outcomes.Alert(ctx, fmt.Sprintf("poll cycle skipped: %v", err))
		return report
	}
	report.Selection = sel

	if len(sel.Eligible) == 0 {
		logger.Info().EmbedObject(sel).Msg("no eligible orders")
		return report
	}
	logger.Info().EmbedObject(sel).Msg("orders selected")

	for _, o := range sel.Eligible {
		if ctx.Err() != nil {
			logger.Info().Msg("cycle interrupted")
			break
		}
		switch p.process(ctx, o) {
		case outcomeSucceeded:
			report.Succeeded++
		case outcomeFailed:
			report.Failed++
		case outcomeTerminal:
			report.Failed++
			report.Terminal++
		}
	}
	return report
}

func (p *Poller) selectOrders(ctx context.Context) (sel Selection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while selecting orders: %v", r)
		}
	}()

	candidates, err := p.Source.Fetch(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("fetch orders: %w", err)
	}
	return Filter(candidates, p.state, p.Policy, p.Config.BatchSize), nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
	outcomeTerminal
)

func (p *Poller) process(ctx context.Context, o domain.Order) outcome {
	logger := log.Ctx(ctx).With().Stringer("order", o.ID).Logger()

	if p.Config.DryRun {
		plan := p.Executor.Plan(o)
		logger.Info().Str("delivery", string(plan.Kind)).Strs("steps", plan.Keys()).Msg("dry run: pipeline not executed")
		return outcomeSkipped
	}

	res := p.execute(ctx, o)
	if !res.OK && ctx.Err() != nil {
		logger.Warn().Str("step", res.Step).Msg("pipeline interrupted by shutdown, not recorded")
		return outcomeSkipped
	}

	if res.OK {
		p.state.MarkProcessed(o.ID, p.now(), p.Config.MaxProcessedIDs)
		p.Policy.Clear(p.state, o.ID)
		p.persist(ctx)
		p.Outcomes.Succeeded(ctx, o.ID)
		return outcomeSucceeded
	}

	rec := p.Policy.MarkFailed(p.state, o.ID, res.Step, res.Reason)
	p.persist(ctx)
	if rec.Terminal {
		logger.Error().Int("attempts", rec.Count).Str("step", rec.LastStep).Str("reason", rec.LastError).Msg("order is terminal")
		p.Outcomes.Terminal(ctx, o.ID, rec)
		return outcomeTerminal
	}
	logger.Warn().
		Int("attempts", rec.Count).
		Str("step", rec.LastStep).
		Str("reason", rec.LastError).
		Time("retry_at", rec.NextAttempt()).
		Msg("order failed, will retry")
	return outcomeFailed
}

func (p *Poller) execute(ctx context.Context, o domain.Order) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Interface("panic", r).Stringer("order", o.ID).Msg("pipeline panicked")
			res = Result{Step: "pipeline", Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return p.Executor.Run(ctx, o)
}

// persist writes the state. A failed write is reported and the loop goes on
// with the in-memory state.
func (p *Poller) persist(ctx context.Context) {
	p.publish()
	if err := p.Store.Save(ctx, p.state); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("state save failed")
		p.Outcomes.Alert(ctx, fmt.Sprintf("orchestrator state could not be saved: %v", err))
	}
}

func (p *Poller) publish() {
	snap := p.state.Clone()
	p.mu.Lock()
	p.snapshot = snap
	p.mu.Unlock()
}

// Snapshot returns a copy of the state as of the last change. Safe for use
// from other goroutines.
func (p *Poller) Snapshot() *domain.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshot == nil {
		return domain.NewState()
	}
	return p.snapshot.Clone()
}

// Loaded reports whether Run has loaded the state.
func (p *Poller) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot != nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ zerolog.LogObjectMarshaler = Selection{}
