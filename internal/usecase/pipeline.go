package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/pipeline"

	"github.com/rs/zerolog/log"
)

const maxLoggedOutput = 16 << 10

type Planner interface {
	Plan(o domain.Order) pipeline.Plan
}

// StepReport describes one executed step.
type StepReport struct {
	Key      string
	ExitCode int
	Elapsed  time.Duration
	Reason   string
}

func (r StepReport) OK() bool { return r.Reason == "" }

// Result is the outcome of one pipeline run. Step and Reason name the first
// failing step; later steps are never attempted.
type Result struct {
	OK     bool
	Kind   domain.DeliveryKind
	Step   string
	Reason string
	Steps  []StepReport
}

// Pipeline runs the planned steps of an order one after another.
type Pipeline struct {
	Planner Planner
	// BaseEnv is inherited by every step, usually os.Environ().
	BaseEnv []string
}

func (p Pipeline) Plan(o domain.Order) pipeline.Plan {
	return p.Planner.Plan(o)
}

func (p Pipeline) Run(ctx context.Context, o domain.Order) Result {
	plan := p.Planner.Plan(o)
	res := Result{Kind: plan.Kind}

	logger := log.Ctx(ctx).With().Stringer("order", o.ID).Str("delivery", string(plan.Kind)).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Strs("steps", plan.Keys()).Msg("pipeline started")

	for _, ps := range plan.Steps {
		env := append(append([]string{}, p.BaseEnv...),
			pipeline.Environ(plan.Env, map[string]string{"STEP_KEY": ps.Key})...)

		report := runStep(ctx, ps, env)
		res.Steps = append(res.Steps, report)
		if !report.OK() {
			res.Step = report.Key
			res.Reason = report.Reason
			logger.Warn().Str("step", report.Key).Str("reason", report.Reason).Msg("pipeline aborted")
			return res
		}
	}

	res.OK = true
	logger.Info().Msg("pipeline succeeded")
	return res
}

func runStep(ctx context.Context, ps pipeline.PlannedStep, env []string) (report StepReport) {
	report.Key = ps.Key
	start := time.Now()

	stepCtx, cancel := context.WithTimeout(ctx, ps.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			report.ExitCode = -1
			report.Reason = fmt.Sprintf("panic: %v", r)
			report.Elapsed = time.Since(start)
			log.Ctx(ctx).Error().Str("step", ps.Key).Interface("panic", r).Msg("step panicked")
		}
	}()

	out := ps.Step.Run(stepCtx, env)
	report.ExitCode = out.ExitCode
	report.Elapsed = time.Since(start)

	failed := out.Err != nil || out.ExitCode != 0
	switch {
	case failed && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		report.Reason = "timeout after " + strconv.FormatFloat(ps.Timeout.Seconds(), 'f', -1, 64) + "s"
	case out.Err != nil && ctx.Err() != nil:
		report.Reason = "interrupted: " + ctx.Err().Error()
	case out.Err != nil:
		report.Reason = "start failed: " + out.Err.Error()
	case out.ExitCode != 0:
		report.Reason = failureReason(out.Stdout, out.Stderr, out.ExitCode)
	}

	log.Ctx(ctx).Info().
		Str("step", ps.Key).
		Int("rc", out.ExitCode).
		Dur("elapsed", report.Elapsed).
		Str("stdout", truncate(out.Stdout, maxLoggedOutput)).
		Str("stderr", truncate(out.Stderr, maxLoggedOutput)).
		Bool("ok", report.OK()).
		Msg("step finished")
	return report
}

func failureReason(stdout, stderr string, rc int) string {
	if line := lastLine(stderr); line != "" {
		return line
	}
	if line := lastLine(stdout); line != "" {
		return line
	}
	return "failed rc=" + strconv.Itoa(rc)
}
