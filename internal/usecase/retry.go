package usecase

import (
	"math"
	"time"

	"orderflow/internal/domain"
	"orderflow/pkg/backoff"
)

// RetryPolicy is the per-order backoff controller. Backoff is tracked per
// order so one failing order never delays the others.
type RetryPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func (p RetryPolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Delay is the wait after the count-th consecutive failure.
func (p RetryPolicy) Delay(count int) time.Duration {
	return backoff.Exponential(p.Base, p.Max, count)
}

// MarkFailed records a pipeline failure of id and returns the updated record.
// Reaching MaxAttempts makes the record terminal; terminal records are never
// modified again.
func (p RetryPolicy) MarkFailed(s *domain.State, id domain.OrderID, step, reason string) domain.FailureRecord {
	rec, _ := s.Failure(id)
	if rec.Terminal {
		return rec
	}

	now := p.now()
	rec.Count++
	rec.LastStep = step
	rec.LastError = truncate(reason, domain.MaxErrorLen)
	rec.UpdatedAt = now.Unix()

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if rec.Count >= maxAttempts {
		rec.Terminal = true
		rec.NextTS = domain.TerminalNextTS
	} else {
		delay := int64(math.Ceil(p.Delay(rec.Count).Seconds()))
		rec.NextTS = now.Unix() + delay
	}

	s.SetFailure(id, rec)
	return rec
}

// BackoffActive reports whether id is still inside its backoff window and
// how long remains.
func (p RetryPolicy) BackoffActive(s *domain.State, id domain.OrderID) (bool, time.Duration) {
	rec, ok := s.Failure(id)
	if !ok {
		return false, 0
	}
	remaining := rec.NextAttempt().Sub(p.now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

func (p RetryPolicy) IsTerminal(s *domain.State, id domain.OrderID) bool {
	rec, ok := s.Failure(id)
	return ok && rec.Terminal
}

// Clear drops the failure record of id after a success.
func (p RetryPolicy) Clear(s *domain.State, id domain.OrderID) bool {
	return s.DeleteFailure(id)
}
