package usecase

import (
	"orderflow/internal/domain"

	"github.com/rs/zerolog"
)

// Selection is the work set of one cycle plus the reasons candidates were
// skipped.
type Selection struct {
	Eligible []domain.Order

	Candidates int
	Processed  int
	Terminal   int
	Backoff    int
	Duplicates int
	// Deferred counts eligible orders left for a later cycle by the batch limit.
	Deferred int
}

func (s Selection) MarshalZerologObject(e *zerolog.Event) {
	e.Int("candidates", s.Candidates).
		Int("eligible", len(s.Eligible)).
		Int("processed", s.Processed).
		Int("terminal", s.Terminal).
		Int("backoff", s.Backoff).
		Int("duplicates", s.Duplicates).
		Int("deferred", s.Deferred)
}

// Filter keeps candidates that are neither processed, terminal nor backing
// off, in fetch order, truncated to batchSize.
func Filter(candidates []domain.Order, s *domain.State, policy RetryPolicy, batchSize int) Selection {
	sel := Selection{Candidates: len(candidates)}
	seen := make(map[domain.OrderID]bool, len(candidates))

	for _, o := range candidates {
		switch {
		case seen[o.ID]:
			sel.Duplicates++
			continue
		case s.IsProcessed(o.ID):
			sel.Processed++
		case policy.IsTerminal(s, o.ID):
			sel.Terminal++
		default:
			if active, _ := policy.BackoffActive(s, o.ID); active {
				sel.Backoff++
			} else if batchSize > 0 && len(sel.Eligible) >= batchSize {
				sel.Deferred++
			} else {
				sel.Eligible = append(sel.Eligible, o)
			}
		}
		seen[o.ID] = true
	}
	return sel
}
