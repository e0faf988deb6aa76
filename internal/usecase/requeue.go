package usecase

import (
	"context"
	"errors"
	"fmt"

	"orderflow/internal/domain"
	"orderflow/internal/ports"

	"github.com/rs/zerolog/log"
)

var ErrRequeueBusy = errors.New("requeue queue is full")

const requeueBuffer = 64

func (p *Poller) requeueRequests() chan domain.OrderID {
	p.reqOnce.Do(func() {
		p.requests = make(chan domain.OrderID, requeueBuffer)
	})
	return p.requests
}

// Requeue asks the running loop to drop the failure record of id at the start
// of its next cycle, making a terminal or backing-off order eligible again.
// The loop applies the request itself so it stays the only state writer.
func (p *Poller) Requeue(id domain.OrderID) error {
	select {
	case p.requeueRequests() <- id:
		return nil
	default:
		return ErrRequeueBusy
	}
}

func (p *Poller) applyRequeues(ctx context.Context) {
	var ids []domain.OrderID
	reqs := p.requeueRequests()
drain:
	for {
		select {
		case id := <-reqs:
			ids = append(ids, id)
		default:
			break drain
		}
	}
	if len(ids) == 0 {
		return
	}
	if cleared := clearFailures(ctx, p.state, ids); len(cleared) > 0 {
		p.persist(ctx)
	}
}

// Requeue clears failure records directly in a store. Only for use while no
// poller runs against the same store.
func Requeue(ctx context.Context, store ports.StateStore, ids ...domain.OrderID) ([]domain.OrderID, error) {
	st, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	cleared := clearFailures(ctx, st, ids)
	if len(cleared) == 0 {
		return nil, nil
	}
	if err := store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	return cleared, nil
}

func clearFailures(ctx context.Context, st *domain.State, ids []domain.OrderID) []domain.OrderID {
	var cleared []domain.OrderID
	for _, id := range ids {
		if st.DeleteFailure(id) {
			cleared = append(cleared, id)
			log.Ctx(ctx).Info().Stringer("order", id).Msg("failure record cleared, order requeued")
		} else {
			log.Ctx(ctx).Warn().Stringer("order", id).Msg("requeue ignored, order has no failure record")
		}
	}
	return cleared
}
