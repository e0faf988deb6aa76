package usecase

import (
	"context"
	"fmt"

	"orderflow/internal/domain"
	"orderflow/internal/ports"

	"github.com/rs/zerolog/log"
)

const maxCommentLen = 800

// Reporter pushes final outcomes upstream and to operators. Nothing it does
// can fail the caller: status update errors end up in the notification text,
// notification errors are only logged.
type Reporter struct {
	Status     ports.StatusUpdater
	Notifier   ports.Notifier
	DoneCode   string
	FailedCode string
}

func (r Reporter) Succeeded(ctx context.Context, id domain.OrderID) {
	msg := fmt.Sprintf("order %s fulfilled", id)
	if err := r.updateStatus(ctx, id, r.DoneCode, ""); err != nil {
		msg += fmt.Sprintf("; status update to %q failed: %v", r.DoneCode, err)
	}
	r.Alert(ctx, msg)
}

func (r Reporter) Terminal(ctx context.Context, id domain.OrderID, rec domain.FailureRecord) {
	comment := truncate(fmt.Sprintf("step=%s: %s", rec.LastStep, rec.LastError), maxCommentLen)
	msg := fmt.Sprintf("order %s failed permanently after %d attempts (%s)", id, rec.Count, comment)
	if err := r.updateStatus(ctx, id, r.FailedCode, comment); err != nil {
		msg += fmt.Sprintf("; status update to %q failed: %v", r.FailedCode, err)
	}
	r.Alert(ctx, msg)
}

// Alert sends a best-effort operator notification.
func (r Reporter) Alert(ctx context.Context, msg string) {
	if r.Notifier == nil {
		log.Ctx(ctx).Info().Str("message", msg).Msg("notification (no notifier configured)")
		return
	}
	if err := r.Notifier.Notify(ctx, msg); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("message", msg).Msg("notification failed")
	}
}

func (r Reporter) updateStatus(ctx context.Context, id domain.OrderID, status, comment string) error {
	if r.Status == nil {
		return nil
	}
	if err := r.Status.UpdateStatus(ctx, id, status, comment); err != nil {
		log.Ctx(ctx).Error().Err(err).Stringer("order", id).Str("status", status).Msg("status update failed")
		return err
	}
	log.Ctx(ctx).Info().Stringer("order", id).Str("status", status).Msg("status updated")
	return nil
}
