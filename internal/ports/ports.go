package ports

import (
	"context"
	"orderflow/internal/domain"
)

// OrderSource returns candidate orders in upstream order. Paging is the
// source's concern.
type OrderSource interface {
	Fetch(ctx context.Context) ([]domain.Order, error)
}

// StatusUpdater sets the remote status of an order. Comment may be empty.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id domain.OrderID, status, comment string) error
}

// Notifier delivers a free-text message to operators.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type StateStore interface {
	Load(ctx context.Context) (*domain.State, error)
	Save(ctx context.Context, s *domain.State) error
}

// StateReader reads the persisted state without repairing or moving it.
type StateReader interface {
	Read(ctx context.Context) (*domain.State, error)
}

// StepResult is the outcome of one external step invocation.
type StepResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Err is set when the step could not be started or was interrupted.
	Err error
}

// Step is one stage of the fulfillment pipeline. The executor bounds ctx
// with the step's timeout.
type Step interface {
	Name() string
	Run(ctx context.Context, env []string) StepResult
}
