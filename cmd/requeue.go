package cmd

import (
	"context"
	"fmt"

	"orderflow/internal/domain"
	"orderflow/internal/usecase"
	"orderflow/internal/worker"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <order-id>...",
		Short: "Clear failure records so the orders are retried",
		Long: "Clear failure records in the state store so the orders become eligible again.\n" +
			"Use only while no poll loop runs against the same store; a running loop\n" +
			"accepts requeues through DELETE /failed/{id} on its API.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]domain.OrderID, 0, len(args))
			for _, a := range args {
				id, err := domain.ParseOrderID(a)
				if err != nil {
					return fmt.Errorf("%q: %w", a, err)
				}
				ids = append(ids, id)
			}

			ctx := log.Logger.WithContext(context.Background())
			store, closeStore, err := worker.OpenStoreOnly(ctx, loadConfig())
			if err != nil {
				return err
			}
			defer closeStore()

			cleared, err := usecase.Requeue(ctx, store, ids...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d of %d orders\n", len(cleared), len(ids))
			return nil
		},
	}
}
