package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/queue"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/service"
)

func (a *app) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued lifecycle and notification tasks and run the escalation sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			in, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer in.close()

			svc, err := a.buildServices(ctx, in, nil)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.runWorker(gctx, in, svc) })
			g.Go(func() error {
				watchReload(gctx, in.vault)
				return nil
			})
			return g.Wait()
		},
	}
}

// runWorker registers the task handlers, starts the sweeper and blocks
// until ctx is canceled.
func (a *app) runWorker(ctx context.Context, in *infra, svc *services) error {
	w := service.NewWorker(svc.queue, a.cfg.Queue)
	w.SetMetrics(in.metrics)
	w.Register(queue.TypeLifecycleReconcile, svc.lifecycle.HandleReconcile, 0)
	w.Register(queue.TypeLegacy, svc.lifecycle.HandleReconcile, 0)
	w.Register(queue.TypeGovernanceNotification, svc.notifications.HandleNotification, 0)

	sweeper, err := service.NewEscalationSweeper(svc.escalations, a.cfg.Escalation.SweepSchedule)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	return w.Run(ctx)
}
