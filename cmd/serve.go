package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dialer-engine/internal/api"
	"github.com/sells-group/dialer-engine/internal/leaks"
	"github.com/sells-group/dialer-engine/internal/monitoring"
	"github.com/sells-group/dialer-engine/internal/queue"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background engine loops",
	Long: `Serve the dispatch, reporting and admin API, and run the recurring
engine loops in-process: the stale-lease sweep, inbound auto-dispatch,
attribution backfill, the leak monitor, and the health checker. Discovery
and aging stay on their own schedules via the discover and age commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		pool := e.Store.Pool()
		queues := queue.New(pool)
		monitor := leaks.NewMonitor(e.Scanner, cfg.Leaks)

		collector := monitoring.NewCollector(pool, e.Runs, queues, e.Scanner, e.Ledger, e.Agents)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		serverCfg := cfg.Server
		if servePort != 0 {
			serverCfg.Port = servePort
		}
		srv := api.New(serverCfg, api.Deps{
			Dispatch:    e.Dispatch,
			Queues:      queues,
			Conversions: e.Ledger,
			Leaks:       e.Scanner,
			Monitor:     monitor,
			Agents:      e.Agents,
			Runs:        e.Runs,
			Health:      collector,
			LeakWindow:  time.Duration(cfg.Leaks.ScanWindowHours) * time.Hour,
		})

		monitor.Start(ctx)
		defer monitor.Stop()

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "serve: listen")
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			grace := time.Duration(cfg.Server.ShutdownGraceSecs) * time.Second
			shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			zap.L().Info("shutting down api server")
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			return runEvery(ctx, "sweep", cfg.Server.SweepIntervalSecs, func(ctx context.Context) error {
				_, err := e.Dispatch.Sweep(ctx)
				return err
			})
		})

		g.Go(func() error {
			return runEvery(ctx, "inbound dispatch", cfg.Server.DispatchIntervalSecs, func(ctx context.Context) error {
				_, err := e.Dispatch.DispatchWaiting(ctx)
				return err
			})
		})

		g.Go(func() error {
			return runEvery(ctx, "attribution backfill", cfg.Server.BackfillIntervalSecs, func(ctx context.Context) error {
				_, err := e.Ledger.BackfillAttribution(ctx)
				return err
			})
		})

		g.Go(func() error {
			checker.Run(ctx)
			return nil
		})

		return g.Wait()
	},
}

// runEvery calls fn on a fixed interval until ctx is cancelled. Loop errors
// are logged and retried on the next tick; only cancellation ends the loop.
func runEvery(ctx context.Context, name string, intervalSecs int, fn func(context.Context) error) error {
	if intervalSecs <= 0 {
		return nil
	}
	ticker := time.NewTicker(time.Duration(intervalSecs) * time.Second)
	defer ticker.Stop()

	log := zap.L().With(zap.String("loop", name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("loop pass failed", zap.Error(err))
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
