package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pbaille/followup/internal/api"
	"github.com/pbaille/followup/internal/domain"
	"github.com/pbaille/followup/internal/ingest"
	"github.com/pbaille/followup/internal/metrics"
	"github.com/pbaille/followup/internal/scheduler"
)

func serveCmd() *cobra.Command {
	var addr string
	var noRescan bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, rescan scheduler and spool watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Addr = addr
			}

			m := metrics.New()
			rt, hub, err := serveApp(m)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			server := api.New(rt.engine, api.Options{
				Addr:        cfg.Addr,
				CORSOrigins: cfg.CORSOrigins,
				Decoder:     ingest.Decoder{OwnerProfileID: cfg.OwnerID},
				Hub:         hub,
				Metrics:     m,
				Logger:      rt.logger,
			})
			g.Go(func() error { return server.Run(ctx) })

			if !noRescan && cfg.RescanCron != "" {
				sched := &scheduler.Scheduler{
					Name:       "rescan",
					Cron:       cfg.RescanCron,
					RunAtStart: true,
					Logger:     rt.logger,
					Job: func(ctx context.Context) error {
						_, err := rt.engine.Rescan(ctx)
						return err
					},
				}
				g.Go(func() error { return sched.Run(ctx) })
			}

			if cfg.SpoolDir != "" {
				spool := &ingest.SpoolWatcher{
					Dir:     cfg.SpoolDir,
					Decoder: ingest.Decoder{OwnerProfileID: cfg.OwnerID},
					Logger:  rt.logger,
					Ingest: func(ctx context.Context, ev domain.RawEvent) error {
						_, err := rt.engine.Ingest(ctx, ev)
						return err
					},
				}
				g.Go(func() error { return spool.Run(ctx) })
			}

			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (overrides FOLLOWUP_ADDR)")
	cmd.Flags().BoolVar(&noRescan, "no-rescan", false, "disable the periodic rescan")
	return cmd
}

func serveApp(m *metrics.Metrics) (*app, *api.Hub, error) {
	// The hub logs through slog.Default, which getApp replaces.
	hub := api.NewHub(nil)
	rt, err := getApp(hub, m)
	if err != nil {
		return nil, nil, err
	}
	return rt, hub, nil
}
