package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"accessgate/internal/app"
	"accessgate/internal/config"
	"accessgate/internal/queue"
	"accessgate/internal/reconcile"
	"accessgate/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("app init: %w", err)
		}
		defer a.Close()
		return a.Serve(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Driver != config.StorePostgres {
			return fmt.Errorf("migrate requires store driver %q, got %q", config.StorePostgres, cfg.Store.Driver)
		}
		pg, err := store.OpenPostgres(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := store.Migrate(cmd.Context(), pg.DB()); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
		logger.Info().Msg("migrations applied")
		return nil
	},
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Print the effective plan catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		catalog, err := app.LoadCatalog(cfg)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PLAN\tPRICE\tAMOUNT (MINOR)\tDURATION")
		for _, p := range catalog.All() {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", p.ID, p.Price, p.AmountMinor(), p.Duration)
		}
		return tw.Flush()
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-apply grants whose store write failed during webhook handling",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Queue.RedisURL == "" {
			return errors.New("reconcile requires queue.redis_url (AG_QUEUE_REDIS_URL)")
		}
		ctx := cmd.Context()

		backend, err := app.OpenStore(ctx, cfg)
		if err != nil {
			return err
		}
		st := store.WithTimeout(backend, cfg.Store.Timeout)
		defer st.Close()

		q, err := queue.New(cfg.Queue.RedisURL, cfg.Queue.Name)
		if err != nil {
			return err
		}
		defer q.Close()

		report, err := reconcile.NewService(st, q, logger).Run(ctx)
		if err != nil {
			return fmt.Errorf("reconciliation failed: %w", err)
		}
		depth, _ := q.Depth(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "reconciliation complete: applied=%d skipped=%d remaining=%d\n", report.Applied, report.Skipped, depth)
		return nil
	},
}
