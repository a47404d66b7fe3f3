package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"kurz/internal/deps"
	"kurz/internal/engine"
	"kurz/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Process queued runs until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := deps.Missing(deps.Check(rt.cfg)); err != nil {
				return err
			}

			lock := flock.New(rt.cfg.LockPath())
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock %s: %w", rt.cfg.LockPath(), err)
			}
			if !ok {
				return fmt.Errorf("another kurz instance holds %s", rt.cfg.LockPath())
			}
			defer lock.Unlock()

			serveCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			mgr := engine.NewManager(rt.cfg, rt.engine, rt.store, rt.logger)
			if err := mgr.Start(serveCtx); err != nil {
				return err
			}

			rt.logger.Info("kurz serving",
				logging.String("database", rt.store.Path()),
				logging.String("lock", rt.cfg.LockPath()))
			fmt.Fprintln(cmd.OutOrStdout(), "Processing runs; press Ctrl-C to stop")

			<-serveCtx.Done()
			mgr.Stop()
			rt.logger.Info("kurz stopped")
			return nil
		},
	}
}
