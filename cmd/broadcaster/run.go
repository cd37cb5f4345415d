package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emitpy/broadcaster/pkg/log"
	"github.com/emitpy/broadcaster/pkg/metrics"
	"github.com/emitpy/broadcaster/pkg/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the supervisor: load every queue and dispatch until stopped",
	Long: `Run loads every existing queue descriptor, starts a Broadcaster for
each one marked "run", and then watches the store for further descriptor
changes (create, reconfigure, stop, delete) until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		s := cfg.NewStore()
		defer s.Close()

		sup := supervisor.New(s, cfg.SupervisorConfig())

		metrics.SetVersion(Version)
		startMetricsServer(cfg.Observability.MetricsListenAddr)
		log.Logger.Info().Str("addr", cfg.Observability.MetricsListenAddr).Msg("metrics endpoint listening")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			log.Logger.Info().Msg("signal received, shutting down")
			cancel()
		}()

		return sup.Run(ctx)
	},
}
