// Command missioncontrol runs the governance API, the task queue worker and
// operator tooling for trust zones.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/config"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/logger"
)

// app carries what every subcommand needs after the root pre-run.
type app struct {
	configPath string
	cfg        *config.Config
	closeLog   logger.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := a.rootCmd()
	err := root.ExecuteContext(ctx)
	if a.closeLog != nil {
		a.closeLog.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "missioncontrol",
		Short:         "Trust zone governance service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			log, closer := logger.New(cfg.Logging)
			slog.SetDefault(log)
			a.closeLog = closer
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultConfigFile, "YAML config file (optional)")

	root.AddCommand(a.serveCmd())
	root.AddCommand(a.workerCmd())
	root.AddCommand(a.migrateCmd())
	root.AddCommand(a.zonesCmd())
	root.AddCommand(a.eventsCmd())
	return root
}
