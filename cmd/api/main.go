package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/inspectsync/inspectsync-go/internal/config"
	"github.com/inspectsync/inspectsync-go/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config
	var closeLog func() error

	root := &cobra.Command{
		Use:           "inspectsync",
		Short:         "Offline sync API for inspector mobile clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				slog.Warn("no .env file found, using environment variables")
			}
			cfg = config.Load()

			_, closer := logging.Setup(logging.Options{
				Level:      cfg.LogLevel,
				Format:     cfg.LogFormat,
				File:       cfg.LogFile,
				MaxSizeMB:  cfg.LogMaxSizeMB,
				MaxBackups: cfg.LogMaxBackups,
				MaxAgeDays: cfg.LogMaxAgeDays,
			})
			closeLog = closer.Close
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeLog != nil {
				closeLog()
			}
		},
	}

	cfgFn := func() config.Config { return cfg }
	serve := newServeCmd(cfgFn)
	root.RunE = serve.RunE
	root.AddCommand(serve, newMigrateCmd(cfgFn), newTokenCmd(cfgFn))
	return root
}
