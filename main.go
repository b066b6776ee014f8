// Package main provides the entry point for the consultation voice assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Raikerian/consult-voice/internal/app"
	"github.com/Raikerian/consult-voice/internal/assistant"
	"github.com/Raikerian/consult-voice/internal/config"
	"github.com/Raikerian/consult-voice/internal/infrastructure"
	"github.com/Raikerian/consult-voice/internal/observe"
	pkginfra "github.com/Raikerian/consult-voice/pkg/infrastructure"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath   string
	consultation string

	rootCmd = &cobra.Command{
		Use:          "consult-voice",
		Short:        "Talk to a live voice assistant during a consultation",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run,
	}

	checkCmd = &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: provider=%s capture=%s\n",
				cfg.Remote.Provider, cfg.Capture.Backend)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.Flags().StringVar(&consultation, "consultation", "local", "consultation ID to switch the assistant on for")
	rootCmd.AddCommand(checkCmd)
}

func run(_ *cobra.Command, _ []string) error {
	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		observe.Module,

		// Application modules
		assistant.Module,

		fx.Supply(configPath),
		fx.Supply(app.ConsultationID(consultation)),

		// Configure Fx to use our Zap logger for its own internal logging
		fx.WithLogger(pkginfra.NewFxLoggerAdapter),
	)
	if err := application.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err := application.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var exitCode int
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)
	case s := <-application.Done():
		exitCode = s.ExitCode
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if exitCode != 0 {
		return errors.New("assistant session ended with an error")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
