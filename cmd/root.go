// Package cmd defines the CLI commands for the threadharvest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harvesterlabs/threadharvest/internal/app"
	"github.com/harvesterlabs/threadharvest/internal/config"
	"github.com/harvesterlabs/threadharvest/internal/store"
)

var cfgFile string

type appKeyType struct{}

// App is the slice of app.App the commands need. Keeping it an interface
// lets tests inject a fake through the factory below.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Runs() *store.RunStore
	SubmitRun(ctx context.Context, query string) (string, error)
	ExecuteRun(ctx context.Context, runID, query string) (store.RunRecord, error)
}

// newApp is the application factory, replaceable in tests.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threadharvest",
		Short: "Harvests two-tier comment threads for a query",
		Long: `threadharvest discovers items for a query, harvests each item's root
comments and their replies under a shared deadline, and assembles the
results into a single text artifact.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKeyType{}, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKeyType{}).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKeyType{}).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
