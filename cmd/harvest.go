package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest <query>",
		Short: "Runs one harvest end to end and prints the artifact",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runHarvestCommand,
	}
}

func runHarvestCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return errors.New("query must not be empty")
	}

	runID, err := appInstance.SubmitRun(cmd.Context(), query)
	if err != nil {
		return fmt.Errorf("submit run: %w", err)
	}

	record, err := appInstance.ExecuteRun(cmd.Context(), runID, query)
	if err != nil {
		return fmt.Errorf("execute run: %w", err)
	}

	appInstance.Logger().Info("harvest finished",
		zap.String("run_id", record.ID),
		zap.String("artifact_uri", record.ArtifactURI),
	)
	cmd.Println(record.Rendered)
	return nil
}
