package kernelctl

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/agentkernel/pkg/dbx"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/runs"
)

func newInspectRunCommand(rootOpts *RootOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "inspect-run",
		Short: "Print a run's current projected state",
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := runInspectRun(cmd.Context(), rootOpts, runID)
			if err != nil {
				return err
			}
			if err := PrintResult(cmd.OutOrStdout(), rootOpts.JSON, run, printInspectRunText); err != nil {
				return WrapExitError(ExitCommandError, "failed to print result", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run id to inspect (required)")
	_ = cmd.MarkFlagRequired("run-id")

	return cmd
}

func runInspectRun(ctx context.Context, rootOpts *RootOptions, runID string) (*runs.Run, error) {
	cfg, err := rootOpts.Config()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	pool, err := dbx.Open(ctx, cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to database", err)
	}
	defer pool.Close()

	store := eventstore.New(pool.Pool, nil, nil)
	svc := runs.NewService(pool.Pool, store, nil)
	run, err := svc.Get(ctx, runID)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to fetch run", err)
	}
	return run, nil
}

func printInspectRunText(w io.Writer, v any) error {
	r := v.(*runs.Run)
	_, err := fmt.Fprintf(w, "run_id=%s workspace_id=%s status=%s goal=%q claim_token=%s evidence_ref=%s error=%s\n",
		r.RunID, r.WorkspaceID, r.Status, r.Goal, r.ClaimToken, r.EvidenceRef, r.ErrorMessage)
	return err
}
