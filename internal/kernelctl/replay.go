package kernelctl

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/dbx"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
)

// ReplayResult reports how many events one projector replayed for a stream.
type ReplayResult struct {
	Projector  string `json:"projector"`
	StreamType string `json:"stream_type"`
	StreamID   string `json:"stream_id"`
	EventCount int    `json:"event_count"`
}

// resetQueries maps a projector name and the stream scope it was rebuilt
// from to the DELETE statement that clears the rows that stream's events
// would have produced, matching each projector's Apply (pkg/projector's
// rooms.go/runs.go/approvals.go) write-scope columns.
var resetQueries = map[string]map[chain.StreamType]string{
	"rooms": {
		chain.StreamRoom: "DELETE FROM rooms WHERE room_id = $1",
	},
	"runs": {
		chain.StreamWorkspace: "DELETE FROM runs WHERE workspace_id = $1",
	},
	"approvals": {
		chain.StreamWorkspace: "DELETE FROM approvals WHERE workspace_id = $1",
		chain.StreamRoom:      "DELETE FROM approvals WHERE room_id = $1",
	},
}

func projectorByName(name string) (projector.Projector, error) {
	switch name {
	case "rooms":
		return projector.RoomsProjector{}, nil
	case "runs":
		return projector.RunsProjector{}, nil
	case "approvals":
		return projector.ApprovalsProjector{}, nil
	default:
		return nil, fmt.Errorf("unknown projector %q (want rooms, runs, or approvals)", name)
	}
}

func newReplayCommand(rootOpts *RootOptions) *cobra.Command {
	var projectorName, streamType, streamID string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild one projector's read model for a single stream from its events",
		Long: `Truncates the rows one projector wrote for a given (stream_type, stream_id)
stream and replays that stream's events through it from scratch
(pkg/projector.Engine.Rebuild).

Note: Rebuild clears the projector's exactly-once ledger rows for every
stream it has ever processed, not just this one (spec §4.4's ledger is
keyed by (projector_name, event_id) with no stream scope). Events this
projector already applied for OTHER streams are re-applied harmlessly
on their own next replay, but until then this projector's ledger no
longer reflects them — safe for a single-stream dev/ops replay, not a
substitute for a full projector rebuild across every stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := runReplay(cmd.Context(), rootOpts, projectorName, streamType, streamID)
			if err != nil {
				return err
			}
			if err := PrintResult(cmd.OutOrStdout(), rootOpts.JSON, result, printReplayText); err != nil {
				return WrapExitError(ExitCommandError, "failed to print result", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectorName, "projector", "", "projector to replay: rooms, runs, or approvals (required)")
	cmd.Flags().StringVar(&streamType, "stream-type", "", "stream type: workspace or room (required)")
	cmd.Flags().StringVar(&streamID, "stream-id", "", "stream id (required)")
	_ = cmd.MarkFlagRequired("projector")
	_ = cmd.MarkFlagRequired("stream-type")
	_ = cmd.MarkFlagRequired("stream-id")

	return cmd
}

func runReplay(ctx context.Context, rootOpts *RootOptions, projectorName, streamType, streamID string) (*ReplayResult, error) {
	p, err := projectorByName(projectorName)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid projector", err)
	}
	resetQuery, ok := resetQueries[projectorName][chain.StreamType(streamType)]
	if !ok {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("projector %q cannot be replayed from a %q stream", projectorName, streamType))
	}

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
	envs, err := store.ListSince(ctx, streamType, streamID, 0)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list stream events", err)
	}

	engine := projector.NewEngine(pool.Pool, p)
	reset := func(ctx context.Context) error {
		_, err := pool.Pool.Exec(ctx, resetQuery, streamID)
		return err
	}
	if err := engine.Rebuild(ctx, p, reset, envs); err != nil {
		return nil, WrapExitError(ExitCommandError, "rebuild failed", err)
	}

	return &ReplayResult{Projector: projectorName, StreamType: streamType, StreamID: streamID, EventCount: len(envs)}, nil
}

func printReplayText(w io.Writer, v any) error {
	r := v.(*ReplayResult)
	_, err := fmt.Fprintf(w, "replayed %d events through %q for %s/%s\n", r.EventCount, r.Projector, r.StreamType, r.StreamID)
	return err
}
