package runs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/claims"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
	"github.com/codeready-toolchain/agentkernel/pkg/runs"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func newTestService(t *testing.T) (*runs.Service, *claims.Coordinator) {
	t.Helper()
	pool := testutil.NewPool(t)
	principals := security.NewPrincipals(pool.Pool)
	store := eventstore.New(pool.Pool, principals, nil)
	engine := projector.NewEngine(pool.Pool, projector.RunsProjector{})
	coord := claims.NewCoordinator(pool.Pool, store, engine, claims.Config{
		LeaseDuration:        time.Minute,
		HeartbeatMinInterval: 10 * time.Millisecond,
		MaxClaimAge:          time.Hour,
	}, nil)
	return runs.NewService(pool.Pool, store, engine), coord
}

func agentActor() chain.Actor {
	return chain.Actor{Kind: chain.ActorAgent, ActorID: "worker-1"}
}

// claimRun claims runID on behalf of "worker-1" and returns the claim
// token, which every claim-gated lifecycle call below must present.
func claimRun(t *testing.T, coord *claims.Coordinator, workspaceID, runID string) string {
	t.Helper()
	claimed, err := coord.Claim(context.Background(), workspaceID, "worker-1", 10)
	require.NoError(t, err)
	for _, c := range claimed {
		if c.RunID == runID {
			return c.ClaimToken
		}
	}
	require.Fail(t, "run not claimed", "run_id=%s", runID)
	return ""
}

func TestRuns_FullLifecycleHappyPath(t *testing.T) {
	svc, coord := newTestService(t)
	ctx := context.Background()

	runID, err := svc.Create(ctx, runs.CreateInput{
		WorkspaceID: "ws-1", Goal: "investigate incident", Creator: agentActor(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	token := claimRun(t, coord, "ws-1", runID)
	require.NoError(t, svc.Start(ctx, "ws-1", runID, "", token, agentActor()))

	stepID, err := svc.AddStep(ctx, runs.StepInput{
		WorkspaceID: "ws-1", RunID: runID, Name: "gather logs", Actor: agentActor(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, stepID)

	toolCallID, err := svc.AddToolCall(ctx, runs.ToolCallInput{
		WorkspaceID: "ws-1", RunID: runID, StepID: stepID,
		ToolName: "log_search", Arguments: map[string]any{"query": "error"},
		Status: "succeeded", Actor: agentActor(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, toolCallID)

	artifactID, err := svc.AddArtifact(ctx, runs.ArtifactInput{
		WorkspaceID: "ws-1", RunID: runID, StepID: stepID,
		Kind: "report", URI: "s3://bucket/report.txt", Actor: agentActor(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, artifactID)

	require.NoError(t, svc.Complete(ctx, "ws-1", runID, "", "s3://bucket/evidence.json", token, agentActor()))
}

func TestRuns_CompleteWithoutEvidenceRejected(t *testing.T) {
	svc, coord := newTestService(t)
	ctx := context.Background()

	runID, err := svc.Create(ctx, runs.CreateInput{WorkspaceID: "ws-2", Goal: "g", Creator: agentActor()})
	require.NoError(t, err)
	token := claimRun(t, coord, "ws-2", runID)
	require.NoError(t, svc.Start(ctx, "ws-2", runID, "", token, agentActor()))

	err = svc.Complete(ctx, "ws-2", runID, "", "", token, agentActor())
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("evidence_required"), ke.ReasonCode)
}

func TestRuns_TerminalRunRejectsFurtherEvents(t *testing.T) {
	svc, coord := newTestService(t)
	ctx := context.Background()

	runID, err := svc.Create(ctx, runs.CreateInput{WorkspaceID: "ws-3", Goal: "g", Creator: agentActor()})
	require.NoError(t, err)
	token := claimRun(t, coord, "ws-3", runID)
	require.NoError(t, svc.Start(ctx, "ws-3", runID, "", token, agentActor()))
	require.NoError(t, svc.Complete(ctx, "ws-3", runID, "", "s3://evidence.json", token, agentActor()))

	err = svc.Start(ctx, "ws-3", runID, "", token, agentActor())
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("invalid_state"), ke.ReasonCode)
}

func TestRuns_StartWithoutClaimRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	runID, err := svc.Create(ctx, runs.CreateInput{WorkspaceID: "ws-5", Goal: "g", Creator: agentActor()})
	require.NoError(t, err)

	err = svc.Start(ctx, "ws-5", runID, "", "no-such-token", agentActor())
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("lease_lost"), ke.ReasonCode)
}

func TestRuns_StartWithAnotherActorsClaimRejected(t *testing.T) {
	svc, coord := newTestService(t)
	ctx := context.Background()

	runID, err := svc.Create(ctx, runs.CreateInput{WorkspaceID: "ws-6", Goal: "g", Creator: agentActor()})
	require.NoError(t, err)
	token := claimRun(t, coord, "ws-6", runID)

	impostor := chain.Actor{Kind: chain.ActorAgent, ActorID: "worker-2"}
	err = svc.Start(ctx, "ws-6", runID, "", token, impostor)
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("lease_lost"), ke.ReasonCode)
}

func TestRuns_CompleteWithoutClaimRejected(t *testing.T) {
	svc, coord := newTestService(t)
	ctx := context.Background()

	runID, err := svc.Create(ctx, runs.CreateInput{WorkspaceID: "ws-7", Goal: "g", Creator: agentActor()})
	require.NoError(t, err)
	token := claimRun(t, coord, "ws-7", runID)
	require.NoError(t, svc.Start(ctx, "ws-7", runID, "", token, agentActor()))

	err = svc.Complete(ctx, "ws-7", runID, "", "s3://evidence.json", "wrong-token", agentActor())
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("lease_lost"), ke.ReasonCode)
}

func TestRuns_GetAndListReflectLifecycle(t *testing.T) {
	svc, coord := newTestService(t)
	ctx := context.Background()

	runID, err := svc.Create(ctx, runs.CreateInput{WorkspaceID: "ws-4", Goal: "investigate", Creator: agentActor()})
	require.NoError(t, err)

	queued, err := svc.Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, "queued", queued.Status)
	require.Equal(t, "investigate", queued.Goal)

	token := claimRun(t, coord, "ws-4", runID)
	require.NoError(t, svc.Start(ctx, "ws-4", runID, "", token, agentActor()))
	require.NoError(t, svc.Complete(ctx, "ws-4", runID, "", "s3://evidence.json", token, agentActor()))

	done, err := svc.Get(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, "succeeded", done.Status)
	require.Equal(t, "s3://evidence.json", done.EvidenceRef)

	list, err := svc.List(ctx, "ws-4", "succeeded")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, runID, list[0].RunID)

	_, err = svc.Get(ctx, "missing-run")
	require.ErrorIs(t, err, kerrors.ErrNotFound)
}
