package approvals_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/agentkernel/internal/testutil"
	"github.com/codeready-toolchain/agentkernel/pkg/approvals"
	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/policy"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

func newTestService(t *testing.T) *approvals.Service {
	t.Helper()
	pool := testutil.NewPool(t)
	principals := security.NewPrincipals(pool.Pool)
	store := eventstore.New(pool.Pool, principals, nil)
	engine := projector.NewEngine(pool.Pool, projector.ApprovalsProjector{})
	return approvals.NewService(pool.Pool, store, engine)
}

func TestApprovals_RequestThenDecideApproved(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approvalID, err := svc.Request(ctx, approvals.RequestInput{
		WorkspaceID: "ws-1",
		Action:      "external.write",
		Scope:       approvals.Scope{Type: "workspace"},
		Requester:   chain.Actor{Kind: chain.ActorUser, ActorID: "u1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, approvalID)

	err = svc.Decide(ctx, approvals.DecideInput{
		ApprovalID:  approvalID,
		WorkspaceID: "ws-1",
		Outcome:     "approved",
		Decider:     chain.Actor{Kind: chain.ActorUser, ActorID: "u2"},
	})
	require.NoError(t, err)
}

func TestApprovals_SecondDecisionRejectedAlreadyDecided(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approvalID, err := svc.Request(ctx, approvals.RequestInput{
		WorkspaceID: "ws-2",
		Action:      "external.write",
		Scope:       approvals.Scope{Type: "workspace"},
		Requester:   chain.Actor{Kind: chain.ActorUser, ActorID: "u1"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Decide(ctx, approvals.DecideInput{
		ApprovalID: approvalID, WorkspaceID: "ws-2", Outcome: "denied",
		Decider: chain.Actor{Kind: chain.ActorUser, ActorID: "u2"},
	}))

	err = svc.Decide(ctx, approvals.DecideInput{
		ApprovalID: approvalID, WorkspaceID: "ws-2", Outcome: "approved",
		Decider: chain.Actor{Kind: chain.ActorUser, ActorID: "u3"},
	})
	require.Error(t, err)
	var ke *kerrors.KernelError
	require.True(t, errors.As(err, &ke))
	require.Equal(t, kerrors.ReasonCode("already_decided"), ke.ReasonCode)
}

func TestApprovals_GetAndListReflectDecision(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	approvalID, err := svc.Request(ctx, approvals.RequestInput{
		WorkspaceID: "ws-3",
		Action:      "external.write",
		Scope:       approvals.Scope{Type: "workspace"},
		Requester:   chain.Actor{Kind: chain.ActorUser, ActorID: "u1"},
		Context:     map[string]any{"note": "quarterly export"},
	})
	require.NoError(t, err)

	pending, err := svc.Get(ctx, approvalID)
	require.NoError(t, err)
	require.Equal(t, "pending", pending.Status)
	require.Equal(t, "quarterly export", pending.Context["note"])

	require.NoError(t, svc.Decide(ctx, approvals.DecideInput{
		ApprovalID: approvalID, WorkspaceID: "ws-3", Outcome: "approved",
		Decider: chain.Actor{Kind: chain.ActorUser, ActorID: "u2"},
	}))

	decided, err := svc.Get(ctx, approvalID)
	require.NoError(t, err)
	require.Equal(t, "approved", decided.Status)
	require.Equal(t, "u2", decided.DeciderID)

	list, err := svc.List(ctx, "ws-3", "approved")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, approvalID, list[0].ApprovalID)

	_, err = svc.Get(ctx, "missing")
	require.ErrorIs(t, err, kerrors.ErrNotFound)
}

// TestApprovals_ExpiredApprovalNoLongerMatchesGate exercises the full path
// review comment 4 fixed: Decide threads expires_at into the event, the
// projector persists it, and pkg/policy.BasePolicy's approval lookup
// (which already filtered on expires_at) now actually has a past expiry
// to exclude.
func TestApprovals_ExpiredApprovalNoLongerMatchesGate(t *testing.T) {
	pool := testutil.NewPool(t)
	principals := security.NewPrincipals(pool.Pool)
	store := eventstore.New(pool.Pool, principals, nil)
	engine := projector.NewEngine(pool.Pool, projector.ApprovalsProjector{})
	svc := approvals.NewService(pool.Pool, store, engine)
	base := policy.NewBasePolicy(pool.Pool, false)
	ctx := context.Background()

	approvalID, err := svc.Request(ctx, approvals.RequestInput{
		WorkspaceID: "ws-9",
		Action:      "external.write",
		Scope:       approvals.Scope{Type: "workspace"},
		Requester:   chain.Actor{Kind: chain.ActorUser, ActorID: "u1"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Decide(ctx, approvals.DecideInput{
		ApprovalID: approvalID, WorkspaceID: "ws-9", Outcome: "approved",
		Decider:   chain.Actor{Kind: chain.ActorUser, ActorID: "u2"},
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	decision, err := base.Evaluate(ctx, policy.Request{Action: "external.write", WorkspaceID: "ws-9"})
	require.NoError(t, err)
	require.Equal(t, policy.RequireApproval, decision.Effect)
}

func TestApprovals_UnexpiredApprovalMatchesGate(t *testing.T) {
	pool := testutil.NewPool(t)
	principals := security.NewPrincipals(pool.Pool)
	store := eventstore.New(pool.Pool, principals, nil)
	engine := projector.NewEngine(pool.Pool, projector.ApprovalsProjector{})
	svc := approvals.NewService(pool.Pool, store, engine)
	base := policy.NewBasePolicy(pool.Pool, false)
	ctx := context.Background()

	approvalID, err := svc.Request(ctx, approvals.RequestInput{
		WorkspaceID: "ws-10",
		Action:      "external.write",
		Scope:       approvals.Scope{Type: "workspace"},
		Requester:   chain.Actor{Kind: chain.ActorUser, ActorID: "u1"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Decide(ctx, approvals.DecideInput{
		ApprovalID: approvalID, WorkspaceID: "ws-10", Outcome: "approved",
		Decider:   chain.Actor{Kind: chain.ActorUser, ActorID: "u2"},
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	decision, err := base.Evaluate(ctx, policy.Request{Action: "external.write", WorkspaceID: "ws-10"})
	require.NoError(t, err)
	require.Equal(t, policy.Allow, decision.Effect)
}
