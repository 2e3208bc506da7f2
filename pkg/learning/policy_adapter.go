package learning

import (
	"context"

	"github.com/codeready-toolchain/agentkernel/pkg/policy"
)

// PolicyAdapter satisfies policy.LearningSink by converting a gate
// Request/Decision pair into an Entry before handing it to a
// *BoundedSink — keeping BoundedSink itself free of a dependency on
// pkg/policy.
type PolicyAdapter struct {
	sink *BoundedSink
}

func NewPolicyAdapter(sink *BoundedSink) PolicyAdapter {
	return PolicyAdapter{sink: sink}
}

func (a PolicyAdapter) RecordNegativeDecision(ctx context.Context, req policy.Request, dec policy.Decision) error {
	return a.sink.RecordNegativeDecision(ctx, Entry{
		Action:      req.Action,
		WorkspaceID: req.WorkspaceID,
		RoomID:      req.RoomID,
		RunID:       req.RunID,
		PrincipalID: req.ActorPrincipalID,
		Effect:      string(dec.Effect),
		ReasonCode:  dec.ReasonCode,
		Reason:      dec.Reason,
		Context:     req.Context,
	})
}
