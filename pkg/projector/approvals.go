package projector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
)

// validApprovalTransitions encodes spec §4.6's state machine:
// pending -> {approved, denied, held}; held -> {approved, denied};
// approved/denied are terminal.
var validApprovalTransitions = map[string]map[string]bool{
	"pending": {"approved": true, "denied": true, "held": true},
	"held":    {"approved": true, "denied": true},
}

// ApprovalsProjector maintains the approvals read model and enforces the
// approval state machine's transition legality (spec §4.6).
type ApprovalsProjector struct{}

func (ApprovalsProjector) Name() string { return "approvals" }

func (ApprovalsProjector) Apply(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	switch env.EventType {
	case "approval.requested":
		return applyApprovalRequested(ctx, tx, env)
	case "approval.decided":
		return applyApprovalDecided(ctx, tx, env)
	}
	return nil
}

func applyApprovalRequested(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	approvalID, _ := env.Data["approval_id"].(string)
	action, _ := env.Data["action"].(string)
	scopeType, _ := env.Data["scope_type"].(string)
	scopeRoomID, _ := env.Data["scope_room_id"].(string)
	scopeRunID, _ := env.Data["scope_run_id"].(string)
	requesterID, _ := env.Data["requester_id"].(string)

	_, err := tx.Exec(ctx, `
		INSERT INTO approvals (
			approval_id, workspace_id, room_id, run_id, action,
			scope_type, scope_room_id, scope_run_id, requester_id,
			status, context, created_at, updated_at, last_event_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending',$10,$11,$11,$12)
		ON CONFLICT (approval_id) DO NOTHING`,
		approvalID, env.WorkspaceID, nullableStr(env.RoomID), nullableStr(env.RunID), action,
		scopeType, nullableStr(scopeRoomID), nullableStr(scopeRunID), requesterID,
		marshalOrNil(env.Data["context"]), env.OccurredAt, env.EventID,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func applyApprovalDecided(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	approvalID, _ := env.Data["approval_id"].(string)
	outcome, _ := env.Data["outcome"].(string)
	deciderID, _ := env.Data["decider_id"].(string)
	comment, _ := env.Data["comment"].(string)
	expiresAt, _ := env.Data["expires_at"].(string)

	var currentStatus string
	row := tx.QueryRow(ctx, `SELECT status FROM approvals WHERE approval_id = $1 FOR UPDATE`, approvalID)
	if err := row.Scan(&currentStatus); err != nil {
		return fmt.Errorf("lookup approval %s: %w", approvalID, err)
	}

	allowed := validApprovalTransitions[currentStatus]
	if !allowed[outcome] {
		if currentStatus == "approved" || currentStatus == "denied" {
			return kerrors.Wrap("already_decided", fmt.Sprintf("approval %s already %s", approvalID, currentStatus), kerrors.ErrAlreadyDecided)
		}
		return kerrors.Wrap("invalid_state", fmt.Sprintf("cannot transition approval %s from %s to %s", approvalID, currentStatus, outcome), kerrors.ErrInvalidState)
	}

	// expires_at is optional (spec §3/§4.6): NULLIF(..., '') keeps the
	// column NULL — never-expiring — when the decision carries none.
	_, err := tx.Exec(ctx, `
		UPDATE approvals
		SET status = $2, decider_id = $3, decided_at = $4, comment = $5,
		    expires_at = NULLIF($6, '')::timestamptz, updated_at = $4, last_event_id = $7
		WHERE approval_id = $1`,
		approvalID, outcome, deciderID, env.OccurredAt, comment, expiresAt, env.EventID)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	return nil
}

func marshalOrNil(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
