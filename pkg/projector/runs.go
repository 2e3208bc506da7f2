package projector

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
)

// terminalRunStates are absorbing per spec §4.7: "A terminal run rejects
// further state-changing events."
var terminalRunStates = map[string]bool{
	"succeeded": true, "failed": true, "cancelled": true, "timed_out": true,
}

// RunsProjector maintains the runs/steps/tool_calls/artifacts read models
// from the run lifecycle event stream (spec §4.7) and the claim-lease
// coordinator's audit events (spec §4.8).
type RunsProjector struct{}

func (RunsProjector) Name() string { return "runs" }

func (RunsProjector) Apply(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	switch env.EventType {
	case "run.created":
		return applyRunCreated(ctx, tx, env)
	case "run.started":
		return applyRunStarted(ctx, tx, env)
	case "run.completed":
		return applyRunTerminalClaimed(ctx, tx, env, "succeeded")
	case "run.failed":
		return applyRunTerminalClaimed(ctx, tx, env, "failed")
	case "run.cancelled":
		return applyRunTerminal(ctx, tx, env, "cancelled")
	case "run.timed_out":
		return applyRunTerminal(ctx, tx, env, "timed_out")
	case "run.step_added":
		return applyStepAdded(ctx, tx, env)
	case "run.tool_call_added":
		return applyToolCallAdded(ctx, tx, env)
	case "run.artifact_added":
		return applyArtifactAdded(ctx, tx, env)
	case "run.claimed":
		return applyRunClaimed(ctx, tx, env)
	case "run.lease_expired":
		return applyRunLeaseExpired(ctx, tx, env)
	}
	return nil
}

func applyRunCreated(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	goal, _ := env.Data["goal"].(string)
	_, err := tx.Exec(ctx, `
		INSERT INTO runs (run_id, workspace_id, room_id, goal, correlation_id, status, created_at, updated_at, last_event_id)
		VALUES ($1,$2,$3,$4,$5,'queued',$6,$6,$7)
		ON CONFLICT (run_id) DO NOTHING`,
		env.RunID, env.WorkspaceID, nullableStr(env.RoomID), goal, env.CorrelationID, env.OccurredAt, env.EventID)
	return err
}

// runClaimRow is the subset of a runs row needed to verify claim
// ownership, read FOR UPDATE so the check and the subsequent write are
// atomic against a concurrent claim/heartbeat/release.
type runClaimRow struct {
	status         string
	claimToken     *string
	claimedBy      *string
	leaseExpiresAt *time.Time
}

func loadRunForUpdate(ctx context.Context, tx pgx.Tx, runID string) (runClaimRow, error) {
	var r runClaimRow
	row := tx.QueryRow(ctx, `
		SELECT status, claim_token, claimed_by_actor_id, lease_expires_at
		FROM runs WHERE run_id = $1 FOR UPDATE`, runID)
	if err := row.Scan(&r.status, &r.claimToken, &r.claimedBy, &r.leaseExpiresAt); err != nil {
		return r, fmt.Errorf("lookup run %s: %w", runID, err)
	}
	return r, nil
}

// verifyClaimOwnership enforces spec §4.7/§4.8's trust boundary: the
// actor driving a claimed-run state change must hold an unexpired lease
// under the claim_token it presents. Used by both run.started (which
// additionally requires status == queued) and the run.completed/
// run.failed terminal-write path (spec §4.8 Guarantees: "Run completion
// by a worker without a valid claim is rejected").
func verifyClaimOwnership(run runClaimRow, runID, claimToken, actorID string) error {
	if run.claimToken == nil || *run.claimToken != claimToken || claimToken == "" {
		return kerrors.Wrap("lease_lost", fmt.Sprintf("run %s claim token mismatch", runID), kerrors.ErrLeaseLost)
	}
	if run.claimedBy == nil || *run.claimedBy != actorID {
		return kerrors.Wrap("lease_lost", fmt.Sprintf("run %s is not claimed by actor %s", runID, actorID), kerrors.ErrLeaseLost)
	}
	if run.leaseExpiresAt == nil || run.leaseExpiresAt.Before(time.Now()) {
		return kerrors.Wrap("lease_lost", fmt.Sprintf("run %s lease has expired", runID), kerrors.ErrLeaseLost)
	}
	return nil
}

func applyRunStarted(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	run, err := loadRunForUpdate(ctx, tx, env.RunID)
	if err != nil {
		return err
	}
	if terminalRunStates[run.status] {
		return kerrors.Wrap("invalid_state", fmt.Sprintf("run %s is terminal (%s); rejecting further state change", env.RunID, run.status), kerrors.ErrInvalidState)
	}
	if run.status != "queued" {
		return kerrors.Wrap("invalid_state", fmt.Sprintf("run %s is %s, not queued; cannot start", env.RunID, run.status), kerrors.ErrInvalidState)
	}
	claimToken, _ := env.Data["claim_token"].(string)
	if err := verifyClaimOwnership(run, env.RunID, claimToken, env.Actor.ActorID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE runs SET status = 'running', updated_at = $2, last_event_id = $3 WHERE run_id = $1`,
		env.RunID, env.OccurredAt, env.EventID)
	return err
}

func applyRunTerminal(ctx context.Context, tx pgx.Tx, env chain.Envelope, terminalStatus string) error {
	run, err := loadRunForUpdate(ctx, tx, env.RunID)
	if err != nil {
		return err
	}
	if terminalRunStates[run.status] {
		return kerrors.Wrap("invalid_state", fmt.Sprintf("run %s is terminal (%s); rejecting further state change", env.RunID, run.status), kerrors.ErrInvalidState)
	}
	return writeRunTerminal(ctx, tx, env, terminalStatus)
}

// applyRunTerminalClaimed is applyRunTerminal plus the claim-ownership
// check spec §4.8 Guarantees requires of a worker's own completion/
// failure report (run.cancelled/run.timed_out go through applyRunTerminal
// instead — those are not claim-holder self-reports).
func applyRunTerminalClaimed(ctx context.Context, tx pgx.Tx, env chain.Envelope, terminalStatus string) error {
	run, err := loadRunForUpdate(ctx, tx, env.RunID)
	if err != nil {
		return err
	}
	if terminalRunStates[run.status] {
		return kerrors.Wrap("invalid_state", fmt.Sprintf("run %s is terminal (%s); rejecting further state change", env.RunID, run.status), kerrors.ErrInvalidState)
	}
	claimToken, _ := env.Data["claim_token"].(string)
	if err := verifyClaimOwnership(run, env.RunID, claimToken, env.Actor.ActorID); err != nil {
		return err
	}
	return writeRunTerminal(ctx, tx, env, terminalStatus)
}

func writeRunTerminal(ctx context.Context, tx pgx.Tx, env chain.Envelope, terminalStatus string) error {
	evidenceRef, _ := env.Data["evidence_ref"].(string)
	if (terminalStatus == "succeeded" || terminalStatus == "failed") && evidenceRef == "" {
		return kerrors.Wrap("evidence_required", fmt.Sprintf("run %s cannot terminate %s without an evidence_ref", env.RunID, terminalStatus), kerrors.ErrEvidenceRequired)
	}
	errMsg, _ := env.Data["error"].(string)
	_, err := tx.Exec(ctx, `
		UPDATE runs
		SET status = $2, evidence_ref = NULLIF($3, ''), error_message = NULLIF($4, ''),
		    claim_token = NULL, claimed_by_actor_id = NULL, lease_expires_at = NULL, lease_heartbeat_at = NULL,
		    updated_at = $5, last_event_id = $6
		WHERE run_id = $1`,
		env.RunID, terminalStatus, evidenceRef, errMsg, env.OccurredAt, env.EventID)
	return err
}

func applyStepAdded(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	stepID, _ := env.Data["step_id"].(string)
	name, _ := env.Data["name"].(string)
	_, err := tx.Exec(ctx, `
		INSERT INTO steps (step_id, run_id, correlation_id, name, status, stream_seq, created_at)
		VALUES ($1,$2,$3,$4,'running',$5,$6)
		ON CONFLICT (step_id) DO NOTHING`,
		stepID, env.RunID, env.CorrelationID, name, env.StreamSeq, env.OccurredAt)
	return err
}

func applyToolCallAdded(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	toolCallID, _ := env.Data["tool_call_id"].(string)
	toolName, _ := env.Data["tool_name"].(string)
	args := marshalOrNil(env.Data["arguments"])
	result := marshalOrNil(env.Data["result"])
	status, _ := env.Data["status"].(string)
	if status == "" {
		status = "pending"
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO tool_calls (tool_call_id, run_id, step_id, correlation_id, tool_name, arguments, result, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tool_call_id) DO NOTHING`,
		toolCallID, env.RunID, nullableStr(env.StepID), env.CorrelationID, toolName, args, result, status, env.OccurredAt)
	return err
}

func applyArtifactAdded(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	artifactID, _ := env.Data["artifact_id"].(string)
	kind, _ := env.Data["kind"].(string)
	uri, _ := env.Data["uri"].(string)
	metadata := marshalOrNil(env.Data["metadata"])
	_, err := tx.Exec(ctx, `
		INSERT INTO artifacts (artifact_id, run_id, step_id, correlation_id, kind, uri, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (artifact_id) DO NOTHING`,
		artifactID, env.RunID, nullableStr(env.StepID), env.CorrelationID, kind, uri, metadata, env.OccurredAt)
	return err
}

func applyRunClaimed(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	claimToken, _ := env.Data["claim_token"].(string)
	claimedBy, _ := env.Data["claimed_by_actor_id"].(string)
	leaseExpiresAt, _ := env.Data["lease_expires_at"].(string)
	_, err := tx.Exec(ctx, `
		UPDATE runs
		SET claim_token = $2, claimed_by_actor_id = $3, lease_expires_at = $4::timestamptz,
		    lease_heartbeat_at = $5, claimed_at = $5, updated_at = $5, last_event_id = $6
		WHERE run_id = $1`,
		env.RunID, claimToken, claimedBy, leaseExpiresAt, env.OccurredAt, env.EventID)
	return err
}

func applyRunLeaseExpired(ctx context.Context, tx pgx.Tx, env chain.Envelope) error {
	_, err := tx.Exec(ctx, `
		UPDATE runs
		SET status = 'queued', claim_token = NULL, claimed_by_actor_id = NULL,
		    lease_expires_at = NULL, lease_heartbeat_at = NULL, claimed_at = NULL,
		    updated_at = $2, last_event_id = $3
		WHERE run_id = $1`,
		env.RunID, env.OccurredAt, env.EventID)
	return err
}
