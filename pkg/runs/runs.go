// Package runs implements the run-lifecycle operations of spec §4.7:
// create/start/add_step/add_tool_call/add_artifact/complete/fail. Each
// operation appends an event through pkg/eventstore and immediately
// projects it through pkg/projector.RunsProjector, which enforces the
// terminal-state and evidence-required invariants.
package runs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
)

type Service struct {
	pool   *pgxpool.Pool
	store  *eventstore.Store
	engine *projector.Engine
}

func NewService(pool *pgxpool.Pool, store *eventstore.Store, engine *projector.Engine) *Service {
	return &Service{pool: pool, store: store, engine: engine}
}

// Run is the read-model row returned by Get/List.
type Run struct {
	RunID         string `json:"run_id"`
	WorkspaceID   string `json:"workspace_id"`
	RoomID        string `json:"room_id,omitempty"`
	Goal          string `json:"goal"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	ClaimToken    string `json:"claim_token,omitempty"`
	EvidenceRef   string `json:"evidence_ref,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	var roomID, claimToken, evidenceRef, errMsg *string
	err := row.Scan(&r.RunID, &r.WorkspaceID, &roomID, &r.Goal, &r.CorrelationID, &r.Status, &claimToken, &evidenceRef, &errMsg)
	if err != nil {
		return Run{}, err
	}
	if roomID != nil {
		r.RoomID = *roomID
	}
	if claimToken != nil {
		r.ClaimToken = *claimToken
	}
	if evidenceRef != nil {
		r.EvidenceRef = *evidenceRef
	}
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	return r, nil
}

const runColumns = `run_id, workspace_id, room_id, goal, correlation_id, status, claim_token, evidence_ref, error_message`

// Get reads a single run by id.
func (s *Service) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, kerrors.ErrNotFound
		}
		return nil, fmt.Errorf("runs: get: %w", err)
	}
	return &r, nil
}

// List lists runs in a workspace, optionally filtered by status.
func (s *Service) List(ctx context.Context, workspaceID, status string) ([]Run, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+runColumns+` FROM runs WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+runColumns+` FROM runs WHERE workspace_id = $1 AND status = $2 ORDER BY created_at DESC`, workspaceID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("runs: list: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("runs: scan list row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) appendAndProject(ctx context.Context, env chain.Envelope) (chain.Envelope, error) {
	applied, err := s.store.Append(ctx, eventstore.AppendInput{Envelope: env})
	if err != nil {
		return chain.Envelope{}, fmt.Errorf("runs: append %s: %w", env.EventType, err)
	}
	if err := s.engine.ApplyEvent(ctx, applied); err != nil {
		return chain.Envelope{}, fmt.Errorf("runs: project %s: %w", env.EventType, err)
	}
	return applied, nil
}

// CreateInput is the input to Create.
type CreateInput struct {
	WorkspaceID   string
	RoomID        string
	Goal          string
	CorrelationID string
	Creator       chain.Actor
}

// Create appends run.created and returns the new run_id.
func (s *Service) Create(ctx context.Context, in CreateInput) (string, error) {
	runID := uuid.NewString()
	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = runID
	}

	_, err := s.appendAndProject(ctx, chain.Envelope{
		EventType:    "run.created",
		EventVersion: 1,
		WorkspaceID:  in.WorkspaceID,
		RoomID:       in.RoomID,
		RunID:        runID,
		Actor:        in.Creator,
		Zone:         chain.ZoneSupervised,
		StreamType:   chain.StreamWorkspace,
		StreamID:     in.WorkspaceID,
		CorrelationID: correlationID,
		Data:         map[string]any{"goal": in.Goal},
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// Start appends run.started, transitioning a queued run to running.
// claimToken must match the lease the caller holds on runID (spec §4.7
// "requires current state queued and a valid claim token held by actor"),
// enforced atomically by projector.RunsProjector against the runs row.
func (s *Service) Start(ctx context.Context, workspaceID, runID, correlationID, claimToken string, actor chain.Actor) error {
	_, err := s.appendAndProject(ctx, runEnvelope(workspaceID, runID, correlationID, "run.started", actor, map[string]any{
		"claim_token": claimToken,
	}))
	return err
}

// StepInput is the input to AddStep.
type StepInput struct {
	WorkspaceID   string
	RunID         string
	CorrelationID string
	Name          string
	Actor         chain.Actor
}

// AddStep appends run.step_added and returns the new step_id.
func (s *Service) AddStep(ctx context.Context, in StepInput) (string, error) {
	stepID := uuid.NewString()
	env := runEnvelope(in.WorkspaceID, in.RunID, in.CorrelationID, "run.step_added", in.Actor, map[string]any{
		"step_id": stepID,
		"name":    in.Name,
	})
	env.StepID = stepID
	if _, err := s.appendAndProject(ctx, env); err != nil {
		return "", err
	}
	return stepID, nil
}

// ToolCallInput is the input to AddToolCall.
type ToolCallInput struct {
	WorkspaceID   string
	RunID         string
	StepID        string
	CorrelationID string
	ToolName      string
	Arguments     map[string]any
	Result        map[string]any
	Status        string
	Actor         chain.Actor
}

// AddToolCall appends run.tool_call_added and returns the new tool_call_id.
func (s *Service) AddToolCall(ctx context.Context, in ToolCallInput) (string, error) {
	toolCallID := uuid.NewString()
	env := runEnvelope(in.WorkspaceID, in.RunID, in.CorrelationID, "run.tool_call_added", in.Actor, map[string]any{
		"tool_call_id": toolCallID,
		"tool_name":    in.ToolName,
		"arguments":    in.Arguments,
		"result":       in.Result,
		"status":       in.Status,
	})
	env.StepID = in.StepID
	if _, err := s.appendAndProject(ctx, env); err != nil {
		return "", err
	}
	return toolCallID, nil
}

// ArtifactInput is the input to AddArtifact.
type ArtifactInput struct {
	WorkspaceID   string
	RunID         string
	StepID        string
	CorrelationID string
	Kind          string
	URI           string
	Metadata      map[string]any
	Actor         chain.Actor
}

// AddArtifact appends run.artifact_added and returns the new artifact_id.
func (s *Service) AddArtifact(ctx context.Context, in ArtifactInput) (string, error) {
	artifactID := uuid.NewString()
	env := runEnvelope(in.WorkspaceID, in.RunID, in.CorrelationID, "run.artifact_added", in.Actor, map[string]any{
		"artifact_id": artifactID,
		"kind":        in.Kind,
		"uri":         in.URI,
		"metadata":    in.Metadata,
	})
	env.StepID = in.StepID
	if _, err := s.appendAndProject(ctx, env); err != nil {
		return "", err
	}
	return artifactID, nil
}

// Complete appends run.completed. evidenceRef is required by the
// projector's evidence-required invariant, and claimToken must match the
// lease actor holds (spec §4.8 Guarantees: "Run completion by a worker
// without a valid claim is rejected").
func (s *Service) Complete(ctx context.Context, workspaceID, runID, correlationID, evidenceRef, claimToken string, actor chain.Actor) error {
	_, err := s.appendAndProject(ctx, runEnvelope(workspaceID, runID, correlationID, "run.completed", actor, map[string]any{
		"evidence_ref": evidenceRef,
		"claim_token":  claimToken,
	}))
	return err
}

// Fail appends run.failed. evidenceRef is required by the projector's
// evidence-required invariant, and claimToken must match the lease actor
// holds (spec §4.8 Guarantees: "Run completion by a worker without a
// valid claim is rejected").
func (s *Service) Fail(ctx context.Context, workspaceID, runID, correlationID, evidenceRef, errMsg, claimToken string, actor chain.Actor) error {
	_, err := s.appendAndProject(ctx, runEnvelope(workspaceID, runID, correlationID, "run.failed", actor, map[string]any{
		"evidence_ref": evidenceRef,
		"error":        errMsg,
		"claim_token":  claimToken,
	}))
	return err
}

// Cancel appends run.cancelled.
func (s *Service) Cancel(ctx context.Context, workspaceID, runID, correlationID string, actor chain.Actor) error {
	_, err := s.appendAndProject(ctx, runEnvelope(workspaceID, runID, correlationID, "run.cancelled", actor, nil))
	return err
}

func runEnvelope(workspaceID, runID, correlationID, eventType string, actor chain.Actor, data map[string]any) chain.Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return chain.Envelope{
		EventType:    eventType,
		EventVersion: 1,
		WorkspaceID:  workspaceID,
		RunID:        runID,
		Actor:        actor,
		Zone:         chain.ZoneSupervised,
		StreamType:   chain.StreamWorkspace,
		StreamID:     workspaceID,
		CorrelationID: correlationID,
		Data:         data,
	}
}
