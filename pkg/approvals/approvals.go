// Package approvals implements the two operations of the approvals state
// machine (spec §4.6): request and decide. Both are thin wrappers that
// append an event through pkg/eventstore; all state-machine legality is
// enforced by pkg/projector.ApprovalsProjector inside the same
// transaction the event is applied in.
package approvals

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
	"github.com/codeready-toolchain/agentkernel/pkg/projector"
)

// Scope mirrors spec §4.5's approval-scope descriptor.
type Scope struct {
	Type   string `json:"scope_type"`
	RoomID string `json:"scope_room_id,omitempty"`
	RunID  string `json:"scope_run_id,omitempty"`
}

// RequestInput is the input to Request.
type RequestInput struct {
	WorkspaceID string
	RoomID      string
	RunID       string
	Action      string
	Scope       Scope
	Requester   chain.Actor
	Context     map[string]any
}

// Service wires the event store and projection engine together for the
// approvals operations.
type Service struct {
	pool   *pgxpool.Pool
	store  *eventstore.Store
	engine *projector.Engine
}

func NewService(pool *pgxpool.Pool, store *eventstore.Store, engine *projector.Engine) *Service {
	return &Service{pool: pool, store: store, engine: engine}
}

// Approval is the read-model row returned by Get/List.
type Approval struct {
	ApprovalID  string         `json:"approval_id"`
	WorkspaceID string         `json:"workspace_id"`
	RoomID      string         `json:"room_id,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Action      string         `json:"action"`
	ScopeType   string         `json:"scope_type"`
	RequesterID string         `json:"requester_id"`
	Status      string         `json:"status"`
	DeciderID   string         `json:"decider_id,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

func scanApproval(row pgx.Row) (Approval, error) {
	var a Approval
	var roomID, runID, deciderID, comment *string
	var contextJSON []byte
	err := row.Scan(
		&a.ApprovalID, &a.WorkspaceID, &roomID, &runID, &a.Action, &a.ScopeType,
		&a.RequesterID, &a.Status, &deciderID, &comment, &contextJSON,
	)
	if err != nil {
		return Approval{}, err
	}
	if roomID != nil {
		a.RoomID = *roomID
	}
	if runID != nil {
		a.RunID = *runID
	}
	if deciderID != nil {
		a.DeciderID = *deciderID
	}
	if comment != nil {
		a.Comment = *comment
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &a.Context); err != nil {
			return Approval{}, fmt.Errorf("approvals: unmarshal context: %w", err)
		}
	}
	return a, nil
}

const approvalColumns = `approval_id, workspace_id, room_id, run_id, action, scope_type, requester_id, status, decider_id, comment, context`

// Get reads a single approval by id.
func (s *Service) Get(ctx context.Context, approvalID string) (*Approval, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE approval_id = $1`, approvalID)
	a, err := scanApproval(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, kerrors.ErrNotFound
		}
		return nil, fmt.Errorf("approvals: get: %w", err)
	}
	return &a, nil
}

// List lists approvals in a workspace, optionally filtered by status.
func (s *Service) List(ctx context.Context, workspaceID, status string) ([]Approval, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE workspace_id = $1 AND status = $2 ORDER BY created_at DESC`, workspaceID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("approvals: list: %w", err)
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("approvals: scan list row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Request appends approval.requested and returns the new approval_id
// (spec §4.6: "request(action, scope, requester, context) → approval_id").
func (s *Service) Request(ctx context.Context, in RequestInput) (string, error) {
	approvalID := uuid.NewString()

	streamType, streamID := chain.StreamWorkspace, in.WorkspaceID
	if in.RoomID != "" {
		streamType, streamID = chain.StreamRoom, in.RoomID
	}

	env, err := s.store.Append(ctx, eventstore.AppendInput{Envelope: chain.Envelope{
		EventType:    "approval.requested",
		EventVersion: 1,
		WorkspaceID:  in.WorkspaceID,
		RoomID:       in.RoomID,
		RunID:        in.RunID,
		Actor:        in.Requester,
		Zone:         chain.ZoneSupervised,
		StreamType:   streamType,
		StreamID:     streamID,
		Data: map[string]any{
			"approval_id":   approvalID,
			"action":        in.Action,
			"scope_type":    in.Scope.Type,
			"scope_room_id": in.Scope.RoomID,
			"scope_run_id":  in.Scope.RunID,
			"requester_id":  in.Requester.ActorID,
			"context":       in.Context,
		},
	}})
	if err != nil {
		return "", fmt.Errorf("approvals: append approval.requested: %w", err)
	}

	if err := s.engine.ApplyEvent(ctx, env); err != nil {
		return "", fmt.Errorf("approvals: project approval.requested: %w", err)
	}
	return approvalID, nil
}

// DecideInput is the input to Decide.
type DecideInput struct {
	ApprovalID  string
	WorkspaceID string
	RoomID      string
	Outcome     string // approved | denied | held
	Decider     chain.Actor
	Comment     string
	// ExpiresAt is the approval's optional expiry (spec §3/§4.6): once
	// set, pkg/policy's BasePolicy treats the approval as usable only
	// while expires_at is NULL or in the future. Zero value means no
	// expiry.
	ExpiresAt time.Time
}

// Decide appends approval.decided; the projector enforces the state
// transition and surfaces invalid_state/already_decided on a violation
// (spec §4.6).
func (s *Service) Decide(ctx context.Context, in DecideInput) error {
	streamType, streamID := chain.StreamWorkspace, in.WorkspaceID
	if in.RoomID != "" {
		streamType, streamID = chain.StreamRoom, in.RoomID
	}

	data := map[string]any{
		"approval_id": in.ApprovalID,
		"outcome":     in.Outcome,
		"decider_id":  in.Decider.ActorID,
		"comment":     in.Comment,
	}
	if !in.ExpiresAt.IsZero() {
		data["expires_at"] = in.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	env, err := s.store.Append(ctx, eventstore.AppendInput{Envelope: chain.Envelope{
		EventType:    "approval.decided",
		EventVersion: 1,
		WorkspaceID:  in.WorkspaceID,
		RoomID:       in.RoomID,
		Actor:        in.Decider,
		Zone:         chain.ZoneSupervised,
		StreamType:   streamType,
		StreamID:     streamID,
		Data:         data,
	}})
	if err != nil {
		return fmt.Errorf("approvals: append approval.decided: %w", err)
	}

	if err := s.engine.ApplyEvent(ctx, env); err != nil {
		return fmt.Errorf("approvals: project approval.decided: %w", err)
	}
	return nil
}
