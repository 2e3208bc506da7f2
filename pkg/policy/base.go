package policy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// approvalQuerier is the subset of *pgxpool.Pool this layer needs — just
// Query, since it only reads the approvals table.
type approvalQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// BasePolicy implements spec §4.5 layer 5: the catch-all rules for
// external.write and data-access actions, plus the default allow for
// everything else.
type BasePolicy struct {
	exec             approvalQuerier
	killSwitchActive bool
}

func NewBasePolicy(exec approvalQuerier, killSwitchActive bool) *BasePolicy {
	return &BasePolicy{exec: exec, killSwitchActive: killSwitchActive}
}

func (b *BasePolicy) Evaluate(ctx context.Context, req Request) (Decision, error) {
	switch req.Action {
	case "external.write":
		return b.evaluateExternalWrite(ctx, req)
	case "data.read", "data.write":
		return b.evaluateDataAccess(req)
	default:
		return allow("default_allow", fmt.Sprintf("action %s has no specific base policy rule", req.Action)), nil
	}
}

func (b *BasePolicy) evaluateExternalWrite(ctx context.Context, req Request) (Decision, error) {
	if b.killSwitchActive {
		return deny("kill_switch_active", "external write kill-switch is active"), nil
	}

	matched, err := b.hasMatchingApproval(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("policy: check approval match: %w", err)
	}
	if matched {
		return allow("approval_allows_action", "an approved approval's scope covers this action"), nil
	}
	return requireApproval("external_write_requires_approval", "external.write has no matching approved approval"), nil
}

// hasMatchingApproval implements spec §4.5's approval-scope matching: an
// active, approved, unexpired approval for (workspace, action) whose
// scope matches the request. once/template scopes never match here.
func (b *BasePolicy) hasMatchingApproval(ctx context.Context, req Request) (bool, error) {
	rows, err := b.exec.Query(ctx, `
		SELECT scope_type, scope_room_id, scope_run_id
		FROM approvals
		WHERE workspace_id = $1 AND action = $2 AND status = 'approved'
		  AND (expires_at IS NULL OR expires_at > now())`,
		req.WorkspaceID, req.Action)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var scopeType string
		var scopeRoomID, scopeRunID *string
		if err := rows.Scan(&scopeType, &scopeRoomID, &scopeRunID); err != nil {
			return false, err
		}
		if scopeMatches(scopeType, scopeRoomID, scopeRunID, req) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func scopeMatches(scopeType string, scopeRoomID, scopeRunID *string, req Request) bool {
	switch scopeType {
	case "workspace":
		return true
	case "room":
		return scopeRoomID != nil && *scopeRoomID == req.RoomID
	case "run":
		return scopeRunID != nil && *scopeRunID == req.RunID
	default:
		// once/template scopes are intentionally non-matching at this
		// layer (spec §4.5): they must be promoted by a higher-level
		// scheduler before they can allow.
		return false
	}
}

// dataAccessContext mirrors the context.data_access shape spec §4.5
// describes for data.read/data.write requests.
type dataAccessContext struct {
	Label                string `json:"label"`
	RoomID               string `json:"room_id"`
	PurposeHintMismatch  bool   `json:"purpose_hint_mismatch"`
	JustificationProvided bool  `json:"justification_provided"`
}

func (b *BasePolicy) evaluateDataAccess(req Request) (Decision, error) {
	raw, ok := req.Context["data_access"]
	if !ok {
		return allow("default_allow", "no data_access context supplied"), nil
	}
	dc, ok := coerceDataAccessContext(raw)
	if !ok {
		return allow("default_allow", "data_access context malformed, defaulting to allow"), nil
	}

	switch dc.Label {
	case "public", "internal":
		return allow("data_access_label_allows", fmt.Sprintf("label %s is always allowed", dc.Label)), nil
	case "restricted":
		if dc.RoomID != "" && dc.RoomID != req.RoomID {
			return deny("data_access_restricted_room_mismatch", "restricted label's room does not match requesting room"), nil
		}
		return allow("data_access_label_allows", "restricted label's room matches requesting room"), nil
	case "confidential", "sensitive_pii":
		if dc.PurposeHintMismatch && !dc.JustificationProvided {
			return requireApproval("data_access_purpose_hint_mismatch", fmt.Sprintf("%s access with purpose-hint mismatch and no justification", dc.Label)), nil
		}
		return allow("data_access_label_allows", fmt.Sprintf("%s access within declared purpose or justified", dc.Label)), nil
	default:
		return allow("default_allow", fmt.Sprintf("unrecognized data_access label %q", dc.Label)), nil
	}
}

func coerceDataAccessContext(raw any) (dataAccessContext, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return dataAccessContext{}, false
	}
	var dc dataAccessContext
	dc.Label, _ = m["label"].(string)
	dc.RoomID, _ = m["room_id"].(string)
	dc.PurposeHintMismatch, _ = m["purpose_hint_mismatch"].(bool)
	dc.JustificationProvided, _ = m["justification_provided"].(bool)
	return dc, true
}
