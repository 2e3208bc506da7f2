package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/agentkernel/pkg/policy"
)

type evaluatePolicyRequest struct {
	SchemaVersion    string         `json:"schema_version"`
	Action           string         `json:"action" binding:"required"`
	WorkspaceID      string         `json:"workspace_id"`
	RoomID           string         `json:"room_id"`
	RunID            string         `json:"run_id"`
	ActorPrincipalID string         `json:"actor_principal_id"`
	CapabilityToken  string         `json:"capability_token"`
	ToolName         string         `json:"tool_name"`
	DataTarget       string         `json:"data_target"`
	EgressDomain     string         `json:"egress_domain"`
	Context          map[string]any `json:"context"`
}

type evaluatePolicyResponse struct {
	SchemaVersion string `json:"schema_version"`
	Effect        string `json:"effect"`
	ReasonCode    string `json:"reason_code"`
	Reason        string `json:"reason"`
	Blocked       bool   `json:"blocked"`
}

// evaluatePolicy handles POST /v1/policy/evaluate (spec §6).
func (s *Server) evaluatePolicy(c *gin.Context) {
	var req evaluatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	if !acceptSchemaVersion(req.SchemaVersion) {
		writeError(c, s.log, unsupportedSchemaVersion(req.SchemaVersion))
		return
	}

	dec, err := s.gate.Evaluate(c.Request.Context(), policy.Request{
		Action:           req.Action,
		WorkspaceID:      req.WorkspaceID,
		RoomID:           req.RoomID,
		RunID:            req.RunID,
		ActorPrincipalID: req.ActorPrincipalID,
		CapabilityToken:  req.CapabilityToken,
		ToolName:         req.ToolName,
		DataTarget:       req.DataTarget,
		EgressDomain:     req.EgressDomain,
		Context:          req.Context,
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}

	c.JSON(http.StatusOK, evaluatePolicyResponse{
		SchemaVersion: CurrentSchemaVersion,
		Effect:        string(dec.Effect),
		ReasonCode:    dec.ReasonCode,
		Reason:        dec.Reason,
		Blocked:       dec.Blocked,
	})
}
