package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/agentkernel/pkg/approvals"
)

type requestApprovalRequest struct {
	SchemaVersion string         `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id" binding:"required"`
	RoomID        string         `json:"room_id"`
	RunID         string         `json:"run_id"`
	Action        string         `json:"action" binding:"required"`
	ScopeType     string         `json:"scope_type" binding:"required"`
	ScopeRoomID   string         `json:"scope_room_id"`
	ScopeRunID    string         `json:"scope_run_id"`
	Requester     actorDTO       `json:"requester"`
	Context       map[string]any `json:"context"`
}

func (s *Server) requestApproval(c *gin.Context) {
	var req requestApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}

	approvalID, err := s.approvals.Request(c.Request.Context(), approvals.RequestInput{
		WorkspaceID: req.WorkspaceID,
		RoomID:      req.RoomID,
		RunID:       req.RunID,
		Action:      req.Action,
		Scope:       approvals.Scope{Type: req.ScopeType, RoomID: req.ScopeRoomID, RunID: req.ScopeRunID},
		Requester:   req.Requester.toActor(),
		Context:     req.Context,
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schema_version": CurrentSchemaVersion, "approval_id": approvalID})
}

func (s *Server) listApprovals(c *gin.Context) {
	list, err := s.approvals.List(c.Request.Context(), c.Query("workspace_id"), c.Query("status"))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "approvals": list})
}

func (s *Server) getApproval(c *gin.Context) {
	a, err := s.approvals.Get(c.Request.Context(), c.Param("approvalId"))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "approval": a})
}

type decideApprovalRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	RoomID        string   `json:"room_id"`
	Outcome       string   `json:"outcome" binding:"required"`
	Decider       actorDTO `json:"decider"`
	Comment       string   `json:"comment"`
	// ExpiresAt is optional (spec §3/§4.6): RFC3339, empty means no expiry.
	ExpiresAt string `json:"expires_at"`
}

func (s *Server) decideApproval(c *gin.Context) {
	var req decideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(c, s.log, err)
			return
		}
		expiresAt = parsed
	}

	err := s.approvals.Decide(c.Request.Context(), approvals.DecideInput{
		ApprovalID:  c.Param("approvalId"),
		WorkspaceID: req.WorkspaceID,
		RoomID:      req.RoomID,
		Outcome:     req.Outcome,
		Decider:     req.Decider.toActor(),
		Comment:     req.Comment,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "status": "decided"})
}
