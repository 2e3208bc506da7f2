package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/agentkernel/pkg/runs"
)

type createRunRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	RoomID        string   `json:"room_id"`
	Goal          string   `json:"goal" binding:"required"`
	CorrelationID string   `json:"correlation_id"`
	Creator       actorDTO `json:"creator"`
}

func (s *Server) createRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}

	runID, err := s.runs.Create(c.Request.Context(), runs.CreateInput{
		WorkspaceID:   req.WorkspaceID,
		RoomID:        req.RoomID,
		Goal:          req.Goal,
		CorrelationID: req.CorrelationID,
		Creator:       req.Creator.toActor(),
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schema_version": CurrentSchemaVersion, "run_id": runID})
}

func (s *Server) listRuns(c *gin.Context) {
	list, err := s.runs.List(c.Request.Context(), c.Query("workspace_id"), c.Query("status"))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "runs": list})
}

func (s *Server) getRun(c *gin.Context) {
	r, err := s.runs.Get(c.Request.Context(), c.Param("runId"))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "run": r})
}

type lifecycleRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	CorrelationID string   `json:"correlation_id"`
	ClaimToken    string   `json:"claim_token" binding:"required"`
	Actor         actorDTO `json:"actor"`
}

func (s *Server) startRun(c *gin.Context) {
	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	if err := s.runs.Start(c.Request.Context(), req.WorkspaceID, c.Param("runId"), req.CorrelationID, req.ClaimToken, req.Actor.toActor()); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "status": "running"})
}

type addStepRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	CorrelationID string   `json:"correlation_id"`
	Name          string   `json:"name" binding:"required"`
	Actor         actorDTO `json:"actor"`
}

func (s *Server) addRunStep(c *gin.Context) {
	var req addStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	stepID, err := s.runs.AddStep(c.Request.Context(), runs.StepInput{
		WorkspaceID:   req.WorkspaceID,
		RunID:         c.Param("runId"),
		CorrelationID: req.CorrelationID,
		Name:          req.Name,
		Actor:         req.Actor.toActor(),
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schema_version": CurrentSchemaVersion, "step_id": stepID})
}

type addToolCallRequest struct {
	SchemaVersion string         `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id" binding:"required"`
	StepID        string         `json:"step_id"`
	CorrelationID string         `json:"correlation_id"`
	ToolName      string         `json:"tool_name" binding:"required"`
	Arguments     map[string]any `json:"arguments"`
	Result        map[string]any `json:"result"`
	Status        string         `json:"status" binding:"required"`
	Actor         actorDTO       `json:"actor"`
}

func (s *Server) addRunToolCall(c *gin.Context) {
	var req addToolCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	toolCallID, err := s.runs.AddToolCall(c.Request.Context(), runs.ToolCallInput{
		WorkspaceID:   req.WorkspaceID,
		RunID:         c.Param("runId"),
		StepID:        req.StepID,
		CorrelationID: req.CorrelationID,
		ToolName:      req.ToolName,
		Arguments:     req.Arguments,
		Result:        req.Result,
		Status:        req.Status,
		Actor:         req.Actor.toActor(),
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schema_version": CurrentSchemaVersion, "tool_call_id": toolCallID})
}

type addArtifactRequest struct {
	SchemaVersion string         `json:"schema_version"`
	WorkspaceID   string         `json:"workspace_id" binding:"required"`
	StepID        string         `json:"step_id"`
	CorrelationID string         `json:"correlation_id"`
	Kind          string         `json:"kind" binding:"required"`
	URI           string         `json:"uri" binding:"required"`
	Metadata      map[string]any `json:"metadata"`
	Actor         actorDTO       `json:"actor"`
}

func (s *Server) addRunArtifact(c *gin.Context) {
	var req addArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	artifactID, err := s.runs.AddArtifact(c.Request.Context(), runs.ArtifactInput{
		WorkspaceID:   req.WorkspaceID,
		RunID:         c.Param("runId"),
		StepID:        req.StepID,
		CorrelationID: req.CorrelationID,
		Kind:          req.Kind,
		URI:           req.URI,
		Metadata:      req.Metadata,
		Actor:         req.Actor.toActor(),
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schema_version": CurrentSchemaVersion, "artifact_id": artifactID})
}

type completeRunRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	CorrelationID string   `json:"correlation_id"`
	EvidenceRef   string   `json:"evidence_ref" binding:"required"`
	ClaimToken    string   `json:"claim_token" binding:"required"`
	Actor         actorDTO `json:"actor"`
}

func (s *Server) completeRun(c *gin.Context) {
	var req completeRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	if err := s.runs.Complete(c.Request.Context(), req.WorkspaceID, c.Param("runId"), req.CorrelationID, req.EvidenceRef, req.ClaimToken, req.Actor.toActor()); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "status": "succeeded"})
}

type failRunRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	CorrelationID string   `json:"correlation_id"`
	EvidenceRef   string   `json:"evidence_ref" binding:"required"`
	Error         string   `json:"error" binding:"required"`
	ClaimToken    string   `json:"claim_token" binding:"required"`
	Actor         actorDTO `json:"actor"`
}

func (s *Server) failRun(c *gin.Context) {
	var req failRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	if err := s.runs.Fail(c.Request.Context(), req.WorkspaceID, c.Param("runId"), req.CorrelationID, req.EvidenceRef, req.Error, req.ClaimToken, req.Actor.toActor()); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "status": "failed"})
}

type claimRunsRequest struct {
	SchemaVersion string `json:"schema_version"`
	WorkspaceID   string `json:"workspace_id"`
	ActorID       string `json:"actor_id" binding:"required"`
	BatchLimit    int    `json:"batch_limit"`
}

func (s *Server) claimRuns(c *gin.Context) {
	var req claimRunsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	claimed, err := s.claims.Claim(c.Request.Context(), req.WorkspaceID, req.ActorID, req.BatchLimit)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "claimed": claimed})
}

type heartbeatRunRequest struct {
	SchemaVersion string `json:"schema_version"`
	ClaimToken    string `json:"claim_token" binding:"required"`
}

func (s *Server) heartbeatRun(c *gin.Context) {
	var req heartbeatRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	result, err := s.claims.Heartbeat(c.Request.Context(), c.Param("runId"), req.ClaimToken)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "result": string(result)})
}

type releaseRunRequest struct {
	SchemaVersion string `json:"schema_version"`
	ClaimToken    string `json:"claim_token" binding:"required"`
	FinalState    string `json:"final_state" binding:"required"`
}

func (s *Server) releaseRun(c *gin.Context) {
	var req releaseRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	if err := s.claims.Release(c.Request.Context(), c.Param("runId"), req.ClaimToken, req.FinalState); err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "status": "released"})
}
