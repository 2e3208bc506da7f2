package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createRoomRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	Title         string   `json:"title" binding:"required"`
	Creator       actorDTO `json:"creator"`
}

func (s *Server) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	if !acceptSchemaVersion(req.SchemaVersion) {
		writeError(c, s.log, unsupportedSchemaVersion(req.SchemaVersion))
		return
	}

	roomID, err := s.rooms.CreateRoom(c.Request.Context(), req.WorkspaceID, req.Title, req.Creator.toActor())
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schema_version": CurrentSchemaVersion, "room_id": roomID})
}

func (s *Server) listRooms(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	list, err := s.rooms.ListRooms(c.Request.Context(), workspaceID)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "rooms": list})
}

func (s *Server) getRoom(c *gin.Context) {
	room, err := s.rooms.GetRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "room": room})
}

type createThreadRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	Title         string   `json:"title" binding:"required"`
	Creator       actorDTO `json:"creator"`
}

func (s *Server) createThread(c *gin.Context) {
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	roomID := c.Param("roomId")

	threadID, err := s.rooms.CreateThread(c.Request.Context(), req.WorkspaceID, roomID, req.Title, req.Creator.toActor())
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schema_version": CurrentSchemaVersion, "thread_id": threadID})
}

func (s *Server) listThreads(c *gin.Context) {
	threads, err := s.rooms.ListThreads(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "threads": threads})
}

type postMessageRequest struct {
	SchemaVersion string   `json:"schema_version"`
	WorkspaceID   string   `json:"workspace_id" binding:"required"`
	ThreadID      string   `json:"thread_id"`
	Body          string   `json:"body" binding:"required"`
	Author        actorDTO `json:"author"`
}

func (s *Server) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, s.log, err)
		return
	}
	roomID := c.Param("roomId")

	messageID, err := s.rooms.PostMessage(c.Request.Context(), req.WorkspaceID, roomID, req.ThreadID, req.Body, req.Author.toActor())
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"schema_version": CurrentSchemaVersion, "message_id": messageID})
}

func (s *Server) listMessages(c *gin.Context) {
	roomID := c.Param("roomId")
	threadID := c.Query("thread_id")

	msgs, err := s.rooms.ListMessages(c.Request.Context(), roomID, threadID)
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "messages": msgs})
}
