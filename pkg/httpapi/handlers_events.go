package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
)

func (s *Server) queryEvents(c *gin.Context) {
	var fromSeq int64
	if v := c.Query("from_seq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(c, s.log, invalidInput("from_seq must be an integer"))
			return
		}
		fromSeq = parsed
	}

	var limit int
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, s.log, invalidInput("limit must be an integer"))
			return
		}
		limit = parsed
	}

	events, err := s.events.Query(c.Request.Context(), eventstore.QueryFilter{
		StreamType:    c.Query("stream_type"),
		StreamID:      c.Query("stream_id"),
		FromSeq:       fromSeq,
		RunID:         c.Query("run_id"),
		CorrelationID: c.Query("correlation_id"),
		Limit:         limit,
	})
	if err != nil {
		writeError(c, s.log, err)
		return
	}

	dtos := make([]envelopeDTO, 0, len(events))
	for _, env := range events {
		dtos = append(dtos, toEnvelopeDTO(env))
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "events": dtos})
}

func (s *Server) getEvent(c *gin.Context) {
	env, err := s.events.GetByID(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		writeError(c, s.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_version": CurrentSchemaVersion, "event": toEnvelopeDTO(*env)})
}
