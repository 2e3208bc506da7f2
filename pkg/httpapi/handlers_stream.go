package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/livetail"
)

// streamRoom serves the live-tail SSE endpoint (spec §4.9/§6): it streams
// every event appended to a room's stream from from_seq onward, then keeps
// the connection open and emits newly appended events as they arrive.
func (s *Server) streamRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	var fromSeq int64
	if v := c.Query("from_seq"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(c, s.log, invalidInput("from_seq must be an integer"))
			return
		}
		fromSeq = parsed
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, s.log, errors.New("httpapi: streaming unsupported by response writer"))
		return
	}

	c.SSEvent("connected", gin.H{"schema_version": CurrentSchemaVersion, "room_id": roomID, "from_seq": fromSeq})
	flusher.Flush()

	ctx := c.Request.Context()
	lastSeq, err := s.hub.Tail(ctx, roomID, fromSeq, func(env chain.Envelope) error {
		c.SSEvent("event", toEnvelopeDTO(env))
		flusher.Flush()
		return nil
	})

	switch {
	case errors.Is(err, livetail.ErrBackpressure):
		c.SSEvent("disconnect", gin.H{
			"schema_version":  CurrentSchemaVersion,
			"reason_code":     "throttled",
			"resume_from_seq": lastSeq,
		})
		flusher.Flush()
	case err != nil && ctx.Err() == nil:
		s.log.Error("httpapi: live tail ended with error", "error", err, "room_id", roomID)
		c.SSEvent("disconnect", gin.H{
			"schema_version":  CurrentSchemaVersion,
			"reason_code":     "internal_error",
			"resume_from_seq": lastSeq,
		})
		flusher.Flush()
	}
}
