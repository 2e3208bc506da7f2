package httpapi

import "github.com/gin-gonic/gin"

// securityHeaders sets the same standard response headers as the
// teacher's pkg/api/middleware.go's securityHeaders, reimplemented as a
// gin middleware func instead of an echo one.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// schemaVersionGate rejects requests carrying an unsupported schema_version
// query param or JSON body field before any handler runs. Handlers that
// need the body themselves read schema_version again after binding; this
// gate only catches the common case of a version passed as a query param
// on GETs and SSE connections where there's no JSON body to bind.
func schemaVersionGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := c.Query("schema_version"); v != "" && !acceptSchemaVersion(v) {
			c.AbortWithStatusJSON(400, errorEnvelope{
				Error: true, ReasonCode: "invalid_input",
				Reason: "unsupported schema_version " + v,
			})
			return
		}
		c.Next()
	}
}
