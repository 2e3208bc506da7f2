package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/agentkernel/pkg/kerrors"
)

// errorEnvelope is the wire shape of every non-2xx response (spec §6/§7):
// {error: true, reason_code, reason, details}.
type errorEnvelope struct {
	Error      bool           `json:"error"`
	ReasonCode string         `json:"reason_code"`
	Reason     string         `json:"reason"`
	Details    map[string]any `json:"details,omitempty"`
}

// reasonStatus maps a closed reason_code catalog entry to the HTTP status
// a caller should treat it as (spec §7's error taxonomy).
var reasonStatus = map[string]int{
	"not_found":           http.StatusNotFound,
	"already_exists":      http.StatusConflict,
	"invalid_input":       http.StatusBadRequest,
	"invalid_state":       http.StatusConflict,
	"already_decided":     http.StatusConflict,
	"lease_lost":          http.StatusConflict,
	"evidence_required":   http.StatusUnprocessableEntity,
	"allocation_failure":  http.StatusConflict,
	"hash_chain_break":    http.StatusInternalServerError,
	"secret_detected":     http.StatusUnprocessableEntity,
	"idempotent_replay":   http.StatusOK,
	"throttled":           http.StatusTooManyRequests,
	"cancelled":           http.StatusConflict,
	"kill_switch_active":  http.StatusForbidden,
}

// unsupportedSchemaVersion builds the invalid_input error for a request
// body's schema_version falling outside the accepted current-or-previous-
// minor window (spec §6).
func unsupportedSchemaVersion(v string) error {
	return kerrors.New("invalid_input", "unsupported schema_version "+v)
}

// invalidInput builds a generic invalid_input error for request parameters
// that fail validation outside of struct binding (query params, path
// params).
func invalidInput(reason string) error {
	return kerrors.New("invalid_input", reason)
}

// writeError maps err onto the wire error envelope and writes it, mirroring
// the teacher's pkg/api/errors.go's mapServiceError — errors.As/errors.Is
// against the known sentinel/typed errors, falling back to a logged 500 for
// anything unexpected.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	if ke, ok := kerrors.As(err); ok {
		status, known := reasonStatus[string(ke.ReasonCode)]
		if !known {
			status = http.StatusBadRequest
		}
		c.JSON(status, errorEnvelope{
			Error:      true,
			ReasonCode: string(ke.ReasonCode),
			Reason:     ke.Reason,
			Details:    ke.Details,
		})
		return
	}

	if kerrors.IsValidationError(err) {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: true, ReasonCode: "invalid_input", Reason: err.Error()})
		return
	}

	if errors.Is(err, kerrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorEnvelope{Error: true, ReasonCode: "not_found", Reason: "resource not found"})
		return
	}
	if errors.Is(err, kerrors.ErrAlreadyExists) {
		c.JSON(http.StatusConflict, errorEnvelope{Error: true, ReasonCode: "already_exists", Reason: "resource already exists"})
		return
	}
	if errors.Is(err, kerrors.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: true, ReasonCode: "invalid_input", Reason: err.Error()})
		return
	}

	log.Error("httpapi: unexpected error", "error", err)
	c.JSON(http.StatusInternalServerError, errorEnvelope{
		Error: true, ReasonCode: "internal_error", Reason: "internal server error",
	})
}
