package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

// evaluateCapability implements spec §4.5 layer 1. A request with no
// token presented skips the layer entirely (nil, nil); any other
// layer 1 check is only meaningful once a token is supplied.
func evaluateCapability(ctx context.Context, issuer *security.CapabilityIssuer, req Request) (*Decision, error) {
	if req.CapabilityToken == "" {
		return nil, nil
	}

	tok, err := issuer.Verify(ctx, req.CapabilityToken, req.ActorPrincipalID)
	if err != nil {
		switch {
		case errors.Is(err, security.ErrTokenNotFound):
			d := deny("capability_not_found", "capability token not found")
			return &d, nil
		case errors.Is(err, security.ErrTokenRevoked):
			d := deny("capability_revoked", "capability token revoked")
			return &d, nil
		case errors.Is(err, security.ErrTokenExpired):
			d := deny("capability_expired", "capability token expired")
			return &d, nil
		case errors.Is(err, security.ErrTokenInvalid):
			d := deny("capability_invalid", "capability token invalid")
			return &d, nil
		default:
			return nil, fmt.Errorf("policy: verify capability token: %w", err)
		}
	}

	if !tok.Covers(req.RoomID, req.Action, req.ToolName, req.DataTarget, req.EgressDomain) {
		d := deny("capability_scope_mismatch", "capability token scopes do not cover this request")
		return &d, nil
	}

	return nil, nil
}
