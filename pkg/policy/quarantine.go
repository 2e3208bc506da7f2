package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

// evaluateQuarantine implements spec §4.5 layer 3: egress attempted by a
// quarantined agent principal is denied outright. A principal with no
// row yet (never resolved through an append) is treated as
// not-quarantined rather than an error.
func evaluateQuarantine(ctx context.Context, principals *security.Principals, req Request) (*Decision, error) {
	if req.EgressDomain == "" || req.ActorPrincipalID == "" {
		return nil, nil
	}

	p, err := principals.Get(ctx, req.ActorPrincipalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("policy: lookup principal for quarantine check: %w", err)
	}
	if p.IsQuarantined() {
		d := deny("agent_quarantined", fmt.Sprintf("principal %s is quarantined", req.ActorPrincipalID))
		return &d, nil
	}
	return nil, nil
}
