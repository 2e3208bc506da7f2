package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

// evaluateEgressQuota implements spec §4.5 layer 4: an hourly per-principal
// egress budget, denied once exhausted.
func evaluateEgressQuota(ctx context.Context, limiter *security.EgressLimiter, req Request) (*Decision, error) {
	if req.EgressDomain == "" || req.ActorPrincipalID == "" {
		return nil, nil
	}

	err := limiter.Allow(ctx, req.ActorPrincipalID, req.EgressDomain)
	if err == nil {
		return nil, nil
	}
	if errors.Is(err, security.ErrEgressQuotaExceeded) {
		d := deny("quota_exceeded", fmt.Sprintf("principal %s exceeded hourly egress quota", req.ActorPrincipalID))
		return &d, nil
	}
	return nil, fmt.Errorf("policy: egress quota check: %w", err)
}
