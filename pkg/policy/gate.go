package policy

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
	"github.com/codeready-toolchain/agentkernel/pkg/config"
	"github.com/codeready-toolchain/agentkernel/pkg/eventstore"
	"github.com/codeready-toolchain/agentkernel/pkg/metrics"
	"github.com/codeready-toolchain/agentkernel/pkg/security"
)

// LearningSink records negative decisions for later analysis. Failures
// are logged and otherwise ignored — spec §4.5: "records a
// learning-from-failure entry (best-effort; learning failures never
// abort the gate)".
type LearningSink interface {
	RecordNegativeDecision(ctx context.Context, req Request, dec Decision) error
}

// Gate is the policy gate of spec §4.5: five ordered layers, the first
// non-null result wins, with enforcement-mode-aware blocking and
// negative-decision side effects.
type Gate struct {
	registry  *Registry
	principals *security.Principals
	capability *security.CapabilityIssuer
	egress     *security.EgressLimiter
	base       *BasePolicy

	events  *eventstore.Store
	learning LearningSink

	mode EnforcementMode
	log  *slog.Logger
}

// EnforcementMode mirrors config.EnforcementMode to keep pkg/policy
// decoupled from pkg/config's other concerns; Gate.Mode accepts the
// config value directly.
type EnforcementMode = config.EnforcementMode

func NewGate(
	registry *Registry,
	principals *security.Principals,
	capability *security.CapabilityIssuer,
	egress *security.EgressLimiter,
	base *BasePolicy,
	events *eventstore.Store,
	learning LearningSink,
	mode EnforcementMode,
	log *slog.Logger,
) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		registry: registry, principals: principals, capability: capability,
		egress: egress, base: base, events: events, learning: learning,
		mode: mode, log: log,
	}
}

// Evaluate runs the five decision layers in order and applies
// enforcement-mode and side-effect semantics.
func (g *Gate) Evaluate(ctx context.Context, req Request) (Decision, error) {
	dec, err := g.decide(ctx, req)
	if err != nil {
		return Decision{}, err
	}

	dec.Blocked = dec.Effect != Allow && g.mode == config.ModeEnforce
	metrics.RecordPolicyDecision(req.Action, string(dec.Effect), dec.ReasonCode)

	if dec.Effect != Allow {
		g.recordSideEffects(ctx, req, dec)
	}

	return dec, nil
}

func (g *Gate) decide(ctx context.Context, req Request) (Decision, error) {
	if g.capability != nil {
		if d, err := evaluateCapability(ctx, g.capability, req); err != nil {
			return Decision{}, err
		} else if d != nil {
			return *d, nil
		}
	}

	if g.registry != nil {
		if d, err := g.registry.Evaluate(req, zoneFromContext(req)); err != nil {
			return Decision{}, err
		} else if d != nil {
			return *d, nil
		}
	}

	if g.principals != nil {
		if d, err := evaluateQuarantine(ctx, g.principals, req); err != nil {
			return Decision{}, err
		} else if d != nil {
			return *d, nil
		}
	}

	if g.egress != nil {
		if d, err := evaluateEgressQuota(ctx, g.egress, req); err != nil {
			return Decision{}, err
		} else if d != nil {
			return *d, nil
		}
	}

	return g.base.Evaluate(ctx, req)
}

// zoneFromContext extracts the acting zone from the request context, if
// supplied, defaulting to supervised (spec §4.2's default zone).
func zoneFromContext(req Request) chain.Zone {
	if z, ok := req.Context["zone"].(string); ok && z != "" {
		return chain.Zone(z)
	}
	return chain.ZoneSupervised
}

// recordSideEffects appends the negative-decision event and calls the
// learning sink, per spec §4.5's "Side effects" paragraph. Both are
// best-effort: failures are logged, never returned, since a logging
// failure must not itself block or corrupt the gate's decision.
func (g *Gate) recordSideEffects(ctx context.Context, req Request, dec Decision) {
	if g.events != nil {
		eventType := "policy.requires_approval"
		if dec.Effect == Deny {
			eventType = "policy.denied"
		}

		streamType := chain.StreamWorkspace
		streamID := req.WorkspaceID
		if req.RoomID != "" {
			streamType = chain.StreamRoom
			streamID = req.RoomID
		}

		env := chain.Envelope{
			EventID:      uuid.NewString(),
			EventType:    eventType,
			EventVersion: 1,
			WorkspaceID:  req.WorkspaceID,
			RoomID:       req.RoomID,
			RunID:        req.RunID,
			Actor:        chain.Actor{Kind: chain.ActorService, ActorID: "policy-gate"},
			ActorPrincipalID: req.ActorPrincipalID,
			Zone:         zoneFromContext(req),
			StreamType:   streamType,
			StreamID:     streamID,
			CorrelationID: req.Action,
			Data: map[string]any{
				"action":      req.Action,
				"reason_code": dec.ReasonCode,
				"reason":      dec.Reason,
				"blocked":     dec.Blocked,
			},
		}
		if _, err := g.events.Append(ctx, eventstore.AppendInput{Envelope: env}); err != nil {
			g.log.Error("policy gate: failed to append negative-decision event", "error", err, "action", req.Action)
		}
	}

	if g.learning != nil {
		if err := g.learning.RecordNegativeDecision(ctx, req, dec); err != nil {
			g.log.Warn("policy gate: learning sink failed", "error", err, "action", req.Action)
		}
	}
}
