package security

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/agentkernel/pkg/chain"
)

// Principal is the stable identity (human, agent, service) to which
// actions and capability tokens are bound (spec GLOSSARY, §3).
type Principal struct {
	PrincipalID    string
	Kind           chain.ActorKind
	StableActorID  string
	DisplayName    string
	QuarantinedAt  *string
}

// IsQuarantined reports whether the principal is currently quarantined
// (spec §4.5 layer 3: quarantine check for egress by a quarantined agent).
func (p Principal) IsQuarantined() bool {
	return p.QuarantinedAt != nil
}

// Principals resolves and manages principal identities against the
// principals table. Separated from pkg/eventstore so the writer's
// "lookup-or-create for legacy actors" step (spec §4.3 step 1) and the
// policy gate's quarantine check (§4.5 layer 3) share one implementation.
type Principals struct {
	exec PGExecutor
}

// PGExecutor is the subset of *pgxpool.Pool / pgx.Tx this package needs,
// letting callers pass either a pool or an in-flight transaction.
type PGExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewPrincipals(exec PGExecutor) *Principals {
	return &Principals{exec: exec}
}

// ResolveOrCreate looks up a principal by (kind, stable_actor_id),
// creating one on first sight — spec §4.3 step 1: "Resolve
// actor_principal_id (lookup-or-create for legacy actors)".
func (p *Principals) ResolveOrCreate(ctx context.Context, kind chain.ActorKind, stableActorID, displayName string) (string, error) {
	row := p.exec.QueryRow(ctx, `
		INSERT INTO principals (principal_id, kind, stable_actor_id, display_name)
		VALUES (gen_random_uuid()::text, $1, $2, $3)
		ON CONFLICT (kind, stable_actor_id) DO UPDATE SET kind = EXCLUDED.kind
		RETURNING principal_id`,
		string(kind), stableActorID, displayName)

	var principalID string
	if err := row.Scan(&principalID); err != nil {
		return "", fmt.Errorf("security: resolve principal: %w", err)
	}
	return principalID, nil
}

// Get fetches a principal by id, used by the quarantine check.
func (p *Principals) Get(ctx context.Context, principalID string) (*Principal, error) {
	row := p.exec.QueryRow(ctx, `
		SELECT principal_id, kind, stable_actor_id, display_name, quarantined_at
		FROM principals WHERE principal_id = $1`, principalID)

	var pr Principal
	var kind string
	var quarantinedAt *string
	if err := row.Scan(&pr.PrincipalID, &kind, &pr.StableActorID, &pr.DisplayName, &quarantinedAt); err != nil {
		return nil, fmt.Errorf("security: get principal: %w", err)
	}
	pr.Kind = chain.ActorKind(kind)
	pr.QuarantinedAt = quarantinedAt
	return &pr, nil
}

// Quarantine marks a principal quarantined, immediately blocking egress
// actions for it at the policy gate's quarantine layer.
func (p *Principals) Quarantine(ctx context.Context, principalID string) error {
	_, err := p.exec.Exec(ctx, `UPDATE principals SET quarantined_at = now() WHERE principal_id = $1`, principalID)
	if err != nil {
		return fmt.Errorf("security: quarantine principal: %w", err)
	}
	return nil
}

// Unquarantine clears a principal's quarantine.
func (p *Principals) Unquarantine(ctx context.Context, principalID string) error {
	_, err := p.exec.Exec(ctx, `UPDATE principals SET quarantined_at = NULL WHERE principal_id = $1`, principalID)
	if err != nil {
		return fmt.Errorf("security: unquarantine principal: %w", err)
	}
	return nil
}
