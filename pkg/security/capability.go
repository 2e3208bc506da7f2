package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
)

func marshalScopes(scopes CapabilityScopes) ([]byte, error) {
	b, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("security: marshal scopes: %w", err)
	}
	return b, nil
}

// CapabilityScopes mirrors spec §3's scopes object: room ids, action
// types, tool names, data targets, and egress domains a token is allowed
// to exercise.
type CapabilityScopes struct {
	RoomIDs      []string `json:"room_ids,omitempty"`
	ActionTypes  []string `json:"action_types,omitempty"`
	ToolNames    []string `json:"tool_names,omitempty"`
	DataTargets  []string `json:"data_targets,omitempty"`
	EgressDomains []string `json:"egress_domains,omitempty"`
}

// capabilityClaims is the JWT claim set carrying a capability token's
// scopes (spec §4.5 layer 1). Tokens are HMAC-signed (golang-jwt/jwt/v5,
// grounded in Mindburn-Labs-helm's go.mod — see DESIGN.md) but are not
// purely stateless: every verification also checks the DB revocation
// table, since the spec requires tokens to be revocable.
type capabilityClaims struct {
	jwt.RegisteredClaims
	TokenID     string           `json:"tid"`
	PrincipalID string           `json:"pid"`
	Scopes      CapabilityScopes `json:"scopes"`
}

// CapabilityToken is a verified, unrevoked capability token (spec
// GLOSSARY: "a scoped, revocable credential enforced by the policy gate").
type CapabilityToken struct {
	TokenID     string
	PrincipalID string
	Scopes      CapabilityScopes
	ExpiresAt   time.Time
}

// Covers reports whether the token's scopes permit the given request
// facets. Any facet left empty by the caller is not checked (e.g. a
// request with no tool name doesn't need a tool_names match).
func (t CapabilityToken) Covers(roomID, actionType, toolName, dataTarget, egressDomain string) bool {
	return matches(t.Scopes.RoomIDs, roomID) &&
		matches(t.Scopes.ActionTypes, actionType) &&
		matches(t.Scopes.ToolNames, toolName) &&
		matches(t.Scopes.DataTargets, dataTarget) &&
		matches(t.Scopes.EgressDomains, egressDomain)
}

func matches(allowed []string, want string) bool {
	if want == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == want || a == "*" {
			return true
		}
	}
	return false
}

var (
	ErrTokenNotFound = errors.New("capability_token_not_found")
	ErrTokenRevoked  = errors.New("capability_token_revoked")
	ErrTokenExpired  = errors.New("capability_token_expired")
	ErrTokenInvalid  = errors.New("capability_token_invalid")
)

// CapabilityIssuer issues and verifies capability tokens. Revocation
// checks are cached with an LRU (hashicorp/golang-lru/v2) so the hot path
// of verifying a token on every policy evaluation doesn't hit the DB on
// every call; the cache is intentionally small-TTL-free and invalidated
// eagerly on Revoke, trading a narrow staleness window (bounded by cache
// eviction) for avoiding a DB round trip per request.
type CapabilityIssuer struct {
	signingKey []byte
	exec       PGExecutor
	revokedLRU *lru.Cache[string, bool]
}

func NewCapabilityIssuer(signingKey []byte, exec PGExecutor) (*CapabilityIssuer, error) {
	cache, err := lru.New[string, bool](4096)
	if err != nil {
		return nil, fmt.Errorf("security: create revocation cache: %w", err)
	}
	return &CapabilityIssuer{signingKey: signingKey, exec: exec, revokedLRU: cache}, nil
}

// Issue creates and persists a new capability token, returning its signed
// JWT string.
func (c *CapabilityIssuer) Issue(ctx context.Context, tokenID, principalID string, scopes CapabilityScopes, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	claims := capabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenID:     tokenID,
		PrincipalID: principalID,
		Scopes:      scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("security: sign capability token: %w", err)
	}

	scopesJSON, err := marshalScopes(scopes)
	if err != nil {
		return "", err
	}
	_, err = c.exec.Exec(ctx, `
		INSERT INTO capability_tokens (token_id, principal_id, scopes, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		tokenID, principalID, scopesJSON, now, expiresAt)
	if err != nil {
		return "", fmt.Errorf("security: persist capability token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a capability token's signature and
// expiration, then checks the DB (or cache) for revocation — spec §4.5
// layer 1: "token must exist, be unrevoked and unexpired, belong to the
// claimed principal".
func (c *CapabilityIssuer) Verify(ctx context.Context, signed, claimedPrincipalID string) (*CapabilityToken, error) {
	parsed, err := jwt.ParseWithClaims(signed, &capabilityClaims{}, func(t *jwt.Token) (any, error) {
		return c.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(*capabilityClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.PrincipalID != claimedPrincipalID {
		return nil, ErrTokenInvalid
	}

	if revoked, cached := c.revokedLRU.Get(claims.TokenID); cached && revoked {
		return nil, ErrTokenRevoked
	}

	revokedAt, expiresAt, err := c.lookupRevocation(ctx, claims.TokenID)
	if err != nil {
		return nil, err
	}
	if revokedAt != nil {
		c.revokedLRU.Add(claims.TokenID, true)
		return nil, ErrTokenRevoked
	}
	if time.Now().UTC().After(expiresAt) {
		return nil, ErrTokenExpired
	}

	return &CapabilityToken{
		TokenID:     claims.TokenID,
		PrincipalID: claims.PrincipalID,
		Scopes:      claims.Scopes,
		ExpiresAt:   expiresAt,
	}, nil
}

// Revoke marks a token revoked and eagerly invalidates the local cache.
func (c *CapabilityIssuer) Revoke(ctx context.Context, tokenID string) error {
	_, err := c.exec.Exec(ctx, `UPDATE capability_tokens SET revoked_at = now() WHERE token_id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("security: revoke capability token: %w", err)
	}
	c.revokedLRU.Add(tokenID, true)
	return nil
}

func (c *CapabilityIssuer) lookupRevocation(ctx context.Context, tokenID string) (revokedAt *time.Time, expiresAt time.Time, err error) {
	row := c.exec.QueryRow(ctx, `SELECT revoked_at, expires_at FROM capability_tokens WHERE token_id = $1`, tokenID)
	if err := row.Scan(&revokedAt, &expiresAt); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrTokenNotFound, err)
	}
	return revokedAt, expiresAt, nil
}
