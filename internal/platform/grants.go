package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AccessLevel is a per-tenant permission level, ordered admin > write > read.
type AccessLevel string

const (
	LevelRead  AccessLevel = "read"
	LevelWrite AccessLevel = "write"
	LevelAdmin AccessLevel = "admin"
)

var levelRank = map[AccessLevel]int{
	LevelRead:  1,
	LevelWrite: 2,
	LevelAdmin: 3,
}

func (l AccessLevel) Valid() bool {
	return levelRank[l] != 0
}

// Satisfies reports whether a held level dominates the required level.
func (l AccessLevel) Satisfies(required AccessLevel) bool {
	return levelRank[l] >= levelRank[required] && levelRank[required] != 0
}

// AccessGrant is one principal's permission on one tenant. Unique per
// (principal, tenant); granting again overwrites level and expiry.
type AccessGrant struct {
	PrincipalID  string      `json:"principal_id"`
	TenantSchema string      `json:"tenant_schema"`
	Level        AccessLevel `json:"level"`
	GrantedBy    string      `json:"granted_by"`
	GrantedAt    time.Time   `json:"granted_at"`
	ExpiresAt    *time.Time  `json:"expires_at"`
}

// Active reports whether the grant is currently in force. An expired grant
// behaves identically to no grant at all.
func (g *AccessGrant) Active(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// grantDirectory is the slice of Directory the grant store consults.
type grantDirectory interface {
	IsAdmin(ctx context.Context, principalID string) (bool, error)
	GetPrincipal(ctx context.Context, principalID string) (*Principal, error)
}

// GrantStore holds per-(principal, tenant) access grants.
type GrantStore struct {
	db        querier
	directory grantDirectory
	audit     recorder
}

func NewGrantStore(db querier, directory grantDirectory, audit recorder) *GrantStore {
	return &GrantStore{db: db, directory: directory, audit: audit}
}

// HasAccess reports whether the principal may act on the tenant at the
// required level. Platform admins bypass per-tenant grants entirely;
// otherwise an unexpired grant must dominate the required level.
func (s *GrantStore) HasAccess(ctx context.Context, principalID, tenantSchema string, required AccessLevel) (bool, error) {
	if !required.Valid() {
		return false, validationError("access level must be one of: read, write, admin")
	}

	isAdmin, err := s.directory.IsAdmin(ctx, principalID)
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}

	var level AccessLevel
	err = s.db.QueryRow(ctx, `
		SELECT level FROM platform.access_grants
		WHERE principal_id = $1 AND tenant_schema = $2
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, principalID, tenantSchema).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query grant: %w", err)
	}
	return level.Satisfies(required), nil
}

// Grant upserts an access grant. Admin only. Overwrites level and expiry for
// an existing (principal, tenant) pair rather than duplicating.
func (s *GrantStore) Grant(ctx context.Context, actorID, principalID, tenantSchema string, level AccessLevel, expiresAt *time.Time) (*AccessGrant, error) {
	if !level.Valid() {
		return nil, validationError("access level must be one of: read, write, admin")
	}

	isAdmin, err := s.directory.IsAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, permissionError("only a platform admin can grant access")
	}

	// Target tenant and principal must exist
	var exists bool
	err = s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM platform.tenants WHERE schema_name = $1)`, tenantSchema).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return nil, notFoundError("tenant %s not found", tenantSchema)
	}
	if _, err := s.directory.GetPrincipal(ctx, principalID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Capture the previous level for the audit trail. FOR UPDATE keeps two
	// concurrent grants for the same pair from interleaving.
	var before *AccessLevel
	var prev AccessLevel
	err = tx.QueryRow(ctx, `
		SELECT level FROM platform.access_grants
		WHERE principal_id = $1 AND tenant_schema = $2
		FOR UPDATE
	`, principalID, tenantSchema).Scan(&prev)
	if err == nil {
		before = &prev
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read existing grant: %w", err)
	}

	var grant AccessGrant
	err = tx.QueryRow(ctx, `
		INSERT INTO platform.access_grants (principal_id, tenant_schema, level, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id, tenant_schema) DO UPDATE SET
			level = EXCLUDED.level,
			granted_by = EXCLUDED.granted_by,
			granted_at = NOW(),
			expires_at = EXCLUDED.expires_at
		RETURNING principal_id, tenant_schema, level, granted_by, granted_at, expires_at
	`, principalID, tenantSchema, level, actorID, expiresAt).Scan(
		&grant.PrincipalID, &grant.TenantSchema, &grant.Level, &grant.GrantedBy, &grant.GrantedAt, &grant.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert grant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	details := map[string]any{"after": string(level)}
	if before != nil {
		details["before"] = string(*before)
	}
	s.audit.Record(ctx, actorID, ActionGrantAccess, "grant", principalID+"/"+tenantSchema, details)
	return &grant, nil
}

// Revoke removes an access grant. Admin only. Idempotent: revoking an absent
// grant is not an error.
func (s *GrantStore) Revoke(ctx context.Context, actorID, principalID, tenantSchema string) error {
	isAdmin, err := s.directory.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return permissionError("only a platform admin can revoke access")
	}

	var before *AccessLevel
	var prev AccessLevel
	err = s.db.QueryRow(ctx, `
		DELETE FROM platform.access_grants
		WHERE principal_id = $1 AND tenant_schema = $2
		RETURNING level
	`, principalID, tenantSchema).Scan(&prev)
	if err == nil {
		before = &prev
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("delete grant: %w", err)
	}

	details := map[string]any{}
	if before != nil {
		details["before"] = string(*before)
	}
	s.audit.Record(ctx, actorID, ActionRevokeAccess, "grant", principalID+"/"+tenantSchema, details)
	return nil
}

// RemoveAllForTenant deletes every grant for a tenant. Called by the
// lifecycle orchestrator as the explicit cascade step during tenant deletion.
func (s *GrantStore) RemoveAllForTenant(ctx context.Context, tenantSchema string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM platform.access_grants WHERE tenant_schema = $1`, tenantSchema)
	if err != nil {
		return 0, fmt.Errorf("cascade delete grants: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListForTenant returns all grants on one tenant, including expired ones.
func (s *GrantStore) ListForTenant(ctx context.Context, tenantSchema string) ([]AccessGrant, error) {
	return s.list(ctx, `
		SELECT principal_id, tenant_schema, level, granted_by, granted_at, expires_at
		FROM platform.access_grants WHERE tenant_schema = $1
		ORDER BY granted_at ASC
	`, tenantSchema)
}

// ListForPrincipal returns all grants held by one principal.
func (s *GrantStore) ListForPrincipal(ctx context.Context, principalID string) ([]AccessGrant, error) {
	return s.list(ctx, `
		SELECT principal_id, tenant_schema, level, granted_by, granted_at, expires_at
		FROM platform.access_grants WHERE principal_id = $1
		ORDER BY granted_at ASC
	`, principalID)
}

func (s *GrantStore) list(ctx context.Context, query, arg string) ([]AccessGrant, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var grants []AccessGrant
	for rows.Next() {
		var g AccessGrant
		if err := rows.Scan(&g.PrincipalID, &g.TenantSchema, &g.Level, &g.GrantedBy, &g.GrantedAt, &g.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if grants == nil {
		grants = []AccessGrant{}
	}
	return grants, nil
}
