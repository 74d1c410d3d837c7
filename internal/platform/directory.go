package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Role is a platform-level admin role. Per-tenant permissions live in the
// grant store; these roles apply across all tenants.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleViewer     Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleSuperAdmin || r == RoleAdmin || r == RoleViewer
}

// Principal is an identity supplied by the external identity provider and
// mirrored into the platform database.
type Principal struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminRecord associates a principal with a platform role. Records are
// deactivated on revoke, never deleted.
type AdminRecord struct {
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	IsActive    bool      `json:"is_active"`
	GrantedBy   *string   `json:"granted_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Directory resolves principals to platform admin records.
type Directory struct {
	db    *pgxpool.Pool
	audit *AuditService
}

func NewDirectory(db *pgxpool.Pool, audit *AuditService) *Directory {
	return &Directory{db: db, audit: audit}
}

// IsAdmin reports whether an active admin record of any role exists for the
// principal. A missing record is false, not an error.
func (d *Directory) IsAdmin(ctx context.Context, principalID string) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM platform.admins WHERE principal_id = $1 AND is_active)
	`, principalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return exists, nil
}

// IsSuperAdmin reports whether the principal holds an active super_admin record.
func (d *Directory) IsSuperAdmin(ctx context.Context, principalID string) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM platform.admins WHERE principal_id = $1 AND is_active AND role = 'super_admin')
	`, principalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check super admin: %w", err)
	}
	return exists, nil
}

// Role returns the principal's active admin role, or "" when none exists.
func (d *Directory) Role(ctx context.Context, principalID string) (Role, error) {
	var role Role
	err := d.db.QueryRow(ctx, `
		SELECT role FROM platform.admins WHERE principal_id = $1 AND is_active
	`, principalID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get admin role: %w", err)
	}
	return role, nil
}

// GetPrincipal looks up a mirrored principal by ID.
func (d *Directory) GetPrincipal(ctx context.Context, principalID string) (*Principal, error) {
	var p Principal
	err := d.db.QueryRow(ctx, `
		SELECT id, email, created_at FROM platform.principals WHERE id = $1
	`, principalID).Scan(&p.ID, &p.Email, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError("principal %s not found", principalID)
	}
	if err != nil {
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return &p, nil
}

// EnsurePrincipal mirrors an identity-provider principal into the platform
// database. Idempotent; the email is refreshed on conflict.
func (d *Directory) EnsurePrincipal(ctx context.Context, principalID, email string) error {
	_, err := d.db.Exec(ctx, `
		INSERT INTO platform.principals (id, email)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email
	`, principalID, email)
	if err != nil {
		return fmt.Errorf("ensure principal: %w", err)
	}
	return nil
}

// Promote grants or updates a platform admin role. Super admin only. The
// upsert reactivates a previously revoked record.
func (d *Directory) Promote(ctx context.Context, actorID, targetID string, role Role) (*AdminRecord, error) {
	if !role.Valid() {
		return nil, validationError("role must be one of: super_admin, admin, viewer")
	}

	isSuper, err := d.IsSuperAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !isSuper {
		return nil, permissionError("only a super admin can promote admins")
	}

	// Target principal must exist
	target, err := d.GetPrincipal(ctx, targetID)
	if err != nil {
		return nil, err
	}

	var rec AdminRecord
	err = d.db.QueryRow(ctx, `
		INSERT INTO platform.admins (principal_id, role, is_active, granted_by)
		VALUES ($1, $2, TRUE, $3)
		ON CONFLICT (principal_id) DO UPDATE SET
			role = EXCLUDED.role,
			is_active = TRUE,
			granted_by = EXCLUDED.granted_by,
			updated_at = NOW()
		RETURNING principal_id, role, is_active, granted_by, created_at, updated_at
	`, targetID, role, actorID).Scan(&rec.PrincipalID, &rec.Role, &rec.IsActive, &rec.GrantedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert admin record: %w", err)
	}
	rec.Email = target.Email

	d.audit.Record(ctx, actorID, ActionPromoteAdmin, "admin", targetID, map[string]any{"role": string(role)})
	return &rec, nil
}

// RevokeAdmin deactivates a principal's admin record. Super admin only, and
// a principal can never revoke itself regardless of role.
func (d *Directory) RevokeAdmin(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return permissionError("cannot revoke your own admin role")
	}

	isSuper, err := d.IsSuperAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !isSuper {
		return permissionError("only a super admin can revoke admins")
	}

	tag, err := d.db.Exec(ctx, `
		UPDATE platform.admins SET is_active = FALSE, updated_at = NOW()
		WHERE principal_id = $1 AND is_active
	`, targetID)
	if err != nil {
		return fmt.Errorf("deactivate admin record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("no active admin record for principal %s", targetID)
	}

	d.audit.Record(ctx, actorID, ActionRevokeAdmin, "admin", targetID, nil)
	return nil
}

// ListAdmins returns all admin records, active and revoked.
func (d *Directory) ListAdmins(ctx context.Context) ([]AdminRecord, error) {
	rows, err := d.db.Query(ctx, `
		SELECT a.principal_id, p.email, a.role, a.is_active, a.granted_by, a.created_at, a.updated_at
		FROM platform.admins a
		JOIN platform.principals p ON p.id = a.principal_id
		ORDER BY a.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	defer rows.Close()

	var admins []AdminRecord
	for rows.Next() {
		var rec AdminRecord
		if err := rows.Scan(&rec.PrincipalID, &rec.Email, &rec.Role, &rec.IsActive, &rec.GrantedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan admin record: %w", err)
		}
		admins = append(admins, rec)
	}
	if admins == nil {
		admins = []AdminRecord{}
	}
	return admins, nil
}
