package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schemabase/schemabase/internal/database"
)

// TenantStatus is the lifecycle state of a tenant. Deleted tenants have no
// row at all; deletion is terminal.
type TenantStatus string

const (
	StatusActive    TenantStatus = "active"
	StatusSuspended TenantStatus = "suspended"
)

func (s TenantStatus) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

// Tenant is one isolated schema registered on the platform.
type Tenant struct {
	ID          string       `json:"id"`
	SchemaName  string       `json:"schema_name"`
	DisplayName string       `json:"display_name"`
	Status      TenantStatus `json:"status"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TenantRegistry is the record store for tenants. Permission checks, audit
// and physical schema DDL are sequenced by the lifecycle orchestrator; the
// registry owns validation and row-level conflict semantics.
type TenantRegistry struct {
	db *pgxpool.Pool
}

func NewTenantRegistry(db *pgxpool.Pool) *TenantRegistry {
	return &TenantRegistry{db: db}
}

// ValidateSchemaName checks a schema identifier against the allow-list and
// reserved set, returning a ValidationError on violation.
func ValidateSchemaName(name string) error {
	if err := database.ValidateSchemaName(name); err != nil {
		return &Error{Kind: KindValidation, Message: err.Error()}
	}
	return nil
}

// Insert registers a new tenant. The schema name must already be validated;
// it is re-checked here anyway. Duplicate names are a ConflictError.
func (r *TenantRegistry) Insert(ctx context.Context, schemaName, displayName, createdBy string) (*Tenant, error) {
	if err := ValidateSchemaName(schemaName); err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = schemaName
	}

	t := Tenant{
		ID:          uuid.NewString(),
		SchemaName:  schemaName,
		DisplayName: displayName,
		Status:      StatusActive,
		CreatedBy:   createdBy,
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO platform.tenants (id, schema_name, display_name, status, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, t.ID, t.SchemaName, t.DisplayName, t.Status, createdBy).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, conflictError("tenant %s already exists", schemaName)
		}
		return nil, fmt.Errorf("insert tenant: %w", err)
	}
	return &t, nil
}

// Get returns a tenant by schema name, or a NotFoundError.
func (r *TenantRegistry) Get(ctx context.Context, schemaName string) (*Tenant, error) {
	var t Tenant
	err := r.db.QueryRow(ctx, `
		SELECT id, schema_name, display_name, status, created_by, created_at, updated_at
		FROM platform.tenants WHERE schema_name = $1
	`, schemaName).Scan(&t.ID, &t.SchemaName, &t.DisplayName, &t.Status, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError("tenant %s not found", schemaName)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

// List returns all registered tenants.
func (r *TenantRegistry) List(ctx context.Context) ([]Tenant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, schema_name, display_name, status, created_by, created_at, updated_at
		FROM platform.tenants
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.SchemaName, &t.DisplayName, &t.Status, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if tenants == nil {
		tenants = []Tenant{}
	}
	return tenants, nil
}

// UpdateStatus transitions a tenant between active and suspended. The
// transition is strict: requesting the current state is a ConflictError.
// The conditional UPDATE makes the check safe under concurrent calls — of
// two racing transitions to the same state, exactly one affects a row.
func (r *TenantRegistry) UpdateStatus(ctx context.Context, schemaName string, status TenantStatus) error {
	if !status.Valid() {
		return validationError("status must be active or suspended")
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE platform.tenants SET status = $2, updated_at = NOW()
		WHERE schema_name = $1 AND status <> $2
	`, schemaName, status)
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the tenant is missing or it is already in the requested state.
		if _, err := r.Get(ctx, schemaName); err != nil {
			return err
		}
		return conflictError("tenant %s is already %s", schemaName, status)
	}
	return nil
}

// Remove deletes the tenant row. Grants must already be gone; the FK on
// access_grants otherwise rejects the delete.
func (r *TenantRegistry) Remove(ctx context.Context, schemaName string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM platform.tenants WHERE schema_name = $1`, schemaName)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("tenant %s not found", schemaName)
	}
	return nil
}
