package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaNameRegex is the allow-list for tenant schema identifiers. Everything
// that ends up interpolated into DDL must match it first.
var schemaNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{2,62}$`)

// reservedSchemaNames are identifiers owned by the engine or the platform
// itself. Exact, case-sensitive matches.
var reservedSchemaNames = map[string]bool{
	"public":   true,
	"auth":     true,
	"storage":  true,
	"graphql":  true,
	"realtime": true,
	"supabase": true,
	"platform": true,
}

// reservedSchemaPrefixes block whole identifier families.
var reservedSchemaPrefixes = []string{"pg_", "supabase_"}

// ValidateSchemaName checks a tenant schema identifier against the allow-list.
// This must run before the identifier names any physical resource.
func ValidateSchemaName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return fmt.Errorf("schema name must be 3-63 characters")
	}
	if !schemaNameRegex.MatchString(name) {
		return fmt.Errorf("schema name must start with a lowercase letter and contain only lowercase letters, digits and underscores")
	}
	if reservedSchemaNames[name] {
		return fmt.Errorf("schema name %q is reserved", name)
	}
	for _, prefix := range reservedSchemaPrefixes {
		if strings.HasPrefix(name, prefix) {
			return fmt.Errorf("schema name prefix %q is reserved", prefix)
		}
	}
	return nil
}

// SchemaExecutor issues schema-level DDL against the platform database.
// Every identifier is re-validated here regardless of what callers did —
// this is the last line before dynamic SQL.
type SchemaExecutor struct {
	db *pgxpool.Pool
}

func NewSchemaExecutor(db *pgxpool.Pool) *SchemaExecutor {
	return &SchemaExecutor{db: db}
}

// CreateSchema physically creates a tenant schema.
func (e *SchemaExecutor) CreateSchema(ctx context.Context, name string) error {
	if err := ValidateSchemaName(name); err != nil {
		return fmt.Errorf("refusing DDL: %w", err)
	}
	if _, err := e.db.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, name)); err != nil {
		return fmt.Errorf("create schema %q: %w", name, err)
	}
	return nil
}

// DropSchema drops a tenant schema and everything in it. Irreversible.
func (e *SchemaExecutor) DropSchema(ctx context.Context, name string) error {
	if err := ValidateSchemaName(name); err != nil {
		return fmt.Errorf("refusing DDL: %w", err)
	}
	if _, err := e.db.Exec(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, name)); err != nil {
		return fmt.Errorf("drop schema %q: %w", name, err)
	}
	return nil
}
