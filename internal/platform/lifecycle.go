package platform

import (
	"context"
	"fmt"
	"log/slog"
)

// Seams the orchestrator coordinates over. The concrete implementations are
// TenantRegistry, GrantStore, Directory, AuditService, database.SchemaExecutor
// and StorageCleaner.

type tenantStore interface {
	Insert(ctx context.Context, schemaName, displayName, createdBy string) (*Tenant, error)
	Get(ctx context.Context, schemaName string) (*Tenant, error)
	UpdateStatus(ctx context.Context, schemaName string, status TenantStatus) error
	Remove(ctx context.Context, schemaName string) error
}

type grantRemover interface {
	RemoveAllForTenant(ctx context.Context, tenantSchema string) (int64, error)
}

type adminChecker interface {
	IsAdmin(ctx context.Context, principalID string) (bool, error)
	IsSuperAdmin(ctx context.Context, principalID string) (bool, error)
}

type recorder interface {
	Record(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]any)
	RecordStrict(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]any) error
}

type schemaDDL interface {
	CreateSchema(ctx context.Context, name string) error
	DropSchema(ctx context.Context, name string) error
}

type bucketCleaner interface {
	PurgeTenant(ctx context.Context, tenantSchema string) []BucketFailure
}

// ResourceFailure names one external resource that could not be cleaned up.
type ResourceFailure struct {
	Resource string `json:"resource"`
	Op       string `json:"op"`
	Error    string `json:"error"`
}

// DeleteReport enumerates what a tenant deletion accomplished. Schema drops
// are irreversible, so partial failure is reported, never hidden behind a
// rollback or a fake success.
type DeleteReport struct {
	SchemaName    string            `json:"schema_name"`
	SchemaDropped bool              `json:"schema_dropped"`
	GrantsRemoved int64             `json:"grants_removed"`
	Failures      []ResourceFailure `json:"failures,omitempty"`
}

// Partial reports whether any cleanup step failed.
func (r *DeleteReport) Partial() bool {
	return len(r.Failures) > 0
}

// Orchestrator sequences multi-step tenant lifecycle operations, gating each
// on the directory and recording each on the audit log.
type Orchestrator struct {
	tenants   tenantStore
	grants    grantRemover
	directory adminChecker
	audit     recorder
	ddl       schemaDDL
	storage   bucketCleaner // nil when bucket cleanup is not configured
}

func NewOrchestrator(tenants tenantStore, grants grantRemover, directory adminChecker, audit recorder, ddl schemaDDL, storage bucketCleaner) *Orchestrator {
	return &Orchestrator{
		tenants:   tenants,
		grants:    grants,
		directory: directory,
		audit:     audit,
		ddl:       ddl,
		storage:   storage,
	}
}

// CreateTenant validates the name, checks the caller is an admin, registers
// the tenant and provisions its physical schema. If the DDL step fails the
// registry insert is rolled back so no "active" tenant points at a schema
// that does not exist.
func (o *Orchestrator) CreateTenant(ctx context.Context, actorID, schemaName, displayName string) (*Tenant, error) {
	if err := ValidateSchemaName(schemaName); err != nil {
		return nil, err
	}

	isAdmin, err := o.directory.IsAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !isAdmin {
		return nil, permissionError("only a platform admin can create tenants")
	}

	tenant, err := o.tenants.Insert(ctx, schemaName, displayName, actorID)
	if err != nil {
		return nil, err
	}

	if err := o.ddl.CreateSchema(ctx, schemaName); err != nil {
		// Compensating action: the registry row must not outlive the failed schema.
		if rmErr := o.tenants.Remove(ctx, schemaName); rmErr != nil {
			slog.Error("Failed to roll back tenant registration after DDL failure",
				"schema", schemaName, "ddl_error", err, "rollback_error", rmErr)
		}
		return nil, externalError(fmt.Sprintf("create schema %s", schemaName), err)
	}

	o.audit.Record(ctx, actorID, ActionCreateTenant, "tenant", schemaName, map[string]any{"display_name": tenant.DisplayName})
	return tenant, nil
}

// SuspendTenant moves a tenant to suspended. Strict: suspending an already
// suspended tenant is a ConflictError.
func (o *Orchestrator) SuspendTenant(ctx context.Context, actorID, schemaName string) error {
	return o.setStatus(ctx, actorID, schemaName, StatusSuspended, ActionSuspendTenant)
}

// ActivateTenant moves a tenant back to active.
func (o *Orchestrator) ActivateTenant(ctx context.Context, actorID, schemaName string) error {
	return o.setStatus(ctx, actorID, schemaName, StatusActive, ActionActivateTenant)
}

func (o *Orchestrator) setStatus(ctx context.Context, actorID, schemaName string, status TenantStatus, action string) error {
	isAdmin, err := o.directory.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return permissionError("only a platform admin can change tenant status")
	}

	if err := o.tenants.UpdateStatus(ctx, schemaName, status); err != nil {
		return err
	}

	o.audit.Record(ctx, actorID, action, "tenant", schemaName, nil)
	return nil
}

// DeleteTenant permanently destroys a tenant: its registry row, all its
// grants, its physical schema and its storage buckets. Super admin only.
//
// The audit entry is written first so the trail captures intent even when a
// later step fails. After the grants are gone the schema is dropped; a drop
// failure leaves the registry row in place so the delete can be retried.
// Once the schema is dropped nothing is rolled back — remaining failures
// (registry row, buckets) are enumerated in the report.
func (o *Orchestrator) DeleteTenant(ctx context.Context, actorID, schemaName string) (*DeleteReport, error) {
	isSuper, err := o.directory.IsSuperAdmin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !isSuper {
		return nil, permissionError("only a super admin can delete tenants")
	}

	tenant, err := o.tenants.Get(ctx, schemaName)
	if err != nil {
		return nil, err
	}

	// Audit before any mutation. If the trail cannot record the delete, the
	// delete does not happen.
	err = o.audit.RecordStrict(ctx, actorID, ActionDeleteTenant, "tenant", schemaName,
		map[string]any{"display_name": tenant.DisplayName, "status": string(tenant.Status)})
	if err != nil {
		return nil, fmt.Errorf("record delete audit entry: %w", err)
	}

	report := &DeleteReport{SchemaName: schemaName}

	removed, err := o.grants.RemoveAllForTenant(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("cascade grants for %s: %w", schemaName, err)
	}
	report.GrantsRemoved = removed

	if err := o.ddl.DropSchema(ctx, schemaName); err != nil {
		report.Failures = append(report.Failures, ResourceFailure{
			Resource: "schema/" + schemaName, Op: "drop", Error: err.Error(),
		})
		// Registry row stays so the operation can be retried.
		return report, nil
	}
	report.SchemaDropped = true

	if err := o.tenants.Remove(ctx, schemaName); err != nil {
		report.Failures = append(report.Failures, ResourceFailure{
			Resource: "tenant/" + schemaName, Op: "deregister", Error: err.Error(),
		})
	}

	if o.storage != nil {
		for _, f := range o.storage.PurgeTenant(ctx, schemaName) {
			report.Failures = append(report.Failures, ResourceFailure{
				Resource: "bucket/" + f.Bucket, Op: f.Op, Error: f.Error,
			})
		}
	}

	return report, nil
}
