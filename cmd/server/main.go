package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schemabase/schemabase/internal/config"
	"github.com/schemabase/schemabase/internal/database"
	"github.com/schemabase/schemabase/internal/platform"
	"github.com/schemabase/schemabase/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Connect to platform database
	slog.Info("Connecting to platform database")
	platformPool, err := database.NewPlatformPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to platform database: %v", err)
	}
	slog.Info("Connected to platform database")

	// Run platform migrations
	slog.Info("Running platform migrations")
	err = database.RunMigrations(ctx, platformPool, platformMigrations())
	if err != nil {
		log.Fatalf("Failed to run platform migrations: %v", err)
	}
	slog.Info("Platform migrations complete")

	// Initialize services
	authService := platform.NewAuthService(platformPool, cfg.PlatformJWTSecret, cfg.PlatformJWTExpiry)
	auditService := platform.NewAuditService(platformPool)
	directory := platform.NewDirectory(platformPool, auditService)
	grantStore := platform.NewGrantStore(platformPool, directory, auditService)
	registry := platform.NewTenantRegistry(platformPool)
	schemaExec := database.NewSchemaExecutor(platformPool)
	engine := platform.NewEngine(registry, grantStore)

	// Object storage cleanup is optional; tenants without a configured
	// store only get schema-level teardown.
	var storageCleaner *platform.StorageCleaner
	if cfg.StorageEnabled() {
		storageCleaner, err = platform.NewStorageCleaner(ctx, cfg.StorageEndpoint, cfg.StorageRegion, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucketPrefix)
		if err != nil {
			log.Fatalf("Failed to configure object storage: %v", err)
		}
		slog.Info("Object storage cleanup enabled", "endpoint", cfg.StorageEndpoint)
	}

	orchestrator := newOrchestrator(registry, grantStore, directory, auditService, schemaExec, storageCleaner)

	// Ensure break-glass super admin exists if ADMIN_EMAIL is set
	if cfg.AdminEmail != "" {
		slog.Info("Ensuring super admin exists", "email", cfg.AdminEmail)
		if err := authService.EnsureSuperAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Fatalf("Failed to create super admin: %v", err)
		}
		slog.Info("Super admin ready", "email", cfg.AdminEmail)
	}

	// Create server
	srv := server.New(authService, directory, registry, grantStore, engine, orchestrator, auditService, platformPool)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("Shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		httpServer.Shutdown(shutCtx)
		platformPool.Close()
	}()

	slog.Info("Server started", "host", cfg.Host, "port", cfg.Port)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

// newOrchestrator keeps the nil-interface dance out of main: a nil
// *StorageCleaner must become a nil interface, not a typed nil.
func newOrchestrator(registry *platform.TenantRegistry, grants *platform.GrantStore, directory *platform.Directory, audit *platform.AuditService, ddl *database.SchemaExecutor, storage *platform.StorageCleaner) *platform.Orchestrator {
	if storage == nil {
		return platform.NewOrchestrator(registry, grants, directory, audit, ddl, nil)
	}
	return platform.NewOrchestrator(registry, grants, directory, audit, ddl, storage)
}

func platformMigrations() []database.Migration {
	return []database.Migration{
		{
			Name: "001_initial.sql",
			SQL: `
CREATE SCHEMA IF NOT EXISTS platform;

CREATE TABLE IF NOT EXISTS platform.principals (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  email TEXT UNIQUE NOT NULL,
  password_hash TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS platform.admins (
  principal_id UUID PRIMARY KEY REFERENCES platform.principals(id) ON DELETE CASCADE,
  role TEXT NOT NULL CHECK (role IN ('super_admin', 'admin', 'viewer')),
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  granted_by UUID,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS platform.tenants (
  id UUID PRIMARY KEY,
  schema_name TEXT UNIQUE NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended')),
  created_by UUID,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS platform.access_grants (
  principal_id UUID NOT NULL REFERENCES platform.principals(id) ON DELETE CASCADE,
  tenant_schema TEXT NOT NULL REFERENCES platform.tenants(schema_name),
  level TEXT NOT NULL CHECK (level IN ('read', 'write', 'admin')),
  granted_by UUID,
  granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  expires_at TIMESTAMPTZ,
  PRIMARY KEY (principal_id, tenant_schema)
);

CREATE TABLE IF NOT EXISTS platform.audit_log (
  id BIGSERIAL PRIMARY KEY,
  actor_id UUID,
  action TEXT NOT NULL,
  resource_type TEXT NOT NULL,
  resource_id TEXT,
  details JSONB,
  ip_address TEXT,
  user_agent TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_access_grants_tenant ON platform.access_grants(tenant_schema);
CREATE INDEX IF NOT EXISTS idx_access_grants_expires ON platform.access_grants(expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tenants_status ON platform.tenants(status);
CREATE INDEX IF NOT EXISTS idx_audit_log_created ON platform.audit_log(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON platform.audit_log(actor_id);
`,
		},
	}
}
