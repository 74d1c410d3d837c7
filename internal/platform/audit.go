package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions. These are the only values ever written to the action column.
const (
	ActionCreateTenant   = "CREATE"
	ActionSuspendTenant  = "SUSPEND"
	ActionActivateTenant = "ACTIVATE"
	ActionDeleteTenant   = "DELETE"
	ActionGrantAccess    = "GRANT_ACCESS"
	ActionRevokeAccess   = "REVOKE_ACCESS"
	ActionPromoteAdmin   = "PROMOTE_ADMIN"
	ActionRevokeAdmin    = "REVOKE_ADMIN"
)

// AuditEntry is one immutable administrative record. Rows are never updated
// or deleted by this service.
type AuditEntry struct {
	ID           int64          `json:"id"`
	ActorID      *string        `json:"actor_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditPage holds one page of audit entries plus the total count.
type AuditPage struct {
	Entries []AuditEntry `json:"entries"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}

// AuditService appends to the platform audit log.
type AuditService struct {
	db *pgxpool.Pool
}

func NewAuditService(db *pgxpool.Pool) *AuditService {
	return &AuditService{db: db}
}

// Record appends an audit entry. Best-effort: a failed write is logged and
// swallowed so audit problems never break the operation that already ran.
func (a *AuditService) Record(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]any) {
	if err := a.RecordStrict(ctx, actorID, action, resourceType, resourceID, details); err != nil {
		slog.Warn("Audit write failed", "action", action, "resource", resourceID, "error", err)
	}
}

// RecordStrict appends an audit entry and reports the write error. Used where
// the entry must exist before a destructive step proceeds.
func (a *AuditService) RecordStrict(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]any) error {
	metaJSON := []byte("{}")
	if details != nil {
		var err error
		metaJSON, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	ip, ua := RequestMeta(ctx)

	var actor *string
	if actorID != "" {
		actor = &actorID
	}

	_, err := a.db.Exec(ctx, `
		INSERT INTO platform.audit_log (actor_id, action, resource_type, resource_id, details, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, actor, action, resourceType, resourceID, string(metaJSON), ip, ua)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// List returns a page of audit entries, newest first.
func (a *AuditService) List(ctx context.Context, page, perPage int) (*AuditPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	var total int
	if err := a.db.QueryRow(ctx, `SELECT COUNT(*) FROM platform.audit_log`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := a.db.Query(ctx, `
		SELECT id, actor_id, action, COALESCE(resource_type, ''), COALESCE(resource_id, ''),
			details, COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
		FROM platform.audit_log
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, perPage, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(details) > 0 {
			json.Unmarshal(details, &e.Details)
		}
		entries = append(entries, e)
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return &AuditPage{Entries: entries, Total: total, Page: page, PerPage: perPage}, nil
}
