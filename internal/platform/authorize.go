package platform

import "context"

// DenyReason explains a denied authorization decision.
type DenyReason string

const (
	ReasonNotFound     DenyReason = "NOT_FOUND"
	ReasonSuspended    DenyReason = "SUSPENDED"
	ReasonInsufficient DenyReason = "INSUFFICIENT_ACCESS"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

type tenantGetter interface {
	Get(ctx context.Context, schemaName string) (*Tenant, error)
}

type accessChecker interface {
	HasAccess(ctx context.Context, principalID, tenantSchema string, required AccessLevel) (bool, error)
}

// Engine answers "can principal P perform an operation at level L on tenant
// T". It holds no state of its own; every decision re-reads current tenant
// status and grants.
type Engine struct {
	tenants tenantGetter
	grants  accessChecker
}

func NewEngine(tenants tenantGetter, grants accessChecker) *Engine {
	return &Engine{tenants: tenants, grants: grants}
}

// Authorize decides data-plane access for a principal on a tenant.
//
// The suspension check runs before any privilege logic: a suspended tenant
// denies everyone, platform admins included. Otherwise the admin bypass
// inside HasAccess would let an admin read a tenant whose access was just
// killed, which is exactly what suspension exists to prevent. Lifecycle
// operations (reactivate, delete) are gated on the directory directly and
// never pass through here.
func (e *Engine) Authorize(ctx context.Context, principalID, tenantSchema string, required AccessLevel) (Decision, error) {
	if !required.Valid() {
		return Decision{}, validationError("access level must be one of: read, write, admin")
	}

	tenant, err := e.tenants.Get(ctx, tenantSchema)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return deny(ReasonNotFound), nil
		}
		return Decision{}, err
	}

	if tenant.Status == StatusSuspended {
		return deny(ReasonSuspended), nil
	}

	ok, err := e.grants.HasAccess(ctx, principalID, tenantSchema, required)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		return allow(), nil
	}
	return deny(ReasonInsufficient), nil
}
