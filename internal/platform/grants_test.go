package platform

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// AccessLevel
// ---------------------------------------------------------------------------

func TestAccessLevel_Valid(t *testing.T) {
	for _, l := range []AccessLevel{LevelRead, LevelWrite, LevelAdmin} {
		if !l.Valid() {
			t.Errorf("expected %q to be valid", l)
		}
	}
	for _, l := range []AccessLevel{"", "owner", "READ", "superadmin"} {
		if l.Valid() {
			t.Errorf("expected %q to be invalid", l)
		}
	}
}

func TestAccessLevel_Satisfies(t *testing.T) {
	cases := []struct {
		held, required AccessLevel
		want           bool
	}{
		{LevelRead, LevelRead, true},
		{LevelRead, LevelWrite, false},
		{LevelRead, LevelAdmin, false},
		{LevelWrite, LevelRead, true},
		{LevelWrite, LevelWrite, true},
		{LevelWrite, LevelAdmin, false},
		{LevelAdmin, LevelRead, true},
		{LevelAdmin, LevelWrite, true},
		{LevelAdmin, LevelAdmin, true},
	}

	for _, c := range cases {
		if got := c.held.Satisfies(c.required); got != c.want {
			t.Errorf("%s.Satisfies(%s) = %v, expected %v", c.held, c.required, got, c.want)
		}
	}
}

func TestAccessLevel_SatisfiesInvalidRequired(t *testing.T) {
	// A bogus required level is never satisfied, even by admin.
	if LevelAdmin.Satisfies("owner") {
		t.Error("expected admin not to satisfy an unknown level")
	}
	if LevelAdmin.Satisfies("") {
		t.Error("expected admin not to satisfy an empty level")
	}
}

// ---------------------------------------------------------------------------
// AccessGrant.Active
// ---------------------------------------------------------------------------

func TestGrantActive_NoExpiry(t *testing.T) {
	g := AccessGrant{Level: LevelRead}
	if !g.Active(time.Now()) {
		t.Error("expected grant without expiry to be active")
	}
}

func TestGrantActive_FutureExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	g := AccessGrant{Level: LevelWrite, ExpiresAt: &exp}
	if !g.Active(time.Now()) {
		t.Error("expected grant expiring in an hour to be active")
	}
}

func TestGrantActive_PastExpiry(t *testing.T) {
	exp := time.Now().Add(-time.Minute)
	g := AccessGrant{Level: LevelAdmin, ExpiresAt: &exp}
	if g.Active(time.Now()) {
		t.Error("expected expired grant to be inactive")
	}
}

func TestGrantActive_ExactBoundary(t *testing.T) {
	now := time.Now()
	g := AccessGrant{Level: LevelRead, ExpiresAt: &now}
	// expires_at == now means expired; the window is half-open.
	if g.Active(now) {
		t.Error("expected grant expiring exactly now to be inactive")
	}
}

// ---------------------------------------------------------------------------
// Store fakes
// ---------------------------------------------------------------------------

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func levelRow(l AccessLevel) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*AccessLevel)) = l
		return nil
	}}
}

func boolRow(b bool) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*bool)) = b
		return nil
	}}
}

func noRows() fakeRow {
	return fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
}

func grantRow(g AccessGrant) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = g.PrincipalID
		*(dest[1].(*string)) = g.TenantSchema
		*(dest[2].(*AccessLevel)) = g.Level
		*(dest[3].(*string)) = g.GrantedBy
		*(dest[4].(*time.Time)) = g.GrantedAt
		*(dest[5].(**time.Time)) = g.ExpiresAt
		return nil
	}}
}

// fakeQuerier serves a scripted sequence of rows. Any access beyond the
// script fails the test, which doubles as a "no query ran" assertion.
type fakeQuerier struct {
	t    *testing.T
	rows []fakeRow
	tx   *fakeTx
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(q.rows) == 0 {
		q.t.Fatalf("unexpected QueryRow: %s", sql)
	}
	r := q.rows[0]
	q.rows = q.rows[1:]
	return r
}

func (q *fakeQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.t.Fatalf("unexpected Query: %s", sql)
	return nil, nil
}

func (q *fakeQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.t.Fatalf("unexpected Exec: %s", sql)
	return pgconn.CommandTag{}, nil
}

func (q *fakeQuerier) Begin(ctx context.Context) (pgx.Tx, error) {
	if q.tx == nil {
		q.t.Fatal("unexpected Begin")
	}
	return q.tx, nil
}

type fakeTx struct {
	pgx.Tx
	t         *testing.T
	rows      []fakeRow
	committed bool
}

func (tx *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(tx.rows) == 0 {
		tx.t.Fatalf("unexpected tx QueryRow: %s", sql)
	}
	r := tx.rows[0]
	tx.rows = tx.rows[1:]
	return r
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeGrantDirectory struct {
	admin      bool
	principals map[string]bool
}

func (f *fakeGrantDirectory) IsAdmin(ctx context.Context, principalID string) (bool, error) {
	return f.admin, nil
}

func (f *fakeGrantDirectory) GetPrincipal(ctx context.Context, principalID string) (*Principal, error) {
	if f.principals[principalID] {
		return &Principal{ID: principalID}, nil
	}
	return nil, notFoundError("principal %s not found", principalID)
}

// ---------------------------------------------------------------------------
// GrantStore.HasAccess
// ---------------------------------------------------------------------------

func TestHasAccess_AdminBypass(t *testing.T) {
	// An empty script means any grant query fails the test: the bypass must
	// decide on the directory alone.
	db := &fakeQuerier{t: t}
	store := NewGrantStore(db, &fakeGrantDirectory{admin: true}, &fakeRecorder{})

	for _, required := range []AccessLevel{LevelRead, LevelWrite, LevelAdmin} {
		ok, err := store.HasAccess(context.Background(), "p1", "acme_corp", required)
		if err != nil {
			t.Fatalf("HasAccess failed: %v", err)
		}
		if !ok {
			t.Errorf("expected admin bypass to allow level %s", required)
		}
	}
}

func TestHasAccess_GrantLevelChecked(t *testing.T) {
	dir := &fakeGrantDirectory{admin: false}

	db := &fakeQuerier{t: t, rows: []fakeRow{levelRow(LevelWrite)}}
	store := NewGrantStore(db, dir, &fakeRecorder{})
	ok, err := store.HasAccess(context.Background(), "p1", "acme_corp", LevelRead)
	if err != nil {
		t.Fatalf("HasAccess failed: %v", err)
	}
	if !ok {
		t.Error("expected write grant to satisfy read")
	}

	db = &fakeQuerier{t: t, rows: []fakeRow{levelRow(LevelWrite)}}
	store = NewGrantStore(db, dir, &fakeRecorder{})
	ok, err = store.HasAccess(context.Background(), "p1", "acme_corp", LevelAdmin)
	if err != nil {
		t.Fatalf("HasAccess failed: %v", err)
	}
	if ok {
		t.Error("expected write grant not to satisfy admin")
	}
}

func TestHasAccess_NoGrant(t *testing.T) {
	db := &fakeQuerier{t: t, rows: []fakeRow{noRows()}}
	store := NewGrantStore(db, &fakeGrantDirectory{}, &fakeRecorder{})

	ok, err := store.HasAccess(context.Background(), "p1", "acme_corp", LevelRead)
	if err != nil {
		t.Fatalf("HasAccess failed: %v", err)
	}
	if ok {
		t.Error("expected no access without a grant")
	}
}

func TestHasAccess_InvalidLevel(t *testing.T) {
	db := &fakeQuerier{t: t}
	store := NewGrantStore(db, &fakeGrantDirectory{admin: true}, &fakeRecorder{})

	_, err := store.HasAccess(context.Background(), "p1", "acme_corp", "owner")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// GrantStore.Grant
// ---------------------------------------------------------------------------

func TestGrant_OverwritesExisting(t *testing.T) {
	audit := &fakeRecorder{}
	tx := &fakeTx{t: t, rows: []fakeRow{
		levelRow(LevelRead), // existing grant, locked for update
		grantRow(AccessGrant{PrincipalID: "p1", TenantSchema: "acme_corp", Level: LevelAdmin, GrantedBy: "admin-1", GrantedAt: time.Now()}),
	}}
	db := &fakeQuerier{t: t, rows: []fakeRow{boolRow(true)}, tx: tx}
	store := NewGrantStore(db, &fakeGrantDirectory{admin: true, principals: map[string]bool{"p1": true}}, audit)

	grant, err := store.Grant(context.Background(), "admin-1", "p1", "acme_corp", LevelAdmin, nil)
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if grant.Level != LevelAdmin {
		t.Errorf("expected upserted level admin, got %q", grant.Level)
	}
	if !tx.committed {
		t.Error("expected transaction committed")
	}

	if len(audit.entries) != 1 || audit.entries[0].action != ActionGrantAccess {
		t.Fatalf("expected one %s audit entry, got %v", ActionGrantAccess, audit.entries)
	}
	details := audit.entries[0].details
	if details["before"] != "read" || details["after"] != "admin" {
		t.Errorf("expected before=read after=admin in details, got %v", details)
	}
}

func TestGrant_FirstGrantHasNoBefore(t *testing.T) {
	audit := &fakeRecorder{}
	tx := &fakeTx{t: t, rows: []fakeRow{
		noRows(),
		grantRow(AccessGrant{PrincipalID: "p1", TenantSchema: "acme_corp", Level: LevelRead, GrantedBy: "admin-1", GrantedAt: time.Now()}),
	}}
	db := &fakeQuerier{t: t, rows: []fakeRow{boolRow(true)}, tx: tx}
	store := NewGrantStore(db, &fakeGrantDirectory{admin: true, principals: map[string]bool{"p1": true}}, audit)

	if _, err := store.Grant(context.Background(), "admin-1", "p1", "acme_corp", LevelRead, nil); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	details := audit.entries[0].details
	if _, ok := details["before"]; ok {
		t.Errorf("expected no before level for a first grant, got %v", details)
	}
	if details["after"] != "read" {
		t.Errorf("expected after=read, got %v", details)
	}
}

func TestGrant_UnknownTenant(t *testing.T) {
	db := &fakeQuerier{t: t, rows: []fakeRow{boolRow(false)}}
	store := NewGrantStore(db, &fakeGrantDirectory{admin: true}, &fakeRecorder{})

	_, err := store.Grant(context.Background(), "admin-1", "p1", "ghost", LevelRead, nil)
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestGrant_NonAdminDenied(t *testing.T) {
	db := &fakeQuerier{t: t}
	store := NewGrantStore(db, &fakeGrantDirectory{admin: false}, &fakeRecorder{})

	_, err := store.Grant(context.Background(), "nobody", "p1", "acme_corp", LevelRead, nil)
	if KindOf(err) != KindPermission {
		t.Fatalf("expected permission error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// GrantStore.Revoke
// ---------------------------------------------------------------------------

func TestRevoke_Idempotent(t *testing.T) {
	audit := &fakeRecorder{}
	// First call deletes a read grant, second finds nothing.
	db := &fakeQuerier{t: t, rows: []fakeRow{levelRow(LevelRead), noRows()}}
	store := NewGrantStore(db, &fakeGrantDirectory{admin: true}, audit)

	if err := store.Revoke(context.Background(), "admin-1", "p1", "acme_corp"); err != nil {
		t.Fatalf("first revoke failed: %v", err)
	}
	if err := store.Revoke(context.Background(), "admin-1", "p1", "acme_corp"); err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}

	if len(audit.entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(audit.entries))
	}
	if audit.entries[0].details["before"] != "read" {
		t.Errorf("expected before=read on first revoke, got %v", audit.entries[0].details)
	}
	if _, ok := audit.entries[1].details["before"]; ok {
		t.Errorf("expected no before level on idempotent revoke, got %v", audit.entries[1].details)
	}
}

func TestRevoke_NonAdminDenied(t *testing.T) {
	db := &fakeQuerier{t: t}
	store := NewGrantStore(db, &fakeGrantDirectory{admin: false}, &fakeRecorder{})

	err := store.Revoke(context.Background(), "nobody", "p1", "acme_corp")
	if KindOf(err) != KindPermission {
		t.Fatalf("expected permission error, got %v", err)
	}
}
