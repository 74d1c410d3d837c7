package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ---------------------------------------------------------------------------
// Token generation and validation (DB-free paths)
// ---------------------------------------------------------------------------

func TestGenerateToken_RoundTrip(t *testing.T) {
	svc := NewAuthService(nil, "test-platform-jwt-secret-32-chars-min", 3600)

	token, err := svc.generateToken("principal-123", "ops@example.com")
	if err != nil {
		t.Fatalf("generateToken failed: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "principal-123" {
		t.Errorf("expected subject 'principal-123', got %q", claims.Subject)
	}
	if claims.Email != "ops@example.com" {
		t.Errorf("expected email 'ops@example.com', got %q", claims.Email)
	}
	if claims.Type != "platform" {
		t.Errorf("expected type 'platform', got %q", claims.Type)
	}
	if claims.Issuer != "schemabase" {
		t.Errorf("expected issuer 'schemabase', got %q", claims.Issuer)
	}
}

func TestGenerateToken_Expiry(t *testing.T) {
	svc := NewAuthService(nil, "test-platform-jwt-secret-32-chars-min", 3600)

	token, err := svc.generateToken("p1", "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}

	expected := time.Now().Add(time.Hour)
	diff := claims.ExpiresAt.Time.Sub(expected)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("expiry not within a minute of configured 1h: %v", claims.ExpiresAt.Time)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewAuthService(nil, "secret-one-long-enough-for-validation", 3600)
	verifier := NewAuthService(nil, "secret-two-long-enough-for-validation", 3600)

	token, err := issuer.generateToken("p1", "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail with a different secret")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewAuthService(nil, "test-platform-jwt-secret-32-chars-min", -60)

	token, err := svc.generateToken("p1", "a@b.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected validation to fail for expired token")
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := NewAuthService(nil, "test-platform-jwt-secret-32-chars-min", 3600)

	for _, tok := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := svc.ValidateToken(tok); err == nil {
			t.Errorf("expected validation to fail for %q", tok)
		}
	}
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func principalRow(id, email string, hash *string) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = email
		*(dest[2].(**string)) = hash
		*(dest[3].(*time.Time)) = time.Now()
		return nil
	}}
}

func errRow(err error) fakeRow {
	return fakeRow{scan: func(dest ...any) error { return err }}
}

func testHash(t *testing.T, password string) *string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s := string(h)
	return &s
}

func TestLogin_Success(t *testing.T) {
	hash := testHash(t, "correct-horse-battery")
	db := &fakeQuerier{t: t, rows: []fakeRow{principalRow("p1", "ops@example.com", hash)}}
	svc := NewAuthService(db, "test-platform-jwt-secret-32-chars-min", 3600)

	resp, err := svc.Login(context.Background(), LoginRequest{Email: "Ops@Example.com", Password: "correct-horse-battery"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Principal.ID != "p1" {
		t.Errorf("expected principal p1, got %q", resp.Principal.ID)
	}

	claims, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Subject != "p1" {
		t.Errorf("expected token subject p1, got %q", claims.Subject)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	hash := testHash(t, "correct-horse-battery")
	db := &fakeQuerier{t: t, rows: []fakeRow{principalRow("p1", "ops@example.com", hash)}}
	svc := NewAuthService(db, "test-platform-jwt-secret-32-chars-min", 3600)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "ops@example.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_UnknownPrincipal(t *testing.T) {
	db := &fakeQuerier{t: t, rows: []fakeRow{noRows()}}
	svc := NewAuthService(db, "test-platform-jwt-secret-32-chars-min", 3600)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "ghost@example.com", Password: "whatever"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_NoLocalPassword(t *testing.T) {
	// IdP-mirrored principals have no password hash and cannot use the
	// break-glass login.
	db := &fakeQuerier{t: t, rows: []fakeRow{principalRow("p1", "ops@example.com", nil)}}
	svc := NewAuthService(db, "test-platform-jwt-secret-32-chars-min", 3600)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "ops@example.com", Password: "whatever"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_DatabaseErrorIsNotCredentials(t *testing.T) {
	cause := errors.New("connection refused")
	db := &fakeQuerier{t: t, rows: []fakeRow{errRow(cause)}}
	svc := NewAuthService(db, "test-platform-jwt-secret-32-chars-min", 3600)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "ops@example.com", Password: "whatever"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected infrastructure error to stay distinct, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	hash := testHash(t, "correct-horse-battery")
	rows := make([]fakeRow, 5)
	for i := range rows {
		rows[i] = principalRow("p1", "ops@example.com", hash)
	}
	// The script holds exactly five rows: the sixth attempt must be rejected
	// before any lookup runs.
	db := &fakeQuerier{t: t, rows: rows}
	svc := NewAuthService(db, "test-platform-jwt-secret-32-chars-min", 3600)

	for i := 0; i < 5; i++ {
		_, err := svc.Login(context.Background(), LoginRequest{Email: "ops@example.com", Password: "wrong"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := svc.Login(context.Background(), LoginRequest{Email: "ops@example.com", Password: "correct-horse-battery"})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Request metadata context
// ---------------------------------------------------------------------------

func TestRequestMeta_RoundTrip(t *testing.T) {
	ctx := WithRequestMeta(context.Background(), "203.0.113.7", "curl/8.0")

	ip, ua := RequestMeta(ctx)
	if ip != "203.0.113.7" {
		t.Errorf("expected ip '203.0.113.7', got %q", ip)
	}
	if ua != "curl/8.0" {
		t.Errorf("expected ua 'curl/8.0', got %q", ua)
	}
}

func TestRequestMeta_Unset(t *testing.T) {
	ip, ua := RequestMeta(context.Background())
	if ip != "" || ua != "" {
		t.Errorf("expected empty meta, got %q / %q", ip, ua)
	}
}
