package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService validates platform JWTs issued by the identity provider and
// serves the break-glass local login for the bootstrap super admin. The
// control plane performs no other authentication itself.
type AuthService struct {
	db            querier
	jwtSecret     []byte
	jwtExpiry     time.Duration
	loginAttempts map[string]*loginAttempt
	attemptsMu    sync.Mutex
}

type loginAttempt struct {
	count    int
	lockedAt time.Time
}

func NewAuthService(db querier, jwtSecret string, jwtExpiry int) *AuthService {
	return &AuthService{
		db:            db,
		jwtSecret:     []byte(jwtSecret),
		jwtExpiry:     time.Duration(jwtExpiry) * time.Second,
		loginAttempts: make(map[string]*loginAttempt),
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	Principal Principal `json:"principal"`
}

type PlatformClaims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// ErrInvalidCredentials is returned for any break-glass login failure. The
// message is deliberately uniform.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountLocked is returned while a login lockout is in effect.
var ErrAccountLocked = errors.New("account temporarily locked, try again later")

// dummyHash is a pre-computed bcrypt hash used for timing-safe login.
// When the principal is not found, we still run a bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-safe-dummy-password-placeholder"), 12)

// Login authenticates a break-glass principal and returns a platform JWT.
// Five consecutive failures lock the account for fifteen minutes.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	s.attemptsMu.Lock()
	attempt := s.loginAttempts[email]
	if attempt != nil && attempt.count >= 5 {
		if time.Since(attempt.lockedAt) < 15*time.Minute {
			s.attemptsMu.Unlock()
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return nil, ErrAccountLocked
		}
		delete(s.loginAttempts, email)
	}
	s.attemptsMu.Unlock()

	var p Principal
	var passwordHash *string
	err := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM platform.principals WHERE email = $1
	`, email).Scan(&p.ID, &p.Email, &passwordHash, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && passwordHash == nil) {
		// Unknown principal or one without a local password. Burn a bcrypt
		// comparison anyway so the timing matches the found case.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		// Infrastructure failure, not a credential problem.
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*passwordHash), []byte(req.Password)); err != nil {
		s.attemptsMu.Lock()
		a := s.loginAttempts[email]
		if a == nil {
			a = &loginAttempt{}
			s.loginAttempts[email] = a
		}
		a.count++
		if a.count >= 5 {
			a.lockedAt = time.Now()
		}
		s.attemptsMu.Unlock()
		return nil, ErrInvalidCredentials
	}

	s.attemptsMu.Lock()
	delete(s.loginAttempts, email)
	s.attemptsMu.Unlock()

	token, err := s.generateToken(p.ID, p.Email)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &AuthResponse{Token: token, Principal: p}, nil
}

// ValidateToken verifies a platform JWT and returns the claims.
func (s *AuthService) ValidateToken(tokenString string) (*PlatformClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PlatformClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*PlatformClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// EnsureSuperAdmin creates (or repairs) the break-glass super admin from env
// configuration: a principal with a bcrypt password hash and an active
// super_admin record.
func (s *AuthService) EnsureSuperAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var principalID string
	err = s.db.QueryRow(ctx, `SELECT id FROM platform.principals WHERE email = $1`, email).Scan(&principalID)
	if errors.Is(err, pgx.ErrNoRows) {
		principalID = uuid.NewString()
		_, err = s.db.Exec(ctx, `
			INSERT INTO platform.principals (id, email, password_hash)
			VALUES ($1, $2, $3)
		`, principalID, email, string(hash))
		if err != nil {
			return fmt.Errorf("insert bootstrap principal: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("lookup bootstrap principal: %w", err)
	} else {
		_, err = s.db.Exec(ctx, `
			UPDATE platform.principals SET password_hash = $1 WHERE id = $2
		`, string(hash), principalID)
		if err != nil {
			return fmt.Errorf("update bootstrap password: %w", err)
		}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO platform.admins (principal_id, role, is_active)
		VALUES ($1, 'super_admin', TRUE)
		ON CONFLICT (principal_id) DO UPDATE SET role = 'super_admin', is_active = TRUE, updated_at = NOW()
	`, principalID)
	if err != nil {
		return fmt.Errorf("ensure super admin record: %w", err)
	}

	return nil
}

func (s *AuthService) generateToken(principalID, email string) (string, error) {
	now := time.Now()
	claims := PlatformClaims{
		Email: email,
		Type:  "platform",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
			Issuer:    "schemabase",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
