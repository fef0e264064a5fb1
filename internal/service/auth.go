// Package service holds the application services that sit between the HTTP
// handlers and the metadata store: authentication, model management,
// webhook registration and analytics recording.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/config"
	"github.com/faucetdb/basin/internal/model"
	"github.com/faucetdb/basin/internal/validate"
)

// KeyPrefix starts every issued API key token.
const KeyPrefix = "bsn_"

// displayPrefixLen is how much of a token is kept for display.
const displayPrefixLen = 12

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
)

// AuthService issues and validates admin sessions and API keys.
type AuthService struct {
	store     *config.Store
	validator *validate.Validator
	logger    *slog.Logger
	jwtSecret []byte
	jwtTTL    time.Duration
	now       func() time.Time
}

// NewAuthService creates an AuthService. A zero ttl means 24 hours.
func NewAuthService(store *config.Store, jwtSecret string, ttl time.Duration, logger *slog.Logger) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:     store,
		validator: validate.New(),
		logger:    logger,
		jwtSecret: []byte(jwtSecret),
		jwtTTL:    ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// KeyInput describes a new or updated API key.
type KeyInput struct {
	Name          string     `json:"name" validate:"required,max=100"`
	OwnerID       *int64     `json:"owner_id"`
	Type          string     `json:"type" validate:"omitempty,oneof=public secret"`
	Scopes        []string   `json:"scopes" validate:"omitempty,dive,oneof=read write delete"`
	AllowedTables []string   `json:"allowed_tables"`
	RateLimit     int        `json:"rate_limit" validate:"gte=0"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IsActive      *bool      `json:"is_active"`
}

// CreateAPIKey issues a new key. The plaintext token is returned once and
// never stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, in KeyInput) (string, *model.APIKey, error) {
	if err := s.validator.Struct(in); err != nil {
		return "", nil, err
	}
	key := &model.APIKey{IsActive: true}
	if err := applyKeyInput(key, in); err != nil {
		return "", nil, err
	}

	token, err := randomHex(24)
	if err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	token = KeyPrefix + token
	salt, err := randomHex(16)
	if err != nil {
		return "", nil, fmt.Errorf("generate salt: %w", err)
	}

	key.KeyPrefix = token[:displayPrefixLen]
	key.LookupHash = config.HashAPIKey(token)
	key.Salt = salt
	key.TokenHash = saltedHash(salt, token)

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	s.logger.Info("api key created", "key_id", key.ID, "prefix", key.KeyPrefix, "type", key.Type)
	return token, key, nil
}

// UpdateAPIKey applies in to the stored key with the given id.
func (s *AuthService) UpdateAPIKey(ctx context.Context, id int64, in KeyInput) (*model.APIKey, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, notFound(err, "API key not found.")
	}
	if err := applyKeyInput(key, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func applyKeyInput(key *model.APIKey, in KeyInput) error {
	key.Name = in.Name
	key.OwnerID = in.OwnerID
	if in.Type != "" || key.Type == "" {
		key.Type = in.Type
		if key.Type == "" {
			key.Type = model.KeyTypePublic
		}
	}
	if len(in.Scopes) > 0 {
		scopes, ok := model.ParseScopes(in.Scopes)
		if !ok {
			return apperr.FieldError("scopes", "The scopes field contains an unknown scope.")
		}
		key.Scopes = scopes
	}
	if key.Scopes == 0 {
		key.Scopes = model.DefaultScopes(key.Type)
	}
	key.AllowedTables = in.AllowedTables
	key.RateLimit = in.RateLimit
	key.ExpiresAt = in.ExpiresAt
	if in.IsActive != nil {
		key.IsActive = *in.IsActive
	}
	return nil
}

// ValidateAPIKey resolves a raw token to its key. Unknown tokens and hash
// mismatches are authentication failures; revoked or expired keys are
// authorization failures.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (*model.APIKey, error) {
	key, err := s.store.GetAPIKeyByLookupHash(ctx, config.HashAPIKey(token))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, apperr.Authentication(apperr.CodeInvalidAPIKey, "Invalid API key.")
		}
		return nil, apperr.Internal("Could not validate API key.", err)
	}
	if subtle.ConstantTimeCompare([]byte(saltedHash(key.Salt, token)), []byte(key.TokenHash)) != 1 {
		return nil, apperr.Authentication(apperr.CodeInvalidAPIKey, "Invalid API key.")
	}
	if !key.IsActive {
		return nil, apperr.Authorization(apperr.CodeAPIKeyInvalid, "API key has been deactivated")
	}
	if key.Expired(s.now()) {
		return nil, apperr.Authorization(apperr.CodeAPIKeyInvalid, "API key has expired")
	}
	return key, nil
}

// TouchAPIKey records that key was just used. Failures are logged only.
func (s *AuthService) TouchAPIKey(ctx context.Context, key *model.APIKey) {
	if err := s.store.UpdateAPIKeyLastUsed(ctx, key.ID); err != nil {
		s.logger.Warn("update api key last used", "key_id", key.ID, "error", err)
	}
}

func saltedHash(salt, token string) string {
	h := sha256.Sum256([]byte(salt + token))
	return hex.EncodeToString(h[:])
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ---------------------------------------------------------------------------
// Admins and sessions
// ---------------------------------------------------------------------------

// AdminInput describes a new admin account.
type AdminInput struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"max=100"`
	Password string `json:"password" validate:"required,min=8"`
}

// CreateAdmin stores a new admin with a bcrypt-hashed password.
func (s *AuthService) CreateAdmin(ctx context.Context, in AdminInput) (*model.Admin, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, err
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := s.store.GetAdminByEmail(ctx, in.Email); err == nil {
		return nil, apperr.FieldError("email", "The email has already been taken.")
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	admin := &model.Admin{Email: in.Email, Name: in.Name, PasswordHash: hash, IsActive: true}
	if err := s.store.CreateAdmin(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}

// Login checks an admin's credentials and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.Admin, error) {
	admin, err := s.store.GetAdminByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", nil, apperr.Authentication(apperr.CodeUnauthorized, "Invalid email or password.")
	}
	if !admin.IsActive || !CheckPassword(admin.PasswordHash, password) {
		return "", nil, apperr.Authentication(apperr.CodeUnauthorized, "Invalid email or password.")
	}
	token, err := s.IssueJWT(ctx, admin.ID, admin.Email, s.jwtTTL)
	if err != nil {
		return "", nil, apperr.Internal("Could not issue session.", err)
	}
	if err := s.store.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		s.logger.Warn("update admin last login", "admin_id", admin.ID, "error", err)
	}
	return token, admin, nil
}

// ValidateJWT verifies an admin session token and returns the
// administrative principal it stands for.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*model.Principal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidCredentials
	}
	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return model.AdminPrincipal(&model.Admin{ID: claims.AdminID, Email: claims.Email}), nil
}

// IssueJWT creates a new signed session token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, adminID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "basin",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// TTL returns the session lifetime.
func (s *AuthService) TTL() time.Duration {
	return s.jwtTTL
}

type jwtClaims struct {
	AdminID int64  `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, config.ErrNotFound) {
		return apperr.NotFound(msg)
	}
	return err
}
