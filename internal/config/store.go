package config

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/faucetdb/basin/internal/model"
)

// Store persists Basin's metadata (model definitions, API keys, webhooks,
// admins and request analytics) in SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new metadata store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "basin.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate metadata database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the metadata database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func rowsAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Admin CRUD
// ---------------------------------------------------------------------------

// CreateAdmin inserts a new admin account. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	const q = `INSERT INTO admins
		(email, password_hash, name, is_active, created_at, updated_at)
		VALUES
		(:email, :password_hash, :name, :is_active, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, admin)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get admin id: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdmin returns an admin by ID.
func (s *Store) GetAdmin(ctx context.Context, id int64) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.GetContext(ctx, &admin, "SELECT * FROM admins WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &admin, nil
}

// GetAdminByEmail returns an admin by email address.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.GetContext(ctx, &admin, "SELECT * FROM admins WHERE email = ?", email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all admin accounts.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin sets the last_login_at timestamp for an admin.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE admins SET last_login_at = ?, updated_at = ? WHERE id = ?", now, now, id)
	if err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	return rowsAffected(result, "update admin last login")
}

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// apiKeyRow maps the api_keys table. allowed_tables_json is NULL when the
// key may reach every table.
type apiKeyRow struct {
	ID                int64          `db:"id"`
	Name              string         `db:"name"`
	OwnerID           sql.NullInt64  `db:"owner_id"`
	KeyPrefix         string         `db:"key_prefix"`
	LookupHash        string         `db:"lookup_hash"`
	TokenHash         string         `db:"token_hash"`
	Salt              string         `db:"salt"`
	Type              string         `db:"type"`
	Scopes            int            `db:"scopes"`
	AllowedTablesJSON sql.NullString `db:"allowed_tables_json"`
	RateLimit         int            `db:"rate_limit"`
	IsActive          bool           `db:"is_active"`
	ExpiresAt         *time.Time     `db:"expires_at"`
	LastUsedAt        *time.Time     `db:"last_used_at"`
	CreatedAt         time.Time      `db:"created_at"`
}

func apiKeyRowFromModel(k *model.APIKey) (apiKeyRow, error) {
	row := apiKeyRow{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		LookupHash: k.LookupHash,
		TokenHash:  k.TokenHash,
		Salt:       k.Salt,
		Type:       k.Type,
		Scopes:     int(k.Scopes),
		RateLimit:  k.RateLimit,
		IsActive:   k.IsActive,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
	if k.OwnerID != nil {
		row.OwnerID = sql.NullInt64{Int64: *k.OwnerID, Valid: true}
	}
	if k.AllowedTables != nil {
		b, err := json.Marshal(k.AllowedTables)
		if err != nil {
			return apiKeyRow{}, fmt.Errorf("marshal allowed tables: %w", err)
		}
		row.AllowedTablesJSON = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	k := model.APIKey{
		ID:         r.ID,
		Name:       r.Name,
		KeyPrefix:  r.KeyPrefix,
		LookupHash: r.LookupHash,
		TokenHash:  r.TokenHash,
		Salt:       r.Salt,
		Type:       r.Type,
		Scopes:     model.Scope(r.Scopes),
		RateLimit:  r.RateLimit,
		IsActive:   r.IsActive,
		ExpiresAt:  r.ExpiresAt,
		LastUsedAt: r.LastUsedAt,
		CreatedAt:  r.CreatedAt,
	}
	if r.OwnerID.Valid {
		id := r.OwnerID.Int64
		k.OwnerID = &id
	}
	if r.AllowedTablesJSON.Valid {
		k.AllowedTables = []string{}
		if err := json.Unmarshal([]byte(r.AllowedTablesJSON.String), &k.AllowedTables); err != nil {
			return model.APIKey{}, fmt.Errorf("unmarshal allowed tables: %w", err)
		}
	}
	return k, nil
}

// CreateAPIKey inserts a new API key record. The hashes must already be set.
// The ID and CreatedAt fields are populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()
	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_keys
		(name, owner_id, key_prefix, lookup_hash, token_hash, salt, type, scopes,
		 allowed_tables_json, rate_limit, is_active, expires_at, created_at)
		VALUES
		(:name, :owner_id, :key_prefix, :lookup_hash, :token_hash, :salt, :type, :scopes,
		 :allowed_tables_json, :rate_limit, :is_active, :expires_at, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

func (s *Store) getAPIKey(ctx context.Context, where string, arg any) (*model.APIKey, error) {
	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE "+where, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	k, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	return s.getAPIKey(ctx, "id = ?", id)
}

// GetAPIKeyByLookupHash finds an API key by the SHA-256 of its token.
func (s *Store) GetAPIKeyByLookupHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return s.getAPIKey(ctx, "lookup_hash = ?", hash)
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM api_keys ORDER BY created_at DESC, id DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// UpdateAPIKey updates the mutable attributes of a key. Hashes are immutable.
func (s *Store) UpdateAPIKey(ctx context.Context, key *model.APIKey) error {
	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}
	const q = `UPDATE api_keys SET
		name = :name, owner_id = :owner_id, type = :type, scopes = :scopes,
		allowed_tables_json = :allowed_tables_json, rate_limit = :rate_limit,
		is_active = :is_active, expires_at = :expires_at
		WHERE id = :id`
	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return rowsAffected(result, "update api key")
}

// RevokeAPIKey marks an API key as inactive by ID.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "UPDATE api_keys SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return rowsAffected(result, "revoke api key")
}

// RevokeAPIKeyByPrefix marks an active API key as inactive by its prefix.
func (s *Store) RevokeAPIKeyByPrefix(ctx context.Context, prefix string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = 0 WHERE key_prefix = ? AND is_active = 1", prefix)
	if err != nil {
		return fmt.Errorf("revoke api key by prefix: %w", err)
	}
	return rowsAffected(result, "revoke api key")
}

// DeleteAPIKey permanently removes an API key.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return rowsAffected(result, "delete api key")
}

// UpdateAPIKeyLastUsed sets the last_used_at timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return rowsAffected(result, "update api key last used")
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns a persisted setting, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	if err := s.db.GetContext(ctx, &v, "SELECT value FROM settings WHERE key = ?", key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return v, nil
}

// SetSetting upserts a persisted setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// EnsureSecret returns the setting named key, first storing 32 random bytes
// hex-encoded under it when it is unset. created reports whether it did.
func (s *Store) EnsureSecret(ctx context.Context, key string) (secret string, created bool, err error) {
	secret, err = s.GetSetting(ctx, key)
	if err == nil {
		return secret, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", false, err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", false, fmt.Errorf("generate %s: %w", key, err)
	}
	secret = hex.EncodeToString(buf)
	if err := s.SetSetting(ctx, key, secret); err != nil {
		return "", false, err
	}
	return secret, true, nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
// It is the lookup hash; the salted token hash is computed by the auth
// service.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
