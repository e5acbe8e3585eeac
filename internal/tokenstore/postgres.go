package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps credentials in the credentials table.
type PostgresStore struct {
	db     PgxPool
	cipher *Cipher
	now    func() time.Time
	close  func()
}

// NewPostgresStore wraps an existing pool. The schema must already exist;
// see ApplyMigrations.
func NewPostgresStore(db PgxPool, cipher *Cipher) *PostgresStore {
	if cipher == nil {
		cipher = &Cipher{}
	}
	return &PostgresStore{db: db, cipher: cipher, now: time.Now, close: func() {}}
}

// OpenPostgres connects to dsn, applies migrations and returns a store
// that owns the pool.
func OpenPostgres(ctx context.Context, dsn string, cipher *Cipher) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	s := NewPostgresStore(pool, cipher)
	s.close = pool.Close
	return s, nil
}

const upsertCredential = `INSERT INTO credentials
    (identity_key, access_token, refresh_token, expiry_ms, scopes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (identity_key) DO UPDATE SET
    access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expiry_ms = EXCLUDED.expiry_ms,
    scopes = EXCLUDED.scopes,
    updated_at = EXCLUDED.updated_at`

// Put upserts cred under key in a single statement.
func (s *PostgresStore) Put(ctx context.Context, key string, cred Credential) error {
	access, refresh, err := s.cipher.sealPair(cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertCredential,
		key, access, refresh, cred.Expiry, cred.Scopes, s.now().UTC()); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

const selectCredential = `SELECT identity_key, access_token, refresh_token, expiry_ms, scopes, created_at, updated_at
FROM credentials WHERE identity_key = $1`

// Get loads the record for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Credential, error) {
	var cred Credential
	err := s.db.QueryRow(ctx, selectCredential, key).Scan(
		&cred.IdentityKey,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.Expiry,
		&cred.Scopes,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select credential: %w", err)
	}

	cred.AccessToken, cred.RefreshToken, err = s.cipher.openPair(cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

const (
	deleteCredential = `DELETE FROM credentials WHERE identity_key = $1`
	sweepCredentials = `DELETE FROM credentials WHERE expiry_ms <= $1`
)

// Delete removes the record for key if present.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, deleteCredential, key); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// SweepExpired deletes every record with expiry_ms <= now.
func (s *PostgresStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, sweepCredentials, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep credentials: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() error {
	s.close()
	return nil
}
