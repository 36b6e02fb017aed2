package apikey

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

const keyColumns = `id, user_id, name, key_hash, key_prefix, scopes, is_active,
	expires_at, requests_count, last_used_at, created_at`

func scanKey(row pgx.Row) (*Key, error) {
	var k Key
	err := row.Scan(
		&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes, &k.IsActive,
		&k.ExpiresAt, &k.RequestsCount, &k.LastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// Create inserts a new API key.
func (r *PostgresRepository) Create(ctx context.Context, k *Key) error {
	query := `
		INSERT INTO api_keys (user_id, name, key_hash, key_prefix, scopes, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, requests_count, created_at`

	err := r.pool.QueryRow(ctx, query,
		k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.Scopes, k.IsActive, k.ExpiresAt,
	).Scan(&k.ID, &k.RequestsCount, &k.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

// GetByID retrieves a key by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Key, error) {
	return r.getOne(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id)
}

// GetByHash retrieves a key by the SHA-256 hash of its raw value.
func (r *PostgresRepository) GetByHash(ctx context.Context, hash string) (*Key, error) {
	return r.getOne(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*Key, error) {
	k, err := scanKey(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	return k, nil
}

// ListByUser returns a user's keys, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]Key, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := []Key{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating api key rows: %w", err)
	}
	return keys, nil
}

// Deactivate sets is_active to false.
func (r *PostgresRepository) Deactivate(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `UPDATE api_keys SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivating api key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Delete removes a key.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// IncrementUsage bumps requests_count and stamps last_used_at.
func (r *PostgresRepository) IncrementUsage(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET requests_count = requests_count + 1, last_used_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("recording api key usage: %w", err)
	}
	return nil
}
