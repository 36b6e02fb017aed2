package token

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const tokenColumns = `id, user_id, jti, code, type, is_active, parent_jti,
	expires_at, device_info, location_info, created_at`

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	err := row.Scan(
		&t.ID, &t.UserID, &t.JTI, &t.Code, &t.Type, &t.IsActive, &t.ParentJTI,
		&t.ExpiresAt, &t.DeviceInfo, &t.LocationInfo, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new token record.
func (r *PostgresRepository) Create(ctx context.Context, t *Token) error {
	query := `
		INSERT INTO tokens (user_id, jti, code, type, is_active, parent_jti,
		                    expires_at, device_info, location_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		t.UserID, t.JTI, t.Code, t.Type, t.IsActive, t.ParentJTI,
		t.ExpiresAt, t.DeviceInfo, t.LocationInfo,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

// GetByID retrieves a single token by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Token, error) {
	t, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("querying token: %w", err)
	}
	return t, nil
}

// GetByJTI retrieves a single token by jti.
func (r *PostgresRepository) GetByJTI(ctx context.Context, jti string) (*Token, error) {
	t, err := scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE jti = $1`, jti))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("querying token: %w", err)
	}
	return t, nil
}

// ListActiveByUser returns active, unexpired tokens for a user, newest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID int64) ([]Token, error) {
	return r.list(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE user_id = $1 AND is_active AND expires_at > NOW()
		ORDER BY created_at DESC, id DESC`, userID)
}

// ActiveAccessByParent returns active access tokens minted from parentJTI.
func (r *PostgresRepository) ActiveAccessByParent(ctx context.Context, parentJTI string) ([]Token, error) {
	return r.list(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE parent_jti = $1 AND type = 'access' AND is_active
		ORDER BY id`, parentJTI)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Token, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning token row: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token rows: %w", err)
	}

	if tokens == nil {
		tokens = []Token{}
	}
	return tokens, nil
}

// DeactivateAccessByParent deactivates access tokens minted from parentJTI.
func (r *PostgresRepository) DeactivateAccessByParent(ctx context.Context, parentJTI string) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE tokens SET is_active = FALSE
		WHERE parent_jti = $1 AND type = 'access' AND is_active`, parentJTI)
	if err != nil {
		return 0, fmt.Errorf("deactivating access tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeactivateFamily deactivates the refresh token and all of its access tokens in one statement.
func (r *PostgresRepository) DeactivateFamily(ctx context.Context, refreshJTI string) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE tokens SET is_active = FALSE
		WHERE (jti = $1 OR parent_jti = $1) AND is_active`, refreshJTI)
	if err != nil {
		return 0, fmt.Errorf("deactivating token family: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeactivateAllForUser deactivates every active token of a user.
func (r *PostgresRepository) DeactivateAllForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE tokens SET is_active = FALSE
		WHERE user_id = $1 AND is_active`, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivating user tokens: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeactivateExpired deactivates active tokens whose expiry has passed, and
// access tokens whose refresh parent is no longer active.
func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE tokens t SET is_active = FALSE
		WHERE t.is_active AND (
			t.expires_at <= $1
			OR (t.type = 'access' AND NOT EXISTS (
				SELECT 1 FROM tokens p
				WHERE p.jti = t.parent_jti AND p.is_active AND p.expires_at > $1
			))
		)`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivating expired tokens: %w", err)
	}
	return result.RowsAffected(), nil
}
