package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astronomiahub/hub/internal/database"
)

// PostgresRepository implements UserRepository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new UserRepository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) UserRepository {
	return &PostgresRepository{pool: pool}
}

const userColumns = `
	u.id, u.email, u.password_hash, u.totp_secret, u.totp_enabled,
	u.reset_token, u.reset_token_expires_at, u.created_at,
	p.name, p.surname, p.affiliation, p.orcid,
	COALESCE(ARRAY(
		SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = u.id ORDER BY r.name
	), '{}')`

// Create inserts a new user with its profile and the base role.
func (r *PostgresRepository) Create(ctx context.Context, u *User, p *Profile) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (email, password_hash)
			VALUES ($1, $2)
			RETURNING id, created_at`,
			u.Email, u.PasswordHash,
		).Scan(&u.ID, &u.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrEmailTaken
			}
			return fmt.Errorf("inserting user: %w", err)
		}

		p.UserID = u.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO user_profiles (user_id, name, surname, affiliation, orcid)
			VALUES ($1, $2, $3, $4, $5)`,
			p.UserID, p.Name, p.Surname, p.Affiliation, p.ORCID,
		)
		if err != nil {
			return fmt.Errorf("inserting profile: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			SELECT $1, id FROM roles WHERE name = $2`,
			u.ID, RoleUser,
		)
		if err != nil {
			return fmt.Errorf("assigning base role: %w", err)
		}

		u.Profile = p
		u.Roles = []string{RoleUser}
		return nil
	})
}

// GetByID retrieves a single user by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN user_profiles p ON p.user_id = u.id
		WHERE u.id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a single user by email, case-insensitively.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN user_profiles p ON p.user_id = u.id
		WHERE LOWER(u.email) = LOWER($1)`
	return r.scanOne(r.pool.QueryRow(ctx, query, email))
}

// First retrieves the user with the lowest id.
func (r *PostgresRepository) First(ctx context.Context) (*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN user_profiles p ON p.user_id = u.id
		ORDER BY u.id
		LIMIT 1`
	return r.scanOne(r.pool.QueryRow(ctx, query))
}

func (r *PostgresRepository) scanOne(row pgx.Row) (*User, error) {
	var u User
	var name, surname *string
	var affiliation, orcid *string
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.TOTPSecret, &u.TOTPEnabled,
		&u.ResetToken, &u.ResetTokenExpiresAt, &u.CreatedAt,
		&name, &surname, &affiliation, &orcid,
		&u.Roles,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if name != nil && surname != nil {
		u.Profile = &Profile{
			UserID:      u.ID,
			Name:        *name,
			Surname:     *surname,
			Affiliation: affiliation,
			ORCID:       orcid,
		}
	}

	return &u, nil
}

// SetPassword replaces the password hash and clears any pending reset token.
func (r *PostgresRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, reset_token = NULL, reset_token_expires_at = NULL
		WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetResetToken stores the database shadow of an issued reset token.
func (r *PostgresRepository) SetResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET reset_token = $2, reset_token_expires_at = $3
		WHERE id = $1`, id, token, expiresAt)
	if err != nil {
		return fmt.Errorf("storing reset token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetTOTPSecret stores a new (not yet enabled) TOTP secret.
func (r *PostgresRepository) SetTOTPSecret(ctx context.Context, id int64, secret string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET totp_secret = $2, totp_enabled = FALSE
		WHERE id = $1`, id, secret)
	if err != nil {
		return fmt.Errorf("storing totp secret: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// EnableTOTP marks the stored TOTP secret as active.
func (r *PostgresRepository) EnableTOTP(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET totp_enabled = TRUE
		WHERE id = $1 AND totp_secret IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("enabling totp: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AddRole grants a role to a user. Granting a role twice is a no-op.
func (r *PostgresRepository) AddRole(ctx context.Context, id int64, role string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2
		ON CONFLICT DO NOTHING`, id, role)
	if err != nil {
		return fmt.Errorf("adding role: %w", err)
	}
	return nil
}

// CountAll returns the total number of users.
func (r *PostgresRepository) CountAll(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}
