package comment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

const commentColumns = `c.id, c.dataset_id, c.author_id,
	COALESCE(p.surname || ', ' || p.name, ''), c.content, c.status, c.created_at, c.updated_at`

const commentFrom = ` FROM ds_comments c LEFT JOIN user_profiles p ON p.user_id = c.author_id`

func scanComment(row pgx.Row) (*Comment, error) {
	var c Comment
	var status string
	err := row.Scan(&c.ID, &c.DatasetID, &c.AuthorID, &c.AuthorName, &c.Content, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	return &c, nil
}

// Create inserts a comment and populates its generated fields.
func (r *PostgresRepository) Create(ctx context.Context, c *Comment) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ds_comments (dataset_id, author_id, content, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		c.DatasetID, c.AuthorID, c.Content, string(c.Status),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrDatasetNotFound
		}
		return fmt.Errorf("inserting comment: %w", err)
	}
	return nil
}

// GetByID retrieves a comment by id.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Comment, error) {
	c, err := scanComment(r.pool.QueryRow(ctx, `SELECT `+commentColumns+commentFrom+` WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCommentNotFound
		}
		return nil, fmt.Errorf("querying comment: %w", err)
	}
	return c, nil
}

// ListByDataset returns the comments of a dataset with the given status, newest first.
func (r *PostgresRepository) ListByDataset(ctx context.Context, datasetID int64, status Status) ([]Comment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+commentColumns+commentFrom+`
		WHERE c.dataset_id = $1 AND c.status = $2
		ORDER BY c.created_at DESC, c.id DESC`, datasetID, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning comment row: %w", err)
		}
		comments = append(comments, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating comment rows: %w", err)
	}
	return comments, nil
}

// SetStatus changes the status of a comment and bumps updated_at.
func (r *PostgresRepository) SetStatus(ctx context.Context, id int64, status Status) (*Comment, error) {
	result, err := r.pool.Exec(ctx,
		`UPDATE ds_comments SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return nil, fmt.Errorf("updating comment status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrCommentNotFound
	}
	return r.GetByID(ctx, id)
}

// Delete removes a comment.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM ds_comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting comment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrCommentNotFound
	}
	return nil
}
