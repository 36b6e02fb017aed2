package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astronomiahub/hub/internal/database"
)

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

const datasetColumns = `
	d.id, d.user_id, d.created_at, d.download_count,
	m.id, m.title, m.description, m.publication_type, m.publication_doi,
	m.dataset_doi, m.deposition_id, m.tags`

const datasetFrom = ` FROM datasets d JOIN ds_meta_data m ON m.id = d.ds_meta_data_id`

func scanDataset(row pgx.Row) (*Dataset, error) {
	var d Dataset
	var pubType string
	err := row.Scan(
		&d.ID, &d.UserID, &d.CreatedAt, &d.DownloadCount,
		&d.Metadata.ID, &d.Metadata.Title, &d.Metadata.Description, &pubType, &d.Metadata.PublicationDOI,
		&d.Metadata.DatasetDOI, &d.Metadata.DepositionID, &d.Metadata.Tags,
	)
	if err != nil {
		return nil, err
	}
	d.Metadata.PublicationType = PublicationType(pubType)
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// Create inserts metadata, dataset, authors, observations and hubfiles in one transaction.
func (r *PostgresRepository) Create(ctx context.Context, d *Dataset) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		m := &d.Metadata
		err := tx.QueryRow(ctx, `
			INSERT INTO ds_meta_data (title, description, publication_type, publication_doi,
			                          dataset_doi, deposition_id, tags)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			m.Title, m.Description, string(m.PublicationType), m.PublicationDOI,
			m.DatasetDOI, m.DepositionID, m.Tags,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("inserting metadata: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO datasets (user_id, ds_meta_data_id)
			VALUES ($1, $2)
			RETURNING id, created_at, download_count`,
			d.UserID, m.ID,
		).Scan(&d.ID, &d.CreatedAt, &d.DownloadCount)
		if err != nil {
			return fmt.Errorf("inserting dataset: %w", err)
		}

		for i := range m.Authors {
			a := &m.Authors[i]
			a.Position = i
			err := tx.QueryRow(ctx, `
				INSERT INTO authors (ds_meta_data_id, position, name, affiliation, orcid)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id`,
				m.ID, a.Position, a.Name, a.Affiliation, a.ORCID,
			).Scan(&a.ID)
			if err != nil {
				return fmt.Errorf("inserting author: %w", err)
			}
		}

		for i := range m.Observations {
			if err := insertObservation(ctx, tx, m.ID, &m.Observations[i]); err != nil {
				return err
			}
		}

		for i := range d.Files {
			f := &d.Files[i]
			f.DatasetID = d.ID
			if err := insertHubfile(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertObservation(ctx context.Context, q pgx.Tx, metadataID int64, o *Observation) error {
	err := q.QueryRow(ctx, `
		INSERT INTO observations (ds_meta_data_id, object_name, ra, dec, magnitude,
		                          observation_date, filter_used, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		metadataID, o.ObjectName, o.RA, o.Dec, o.Magnitude,
		o.ObservationDate, o.FilterUsed, o.Notes,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("inserting observation: %w", err)
	}
	return nil
}

func insertHubfile(ctx context.Context, q pgx.Tx, f *Hubfile) error {
	err := q.QueryRow(ctx, `
		INSERT INTO hubfiles (dataset_id, name, checksum, size)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		f.DatasetID, f.Name, f.Checksum, f.Size,
	).Scan(&f.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting hubfile: %w", err)
	}
	return nil
}

// AddHubfile attaches a file to an existing dataset.
func (r *PostgresRepository) AddHubfile(ctx context.Context, f *Hubfile) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return insertHubfile(ctx, tx, f)
	})
}

// GetByID retrieves a dataset with its authors, observations and files.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*Dataset, error) {
	return r.getOne(ctx, `SELECT `+datasetColumns+datasetFrom+` WHERE d.id = $1`, id)
}

// GetByDOI retrieves the dataset whose metadata carries doi.
func (r *PostgresRepository) GetByDOI(ctx context.Context, doi string) (*Dataset, error) {
	return r.getOne(ctx, `SELECT `+datasetColumns+datasetFrom+` WHERE m.dataset_doi = $1`, doi)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*Dataset, error) {
	d, err := scanDataset(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying dataset: %w", err)
	}

	datasets := []Dataset{*d}
	if err := r.hydrate(ctx, datasets); err != nil {
		return nil, err
	}
	return &datasets[0], nil
}

// GetMany retrieves the datasets with the given ids, preserving the order of ids.
func (r *PostgresRepository) GetMany(ctx context.Context, ids []int64) ([]Dataset, error) {
	if len(ids) == 0 {
		return []Dataset{}, nil
	}
	found, err := r.list(ctx, `SELECT `+datasetColumns+datasetFrom+` WHERE d.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Dataset, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}
	out := make([]Dataset, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// List returns datasets matching filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Dataset, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("d.user_id = $%d", argIdx))
		args = append(args, *filter.UserID)
		argIdx++
	}
	if filter.Synchronized != nil {
		if *filter.Synchronized {
			conditions = append(conditions, "COALESCE(m.dataset_doi, '') <> ''")
		} else {
			conditions = append(conditions, "COALESCE(m.dataset_doi, '') = ''")
		}
	}

	query := `SELECT ` + datasetColumns + datasetFrom
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY d.created_at DESC, d.id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	return r.list(ctx, query, args...)
}

// ListOthers returns every dataset except excludeID.
func (r *PostgresRepository) ListOthers(ctx context.Context, excludeID int64) ([]Dataset, error) {
	return r.list(ctx, `SELECT `+datasetColumns+datasetFrom+` WHERE d.id <> $1 ORDER BY d.id`, excludeID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Dataset, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	defer rows.Close()

	datasets := []Dataset{}
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dataset row: %w", err)
		}
		datasets = append(datasets, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dataset rows: %w", err)
	}

	if err := r.hydrate(ctx, datasets); err != nil {
		return nil, err
	}
	return datasets, nil
}

// hydrate loads authors, observations and files for datasets in three queries.
func (r *PostgresRepository) hydrate(ctx context.Context, datasets []Dataset) error {
	if len(datasets) == 0 {
		return nil
	}

	metaIdx := make(map[int64]int, len(datasets))
	dsIdx := make(map[int64]int, len(datasets))
	metaIDs := make([]int64, 0, len(datasets))
	dsIDs := make([]int64, 0, len(datasets))
	for i, d := range datasets {
		metaIdx[d.Metadata.ID] = i
		dsIdx[d.ID] = i
		metaIDs = append(metaIDs, d.Metadata.ID)
		dsIDs = append(dsIDs, d.ID)
		datasets[i].Metadata.Authors = []Author{}
		datasets[i].Metadata.Observations = []Observation{}
		datasets[i].Files = []Hubfile{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT ds_meta_data_id, id, position, name, affiliation, orcid
		FROM authors WHERE ds_meta_data_id = ANY($1)
		ORDER BY ds_meta_data_id, position, id`, metaIDs)
	if err != nil {
		return fmt.Errorf("querying authors: %w", err)
	}
	for rows.Next() {
		var metaID int64
		var a Author
		if err := rows.Scan(&metaID, &a.ID, &a.Position, &a.Name, &a.Affiliation, &a.ORCID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning author row: %w", err)
		}
		i := metaIdx[metaID]
		datasets[i].Metadata.Authors = append(datasets[i].Metadata.Authors, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating author rows: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT ds_meta_data_id, id, object_name, ra, dec, magnitude, observation_date, filter_used, notes
		FROM observations WHERE ds_meta_data_id = ANY($1)
		ORDER BY ds_meta_data_id, id`, metaIDs)
	if err != nil {
		return fmt.Errorf("querying observations: %w", err)
	}
	for rows.Next() {
		var metaID int64
		var o Observation
		err := rows.Scan(&metaID, &o.ID, &o.ObjectName, &o.RA, &o.Dec, &o.Magnitude,
			&o.ObservationDate, &o.FilterUsed, &o.Notes)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scanning observation row: %w", err)
		}
		i := metaIdx[metaID]
		datasets[i].Metadata.Observations = append(datasets[i].Metadata.Observations, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating observation rows: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT id, dataset_id, name, checksum, size
		FROM hubfiles WHERE dataset_id = ANY($1)
		ORDER BY dataset_id, id`, dsIDs)
	if err != nil {
		return fmt.Errorf("querying hubfiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f Hubfile
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.Name, &f.Checksum, &f.Size); err != nil {
			return fmt.Errorf("scanning hubfile row: %w", err)
		}
		i := dsIdx[f.DatasetID]
		datasets[i].Files = append(datasets[i].Files, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating hubfile rows: %w", err)
	}
	return nil
}

// Update replaces metadata scalars and reconciles observations by id:
// matching rows are updated, new rows inserted, missing rows deleted.
func (r *PostgresRepository) Update(ctx context.Context, d *Dataset) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		m := &d.Metadata
		result, err := tx.Exec(ctx, `
			UPDATE ds_meta_data
			SET title = $1, description = $2, publication_type = $3, publication_doi = $4, tags = $5
			WHERE id = (SELECT ds_meta_data_id FROM datasets WHERE id = $6)`,
			m.Title, m.Description, string(m.PublicationType), m.PublicationDOI, m.Tags, d.ID,
		)
		if err != nil {
			return fmt.Errorf("updating metadata: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}

		keep := []int64{}
		for i := range m.Observations {
			o := &m.Observations[i]
			if o.ID == 0 {
				continue
			}
			result, err := tx.Exec(ctx, `
				UPDATE observations
				SET object_name = $1, ra = $2, dec = $3, magnitude = $4,
				    observation_date = $5, filter_used = $6, notes = $7
				WHERE id = $8 AND ds_meta_data_id = $9`,
				o.ObjectName, o.RA, o.Dec, o.Magnitude, o.ObservationDate, o.FilterUsed, o.Notes,
				o.ID, m.ID,
			)
			if err != nil {
				return fmt.Errorf("updating observation: %w", err)
			}
			if result.RowsAffected() == 0 {
				o.ID = 0
				continue
			}
			keep = append(keep, o.ID)
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM observations WHERE ds_meta_data_id = $1 AND NOT (id = ANY($2))`,
			m.ID, keep,
		); err != nil {
			return fmt.Errorf("deleting observations: %w", err)
		}

		for i := range m.Observations {
			if m.Observations[i].ID != 0 {
				continue
			}
			if err := insertObservation(ctx, tx, m.ID, &m.Observations[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a dataset and everything that cascades from its metadata.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM ds_meta_data
		WHERE id = (SELECT ds_meta_data_id FROM datasets WHERE id = $1)`, id)
	if err != nil {
		return fmt.Errorf("deleting dataset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) updateMetadata(ctx context.Context, datasetID int64, set string, arg any) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE ds_meta_data SET `+set+` = $1
		WHERE id = (SELECT ds_meta_data_id FROM datasets WHERE id = $2)`, arg, datasetID)
	if err != nil {
		return fmt.Errorf("updating %s: %w", set, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDepositionID records the archive deposition id on the dataset metadata.
func (r *PostgresRepository) SetDepositionID(ctx context.Context, datasetID, depositionID int64) error {
	return r.updateMetadata(ctx, datasetID, "deposition_id", depositionID)
}

// SetDOI records the minted DOI on the dataset metadata. A DOI held by
// another dataset returns ErrDOITaken.
func (r *PostgresRepository) SetDOI(ctx context.Context, datasetID int64, doi string) error {
	err := r.updateMetadata(ctx, datasetID, "dataset_doi", doi)
	if isUniqueViolation(err) {
		return ErrDOITaken
	}
	return err
}

// NewDOIFor returns the DOI that replaced oldDOI, or "" when none is mapped.
func (r *PostgresRepository) NewDOIFor(ctx context.Context, oldDOI string) (string, error) {
	var doi string
	err := r.pool.QueryRow(ctx,
		`SELECT dataset_doi_new FROM doi_mappings WHERE dataset_doi_old = $1`, oldDOI,
	).Scan(&doi)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("querying doi mapping: %w", err)
	}
	return doi, nil
}

func (r *PostgresRepository) recordOnce(ctx context.Context, table, targetCol string, targetID int64, userID *int64, cookie string, notFound error) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO `+table+` (user_id, `+targetCol+`, cookie)
		VALUES ($1, $2, $3)
		ON CONFLICT (`+targetCol+`, cookie) DO NOTHING`,
		userID, targetID, cookie,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, notFound
		}
		return false, fmt.Errorf("inserting %s: %w", table, err)
	}
	return result.RowsAffected() == 1, nil
}

// RecordView stores a dataset view once per cookie.
func (r *PostgresRepository) RecordView(ctx context.Context, datasetID int64, userID *int64, cookie string) (bool, error) {
	return r.recordOnce(ctx, "ds_view_records", "dataset_id", datasetID, userID, cookie, ErrNotFound)
}

// RecordDownload stores a dataset download once per cookie and bumps
// download_count only when a row was inserted.
func (r *PostgresRepository) RecordDownload(ctx context.Context, datasetID int64, userID *int64, cookie string) (bool, error) {
	var inserted bool
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			INSERT INTO ds_download_records (user_id, dataset_id, cookie)
			VALUES ($1, $2, $3)
			ON CONFLICT (dataset_id, cookie) DO NOTHING`,
			userID, datasetID, cookie,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("inserting download record: %w", err)
		}
		if result.RowsAffected() == 0 {
			return nil
		}
		inserted = true

		if _, err := tx.Exec(ctx,
			`UPDATE datasets SET download_count = download_count + 1 WHERE id = $1`, datasetID,
		); err != nil {
			return fmt.Errorf("incrementing download count: %w", err)
		}
		return nil
	})
	return inserted, err
}

// DownloadRecordCounts returns the number of download records per dataset.
// Datasets without records are present with zero.
func (r *PostgresRepository) DownloadRecordCounts(ctx context.Context, datasetIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(datasetIDs))
	for _, id := range datasetIDs {
		counts[id] = 0
	}
	if len(datasetIDs) == 0 {
		return counts, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT dataset_id, COUNT(*) FROM ds_download_records
		WHERE dataset_id = ANY($1) GROUP BY dataset_id`, datasetIDs)
	if err != nil {
		return nil, fmt.Errorf("counting download records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning download count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating download counts: %w", err)
	}
	return counts, nil
}

// Stats returns the catalog counters.
func (r *PostgresRepository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM ds_meta_data WHERE COALESCE(dataset_doi, '') <> ''),
			(SELECT COUNT(*) FROM authors),
			(SELECT COUNT(*) FROM hubfiles),
			(SELECT COUNT(*) FROM ds_view_records),
			(SELECT COUNT(*) FROM ds_download_records),
			(SELECT COUNT(*) FROM hubfile_view_records),
			(SELECT COUNT(*) FROM hubfile_download_records)`,
	).Scan(
		&s.SynchronizedDatasets, &s.Authors, &s.Hubfiles,
		&s.DatasetViews, &s.DatasetDownloads, &s.HubfileViews, &s.HubfileDownloads,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	return &s, nil
}

// GetHubfile retrieves one hubfile.
func (r *PostgresRepository) GetHubfile(ctx context.Context, id int64) (*Hubfile, error) {
	var f Hubfile
	err := r.pool.QueryRow(ctx,
		`SELECT id, dataset_id, name, checksum, size FROM hubfiles WHERE id = $1`, id,
	).Scan(&f.ID, &f.DatasetID, &f.Name, &f.Checksum, &f.Size)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHubfileNotFound
		}
		return nil, fmt.Errorf("querying hubfile: %w", err)
	}
	return &f, nil
}

// RecordHubfileView stores a hubfile view once per cookie.
func (r *PostgresRepository) RecordHubfileView(ctx context.Context, hubfileID int64, userID *int64, cookie string) (bool, error) {
	return r.recordOnce(ctx, "hubfile_view_records", "hubfile_id", hubfileID, userID, cookie, ErrHubfileNotFound)
}

// RecordHubfileDownload stores a hubfile download once per cookie.
func (r *PostgresRepository) RecordHubfileDownload(ctx context.Context, hubfileID int64, userID *int64, cookie string) (bool, error) {
	return r.recordOnce(ctx, "hubfile_download_records", "hubfile_id", hubfileID, userID, cookie, ErrHubfileNotFound)
}

// SaveFile adds a hubfile to the user's cart. Saving twice is a no-op.
func (r *PostgresRepository) SaveFile(ctx context.Context, userID, hubfileID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_saved_files (user_id, hubfile_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, hubfileID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrHubfileNotFound
		}
		return fmt.Errorf("saving file: %w", err)
	}
	return nil
}

// UnsaveFile removes a hubfile from the user's cart.
func (r *PostgresRepository) UnsaveFile(ctx context.Context, userID, hubfileID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_saved_files WHERE user_id = $1 AND hubfile_id = $2`, userID, hubfileID)
	if err != nil {
		return fmt.Errorf("unsaving file: %w", err)
	}
	return nil
}

// ListSaved returns the user's cart, most recently saved first.
func (r *PostgresRepository) ListSaved(ctx context.Context, userID int64) ([]Hubfile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.id, h.dataset_id, h.name, h.checksum, h.size
		FROM user_saved_files s JOIN hubfiles h ON h.id = s.hubfile_id
		WHERE s.user_id = $1
		ORDER BY s.saved_at DESC, h.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing saved files: %w", err)
	}
	defer rows.Close()

	files := []Hubfile{}
	for rows.Next() {
		var f Hubfile
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.Name, &f.Checksum, &f.Size); err != nil {
			return nil, fmt.Errorf("scanning saved file row: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating saved file rows: %w", err)
	}
	return files, nil
}
