package dataset

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/astronomiahub/hub/internal/storage"
)

// WriteZip streams the files of d into w as a ZIP archive. Files missing
// from storage are skipped.
func (s *Service) WriteZip(ctx context.Context, w io.Writer, d *Dataset) error {
	zw := zip.NewWriter(w)
	for _, f := range d.Files {
		if err := s.addToZip(ctx, zw, storage.UploadKey(d.UserID, d.ID, f.Name), f.Name); err != nil {
			return err
		}
	}
	return zw.Close()
}

// WriteFilesZip streams an arbitrary set of hubfiles into w. Entries are
// namespaced by dataset so equal names do not collide.
func (s *Service) WriteFilesZip(ctx context.Context, w io.Writer, files []Hubfile) error {
	owners := make(map[int64]int64)
	zw := zip.NewWriter(w)
	for _, f := range files {
		owner, ok := owners[f.DatasetID]
		if !ok {
			d, err := s.repo.GetByID(ctx, f.DatasetID)
			if err != nil {
				return err
			}
			owner = d.UserID
			owners[f.DatasetID] = owner
		}

		entry := fmt.Sprintf("dataset_%d/%s", f.DatasetID, f.Name)
		if err := s.addToZip(ctx, zw, storage.UploadKey(owner, f.DatasetID, f.Name), entry); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (s *Service) addToZip(ctx context.Context, zw *zip.Writer, key, entry string) error {
	obj, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			slog.Warn("skipping missing file in archive", "key", key)
			return nil
		}
		return fmt.Errorf("reading %s: %w", key, err)
	}
	defer obj.Body.Close()

	dst, err := zw.Create(entry)
	if err != nil {
		return fmt.Errorf("adding %s to archive: %w", entry, err)
	}
	if _, err := io.Copy(dst, obj.Body); err != nil {
		return fmt.Errorf("writing %s to archive: %w", entry, err)
	}
	return nil
}
