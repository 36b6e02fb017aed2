// Package staging manages the per-user temporary folder that holds files
// uploaded before a dataset is created.
package staging

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/astronomiahub/hub/internal/jsoncheck"
)

// Sentinel errors for staging operations.
var (
	ErrUnsupportedType = errors.New("only .json files can be staged")
	ErrInvalidName     = errors.New("invalid file name")
	ErrFileNotFound    = errors.New("staged file not found")
	ErrNotZip          = errors.New("uploaded file is not a ZIP archive")
	ErrEmptyArchive    = errors.New("archive contains no importable files")
	ErrUnsafeEntry     = errors.New("unsafe archive entry")
)

// ImportExtensions are the file types extracted from imported archives.
var ImportExtensions = map[string]bool{
	".uvl":  true,
	".fits": true,
	".csv":  true,
	".json": true,
	".txt":  true,
}

// InvalidFilesError reports archive members that failed the JSON check.
type InvalidFilesError struct {
	Files map[string][]string
}

func (e *InvalidFilesError) Error() string {
	return fmt.Sprintf("%d invalid JSON files in archive", len(e.Files))
}

// Area is the staging root, laid out as <root>/uploads/user_<id>/temp.
type Area struct {
	root string
}

// New creates an Area rooted at workingDir.
func New(workingDir string) *Area {
	return &Area{root: workingDir}
}

// Dir returns the staging directory of userID.
func (a *Area) Dir(userID int64) string {
	return filepath.Join(a.root, "uploads", fmt.Sprintf("user_%d", userID), "temp")
}

// Path returns the location of a staged file, rejecting names that would
// escape the staging directory.
func (a *Area) Path(userID int64, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(a.Dir(userID), name), nil
}

// Save stores r as name in the user's staging folder. Only .json files are
// accepted. When name is taken the file is stored as "base (i).ext" with the
// lowest free i. The stored name is returned.
func (a *Area) Save(userID int64, name string, r io.Reader) (string, error) {
	if !strings.HasSuffix(name, ".json") {
		return "", ErrUnsupportedType
	}
	return a.store(userID, name, r)
}

func (a *Area) store(userID int64, name string, r io.Reader) (string, error) {
	if _, err := a.Path(userID, name); err != nil {
		return "", err
	}

	dir := a.Dir(userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating staging folder: %w", err)
	}

	final := UniqueName(name, func(candidate string) bool {
		_, err := os.Stat(filepath.Join(dir, candidate))
		return err == nil
	})

	path := filepath.Join(dir, final)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating staged file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing staged file: %w", err)
	}
	return final, nil
}

// UniqueName returns name, or "base (i).ext" for the lowest i >= 1 for which
// taken reports false.
func UniqueName(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}

// Open opens a staged file for reading.
func (a *Area) Open(userID int64, name string) (*os.File, error) {
	p, err := a.Path(userID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes a staged file.
func (a *Area) Delete(userID int64, name string) error {
	p, err := a.Path(userID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrFileNotFound
		}
		return err
	}
	return nil
}

// List returns the names of the user's staged files, sorted.
func (a *Area) List(userID int64) ([]string, error) {
	entries, err := os.ReadDir(a.Dir(userID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	names := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Purge removes the user's staging folder.
func (a *Area) Purge(userID int64) error {
	return os.RemoveAll(a.Dir(userID))
}

// ImportZip extracts the importable members of a ZIP archive into the user's
// staging folder. Paths inside the archive are flattened to their base name.
// JSON members must pass the observation check. The stored names are
// returned.
func (a *Area) ImportZip(userID int64, filename string, r io.ReaderAt, size int64) ([]string, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".zip") {
		return nil, ErrNotZip
	}

	zr, err := zip.NewReader(r, size)
	if errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrUnsafeEntry, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotZip, err)
	}

	var members []*zip.File
	invalid := map[string][]string{}
	for _, f := range zr.File {
		if !safeMember(f.Name) {
			return nil, fmt.Errorf("%w: %s", ErrUnsafeEntry, f.Name)
		}
		if f.FileInfo().IsDir() || !ImportExtensions[strings.ToLower(path.Ext(f.Name))] {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".json") {
			if errs := checkMember(f); len(errs) > 0 {
				invalid[f.Name] = errs
				continue
			}
		}
		members = append(members, f)
	}

	if len(invalid) > 0 {
		return nil, &InvalidFilesError{Files: invalid}
	}
	if len(members) == 0 {
		return nil, ErrEmptyArchive
	}

	stored := make([]string, 0, len(members))
	for _, f := range members {
		rc, err := f.Open()
		if err != nil {
			return stored, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		name, err := a.store(userID, path.Base(f.Name), rc)
		rc.Close()
		if err != nil {
			return stored, err
		}
		stored = append(stored, name)
	}
	return stored, nil
}

// safeMember rejects absolute paths and entries that climb out of the
// extraction root.
func safeMember(name string) bool {
	if name == "" || strings.Contains(name, `\`) || path.IsAbs(name) {
		return false
	}
	cleaned := path.Clean(name)
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

func checkMember(f *zip.File) []string {
	rc, err := f.Open()
	if err != nil {
		return []string{err.Error()}
	}
	defer rc.Close()

	res := jsoncheck.Check(rc, f.Name)
	if res.IsJSON && res.Valid {
		return nil
	}
	return res.Errors
}
