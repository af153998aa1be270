package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// FileStore implements Store on a local directory.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create %s", abs)
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) resolve(path string) (string, error) {
	p := filepath.FromSlash(path)
	if !filepath.IsLocal(p) {
		return "", eris.Errorf("blob: path %q escapes the store root", path)
	}
	return filepath.Join(s.root, p), nil
}

// Put implements Store. The object is written to a temporary file and
// renamed so readers never see a partial object.
func (s *FileStore) Put(_ context.Context, path string, data []byte) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: create dir for %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return "", eris.Wrapf(err, "blob: temp file for %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", eris.Wrapf(err, "blob: write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "blob: close %s", path)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", eris.Wrapf(err, "blob: rename %s", path)
	}
	return full, nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "file %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", path)
	}
	return data, nil
}
