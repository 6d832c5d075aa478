package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// LocalStore keeps objects as files under a root directory.
type LocalStore struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", root)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes data atomically through a temp file. contentType is not kept.
func (s *LocalStore) Put(_ context.Context, key string, data []byte, _ string) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrapf(err, "blob: mkdir for %s", key)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return eris.Wrapf(err, "blob: temp file for %s", key)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return eris.Wrapf(err, "blob: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "blob: close %s", key)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return eris.Wrapf(err, "blob: rename %s", key)
	}
	return nil
}

// Get opens the file for key.
func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrNotFound, "blob: get %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: open %s", key)
	}
	return f, nil
}
