// Package local stores run artifacts as plain files below a root directory.
package local

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/turtacn/VigorCast/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/VigorCast/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeArtifactNotFound, "artifact not found")
	ErrWriteFailed    = errors.New(errors.ErrCodeArtifactWriteFailed, "artifact write failed")
	ErrInvalidKey     = errors.New(errors.ErrCodeValidation, "invalid artifact key")
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Store maps slash-separated keys onto files under Root.
type Store struct {
	root   string
	logger logging.Logger
}

// NewStore creates root if needed.
func NewStore(root string, log logging.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "artifact directory is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "cannot create artifact directory").WithDetailf("dir=%s", root)
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Store{root: root, logger: log.Named("artifacts")}, nil
}

// Root returns the base directory.
func (s *Store) Root() string { return s.root }

// path resolves key and rejects keys escaping the root.
func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey.WithDetailf("key=%q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes data atomically through a temporary file in the same directory.
func (s *Store) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return ErrWriteFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return ErrWriteFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ErrWriteFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return ErrWriteFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		return ErrWriteFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ErrWriteFailed.WithDetailf("key=%s", key).WithCause(err)
	}
	s.logger.Debug("artifact written", logging.String("path", dst), logging.Int("size", len(data)))
	return nil
}

// Get reads the file stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound.WithDetailf("key=%s", key)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "artifact read failed").WithDetailf("key=%s", key)
	}
	return data, nil
}

// Delete removes the file stored under key. A missing file is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, errors.ErrCodeInternal, "artifact delete failed").WithDetailf("key=%s", key)
	}
	return nil
}

// List returns the sorted keys starting with prefix. Temporary files are
// skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "artifact listing failed").WithDetailf("prefix=%s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}
