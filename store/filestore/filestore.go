// Package filestore is a cache.Store keeping one file per key on a billy
// filesystem. Writes go to a temporary file that is renamed into place, so a
// reader never observes a partial payload.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/IvanBrykalov/asyncmem/cache"
	"github.com/IvanBrykalov/asyncmem/store"
)

const tmpDir = ".tmp"

// Store writes payloads under fs as <first two hex digits>/<key>.
type Store struct {
	fs billy.Filesystem
}

var _ cache.Store = (*Store)(nil)

// New returns a Store rooted at dir on the OS filesystem.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return NewFS(osfs.New(dir))
}

// NewMemory returns a Store on an in-memory filesystem.
func NewMemory() *Store {
	s, _ := NewFS(memfs.New())
	return s
}

// NewFS returns a Store on an arbitrary billy filesystem.
func NewFS(fs billy.Filesystem) (*Store, error) {
	if err := fs.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	return &Store{fs: fs}, nil
}

func (s *Store) path(key uuid.UUID) (dir, name string) {
	k := key.String()
	return k[:2], s.fs.Join(k[:2], k)
}

// Store writes data for key, replacing any previous copy. hint is ignored.
func (s *Store) Store(ctx context.Context, key uuid.UUID, data []byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, p := s.path(key)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	f, err := s.fs.TempFile(tmpDir, key.String()+"-")
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("filestore: write %s: %w", key, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("filestore: %w", err)
	}
	return nil
}

// Retrieve reads the payload stored for key.
func (s *Store) Retrieve(ctx context.Context, key uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, p := s.path(key)
	f, err := s.fs.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("filestore: %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", key, err)
	}
	return b, nil
}

// Remove deletes the file for key. Absent keys are ignored.
func (s *Store) Remove(ctx context.Context, key uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, p := s.path(key)
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore: %w", err)
	}
	return nil
}
