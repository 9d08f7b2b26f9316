/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package avatars

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrMiss is returned by a Store that holds nothing for a key.
var ErrMiss = errors.New("avatar not in store")

// Store is the persistent tier of the cache. Keys are produced by Key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, avatarURL string) error
	Delete(ctx context.Context, key string) error
	// Purge removes every entry the store owns.
	Purge(ctx context.Context) error
}

// Key derives the persistent key for a participant: the first 16 hex
// characters of the md5 of its id.
func Key(participantID string) string {
	sum := md5.Sum([]byte(participantID))

	return hex.EncodeToString(sum[:])[:16]
}

const fileExt = ".txt"

// FileStore keeps one file per participant, holding the raw avatar reference.
type FileStore struct {
	fs  afero.Fs
	dir string
}

func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}

	return &FileStore{fs: fs, dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Base(key)+fileExt)
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMiss
		}
		return "", fmt.Errorf("failed to read avatar %s: %w", key, err)
	}

	if len(data) == 0 {
		return "", ErrMiss
	}

	return string(data), nil
}

// Put writes to a temporary file first and renames it into place, so a
// reader never sees a partially written avatar.
func (s *FileStore) Put(_ context.Context, key, avatarURL string) error {
	tmp, err := afero.TempFile(s.fs, s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(avatarURL); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write avatar %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := s.fs.Rename(tmpPath, s.path(key)); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	err := s.fs.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete avatar %s: %w", key, err)
	}

	return nil
}

func (s *FileStore) Purge(_ context.Context) error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list avatar directory: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, fileExt) && !strings.HasPrefix(name, ".tmp-") {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
