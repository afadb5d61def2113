// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package persistent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FileStorage keeps the index in a single JSON file replaced atomically.
type FileStorage struct {
	path string
}

func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, errors.New("persistent: file storage path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("persistent: create storage dir: %w", err)
	}
	return &FileStorage{path: path}, nil
}

func (f *FileStorage) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (f *FileStorage) Save(data []byte) error {
	// renameio: temp file, fsync, rename
	pendingFile, err := renameio.NewPendingFile(f.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending index file: %w", err)
	}
	defer func() { _ = pendingFile.Cleanup() }()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write index data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace index file: %w", err)
	}
	return nil
}

func (f *FileStorage) Close() error { return nil }
