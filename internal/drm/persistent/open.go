// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package persistent

import (
	"fmt"
	"io"
	"path/filepath"
)

// Backend is a Storage owning resources.
type Backend interface {
	Storage
	io.Closer
}

// StorageConfig selects a backend.
type StorageConfig struct {
	// Backend is one of memory, file, sqlite, badger, redis.
	Backend string
	// Path is a file path, a directory (badger) or an address (redis).
	Path string
	// Name namespaces the index inside shared databases.
	Name string
}

// Backends lists the accepted backend names.
var Backends = []string{"memory", "file", "sqlite", "badger", "redis"}

// OpenStorage opens the configured backend.
func OpenStorage(cfg StorageConfig) (Backend, error) {
	name := cfg.Name
	if name == "" {
		name = "persistent-sessions"
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path)
	case "sqlite":
		return OpenSqliteStorage(filepath.Clean(cfg.Path), name)
	case "badger":
		return OpenBadgerStorage(cfg.Path, name)
	case "redis":
		return OpenRedisStorage(cfg.Path, name)
	default:
		return nil, fmt.Errorf("persistent: unknown storage backend %q", cfg.Backend)
	}
}
