// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package cdm

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Platform.
type Factory func() Platform

var (
	implMu sync.RWMutex
	impls  = make(map[string]Factory)
)

// Register makes an implementation selectable by name. It panics on duplicates,
// registration happens from init functions.
func Register(name string, f Factory) {
	implMu.Lock()
	defer implMu.Unlock()
	if f == nil {
		panic("cdm: Register factory is nil")
	}
	if _, dup := impls[name]; dup {
		panic("cdm: Register called twice for " + name)
	}
	impls[name] = f
}

// Open selects an implementation.
func Open(name string) (Platform, error) {
	implMu.RLock()
	f, ok := impls[name]
	implMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown cdm implementation %q (available: %v)", name, Implementations())
	}
	return f(), nil
}

// Implementations lists registered names.
func Implementations() []string {
	implMu.RLock()
	defer implMu.RUnlock()
	out := make([]string, 0, len(impls))
	for k := range impls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
