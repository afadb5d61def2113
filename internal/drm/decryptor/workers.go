// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decryptor

import (
	"context"
	"fmt"
	"sync"
)

// workerRegistry tracks decryptor-owned goroutines and provides a bounded join on dispose.
type workerRegistry struct {
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func (r *workerRegistry) Go(fn func()) bool {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		fn()
	}()

	return true
}

func (r *workerRegistry) CloseAndWait(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("decryptor worker drain timeout: %w", ctx.Err())
	}
}
