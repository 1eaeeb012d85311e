package service

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// datasetGuard admits one refresh per dataset at a time. The zero value is
// ready to use.
type datasetGuard struct {
	mu     sync.Mutex
	active map[string]bool
	wg     sync.WaitGroup
}

// Acquire claims dataset and reports whether it was free.
func (g *datasetGuard) Acquire(dataset string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[dataset] {
		return false
	}
	if g.active == nil {
		g.active = make(map[string]bool)
	}
	g.active[dataset] = true
	g.wg.Add(1)
	return true
}

// Release gives dataset back after a successful Acquire.
func (g *datasetGuard) Release(dataset string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active[dataset] {
		return
	}
	delete(g.active, dataset)
	g.wg.Done()
}

// Active lists the datasets being refreshed, sorted.
func (g *datasetGuard) Active() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Sorted(maps.Keys(g.active))
}

// Wait returns once nothing is active or ctx is done.
func (g *datasetGuard) Wait(ctx context.Context) {
	idle := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
	}
}
