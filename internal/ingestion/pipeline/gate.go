package pipeline

import "sync"

// sourceGate serializes ingestion per source id: two overlapping runs for the
// same source would interleave upserts into one collection. Entries are
// refcounted and removed when the last holder releases, so the map stays
// bounded by the number of in-flight runs.
type sourceGate struct {
	mu    sync.Mutex
	locks map[int64]*gateEntry
}

type gateEntry struct {
	mu   sync.Mutex
	refs int
}

func newSourceGate() *sourceGate {
	return &sourceGate{locks: map[int64]*gateEntry{}}
}

// Acquire blocks until the source's slot is free and returns the release
// function.
func (g *sourceGate) Acquire(sourceID int64) func() {
	g.mu.Lock()
	entry, ok := g.locks[sourceID]
	if !ok {
		entry = &gateEntry{}
		g.locks[sourceID] = entry
	}
	entry.refs++
	g.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		g.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(g.locks, sourceID)
		}
		g.mu.Unlock()
	}
}
