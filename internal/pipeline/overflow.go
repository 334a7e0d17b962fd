package pipeline

import (
	"sync"

	"loom/internal/aspect"
	"loom/internal/layer"
)

// OverflowEntry is work for a layer the active Scheduler does not own.
// Exactly one of Instance and Source is meaningful.
type OverflowEntry struct {
	Layer    layer.Layer
	Instance aspect.Instance
	Source   aspect.Source
}

// IsSource reports whether the entry carries a source.
func (e OverflowEntry) IsSource() bool { return e.Source != nil }

// OverflowSink is a goroutine-safe multiset of parked work. The stage that
// owns an entry's layer takes it exactly once.
type OverflowSink struct {
	mu      sync.Mutex
	entries []OverflowEntry
}

func NewOverflowSink() *OverflowSink {
	return &OverflowSink{}
}

// PutInstance parks an instance for l.
func (s *OverflowSink) PutInstance(l layer.Layer, inst aspect.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, OverflowEntry{Layer: l, Instance: inst})
}

// PutSource parks a source for the discover step of l.
func (s *OverflowSink) PutSource(l layer.Layer, src aspect.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, OverflowEntry{Layer: l, Source: src})
}

// Take removes and returns every entry whose layer satisfies owns, in
// insertion order.
func (s *OverflowSink) Take(owns func(layer.ID) bool) []OverflowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var taken []OverflowEntry
	kept := s.entries[:0]
	for _, e := range s.entries {
		if owns(e.Layer.ID) {
			taken = append(taken, e)
			continue
		}
		kept = append(kept, e)
	}
	// обнуляем хвост, чтобы не держать ссылки
	clear(s.entries[len(kept):])
	s.entries = kept
	return taken
}

// Len returns the number of parked entries.
func (s *OverflowSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the parked entries.
func (s *OverflowSink) Entries() []OverflowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OverflowEntry(nil), s.entries...)
}
