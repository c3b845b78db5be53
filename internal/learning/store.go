package learning

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

// PatternStore is the read-mostly catalogue of learned patterns shared by
// every session.
type PatternStore interface {
	// Get returns the pattern stored under kind and key.
	Get(kind Kind, key string) (Pattern, bool)

	// Nearest returns the keyword pattern most similar to keywords with a
	// Jaccard similarity of at least minSimilarity.
	Nearest(keywords []string, minSimilarity float64) (Pattern, float64, bool)

	// Update applies fn to the pattern under kind and key, creating it when
	// absent, and returns the stored result. Frequency never decreases.
	Update(kind Kind, key string, fn func(p *Pattern)) (Pattern, error)

	// Merge folds a pattern learned elsewhere (durable mirror, peer
	// instance) into the store. It reports whether anything changed.
	Merge(p Pattern) (Pattern, bool, error)

	// Top returns up to k patterns ordered by frequency. k <= 0 returns all.
	Top(k int) []Pattern

	// Len returns the number of stored patterns.
	Len() int
}

// Store is the in-memory PatternStore.
type Store struct {
	mu       sync.RWMutex
	exact    map[string]Pattern
	keywords map[string]Pattern
	now      func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		exact:    make(map[string]Pattern),
		keywords: make(map[string]Pattern),
		now:      time.Now,
	}
}

var _ PatternStore = (*Store)(nil)

func (s *Store) table(kind Kind) (map[string]Pattern, error) {
	switch kind {
	case KindExact:
		return s.exact, nil
	case KindKeywords:
		return s.keywords, nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrInvalidPattern, kind)
}

// Get implements PatternStore.
func (s *Store) Get(kind Kind, key string) (Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(kind)
	if err != nil {
		return Pattern{}, false
	}
	p, ok := t[key]
	return clone(p), ok
}

// Nearest implements PatternStore. Ties go to the higher frequency, then
// the lexically smaller key.
func (s *Store) Nearest(keywords []string, minSimilarity float64) (Pattern, float64, bool) {
	if len(keywords) == 0 {
		return Pattern{}, 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best    Pattern
		bestSim float64
		found   bool
	)
	for _, p := range s.keywords {
		sim := textutil.Jaccard(keywords, p.Keywords)
		if sim < minSimilarity {
			continue
		}
		if !found || sim > bestSim ||
			(sim == bestSim && (p.Frequency > best.Frequency ||
				(p.Frequency == best.Frequency && p.Key < best.Key))) {
			best, bestSim, found = p, sim, true
		}
	}
	return clone(best), bestSim, found
}

// Update implements PatternStore.
func (s *Store) Update(kind Kind, key string, fn func(p *Pattern)) (Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(kind)
	if err != nil {
		return Pattern{}, err
	}
	old, exists := t[key]
	p := clone(old)
	if !exists {
		p = Pattern{Kind: kind, Key: key}
	}
	fn(&p)
	p.Kind, p.Key = kind, key
	if p.Frequency < old.Frequency {
		p.Frequency = old.Frequency
	}
	p.UpdatedAt = s.now()
	if err := p.Validate(); err != nil {
		return Pattern{}, fmt.Errorf("update %s/%s: %w", kind, key, err)
	}
	t[key] = p
	return clone(p), nil
}

// Merge implements PatternStore.
func (s *Store) Merge(p Pattern) (Pattern, bool, error) {
	if err := p.Validate(); err != nil {
		return Pattern{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, _ := s.table(p.Kind)
	old, exists := t[p.Key]
	if !exists {
		t[p.Key] = clone(p)
		return clone(p), true, nil
	}
	merged := merge(old, clone(p))
	changed := merged.Frequency != old.Frequency || merged.Topic != old.Topic ||
		merged.Success != old.Success || !merged.UpdatedAt.Equal(old.UpdatedAt)
	t[p.Key] = merged
	return clone(merged), changed, nil
}

// Top implements PatternStore.
func (s *Store) Top(k int) []Pattern {
	s.mu.RLock()
	out := make([]Pattern, 0, len(s.exact)+len(s.keywords))
	for _, p := range s.exact {
		out = append(out, clone(p))
	}
	for _, p := range s.keywords {
		out = append(out, clone(p))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key < out[j].Key
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Len implements PatternStore.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exact) + len(s.keywords)
}

func clone(p Pattern) Pattern {
	if p.Keywords != nil {
		p.Keywords = append([]string(nil), p.Keywords...)
	}
	return p
}
