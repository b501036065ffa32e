package ledger

import (
	"sort"
	"sync"

	"github.com/mcdev12/bidwatch/go/internal/models"
)

// Store holds one TrackedLot per observed lot id. It is created by the application root
// and passed to whoever needs it; there is no package-level instance.
type Store struct {
	mu   sync.RWMutex
	lots map[string]*models.TrackedLot
}

// NewStore creates an empty ledger
func NewStore() *Store {
	return &Store{
		lots: make(map[string]*models.TrackedLot),
	}
}

// Put inserts lot, replacing any existing entry with the same id.
func (s *Store) Put(lot *models.TrackedLot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lots[lot.LotID] = lot
}

// Get returns the live entry for lotID. Callers outside the tracker loop should use Snapshot.
func (s *Store) Get(lotID string) (*models.TrackedLot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lot, ok := s.lots[lotID]
	return lot, ok
}

// Update runs fn on the entry for lotID under the write lock and reports whether it exists.
func (s *Store) Update(lotID string, fn func(lot *models.TrackedLot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.lots[lotID]
	if !ok {
		return false
	}
	fn(lot)
	return true
}

// Remove deletes the entry for lotID and reports whether it was present.
func (s *Store) Remove(lotID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lots[lotID]; !ok {
		return false
	}
	delete(s.lots, lotID)
	return true
}

// Has reports whether lotID is tracked.
func (s *Store) Has(lotID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lots[lotID]
	return ok
}

// Len returns the number of tracked lots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lots)
}

// IDs returns the tracked lot ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.lots))
	for id := range s.lots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns copies of every tracked lot, sorted by id.
func (s *Store) Snapshot() []models.TrackedLot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TrackedLot, 0, len(s.lots))
	for _, lot := range s.lots {
		out = append(out, *lot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LotID < out[j].LotID })
	return out
}
