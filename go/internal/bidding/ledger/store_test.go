package ledger

import (
	"testing"

	"github.com/mcdev12/bidwatch/go/internal/models"
)

func TestStoreOneEntryPerLot(t *testing.T) {
	s := NewStore()
	s.Put(&models.TrackedLot{LotID: "b", CurrentPrice: 100})
	s.Put(&models.TrackedLot{LotID: "a", CurrentPrice: 10})
	s.Put(&models.TrackedLot{LotID: "b", CurrentPrice: 200})

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	lot, ok := s.Get("b")
	if !ok || lot.CurrentPrice != 200 {
		t.Fatalf("Get(b) = %+v, %v; want price 200", lot, ok)
	}
	if ids := s.IDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("IDs() = %v, want [a b]", ids)
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Put(&models.TrackedLot{LotID: "a", BidCount: 1})

	snap := s.Snapshot()
	snap[0].BidCount = 99

	lot, _ := s.Get("a")
	if lot.BidCount != 1 {
		t.Fatalf("BidCount = %d after mutating snapshot, want 1", lot.BidCount)
	}
}

func TestStoreUpdateAndRemove(t *testing.T) {
	s := NewStore()
	if s.Update("missing", func(*models.TrackedLot) {}) {
		t.Fatalf("Update() on missing lot returned true")
	}

	s.Put(&models.TrackedLot{LotID: "a"})
	s.Update("a", func(l *models.TrackedLot) { l.BidCount = 3 })
	if lot, _ := s.Get("a"); lot.BidCount != 3 {
		t.Fatalf("BidCount = %d, want 3", lot.BidCount)
	}

	if !s.Remove("a") || s.Remove("a") {
		t.Fatalf("Remove() should succeed once")
	}
	if s.Has("a") {
		t.Fatalf("Has(a) = true after Remove")
	}
}
