package metrics

import "testing"

func TestCountersSnapshot(t *testing.T) {
	c := NewCounters()
	c.RecordEventApplied("bidAccepted", "applied")
	c.RecordEventApplied("bidAccepted", "applied")
	c.RecordEventApplied("bidAccepted", "stale")
	c.RecordReconnect(false)
	c.RecordReconnect(true)
	c.RecordResync(true)

	s := c.Snapshot()
	if got := s.Events["bidAccepted"]["applied"]; got != 2 {
		t.Fatalf("applied = %d, want 2", got)
	}
	if s.ReconnectFailures != 1 || s.ReconnectSuccess != 1 || s.ResyncSuccess != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}

	s.Events["bidAccepted"]["applied"] = 100
	if got := c.Snapshot().Events["bidAccepted"]["applied"]; got != 2 {
		t.Fatalf("snapshot aliases internal state: got %d", got)
	}
}
