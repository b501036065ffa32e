package subscription

import (
	"testing"

	"github.com/nats-io/nats.go/jetstream"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		streamSeq uint64
		wantLot   string
		wantSeq   uint64
		wantErr   bool
	}{
		{
			name:      "publisher sequence wins",
			data:      `{"eventId":"e1","eventType":"bidAccepted","lotId":"lot-1","sequence":4,"payload":{}}`,
			streamSeq: 90,
			wantLot:   "lot-1",
			wantSeq:   4,
		},
		{
			name:      "stream sequence fills the gap",
			data:      `{"eventId":"e1","eventType":"bidAccepted","lotId":"lot-1","payload":{}}`,
			streamSeq: 90,
			wantLot:   "lot-1",
			wantSeq:   90,
		},
		{
			name:      "lot id taken from subject",
			data:      `{"eventId":"e1","eventType":"bidAccepted","payload":{}}`,
			streamSeq: 3,
			wantLot:   "lot-7",
			wantSeq:   3,
		},
		{
			name:    "no sequence without stream fallback",
			data:    `{"eventId":"e1","eventType":"bidAccepted","lotId":"lot-1","payload":{}}`,
			wantLot: "lot-1",
		},
		{
			name:    "invalid json",
			data:    `{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tt.data), "lot-7", tt.streamSeq)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeEnvelope() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if env.LotID != tt.wantLot {
				t.Errorf("LotID = %q, want %q", env.LotID, tt.wantLot)
			}
			if tt.wantSeq == 0 {
				if env.Sequence != nil {
					t.Errorf("Sequence = %d, want none", *env.Sequence)
				}
				return
			}
			if env.Sequence == nil || *env.Sequence != tt.wantSeq {
				t.Errorf("Sequence = %v, want %d", env.Sequence, tt.wantSeq)
			}
		})
	}
}

func TestNATSSubject(t *testing.T) {
	c := &natsConn{config: DefaultNATSConfig()}
	if got := c.subject("lot-1"); got != "auction.lots.lot-1" {
		t.Fatalf("subject() = %q, want auction.lots.lot-1", got)
	}
}

func TestNATSFallbackSequence(t *testing.T) {
	md := &jetstream.MsgMetadata{Sequence: jetstream.SequencePair{Consumer: 2, Stream: 41}}

	tests := []struct {
		name    string
		enabled bool
		md      *jetstream.MsgMetadata
		want    uint64
	}{
		{name: "disabled by default", md: md, want: 0},
		{name: "enabled", enabled: true, md: md, want: 41},
		{name: "enabled without metadata", enabled: true, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultNATSConfig()
			if tt.enabled {
				config.StreamSequence = true
			}
			c := &natsConn{config: config}
			if got := c.fallbackSequence(tt.md); got != tt.want {
				t.Fatalf("fallbackSequence() = %d, want %d", got, tt.want)
			}
		})
	}
}
