package wire_test

import (
	"bytes"
	"testing"

	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

// TestRoundTripEncoding covers spec property 5: for every opcode with a
// byte-order transform, recv(send(x)) == x for arbitrary valid x.
func TestRoundTripEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  wire.PeerMessage
	}{
		{
			name: "PeerStart",
			msg:  wire.PeerMessage{Op: wire.OpcodePeerStart, PeerStart: wire.PeerStart{MlagID: 1, HealthState: 0xDEADBEEF}},
		},
		{
			name: "PeerEnable",
			msg:  wire.PeerMessage{Op: wire.OpcodePeerEnable, PeerEnable: wire.PeerEnable{MlagID: 1, State: 1}},
		},
		{
			name: "IGMPMessage",
			msg: wire.PeerMessage{Op: wire.OpcodeIGMPMessage, IGMP: wire.IGMPMessage{
				InnerOpcode: 7, SendingPeerID: 1, TrapID: 42, SourcePort: 3, IsMLAG: 1,
				Buffer: []byte{0x01, 0x02, 0x03, 0x04, 0x05},
			}},
		},
		{
			name: "IGMPMessageEmptyBuffer",
			msg:  wire.PeerMessage{Op: wire.OpcodeIGMPMessage, IGMP: wire.IGMPMessage{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, wire.MaxPayloadSize)
			n, err := wire.Marshal(tt.msg, buf)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			got, err := wire.Unmarshal(buf[:n])
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}

			if got.Op != tt.msg.Op {
				t.Fatalf("Op = %v, want %v", got.Op, tt.msg.Op)
			}

			switch tt.msg.Op {
			case wire.OpcodePeerStart:
				if got.PeerStart != tt.msg.PeerStart {
					t.Fatalf("PeerStart = %+v, want %+v", got.PeerStart, tt.msg.PeerStart)
				}
			case wire.OpcodePeerEnable:
				if got.PeerEnable != tt.msg.PeerEnable {
					t.Fatalf("PeerEnable = %+v, want %+v", got.PeerEnable, tt.msg.PeerEnable)
				}
			case wire.OpcodeIGMPMessage:
				want := tt.msg.IGMP
				if got.IGMP.InnerOpcode != want.InnerOpcode || got.IGMP.SendingPeerID != want.SendingPeerID ||
					got.IGMP.TrapID != want.TrapID || got.IGMP.SourcePort != want.SourcePort ||
					got.IGMP.IsMLAG != want.IsMLAG || !bytes.Equal(got.IGMP.Buffer, want.Buffer) {
					t.Fatalf("IGMP = %+v, want %+v", got.IGMP, want)
				}
			}
		})
	}
}

func TestUnmarshalUnknownOpcodePassesThrough(t *testing.T) {
	t.Parallel()

	buf := []byte{0xFF, 0xFF, 0x01, 0x02, 0x03}
	got, err := wire.Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Op != 0xFFFF {
		t.Fatalf("Op = %v, want 0xFFFF", got.Op)
	}
	if !bytes.Equal(got.UnknownData, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("UnknownData = %v, want [1 2 3]", got.UnknownData)
	}
}

func TestUnmarshalTooShort(t *testing.T) {
	t.Parallel()

	if _, err := wire.Unmarshal(nil); err == nil {
		t.Fatal("expected error for empty buffer")
	}
	if _, err := wire.Unmarshal([]byte{0x00, byte(wire.OpcodePeerStart), 0x01}); err == nil {
		t.Fatal("expected error for truncated PeerStart payload")
	}
}

func TestMarshalRejectsTooSmallBuffer(t *testing.T) {
	t.Parallel()

	msg := wire.PeerMessage{Op: wire.OpcodePeerStart, PeerStart: wire.PeerStart{MlagID: 1}}
	if _, err := wire.Marshal(msg, make([]byte, 4)); err == nil {
		t.Fatal("expected error for too-small destination buffer")
	}
}
