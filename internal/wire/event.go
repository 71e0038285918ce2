package wire

import "net/netip"

// SystemEventKind tags a SystemEvent variant. This replaces spec.md
// §4.3's system-event opcode table with a strongly-typed sum type; one
// variant per opcode, each carrying its own decoded payload.
type SystemEventKind uint8

const (
	EventStart SystemEventKind = iota
	EventStop
	EventConfigChange
	EventPeerStatusChange
	EventPeerConnected
	EventSyncArrived
	EventPeerDown
	EventReloadDelayExpired
	EventReconnect
	EventStopDone
	EventPeerAdd
	EventPeerDelete

	// EventIPLCreate, EventIPLSetState, and EventIPLDelete implement
	// spec.md §4.2's ipl_set(CREATE)/ipl_set(DELETE) opcodes and the IPL
	// link-state transition, as runtime-postable events rather than a
	// one-time construction-only step.
	EventIPLCreate
	EventIPLSetState
	EventIPLDelete

	// EventPortDeleteDone signals the port-delete bounded wait (spec.md
	// §4.7/§4.8), the second of the two named cross-thread
	// condition-variable use cases alongside EventStopDone.
	EventPortDeleteDone
)

// SystemEvent is the single posted-event type C3's dispatcher consumes.
// Only the fields relevant to Kind are meaningful; this is the sum type
// the Design Notes call for in place of the opcode->handler lookup table.
type SystemEvent struct {
	Kind SystemEventKind

	MyIP   netip.Addr
	PeerIP netip.Addr

	PeerID     int
	PeerHealth uint8 // fsm.PeerHealth, kept as a plain uint8 so wire does not import fsm

	SyncKind uint8 // fsm.SyncKind

	// EventStopDone
	StopDoneBit uint32

	// EventPortDeleteDone
	PortDeleteBit uint32

	// EventIPLCreate / EventIPLSetState / EventIPLDelete
	IPLID     int
	IPLPortID int
	IPLLocalIP netip.Addr
	IPLPeerIP  netip.Addr
	IPLVLANID  int
	IPLUp      bool

	// Peer message re-injected onto the dispatcher (spec.md §2: "inbound
	// peer messages... are re-injected as system events").
	FromPeer    bool
	PeerMessage PeerMessage
}
