// Package fsm implements the MLAG core's two finite-state machines as pure
// functions: master-election (per spec.md §4.5) and per-peer peering
// (per spec.md §4.6). Neither Step function performs I/O, takes a lock, or
// reads a clock; effects (messages to send, timers to start, events to
// emit) are returned as values for the caller to execute.
package fsm

import "net/netip"

// ElectionState is a master-election FSM state.
type ElectionState uint8

const (
	ElectionIdle ElectionState = iota
	ElectionMaster
	ElectionSlave
	ElectionStandalone
)

func (s ElectionState) String() string {
	switch s {
	case ElectionIdle:
		return "Idle"
	case ElectionMaster:
		return "Master"
	case ElectionSlave:
		return "Slave"
	case ElectionStandalone:
		return "Standalone"
	default:
		return "Unknown"
	}
}

// PeerHealth reports the out-of-band keepalive's view of the peer.
type PeerHealth uint8

const (
	PeerHealthUnknown PeerHealth = iota
	PeerHealthUp
	PeerHealthDown
)

// ElectionEventKind tags an ElectionEvent variant.
type ElectionEventKind uint8

const (
	ElectionEventStart ElectionEventKind = iota
	ElectionEventStop
	ElectionEventConfigChange
	ElectionEventPeerStatusChange
)

// ElectionEvent is the master-election FSM's event sum type. Only the
// fields relevant to Kind are meaningful.
type ElectionEvent struct {
	Kind ElectionEventKind

	// ConfigChange
	MyIP   netip.Addr
	PeerIP netip.Addr

	// PeerStatusChange
	PeerHealth PeerHealth
}

// ElectionActionKind tags an ElectionAction variant.
type ElectionActionKind uint8

const (
	// ActionSwitchStatusChange emits the SwitchStatusChange notification.
	ActionSwitchStatusChange ElectionActionKind = iota
	// ActionWriteMlagIDs writes the resolved mlag_id back to the peer registry.
	ActionWriteMlagIDs
	// ActionLogEqualIP logs the equal-ip misconfiguration (spec.md S3); no
	// state transition accompanies it.
	ActionLogEqualIP
)

// ElectionAction is an effect to execute after a Step call.
type ElectionAction struct {
	Kind ElectionActionKind

	PrevStatus   ElectionState
	CurrStatus   ElectionState
	MyPeerID     int
	MasterPeerID int
	MyIP         netip.Addr
	PeerIP       netip.Addr

	// ActionWriteMlagIDs
	SelfMlagID int
	PeerMlagID int
}

// ElectionResult is the outcome of an election Step call.
type ElectionResult struct {
	OldState ElectionState
	NewState ElectionState
	Actions  []ElectionAction
	Changed  bool
}

// Election is the master-election FSM's full state, as spec.md §3 names it.
type Election struct {
	CurrentStatus  ElectionState
	PreviousStatus ElectionState
	MyIP           netip.Addr
	PeerIP         netip.Addr
	PeerHealth     PeerHealth
	MyPeerID       int
	MasterPeerID   int
}

// mlagID values negotiated by the election FSM (spec.md glossary).
const (
	mlagIDMaster = 0
	mlagIDSlave  = 1
)

// decide implements the IsMaster decision table of spec.md §4.5. It never
// mutates e; the caller applies the returned state via Step.
func decide(e Election) (ElectionState, []ElectionAction) {
	switch {
	case !e.MyIP.IsValid() || !e.PeerIP.IsValid() || e.MyIP.IsUnspecified() || e.PeerIP.IsUnspecified():
		return ElectionStandalone, []ElectionAction{{
			Kind: ActionWriteMlagIDs, SelfMlagID: mlagIDMaster, PeerMlagID: -1,
		}}

	case e.PeerHealth == PeerHealthDown:
		return ElectionStandalone, []ElectionAction{{
			Kind: ActionWriteMlagIDs, SelfMlagID: mlagIDMaster, PeerMlagID: -1,
		}}

	case less(e.MyIP, e.PeerIP):
		return ElectionSlave, []ElectionAction{{
			Kind: ActionWriteMlagIDs, SelfMlagID: mlagIDSlave, PeerMlagID: mlagIDMaster,
		}}

	case less(e.PeerIP, e.MyIP):
		return ElectionMaster, []ElectionAction{{
			Kind: ActionWriteMlagIDs, SelfMlagID: mlagIDMaster, PeerMlagID: mlagIDSlave,
		}}

	default:
		// Equal ip: spec.md's open question leaves this as log-only, no
		// transition (S3). We surface it as a distinct action rather than
		// silently dropping it.
		return e.CurrentStatus, []ElectionAction{{Kind: ActionLogEqualIP, MyIP: e.MyIP, PeerIP: e.PeerIP}}
	}
}

func less(a, b netip.Addr) bool {
	return a.As4() != b.As4() && compareAddr(a, b) < 0
}

func compareAddr(a, b netip.Addr) int {
	ab, bb := a.As4(), b.As4()
	for i := range ab {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// withEntryAction builds the SwitchStatusChange action spec.md §4.5
// describes for entries into Slave, Standalone, or Master-from-IsMaster.
func withEntryAction(e Election, newState ElectionState, myPeerID, masterPeerID int) ElectionAction {
	return ElectionAction{
		Kind:         ActionSwitchStatusChange,
		PrevStatus:   e.CurrentStatus,
		CurrStatus:   newState,
		MyPeerID:     myPeerID,
		MasterPeerID: masterPeerID,
		MyIP:         e.MyIP,
		PeerIP:       e.PeerIP,
	}
}

// Step applies event to the election FSM's current state, returning the
// new state and the effects to execute. It performs no I/O and mutates no
// shared state; e is passed by value.
func Step(e Election, event ElectionEvent) ElectionResult {
	old := e.CurrentStatus

	switch event.Kind {
	case ElectionEventStart:
		if old != ElectionIdle {
			return noop(old)
		}
		newState, actions := decide(e)
		if newState != ElectionIdle && newState != e.CurrentStatus {
			actions = append(actions, withEntryAction(e, newState, idForState(newState), masterIDForState(newState)))
		}
		return ElectionResult{OldState: old, NewState: newState, Actions: actions, Changed: newState != old}

	case ElectionEventStop:
		if old == ElectionIdle {
			return noop(old)
		}
		return ElectionResult{OldState: old, NewState: ElectionIdle, Changed: true}

	case ElectionEventConfigChange:
		if old == ElectionIdle {
			return noop(old)
		}
		e.MyIP, e.PeerIP = event.MyIP, event.PeerIP
		newState, actions := decide(e)
		if newState != e.CurrentStatus {
			actions = append(actions, withEntryAction(e, newState, idForState(newState), masterIDForState(newState)))
		}
		return ElectionResult{OldState: old, NewState: newState, Actions: actions, Changed: newState != old}

	case ElectionEventPeerStatusChange:
		switch old {
		case ElectionMaster:
			// Stores health; no transition (spec.md §4.5).
			return noop(old)

		case ElectionSlave:
			if event.PeerHealth == PeerHealthDown {
				actions := []ElectionAction{
					{Kind: ActionWriteMlagIDs, SelfMlagID: mlagIDMaster, PeerMlagID: -1},
					withEntryAction(e, ElectionStandalone, 0, 0),
				}
				return ElectionResult{OldState: old, NewState: ElectionStandalone, Actions: actions, Changed: true}
			}
			return noop(old)

		case ElectionStandalone:
			e.PeerHealth = event.PeerHealth
			newState, actions := decide(e)
			if newState != e.CurrentStatus {
				actions = append(actions, withEntryAction(e, newState, idForState(newState), masterIDForState(newState)))
			}
			return ElectionResult{OldState: old, NewState: newState, Actions: actions, Changed: newState != old}

		default:
			return noop(old)
		}

	default:
		return noop(old)
	}
}

func idForState(s ElectionState) int {
	if s == ElectionSlave {
		return mlagIDSlave
	}
	return mlagIDMaster
}

func masterIDForState(s ElectionState) int {
	if s == ElectionSlave {
		return mlagIDMaster
	}
	return mlagIDMaster
}

func noop(s ElectionState) ElectionResult {
	return ElectionResult{OldState: s, NewState: s, Changed: false}
}
