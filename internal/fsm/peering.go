package fsm

// SyncKind is one subsystem's sync-done signal (spec.md glossary: Sync type).
type SyncKind uint8

const (
	SyncPort SyncKind = iota
	SyncL3
	SyncIGMP
	SyncMAC
	SyncLACP
)

// SyncMask is a bitmask over SyncKind values.
type SyncMask uint8

func bit(k SyncKind) SyncMask { return 1 << k }

// Set returns the mask with k's bit set.
func (m SyncMask) Set(k SyncKind) SyncMask { return m | bit(k) }

// Has reports whether k's bit is set.
func (m SyncMask) Has(k SyncKind) bool { return m&bit(k) != 0 }

// alwaysOnMask is the always-enabled module set {PORT, L3, MAC}.
const alwaysOnMask = SyncMask(0) | (1 << SyncPort) | (1 << SyncL3) | (1 << SyncMAC)

// EnabledMask returns the union of the always-on modules with the
// per-instance optional modules, per spec.md §4.6.
func EnabledMask(igmpEnabled, lacpEnabled bool) SyncMask {
	mask := SyncMask(alwaysOnMask)
	if igmpEnabled {
		mask = mask.Set(SyncIGMP)
	}
	if lacpEnabled {
		mask = mask.Set(SyncLACP)
	}
	return mask
}

// PeeringState is a per-peer peering FSM state.
type PeeringState uint8

const (
	PeeringConfigured PeeringState = iota
	PeeringPeering
	PeeringPeerUp
)

func (s PeeringState) String() string {
	switch s {
	case PeeringConfigured:
		return "Configured"
	case PeeringPeering:
		return "Peering"
	case PeeringPeerUp:
		return "PeerUp"
	default:
		return "Unknown"
	}
}

// PeeringEventKind tags a PeeringEvent variant.
type PeeringEventKind uint8

const (
	PeeringEventPeerUp PeeringEventKind = iota
	PeeringEventPeerConn
	PeeringEventPeerDown
	PeeringEventSyncArrived
)

// PeeringEvent is the peering FSM's event sum type.
type PeeringEvent struct {
	Kind PeeringEventKind
	Sync SyncKind // meaningful only for PeeringEventSyncArrived
}

// PeeringActionKind tags a PeeringAction variant.
type PeeringActionKind uint8

const (
	// ActionPeerSyncStart invokes peer_sync_start_cb: send PEER_START.
	ActionPeerSyncStart PeeringActionKind = iota
	// ActionPeerSyncDone invokes peer_sync_done_cb: all modules synced.
	ActionPeerSyncDone
	// ActionStopTransport stops the transport to this peer (remote peer only).
	ActionStopTransport
)

// PeeringAction is an effect to execute after a Step call.
type PeeringAction struct {
	Kind PeeringActionKind
}

// PeeringResult is the outcome of a peering Step call.
type PeeringResult struct {
	OldState   PeeringState
	NewState   PeeringState
	Actions    []PeeringAction
	Changed    bool
	SyncStates SyncMask
}

// Peering is one peer's peering FSM state, per spec.md §3.
type Peering struct {
	PeerID       int
	State        PeeringState
	SyncStates   SyncMask
	IGMPEnabled  bool
	LACPEnabled  bool
	IsRemotePeer bool
}

// StepPeering applies event to p's current state. It performs no I/O; the
// caller executes the returned actions (sending PEER_START, invoking the
// sync-done callback, stopping the transport).
func StepPeering(p Peering, event PeeringEvent) PeeringResult {
	old := p.State

	switch event.Kind {
	case PeeringEventPeerUp:
		if p.State == PeeringConfigured {
			return PeeringResult{OldState: old, NewState: PeeringConfigured, SyncStates: p.SyncStates}
		}
		return noopPeering(p)

	case PeeringEventPeerConn:
		if p.State == PeeringConfigured || p.State == PeeringPeering {
			return PeeringResult{
				OldState:   old,
				NewState:   PeeringPeering,
				Actions:    []PeeringAction{{Kind: ActionPeerSyncStart}},
				Changed:    old != PeeringPeering,
				SyncStates: p.SyncStates,
			}
		}
		return noopPeering(p)

	case PeeringEventSyncArrived:
		if p.State != PeeringPeering {
			return noopPeering(p)
		}
		newMask := p.SyncStates.Set(event.Sync)
		enabled := EnabledMask(p.IGMPEnabled, p.LACPEnabled)
		if newMask&enabled == enabled {
			return PeeringResult{
				OldState:   old,
				NewState:   PeeringPeerUp,
				Actions:    []PeeringAction{{Kind: ActionPeerSyncDone}},
				Changed:    true,
				SyncStates: newMask,
			}
		}
		return PeeringResult{OldState: old, NewState: PeeringPeering, SyncStates: newMask}

	case PeeringEventPeerDown:
		var actions []PeeringAction
		if p.IsRemotePeer {
			actions = append(actions, PeeringAction{Kind: ActionStopTransport})
		}
		return PeeringResult{
			OldState:   old,
			NewState:   PeeringConfigured,
			Actions:    actions,
			Changed:    old != PeeringConfigured,
			SyncStates: 0,
		}

	default:
		return noopPeering(p)
	}
}

func noopPeering(p Peering) PeeringResult {
	return PeeringResult{OldState: p.State, NewState: p.State, SyncStates: p.SyncStates}
}
