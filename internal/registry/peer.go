// Package registry implements the MLAG peer and IPL identifier-translation
// tables. Both registries are single-owner: all mutation happens on the
// manager's dispatcher goroutine, and cross-goroutine readers use the
// snapshot getters instead of taking a lock.
package registry

import (
	"net/netip"

	"github.com/open-ethernet/MLAG-sub002/internal/mlagerr"
)

// InvalidMlagID is the sentinel value for an unassigned mlag_id.
const InvalidMlagID = -1

// MaxPeers is the fixed capacity of the peer table (N in spec.md §3).
// Index 0 is always reserved for the local node.
const MaxPeers = 2

// PeerRecord is one slot of the peer table. A slot is occupied iff PeerIP
// is valid (present); the zero value represents an empty slot, except that
// index 0 ("self") may have a zero PeerIP before the local IPL address is
// configured.
type PeerRecord struct {
	PeerIP   netip.Addr
	MlagID   int
	SystemID uint64
	IPLID    int
	occupied bool
}

// Peers is the fixed-capacity peer table keyed by local peer index.
type Peers struct {
	slots [MaxPeers]PeerRecord
}

// NewPeers returns an empty peer table with every mlag_id unassigned.
func NewPeers() *Peers {
	p := &Peers{}
	for i := range p.slots {
		p.slots[i].MlagID = InvalidMlagID
	}
	return p
}

// Add inserts peerIP into the table. The local slot (index 0) is matched
// first: if peerIP already occupies a slot, that slot's index is returned
// with no error. Otherwise the lowest-index empty slot in 1..N-1 is used.
// Returns mlagerr with CodeFull if no slot is free.
func (p *Peers) Add(peerIP netip.Addr) (int, error) {
	if idx, ok := p.localIndexOf(peerIP); ok {
		return idx, nil
	}
	for i := 1; i < MaxPeers; i++ {
		if !p.slots[i].occupied {
			p.slots[i] = PeerRecord{PeerIP: peerIP, MlagID: InvalidMlagID, occupied: true}
			return i, nil
		}
	}
	return 0, mlagerr.New(mlagerr.CodeFull, "registry.peers", "peer table at capacity")
}

// Delete clears the slot matching peerIP. Index 0 is never cleared by this
// call. Returns mlagerr with CodeNotFound if no occupied slot matches.
func (p *Peers) Delete(peerIP netip.Addr) error {
	idx, ok := p.localIndexOf(peerIP)
	if !ok {
		return mlagerr.New(mlagerr.CodeNotFound, "registry.peers", "peer not found")
	}
	if idx == 0 {
		return mlagerr.New(mlagerr.CodePreconditionFailed, "registry.peers", "index 0 cannot be deleted")
	}
	p.slots[idx] = PeerRecord{MlagID: InvalidMlagID}
	return nil
}

func (p *Peers) localIndexOf(peerIP netip.Addr) (int, bool) {
	for i := range p.slots {
		if p.slots[i].occupied && p.slots[i].PeerIP == peerIP {
			return i, true
		}
	}
	return 0, false
}

// LocalIndexOf returns the local peer index bound to peerIP.
func (p *Peers) LocalIndexOf(peerIP netip.Addr) (int, error) {
	idx, ok := p.localIndexOf(peerIP)
	if !ok {
		return 0, mlagerr.New(mlagerr.CodeNotFound, "registry.peers", "peer ip not found")
	}
	return idx, nil
}

// MlagIDOf returns the mlag_id bound to peerIP.
func (p *Peers) MlagIDOf(peerIP netip.Addr) (int, error) {
	idx, err := p.LocalIndexOf(peerIP)
	if err != nil {
		return InvalidMlagID, err
	}
	return p.slots[idx].MlagID, nil
}

// PeerIPOfIndex returns the peer ip bound to a local index.
func (p *Peers) PeerIPOfIndex(idx int) (netip.Addr, error) {
	if idx < 0 || idx >= MaxPeers || !p.slots[idx].occupied {
		return netip.Addr{}, mlagerr.New(mlagerr.CodeNotFound, "registry.peers", "local index not occupied")
	}
	return p.slots[idx].PeerIP, nil
}

// PeerIPOfMlagID returns the peer ip bound to an mlag_id.
func (p *Peers) PeerIPOfMlagID(mlagID int) (netip.Addr, error) {
	for i := range p.slots {
		if p.slots[i].occupied && p.slots[i].MlagID == mlagID {
			return p.slots[i].PeerIP, nil
		}
	}
	return netip.Addr{}, mlagerr.New(mlagerr.CodeNotFound, "registry.peers", "mlag id not found")
}

// SetMlagID binds mlagID to the slot occupied by peerIP. mlag_id values
// must be pairwise distinct across occupied slots; this is the caller's
// responsibility (the master-election FSM assigns 0/1 deterministically).
func (p *Peers) SetMlagID(peerIP netip.Addr, mlagID int) error {
	idx, err := p.LocalIndexOf(peerIP)
	if err != nil {
		return err
	}
	p.slots[idx].MlagID = mlagID
	return nil
}

// SetSystemID binds systemID to local index idx, used when a peer is
// learned by its configured system_id (spec.md §3's peer record). A slot
// other than index 0 must already be occupied (via Add), else mlagerr with
// CodeNotFound is returned. A slot's mlag_id is left untouched: 0 is the Master's legitimate assigned value,
// not a sentinel for "unassigned" (that sentinel is InvalidMlagID, already
// the default from NewPeers/Add).
func (p *Peers) SetSystemID(idx int, systemID uint64) error {
	if idx < 0 || idx >= MaxPeers {
		return mlagerr.New(mlagerr.CodeInvalidArgument, "registry.peers", "index out of range")
	}
	if idx != 0 && !p.slots[idx].occupied {
		return mlagerr.New(mlagerr.CodeNotFound, "registry.peers", "local index not occupied")
	}
	p.slots[idx].occupied = true
	p.slots[idx].SystemID = systemID
	return nil
}

// SetLocalIP sets the local node's (index 0) IPL address. Index 0 is
// always occupied once this is called, even before a peer is added.
func (p *Peers) SetLocalIP(localIP netip.Addr) {
	p.slots[0].PeerIP = localIP
	p.slots[0].occupied = true
}

// SetLocalSystemID sets the local node's system_id.
func (p *Peers) SetLocalSystemID(systemID uint64) {
	p.slots[0].occupied = true
	p.slots[0].SystemID = systemID
}

// LocalIP returns the local node's configured IPL address, which may be
// the zero value before configuration.
func (p *Peers) LocalIP() netip.Addr {
	return p.slots[0].PeerIP
}

// Snapshot returns a copy of every occupied slot, safe to read without
// holding any lock since the returned value shares no state with the
// registry.
func (p *Peers) Snapshot() []PeerRecord {
	out := make([]PeerRecord, 0, MaxPeers)
	for _, s := range p.slots {
		if s.occupied {
			out = append(out, s)
		}
	}
	return out
}
