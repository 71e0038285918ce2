package registry

import (
	"net/netip"

	"github.com/open-ethernet/MLAG-sub002/internal/mlagerr"
)

// MaxIPLs is the fixed capacity of the IPL topology table.
const MaxIPLs = 4

// RedirectIPLID is the IPL id always used for forwarding overflow traffic.
const RedirectIPLID = 0

// IPLState is the operational state of an IPL.
type IPLState int

const (
	IPLDown IPLState = iota
	IPLUp
)

func (s IPLState) String() string {
	if s == IPLUp {
		return "UP"
	}
	return "DOWN"
}

// IPLRecord describes one IPL: its VLAN, bound port, and peer addressing.
// Valid and PortValid are independent presence flags because an IPL may
// exist before its port binding.
type IPLRecord struct {
	Valid        bool
	PortValid    bool
	PortID       int
	LocalIP      netip.Addr
	PeerIP       netip.Addr
	VLANID       int
	CurrentState IPLState
}

// IPLs is the fixed-capacity IPL topology table.
type IPLs struct {
	slots [MaxIPLs]IPLRecord
}

// NewIPLs returns an empty IPL table.
func NewIPLs() *IPLs {
	return &IPLs{}
}

// Create allocates the lowest free IPL id and marks it valid.
func (t *IPLs) Create() (int, error) {
	for i := range t.slots {
		if !t.slots[i].Valid {
			t.slots[i] = IPLRecord{Valid: true, CurrentState: IPLDown}
			return i, nil
		}
	}
	return 0, mlagerr.New(mlagerr.CodeFull, "registry.ipl", "ipl table at capacity")
}

// Delete clears id's slot entirely.
func (t *IPLs) Delete(id int) error {
	if err := t.checkID(id); err != nil {
		return err
	}
	t.slots[id] = IPLRecord{}
	return nil
}

func (t *IPLs) checkID(id int) error {
	if id < 0 || id >= MaxIPLs || !t.slots[id].Valid {
		return mlagerr.New(mlagerr.CodeNotFound, "registry.ipl", "ipl id not found")
	}
	return nil
}

// Get returns a copy of IPL id's record.
func (t *IPLs) Get(id int) (IPLRecord, error) {
	if err := t.checkID(id); err != nil {
		return IPLRecord{}, err
	}
	return t.slots[id], nil
}

// SetPort binds a hardware port to an existing IPL.
func (t *IPLs) SetPort(id, portID int) error {
	if err := t.checkID(id); err != nil {
		return err
	}
	t.slots[id].PortValid = true
	t.slots[id].PortID = portID
	return nil
}

// SetAddrs sets the local/peer VLAN-interface addresses. IPv6 addresses
// are rejected per spec.md §6 (the IPL link is IPv4-only).
func (t *IPLs) SetAddrs(id int, local, peer netip.Addr) error {
	if err := t.checkID(id); err != nil {
		return err
	}
	if (local.IsValid() && !local.Is4()) || (peer.IsValid() && !peer.Is4()) {
		return mlagerr.New(mlagerr.CodeAddressFamilyUnsupported, "registry.ipl", "ipl link is ipv4-only")
	}
	t.slots[id].LocalIP = local
	t.slots[id].PeerIP = peer
	return nil
}

// SetVLAN sets the 802.1Q VLAN id, which must be in [1, 4095].
func (t *IPLs) SetVLAN(id, vlanID int) error {
	if err := t.checkID(id); err != nil {
		return err
	}
	if vlanID < 1 || vlanID > 4095 {
		return mlagerr.New(mlagerr.CodeInvalidArgument, "registry.ipl", "vlan id out of range")
	}
	t.slots[id].VLANID = vlanID
	return nil
}

// SetState sets the IPL's operational state.
func (t *IPLs) SetState(id int, state IPLState) error {
	if err := t.checkID(id); err != nil {
		return err
	}
	t.slots[id].CurrentState = state
	return nil
}

// RedirectID returns the redirect IPL id if it is bound to a port, else
// mlagerr with CodeNotFound.
func (t *IPLs) RedirectID() (int, error) {
	if !t.slots[RedirectIPLID].Valid || !t.slots[RedirectIPLID].PortValid {
		return 0, mlagerr.New(mlagerr.CodeNotFound, "registry.ipl", "redirect ipl not bound")
	}
	return RedirectIPLID, nil
}

// PortIDToIPL scans occupied slots for the IPL bound to portID.
func (t *IPLs) PortIDToIPL(portID int) (int, error) {
	for i := range t.slots {
		if t.slots[i].Valid && t.slots[i].PortValid && t.slots[i].PortID == portID {
			return i, nil
		}
	}
	return 0, mlagerr.New(mlagerr.CodeNotFound, "registry.ipl", "port id not bound to any ipl")
}

// Snapshot returns a copy of every valid IPL record, indexed by id.
func (t *IPLs) Snapshot() map[int]IPLRecord {
	out := make(map[int]IPLRecord)
	for i, s := range t.slots {
		if s.Valid {
			out[i] = s
		}
	}
	return out
}
