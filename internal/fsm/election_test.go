package fsm_test

import (
	"net/netip"
	"testing"

	"github.com/open-ethernet/MLAG-sub002/internal/fsm"
)

func addr(s string) netip.Addr {
	a, err := netip.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// TestTieBreakByLowerIP covers spec property 2: if my_ip < peer_ip and both
// healthy, role = Slave.
func TestTieBreakByLowerIP(t *testing.T) {
	t.Parallel()

	e := fsm.Election{
		CurrentStatus: fsm.ElectionIdle,
		MyIP:          addr("10.0.0.1"),
		PeerIP:        addr("10.0.0.2"),
		PeerHealth:    fsm.PeerHealthUp,
	}
	res := fsm.Step(e, fsm.ElectionEvent{Kind: fsm.ElectionEventStart})

	if res.NewState != fsm.ElectionSlave {
		t.Fatalf("NewState = %v, want Slave", res.NewState)
	}
}

// TestRoleDeterminismComplementary covers spec property 1: both peers
// running the election with swapped (my_ip, peer_ip) reach complementary
// roles when both are healthy.
func TestRoleDeterminismComplementary(t *testing.T) {
	t.Parallel()

	a, b := addr("10.0.0.1"), addr("10.0.0.2")

	nodeA := fsm.Election{CurrentStatus: fsm.ElectionIdle, MyIP: a, PeerIP: b, PeerHealth: fsm.PeerHealthUp}
	nodeB := fsm.Election{CurrentStatus: fsm.ElectionIdle, MyIP: b, PeerIP: a, PeerHealth: fsm.PeerHealthUp}

	resA := fsm.Step(nodeA, fsm.ElectionEvent{Kind: fsm.ElectionEventStart})
	resB := fsm.Step(nodeB, fsm.ElectionEvent{Kind: fsm.ElectionEventStart})

	if resA.NewState == resB.NewState {
		t.Fatalf("both nodes reached state %v, want complementary roles", resA.NewState)
	}
	if resA.NewState != fsm.ElectionSlave && resA.NewState != fsm.ElectionMaster {
		t.Fatalf("nodeA reached %v, want Master or Slave", resA.NewState)
	}
}

// TestRoleDeterminismBothDown covers spec property 1's DOWN branch: both
// peers become Standalone-as-Master when the other reports DOWN.
func TestRoleDeterminismBothDown(t *testing.T) {
	t.Parallel()

	e := fsm.Election{
		CurrentStatus: fsm.ElectionIdle,
		MyIP:          addr("10.0.0.1"),
		PeerIP:        addr("10.0.0.2"),
		PeerHealth:    fsm.PeerHealthDown,
	}
	res := fsm.Step(e, fsm.ElectionEvent{Kind: fsm.ElectionEventStart})
	if res.NewState != fsm.ElectionStandalone {
		t.Fatalf("NewState = %v, want Standalone", res.NewState)
	}

	mirror := fsm.Election{
		CurrentStatus: fsm.ElectionIdle,
		MyIP:          addr("10.0.0.2"),
		PeerIP:        addr("10.0.0.1"),
		PeerHealth:    fsm.PeerHealthDown,
	}
	res = fsm.Step(mirror, fsm.ElectionEvent{Kind: fsm.ElectionEventStart})
	if res.NewState != fsm.ElectionStandalone {
		t.Fatalf("mirror node NewState = %v, want Standalone", res.NewState)
	}
}

// TestEqualIPNoTransition covers spec scenario S3: equal ip logs an error
// and leaves state untouched.
func TestEqualIPNoTransition(t *testing.T) {
	t.Parallel()

	e := fsm.Election{
		CurrentStatus: fsm.ElectionIdle,
		MyIP:          addr("10.0.0.5"),
		PeerIP:        addr("10.0.0.5"),
		PeerHealth:    fsm.PeerHealthUp,
	}
	res := fsm.Step(e, fsm.ElectionEvent{Kind: fsm.ElectionEventStart})
	if res.Changed {
		t.Fatalf("equal-ip Start produced a transition to %v, want no change", res.NewState)
	}
	if res.NewState != fsm.ElectionIdle {
		t.Fatalf("NewState = %v, want Idle (unchanged)", res.NewState)
	}

	foundLog := false
	for _, a := range res.Actions {
		if a.Kind == fsm.ActionLogEqualIP {
			foundLog = true
		}
	}
	if !foundLog {
		t.Fatal("expected ActionLogEqualIP in equal-ip case")
	}
}

// TestSlavePeerDownBecomesStandalone covers spec scenario S2: Slave
// observing peer health DOWN transitions to Standalone, self becomes
// Master, with my_peer_id=0 and master_peer_id=0 in the emitted event.
func TestSlavePeerDownBecomesStandalone(t *testing.T) {
	t.Parallel()

	e := fsm.Election{
		CurrentStatus: fsm.ElectionSlave,
		MyIP:          addr("10.0.0.2"),
		PeerIP:        addr("10.0.0.1"),
		PeerHealth:    fsm.PeerHealthUp,
	}
	res := fsm.Step(e, fsm.ElectionEvent{Kind: fsm.ElectionEventPeerStatusChange, PeerHealth: fsm.PeerHealthDown})

	if res.NewState != fsm.ElectionStandalone {
		t.Fatalf("NewState = %v, want Standalone", res.NewState)
	}
	if !res.Changed {
		t.Fatal("expected Changed = true")
	}

	var switchAction *fsm.ElectionAction
	for i := range res.Actions {
		if res.Actions[i].Kind == fsm.ActionSwitchStatusChange {
			switchAction = &res.Actions[i]
		}
	}
	if switchAction == nil {
		t.Fatal("expected ActionSwitchStatusChange")
	}
	if switchAction.MyPeerID != 0 || switchAction.MasterPeerID != 0 {
		t.Fatalf("SwitchStatusChange ids = (%d, %d), want (0, 0)",
			switchAction.MyPeerID, switchAction.MasterPeerID)
	}
}

// TestMasterPeerStatusChangeStoresHealthOnly ensures a Master receiving a
// PeerStatusChange event does not transition (spec.md §4.5).
func TestMasterPeerStatusChangeStoresHealthOnly(t *testing.T) {
	t.Parallel()

	e := fsm.Election{CurrentStatus: fsm.ElectionMaster}
	res := fsm.Step(e, fsm.ElectionEvent{Kind: fsm.ElectionEventPeerStatusChange, PeerHealth: fsm.PeerHealthDown})
	if res.Changed {
		t.Fatalf("Master transitioned on PeerStatusChange, got %v", res.NewState)
	}
}

// TestStopAlwaysReturnsToIdle covers "Any operational --Stop--> Idle".
func TestStopAlwaysReturnsToIdle(t *testing.T) {
	t.Parallel()

	for _, start := range []fsm.ElectionState{fsm.ElectionMaster, fsm.ElectionSlave, fsm.ElectionStandalone} {
		e := fsm.Election{CurrentStatus: start}
		res := fsm.Step(e, fsm.ElectionEvent{Kind: fsm.ElectionEventStop})
		if res.NewState != fsm.ElectionIdle {
			t.Fatalf("Stop from %v -> %v, want Idle", start, res.NewState)
		}
	}
}
