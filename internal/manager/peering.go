package manager

import (
	"context"
	"log/slog"

	"github.com/open-ethernet/MLAG-sub002/internal/fsm"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

// stepPeering steps the named peer's peering FSM and executes whatever
// effects fall out, creating the peering record on first use.
func (c *Core) stepPeering(peerID int, ev fsm.PeeringEvent) {
	p, ok := c.peerings[peerID]
	if !ok {
		p = fsm.Peering{
			PeerID:       peerID,
			IsRemotePeer: peerID != 0,
			IGMPEnabled:  c.cfg.IGMPEnabled,
			LACPEnabled:  c.cfg.LACPEnabled,
		}
	}

	res := fsm.StepPeering(p, ev)
	p.State = res.NewState
	p.SyncStates = res.SyncStates
	c.peerings[peerID] = p

	for _, action := range res.Actions {
		c.runPeeringAction(peerID, action)
	}
}

func (c *Core) runPeeringAction(peerID int, a fsm.PeeringAction) {
	switch a.Kind {
	case fsm.ActionPeerSyncStart:
		msg := wire.PeerMessage{Op: wire.OpcodePeerStart, PeerStart: wire.PeerStart{
			MlagID:      uint32(c.mlagIDOrZero(peerID)),
			HealthState: uint32(c.election.PeerHealth),
		}}
		if err := c.sendToPeer(peerID, msg); err != nil {
			c.logErr("peer_sync_start", err)
			return
		}
		if c.counters != nil {
			c.counters.Manager.PeerStartSent.Add(1)
		}

	case fsm.ActionPeerSyncDone:
		c.reloadDelayTimer.Stop()
		c.portsEnabled = true
		if c.hal != nil {
			if err := c.hal.SetPortAdminState(0, true); err != nil {
				c.logErr("peer_sync_done.hal", err)
			}
		}
		msg := wire.PeerMessage{Op: wire.OpcodePeerEnable, PeerEnable: wire.PeerEnable{
			MlagID: uint32(c.mlagIDOrZero(peerID)),
			State:  1,
		}}
		if err := c.sendToPeer(peerID, msg); err != nil {
			c.logErr("peer_sync_done.send", err)
			return
		}
		if c.counters != nil {
			c.counters.Manager.PeerEnableSent.Add(1)
		}
		c.logger.Info("manager: peer sync complete, ports enabled", slog.Int("peer_id", peerID))

	case fsm.ActionStopTransport:
		if c.transport != nil {
			if err := c.transport.ClosePeer(peerID); err != nil {
				c.logErr("peer_down.close", err)
			}
		}
	}
}

func (c *Core) sendToPeer(peerID int, msg wire.PeerMessage) error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Send(peerID, msg, func(wire.PeerMessage) {
		// Loopback delivery: re-inject as our own inbound peer message.
		c.Post(wire.SystemEvent{Kind: wire.EventSyncArrived, PeerID: peerID, FromPeer: true, PeerMessage: msg})
	})
}

func (c *Core) mlagIDOrZero(peerID int) int {
	peerIP, err := c.peers.PeerIPOfIndex(peerID)
	if err != nil {
		return 0
	}
	id, err := c.peers.MlagIDOf(peerIP)
	if err != nil {
		return 0
	}
	return id
}

// handlePeerConn implements the PEER_CONNECTED system event (spec.md
// §4.6): the socket for peerID is up, so its peering FSM starts sync.
func (c *Core) handlePeerConn(ctx context.Context, peerID int) {
	c.stepPeering(peerID, fsm.PeeringEvent{Kind: fsm.PeeringEventPeerConn})
}

// handlePeerSync implements SYNC_ARRIVED for a local sync-complete
// notification (spec.md §4.6): one of PORT/L3/IGMP/MAC/LACP sync finished.
func (c *Core) handlePeerSync(ctx context.Context, peerID int, kind fsm.SyncKind) {
	c.stepPeering(peerID, fsm.PeeringEvent{Kind: fsm.PeeringEventSyncArrived, Sync: kind})
}

// handlePeerDown implements PEER_DOWN (spec.md §4.6): the peer's socket
// dropped or the peer's health went down; its peering state resets.
func (c *Core) handlePeerDown(ctx context.Context, peerID int) {
	c.stepPeering(peerID, fsm.PeeringEvent{Kind: fsm.PeeringEventPeerDown})
}

// handleReloadDelayExpired implements spec.md §4.7's reload-delay expiry:
// regardless of sync completion, the manager allows ports to enable once
// the configured grace period has elapsed.
func (c *Core) handleReloadDelayExpired(ctx context.Context) {
	if c.counters != nil {
		c.counters.Manager.ReloadDelayExpired.Add(1)
	}
	if c.portsEnabled {
		return
	}
	c.portsEnabled = true
	if c.hal != nil {
		if err := c.hal.SetPortAdminState(0, true); err != nil {
			c.logErr("reload_delay_expired.hal", err)
		}
	}
	c.logger.Info("manager: reload delay expired, ports enabled without full sync")
}
