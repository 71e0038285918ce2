package manager

import (
	"context"
	"log/slog"

	"github.com/open-ethernet/MLAG-sub002/internal/fsm"
	"github.com/open-ethernet/MLAG-sub002/internal/timers"
	"github.com/open-ethernet/MLAG-sub002/internal/transport"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

// handleElectionEvent steps the master-election FSM and executes its
// returned effects, then runs the role-change handler on any transition
// (spec.md §4.7).
func (c *Core) handleElectionEvent(ctx context.Context, ev fsm.ElectionEvent) {
	prev := c.election.CurrentStatus
	res := fsm.Step(c.election, ev)

	c.election.PreviousStatus = c.election.CurrentStatus
	c.election.CurrentStatus = res.NewState
	if ev.Kind == fsm.ElectionEventConfigChange {
		c.election.MyIP, c.election.PeerIP = ev.MyIP, ev.PeerIP
	}
	if ev.Kind == fsm.ElectionEventPeerStatusChange {
		c.election.PeerHealth = ev.PeerHealth
	}

	if c.counters != nil {
		c.counters.Election.Transitions.Add(1)
	}

	for _, action := range res.Actions {
		c.runElectionAction(action)
	}

	if res.Changed {
		c.onRoleChange(ctx, prev, res.NewState)
	}
}

func (c *Core) runElectionAction(a fsm.ElectionAction) {
	switch a.Kind {
	case fsm.ActionSwitchStatusChange:
		c.election.MyPeerID, c.election.MasterPeerID = a.MyPeerID, a.MasterPeerID
		if c.counters != nil {
			c.counters.Election.SwitchStatusSent.Add(1)
		}
		c.logger.Info("manager: switch status change",
			slog.String("prev", a.PrevStatus.String()),
			slog.String("curr", a.CurrStatus.String()),
			slog.Int("my_peer_id", a.MyPeerID),
			slog.Int("master_peer_id", a.MasterPeerID),
		)

	case fsm.ActionWriteMlagIDs:
		localIP := c.peers.LocalIP()
		if localIP.IsValid() {
			if err := c.peers.SetMlagID(localIP, a.SelfMlagID); err != nil {
				c.logErr("write_mlag_id.self", err)
			}
		}
		if c.election.PeerIP.IsValid() && a.PeerMlagID >= 0 {
			if err := c.peers.SetMlagID(c.election.PeerIP, a.PeerMlagID); err != nil {
				c.logErr("write_mlag_id.peer", err)
			}
		}

	case fsm.ActionLogEqualIP:
		if c.counters != nil {
			c.counters.Election.EqualIPErrors.Add(1)
		}
		c.logger.Error("manager: my_ip equals peer_ip, refusing to elect a role",
			slog.String("ip", a.MyIP.String()))
	}
}

// onRoleChange implements spec.md §4.7's role-change handler.
func (c *Core) onRoleChange(ctx context.Context, prev, curr fsm.ElectionState) {
	switch curr {
	case fsm.ElectionMaster:
		c.reinitializePeerings(false)
		c.reloadDelayTimer.Start(c.cfg.ReloadDelay, func() {
			c.Post(wire.SystemEvent{Kind: wire.EventReloadDelayExpired})
		})
		c.startTransportForRole(ctx, curr)
		c.stepLocalPeering(fsm.PeeringEventPeerUp)
		c.stepLocalPeering(fsm.PeeringEventPeerConn)

	case fsm.ElectionStandalone:
		c.reinitializePeerings(false)
		if prev != fsm.ElectionSlave || !c.portsEnabled {
			c.reloadDelayTimer.Start(c.cfg.ReloadDelay, func() {
				c.Post(wire.SystemEvent{Kind: wire.EventReloadDelayExpired})
			})
		}
		c.startTransportForRole(ctx, curr)
		c.stepLocalPeering(fsm.PeeringEventPeerUp)
		c.stepLocalPeering(fsm.PeeringEventPeerConn)

	case fsm.ElectionSlave:
		c.reloadDelayTimer.Stop()
		c.startTransportForRole(ctx, curr)

	case fsm.ElectionIdle:
		if c.transport != nil {
			c.transport.Stop()
		}
		c.reloadDelayTimer.Stop()
	}
}

func (c *Core) startTransportForRole(ctx context.Context, role fsm.ElectionState) {
	if c.transport == nil {
		return
	}
	switch role {
	case fsm.ElectionMaster:
		if c.transport.Role() == transport.RoleMaster && !c.transport.IsStarted() {
			if err := c.transport.StartMaster(ctx, c.peers.LocalIP()); err != nil {
				c.logErr("start_master", err)
			}
		}
	case fsm.ElectionSlave:
		if c.transport.Role() == transport.RoleSlave {
			go c.transport.ConnectSlave(ctx, c.election.PeerIP, func() {
				c.Post(wire.SystemEvent{Kind: wire.EventReconnect})
			})
		}
	}
}

func (c *Core) reinitializePeerings(remotePeerOnly bool) {
	for id := range c.peerings {
		if remotePeerOnly && id == transport.LocalPeerID {
			continue
		}
		p := c.peerings[id]
		p.State = fsm.PeeringConfigured
		p.SyncStates = 0
		c.peerings[id] = p
	}
	if _, ok := c.peerings[transport.LocalPeerID]; !ok {
		c.peerings[transport.LocalPeerID] = fsm.Peering{
			PeerID: transport.LocalPeerID, IGMPEnabled: c.cfg.IGMPEnabled, LACPEnabled: c.cfg.LACPEnabled,
		}
	}
}

func (c *Core) stepLocalPeering(kind fsm.PeeringEventKind) {
	c.stepPeering(transport.LocalPeerID, fsm.PeeringEvent{Kind: kind})
}

// handleReconnect implements the RECONNECT system event of spec.md §4.4:
// runs a fresh connect from Slave role; Master role never initiates.
func (c *Core) handleReconnect(ctx context.Context) {
	if c.transport == nil || c.transport.Role() != transport.RoleSlave {
		return
	}
	go c.transport.ConnectSlave(ctx, c.election.PeerIP, func() {
		c.Post(wire.SystemEvent{Kind: wire.EventReconnect})
	})
}

// handleStop implements the stop/start barrier of spec.md §4.7: fans out
// stop requests to each collaborator, ORs their STOP_DONE bits, and
// returns (to the caller of Stop, via the barrier) after the bounded
// timeout whether or not every bit arrived.
func (c *Core) handleStop(ctx context.Context) {
	c.handleElectionEvent(ctx, fsm.ElectionEvent{Kind: fsm.ElectionEventStop})

	fanOut := func(fm interface{ Stop(int) (<-chan uint32) }, bit uint32) {
		if fm == nil {
			c.stopBarrier.Signal(bit)
			return
		}
		done := fm.Stop(transport.LocalPeerID)
		go func() {
			select {
			case <-done:
				c.stopBarrier.Signal(bit)
			case <-ctx.Done():
			}
		}()
	}

	fanOut(c.health, StopBitHealth)
	fanOut(c.igmp, StopBitIGMP)
	fanOut(c.macsync, StopBitMACSync)
	c.stopBarrier.Signal(StopBitManager)
}

// Stop is the externally-callable bounded wait for the stop barrier
// (spec.md §4.7/§4.8), invoked by the owner of the Core (cmd/mlagd).
func (c *Core) Stop(ctx context.Context) bool {
	c.stopBarrier.Reset()
	c.Post(wire.SystemEvent{Kind: wire.EventStop})

	waitCtx, cancel := context.WithTimeout(ctx, timers.StopBarrierTimeout)
	defer cancel()

	_, complete := c.stopBarrier.Wait(waitCtx, allStopBits)
	if !complete && c.counters != nil {
		c.counters.Manager.StopTimeouts.Add(1)
	}
	return complete
}
