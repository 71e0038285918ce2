package manager

import (
	"context"
	"log/slog"

	"github.com/open-ethernet/MLAG-sub002/internal/fsm"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

// handle is the system-event opcode dispatch of spec.md §4.3, reshaped
// into a switch over the wire.SystemEvent sum type rather than a runtime
// handler-table lookup. A handler returning nothing (as Go methods here
// do, logging instead of erroring) matches spec.md's "handler returning
// CANCELED is silent; any other error is logged and continues."
func (c *Core) handle(ctx context.Context, ev wire.SystemEvent) {
	switch ev.Kind {
	case wire.EventStart:
		c.handleElectionEvent(ctx, fsm.ElectionEvent{Kind: fsm.ElectionEventStart})

	case wire.EventStop:
		c.handleStop(ctx)

	case wire.EventConfigChange:
		c.handleElectionEvent(ctx, fsm.ElectionEvent{
			Kind: fsm.ElectionEventConfigChange, MyIP: ev.MyIP, PeerIP: ev.PeerIP,
		})

	case wire.EventPeerStatusChange:
		c.handleElectionEvent(ctx, fsm.ElectionEvent{
			Kind: fsm.ElectionEventPeerStatusChange, PeerHealth: fsm.PeerHealth(ev.PeerHealth),
		})

	case wire.EventPeerConnected:
		c.handlePeerConn(ctx, ev.PeerID)

	case wire.EventSyncArrived:
		if ev.FromPeer {
			c.handleInboundPeerMessage(ctx, ev.PeerID, ev.PeerMessage)
			return
		}
		c.handlePeerSync(ctx, ev.PeerID, fsm.SyncKind(ev.SyncKind))

	case wire.EventPeerDown:
		c.handlePeerDown(ctx, ev.PeerID)

	case wire.EventReloadDelayExpired:
		c.handleReloadDelayExpired(ctx)

	case wire.EventReconnect:
		c.handleReconnect(ctx)

	case wire.EventStopDone:
		c.stopBarrier.Signal(ev.StopDoneBit)

	case wire.EventPeerAdd:
		if _, err := c.peers.Add(ev.PeerIP); err != nil {
			c.logErr("peer_add", err)
		}

	case wire.EventPeerDelete:
		if err := c.peers.Delete(ev.PeerIP); err != nil {
			c.logErr("peer_delete", err)
		}

	case wire.EventIPLCreate:
		c.handleIPLCreate(ev)

	case wire.EventIPLSetState:
		c.handleIPLSetState(ev)

	case wire.EventIPLDelete:
		c.handleIPLDelete(ev)

	case wire.EventPortDeleteDone:
		c.portDeleteBarrier.Signal(ev.PortDeleteBit)

	default:
		c.logger.Debug("manager: unknown system event, dropping", slog.Int("kind", int(ev.Kind)))
	}
}

// handleInboundPeerMessage handles a re-injected wire.PeerMessage on the
// dispatcher (spec.md §2). PEER_START is only counted; PEER_ENABLE is
// counted, sets the ports-enabled flag, and enables ports through the HAL.
// No peering FSM is stepped here; other opcodes are logged and dropped.
func (c *Core) handleInboundPeerMessage(ctx context.Context, peerID int, msg wire.PeerMessage) {
	switch msg.Op {
	case wire.OpcodePeerStart:
		// The peer is beginning its side of the handshake; nothing further
		// to do here beyond having already transitioned to Peering on our
		// own PeerConn (spec.md §4.6).
		if c.counters != nil {
			c.counters.Manager.PeerStartRecv.Add(1)
		}

	case wire.OpcodePeerEnable:
		if c.counters != nil {
			c.counters.Manager.PeerEnableRecv.Add(1)
		}
		c.portsEnabled = true
		if c.hal != nil {
			if err := c.hal.SetPortAdminState(0, true); err != nil {
				c.logErr("peer_enable.hal", err)
			}
		}

	default:
		c.logger.Debug("manager: unhandled peer opcode", slog.Int("opcode", int(msg.Op)), slog.Int("peer_id", peerID))
	}
}
