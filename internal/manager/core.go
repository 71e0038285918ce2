// Package manager implements spec.md §4.7's Mlag manager: the orchestrator
// wiring the peer/IPL registries (C1/C2), the master-election and peering
// FSMs (C5/C6), the peer transport (C4), and the reload-delay/stop-barrier
// timers (C8) into the end-to-end protocol. Per the Design Notes, this
// Core value is the single owner of every piece of state the original
// module-local statics held; handlers are methods on *Core running on one
// dispatcher goroutine.
package manager

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/open-ethernet/MLAG-sub002/internal/counters"
	"github.com/open-ethernet/MLAG-sub002/internal/fsm"
	"github.com/open-ethernet/MLAG-sub002/internal/mlagerr"
	"github.com/open-ethernet/MLAG-sub002/internal/registry"
	"github.com/open-ethernet/MLAG-sub002/internal/timers"
	"github.com/open-ethernet/MLAG-sub002/internal/transport"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

// Stop-done bits, one per collaborator the stop barrier (spec.md §4.7)
// waits on.
const (
	StopBitHealth uint32 = 1 << iota
	StopBitIGMP
	StopBitMACSync
	StopBitManager
)

const allStopBits = StopBitHealth | StopBitIGMP | StopBitMACSync | StopBitManager

// HAL is the out-of-scope hardware/forwarding driver collaborator
// (spec.md §1/§6): the core only calls these, named only by interface.
type HAL interface {
	SetPortAdminState(portID int, up bool) error
	SetPortRedirect(portID int, redirectIPLID int) error
	SetVLANMembership(portID, vlanID int, add bool) error
	NotifyVLANStateChange(vlanID int, up bool) // marked temporary/next-release-obsolete in spec.md §9; preserved
}

// FeatureManager is one of the out-of-scope per-feature managers
// (FDB/MAC-sync, IGMP tunneling, LACP selection, L3-interface sync):
// the core only calls start/stop/sync-done hooks (spec.md §1).
type FeatureManager interface {
	Start(peerID int) error
	Stop(peerID int) (done <-chan uint32)
}

// Config is the manager's construction-time configuration, derived from
// internal/config.Config.
type Config struct {
	LocalIP       netip.Addr
	LocalSystemID uint64
	ReloadDelay   time.Duration
	Reconnect     time.Duration
	TCPPort       int
	IGMPEnabled   bool
	LACPEnabled   bool
}

// Core is the MLAG manager's full owned state (spec.md Design Notes:
// "module-local statics collapse into fields on that value").
type Core struct {
	cfg Config

	logger    *slog.Logger
	counters  *counters.Collector
	peers     *registry.Peers
	ipls      *registry.IPLs
	election  fsm.Election
	peerings  map[int]fsm.Peering
	transport *transport.Transport

	reloadDelayTimer  timers.OneShot
	stopBarrier       *timers.Barrier
	portDeleteBarrier *timers.Barrier

	hal      HAL
	health   FeatureManager
	igmp     FeatureManager
	macsync  FeatureManager

	portsEnabled bool

	events chan wire.SystemEvent
}

// New constructs a Core. hal/health/igmp/macsync may be nil stand-ins in
// tests; production callers supply real collaborators.
func New(cfg Config, logger *slog.Logger, reg *registry.Peers, ipls *registry.IPLs, col *counters.Collector, hal HAL) *Core {
	c := &Core{
		cfg:               cfg,
		logger:            logger,
		counters:          col,
		peers:             reg,
		ipls:              ipls,
		peerings:          make(map[int]fsm.Peering),
		stopBarrier:       timers.NewBarrier(),
		portDeleteBarrier: timers.NewBarrier(),
		hal:               hal,
		events:            make(chan wire.SystemEvent, 256),
	}
	c.peers.SetLocalIP(cfg.LocalIP)
	c.peers.SetLocalSystemID(cfg.LocalSystemID)
	return c
}

// SetFeatureManagers registers the stop-barrier collaborators.
func (c *Core) SetFeatureManagers(health, igmp, macsync FeatureManager) {
	c.health, c.igmp, c.macsync = health, igmp, macsync
}

// Post enqueues a system event for the dispatcher goroutine (spec.md
// §4.3: external collaborators post system events into C3).
func (c *Core) Post(ev wire.SystemEvent) {
	c.events <- ev
}

// Run owns the manager's goroutine group: the mlag dispatcher and (if t is
// non-nil) the inbound re-injection loop that drains t's Accept and Inbound
// channels. It returns when ctx is canceled or a goroutine fails, mirroring
// spec.md §5's four-thread scheduling model collapsed to what this package
// itself owns.
func (c *Core) Run(ctx context.Context, t *transport.Transport) error {
	c.transport = t

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.dispatchLoop(gctx)
	})

	if t != nil {
		g.Go(func() error {
			return c.inboundLoop(gctx, t)
		})
	}

	return g.Wait()
}

// dispatchLoop is the single-threaded reactor of spec.md §4.3: every
// state transition in the system runs here, strictly sequentially.
func (c *Core) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// inboundLoop re-posts decoded peer messages and transport accept
// notifications as system events, so they interleave with local events
// on the dispatcher instead of racing (spec.md §2/§5).
func (c *Core) inboundLoop(ctx context.Context, t *transport.Transport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case acc := <-t.Accept:
			idx, err := c.peers.LocalIndexOf(acc.RemoteIP)
			if err != nil {
				// Master: on accept from an unknown peer ip, close the new
				// handle (spec.md §4.4). The listener's acceptLoop keeps
				// running on its own goroutine regardless, so there is
				// nothing further to schedule here: a legitimate peer's
				// next connect attempt is accepted the normal way. The
				// RECONNECT system event (spec.md §4.4's reconnect timer)
				// only ever drives a fresh connect from the Slave role
				// ("Master role never initiates"), which this accept path
				// is not.
				c.logger.Warn("transport: accept from unknown peer, closing",
					slog.String("remote_ip", acc.RemoteIP.String()))
				acc.Conn.Close()
				continue
			}
			t.RegisterConn(ctx, idx, acc.Conn)
			c.Post(wire.SystemEvent{Kind: wire.EventPeerConnected, PeerID: idx})

		case in := <-t.Inbound:
			if in.Err != nil {
				c.Post(wire.SystemEvent{Kind: wire.EventPeerDown, PeerID: in.PeerID})
				continue
			}
			c.Post(wire.SystemEvent{Kind: wire.EventSyncArrived, PeerID: in.PeerID, FromPeer: true, PeerMessage: in.Message})
		}
	}
}

// Election returns a copy of the current election FSM state, usable by
// any goroutine (spec.md §5: "reads from other threads go through
// snapshot getters").
func (c *Core) Election() fsm.Election {
	return c.election
}

// logErr is a small helper so handlers can log taxonomy-tagged errors
// uniformly.
func (c *Core) logErr(op string, err error) {
	if err == nil {
		return
	}
	var me *mlagerr.Error
	if e, ok := err.(*mlagerr.Error); ok {
		me = e
	}
	if me != nil {
		c.logger.Warn("manager: operation failed", slog.String("op", op), slog.String("code", me.Code.String()), slog.Any("error", err))
		return
	}
	c.logger.Warn("manager: operation failed", slog.String("op", op), slog.Any("error", err))
}
