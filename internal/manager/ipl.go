package manager

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/open-ethernet/MLAG-sub002/internal/registry"
	"github.com/open-ethernet/MLAG-sub002/internal/timers"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

// CreateIPL posts ipl_set(CREATE) (spec.md §4.2). It does not wait for the
// dispatcher to process it; the assigned id is an internal registry detail
// the caller can read back later via a snapshot.
func (c *Core) CreateIPL(portID int, local, peer netip.Addr, vlanID int) {
	c.Post(wire.SystemEvent{
		Kind: wire.EventIPLCreate, IPLPortID: portID, IPLLocalIP: local, IPLPeerIP: peer, IPLVLANID: vlanID,
	})
}

// SetIPLState posts the IPL link-state transition that drives
// HAL.NotifyVLANStateChange.
func (c *Core) SetIPLState(id int, up bool) {
	c.Post(wire.SystemEvent{Kind: wire.EventIPLSetState, IPLID: id, IPLUp: up})
}

// DeleteIPL posts ipl_set(DELETE) and bounds the wait for the HAL's
// port-delete-done acknowledgment the same way Stop bounds the stop
// barrier (spec.md §4.7/§4.8's two named condition-variable use cases).
// It returns whether the acknowledgment arrived before the timeout; the
// registry entry is removed either way.
func (c *Core) DeleteIPL(ctx context.Context, id int) bool {
	bit := uint32(1) << uint(id)
	c.portDeleteBarrier.Reset()
	c.Post(wire.SystemEvent{Kind: wire.EventIPLDelete, IPLID: id, PortDeleteBit: bit})

	waitCtx, cancel := context.WithTimeout(ctx, timers.StopBarrierTimeout)
	defer cancel()

	_, complete := c.portDeleteBarrier.Wait(waitCtx, bit)
	if !complete && c.counters != nil {
		c.counters.Manager.PortDeleteTimeouts.Add(1)
	}
	return complete
}

// handleIPLCreate implements spec.md §4.2's ipl_set(CREATE): allocate the
// lowest free IPL id and bind its port/addrs/VLAN. This is the same
// sequence cmd/mlagd used to run once at startup before the dispatcher
// existed; it now runs as a normal posted event so an IPL can be
// provisioned at any point in the process lifetime, not only before Run.
func (c *Core) handleIPLCreate(ev wire.SystemEvent) {
	id, err := c.ipls.Create()
	if err != nil {
		c.logErr("ipl_create", err)
		return
	}
	if err := c.ipls.SetPort(id, ev.IPLPortID); err != nil {
		c.logErr("ipl_create.set_port", err)
	}
	if err := c.ipls.SetAddrs(id, ev.IPLLocalIP, ev.IPLPeerIP); err != nil {
		c.logErr("ipl_create.set_addrs", err)
	}
	if err := c.ipls.SetVLAN(id, ev.IPLVLANID); err != nil {
		c.logErr("ipl_create.set_vlan", err)
	}
	c.logger.Info("manager: ipl created",
		slog.Int("ipl_id", id), slog.Int("port_id", ev.IPLPortID), slog.Int("vlan_id", ev.IPLVLANID))
}

// handleIPLSetState implements the IPL link-state transition. spec.md §9
// ties VLAN state-change notification to IPL up/down, so this is also
// where HAL.NotifyVLANStateChange gets called: an IPL going down changes
// which VLANs are still reachable over the redirect path, and the
// forwarding driver needs to hear about it directly rather than infer it
// from port admin state.
func (c *Core) handleIPLSetState(ev wire.SystemEvent) {
	state := registry.IPLDown
	if ev.IPLUp {
		state = registry.IPLUp
	}
	if err := c.ipls.SetState(ev.IPLID, state); err != nil {
		c.logErr("ipl_set_state", err)
		return
	}
	rec, err := c.ipls.Get(ev.IPLID)
	if err != nil {
		c.logErr("ipl_set_state.get", err)
		return
	}
	if c.hal != nil {
		c.hal.NotifyVLANStateChange(rec.VLANID, ev.IPLUp)
	}
	c.logger.Info("manager: ipl state changed",
		slog.Int("ipl_id", ev.IPLID), slog.String("state", state.String()), slog.Int("vlan_id", rec.VLANID))
}

// handleIPLDelete implements spec.md §4.2's ipl_set(DELETE). The registry
// entry is cleared immediately on the dispatcher goroutine — the single
// owner of the IPL table — while the HAL's actual port teardown runs on
// its own goroutine and reports back via EventPortDeleteDone, the same
// fan-out/signal shape handleStop uses for the stop barrier. DeleteIPL is
// the bounded-wait caller that actually blocks on the port-delete-done bit.
func (c *Core) handleIPLDelete(ev wire.SystemEvent) {
	rec, err := c.ipls.Get(ev.IPLID)
	if err != nil {
		c.logErr("ipl_delete.get", err)
		c.Post(wire.SystemEvent{Kind: wire.EventPortDeleteDone, PortDeleteBit: ev.PortDeleteBit})
		return
	}
	if err := c.ipls.Delete(ev.IPLID); err != nil {
		c.logErr("ipl_delete", err)
		c.Post(wire.SystemEvent{Kind: wire.EventPortDeleteDone, PortDeleteBit: ev.PortDeleteBit})
		return
	}

	if c.hal == nil || !rec.PortValid {
		c.Post(wire.SystemEvent{Kind: wire.EventPortDeleteDone, PortDeleteBit: ev.PortDeleteBit})
		return
	}

	bit, portID := ev.PortDeleteBit, rec.PortID
	go func() {
		if err := c.hal.SetPortRedirect(portID, -1); err != nil {
			c.logErr("ipl_delete.clear_redirect", err)
		}
		c.Post(wire.SystemEvent{Kind: wire.EventPortDeleteDone, PortDeleteBit: bit})
	}()
}
