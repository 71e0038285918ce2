package manager_test

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-ethernet/MLAG-sub002/internal/counters"
	"github.com/open-ethernet/MLAG-sub002/internal/manager"
	"github.com/open-ethernet/MLAG-sub002/internal/registry"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

func startEvent() wire.SystemEvent {
	return wire.SystemEvent{Kind: wire.EventStart}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeHAL struct {
	enabled chan bool
}

func newFakeHAL() *fakeHAL { return &fakeHAL{enabled: make(chan bool, 16)} }

func (f *fakeHAL) SetPortAdminState(portID int, up bool) error {
	f.enabled <- up
	return nil
}
func (f *fakeHAL) SetPortRedirect(portID int, redirectIPLID int) error { return nil }
func (f *fakeHAL) SetVLANMembership(portID, vlanID int, add bool) error { return nil }
func (f *fakeHAL) NotifyVLANStateChange(vlanID int, up bool)            {}

// silentFeatureManager never reports STOP_DONE.
type silentFeatureManager struct{}

func (silentFeatureManager) Start(peerID int) error        { return nil }
func (silentFeatureManager) Stop(peerID int) <-chan uint32 { return make(chan uint32) }

func newCore(t *testing.T, reloadDelay time.Duration, hal *fakeHAL) (*manager.Core, netip.Addr) {
	t.Helper()
	localIP := netip.MustParseAddr("10.0.0.1")
	cfg := manager.Config{
		LocalIP:     localIP,
		ReloadDelay: reloadDelay,
		TCPPort:     0,
	}
	col := counters.NewCollector(prometheus.NewRegistry())
	c := manager.New(cfg, discardLogger(), registry.NewPeers(), registry.NewIPLs(), col, hal)
	return c, localIP
}

// TestStandaloneReloadDelayEnablesPorts covers scenario S4: a node with no
// configured peer enters Standalone and enables ports once its reload-delay
// timer expires, without waiting for any peer sync.
func TestStandaloneReloadDelayEnablesPorts(t *testing.T) {
	t.Parallel()

	hal := newFakeHAL()
	c, _ := newCore(t, 20*time.Millisecond, hal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx, nil)
	c.Post(startEvent())

	select {
	case up := <-hal.enabled:
		if !up {
			t.Fatal("expected ports to be enabled, got disabled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload-delay port enable")
	}

	if got := c.Election().CurrentStatus.String(); got != "Standalone" {
		t.Fatalf("expected Standalone, got %s", got)
	}
}

// TestStopReturnsWithinBarrierTimeout covers scenario S6 / property 8: Stop
// returns (successfully or not) within a bounded time even if a feature
// manager never signals completion.
func TestStopReturnsWithinBarrierTimeout(t *testing.T) {
	t.Parallel()

	hal := newFakeHAL()
	c, _ := newCore(t, time.Hour, hal)
	c.SetFeatureManagers(nil, silentFeatureManager{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx, nil)
	c.Post(startEvent())

	done := make(chan bool, 1)
	go func() {
		done <- c.Stop(context.Background())
	}()

	select {
	case complete := <-done:
		if complete {
			t.Fatal("Stop reported a complete barrier although one subsystem never replied")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not return within the barrier's bounded timeout")
	}
}
