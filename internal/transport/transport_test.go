package transport_test

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/open-ethernet/MLAG-sub002/internal/counters"
	"github.com/open-ethernet/MLAG-sub002/internal/transport"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// findFreeTCPPort picks an ephemeral port by binding then releasing it;
// there is a small re-bind race under parallel tests, acceptable here.
func findFreeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// TestMasterSlaveHandshakeAndRoundTrip covers spec scenario S1's transport
// half: Slave connects to Master, and a PEER_START sent by Master arrives
// intact at Slave.
func TestMasterSlaveHandshakeAndRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := findFreeTCPPort(t)
	localhost := netip.MustParseAddr("127.0.0.1")

	masterCounters := &counters.Transport{}
	master := transport.New(transport.RoleMaster, port, 0, masterCounters, discardLogger())
	if err := master.StartMaster(ctx, localhost); err != nil {
		t.Fatalf("StartMaster: %v", err)
	}

	slaveCounters := &counters.Transport{}
	slave := transport.New(transport.RoleSlave, port, 50*time.Millisecond, slaveCounters, discardLogger())
	go slave.ConnectSlave(ctx, localhost, func() {})

	var masterAccepted, slaveAccepted transport.Accepted
	select {
	case masterAccepted = <-master.Accept:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for master accept")
	}
	select {
	case slaveAccepted = <-slave.Accept:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for slave connect notification")
	}

	master.RegisterConn(ctx, 1, masterAccepted.Conn)
	slave.RegisterConn(ctx, 1, slaveAccepted.Conn)

	msg := wire.PeerMessage{Op: wire.OpcodePeerStart, PeerStart: wire.PeerStart{MlagID: 1, HealthState: 1}}
	if err := master.Send(1, msg, func(wire.PeerMessage) {}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case in := <-slave.Inbound:
		if in.Err != nil {
			t.Fatalf("slave inbound error: %v", in.Err)
		}
		if in.Message.PeerStart != msg.PeerStart {
			t.Fatalf("got %+v, want %+v", in.Message.PeerStart, msg.PeerStart)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}

	master.Stop()
	slave.Stop()
}

// TestReconnectStorm covers scenario S5: while the master is not yet up,
// each failed connect re-arms the reconnect timer (counted in Reconnects)
// and the timer callback retries; once the master listens, a retry
// connects and both sides receive an Accept. goleak in TestMain checks
// that no goroutine outlives the test.
func TestReconnectStorm(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := findFreeTCPPort(t)
	localhost := netip.MustParseAddr("127.0.0.1")

	slaveCounters := &counters.Transport{}
	slave := transport.New(transport.RoleSlave, port, 20*time.Millisecond, slaveCounters, discardLogger())

	attempts := make(chan struct{}, 16)
	var fire func()
	fire = func() {
		attempts <- struct{}{}
		go slave.ConnectSlave(ctx, localhost, fire)
	}
	go slave.ConnectSlave(ctx, localhost, fire)

	// Let a few reconnect attempts fail before the master comes up.
	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for reconnect attempts")
		}
	}

	masterCounters := &counters.Transport{}
	master := transport.New(transport.RoleMaster, port, 0, masterCounters, discardLogger())
	if err := master.StartMaster(ctx, localhost); err != nil {
		t.Fatalf("StartMaster: %v", err)
	}

	select {
	case accepted := <-master.Accept:
		master.RegisterConn(ctx, 1, accepted.Conn)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for eventual accept")
	}

	select {
	case accepted := <-slave.Accept:
		slave.RegisterConn(ctx, 1, accepted.Conn)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for slave connect success")
	}

	if slaveCounters.Reconnects.Load() == 0 {
		t.Fatal("expected at least one recorded reconnect attempt")
	}

	master.Stop()
	slave.Stop()
}
