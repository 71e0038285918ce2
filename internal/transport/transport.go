// Package transport implements spec.md §4.4's role-aware peer transport:
// a single TCP connection between the two MLAG peers, Master listening
// and Slave connecting, with a reconnect timer and byte-order-disciplined
// framing from internal/wire. Per the Design Notes, there is no mutex
// mode: every exported method here is meant to be called only from the
// manager's single dispatcher goroutine. Background goroutines (the
// accept loop, the per-connection reader, the reconnect timer callback)
// communicate back to that goroutine exclusively through the Accept and
// Inbound channels (and the reconnect callback the caller supplies), never
// by touching Transport's fields directly.
package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/open-ethernet/MLAG-sub002/internal/counters"
	"github.com/open-ethernet/MLAG-sub002/internal/mlagerr"
	"github.com/open-ethernet/MLAG-sub002/internal/timers"
	"github.com/open-ethernet/MLAG-sub002/internal/wire"
)

// errMalformedFrame wraps a wire.Unmarshal failure on an otherwise
// correctly-framed payload: the stream stays in sync (the frame length
// already delimited the bad payload), so the connection survives and the
// next frame is read normally.
var errMalformedFrame = errors.New("transport: malformed peer message")

// errFrameTooLarge marks a frame-length prefix outside [1, MaxFrameSize]:
// the stream can no longer be trusted to resynchronize, so the connection
// is torn down the same way a read error is.
var errFrameTooLarge = errors.New("transport: frame length out of bounds, stream desynced")

// Role is this node's transport role (spec.md §4.4).
type Role int

const (
	RoleStandalone Role = iota
	RoleMaster
	RoleSlave
)

// LocalPeerID is the local peer index used for loopback sends (spec.md
// §4.4: "if this node is Master and the destination is local -> inject
// as a system event").
const LocalPeerID = 0

// Accepted is an inbound connection handed from the listener goroutine to
// the dispatcher; the dispatcher decides whether to keep it.
type Accepted struct {
	Conn     net.Conn
	RemoteIP netip.Addr
}

// Inbound is a decoded peer message re-injected onto the dispatcher,
// tagged with which peer index it came from.
type Inbound struct {
	PeerID  int
	Message wire.PeerMessage
	Err     error // set, with PeerID identifying the source, on a read error
}

// Transport is the per-node peer transport endpoint.
type Transport struct {
	role      Role
	tcpPort   int
	reconnect timers.OneShot
	reconnectInterval time.Duration
	counters  *counters.Transport
	logger    *slog.Logger

	// conns is owned exclusively by the dispatcher goroutine.
	conns map[int]net.Conn

	listener net.Listener
	isStarted bool

	// Accept and Inbound are read by the dispatcher goroutine; background
	// goroutines only ever send on them.
	Accept  chan Accepted
	Inbound chan Inbound

	wg sync.WaitGroup
}

// New constructs a Transport. reconnectInterval defaults to 500ms
// (spec.md §4.4) if zero.
func New(role Role, tcpPort int, reconnectInterval time.Duration, c *counters.Transport, logger *slog.Logger) *Transport {
	if reconnectInterval <= 0 {
		reconnectInterval = timers.DefaultReconnectInterval
	}
	return &Transport{
		role:              role,
		tcpPort:           tcpPort,
		reconnectInterval: reconnectInterval,
		counters:          c,
		logger:            logger,
		conns:             make(map[int]net.Conn),
		Accept:            make(chan Accepted, 4),
		Inbound:           make(chan Inbound, 64),
	}
}

// Role reports this transport's configured role.
func (t *Transport) Role() Role { return t.role }

// StartMaster binds the listener and begins accepting connections. Only
// meaningful when Role() == RoleMaster.
func (t *Transport) StartMaster(ctx context.Context, bindIP netip.Addr) error {
	if t.role != RoleMaster {
		return mlagerr.New(mlagerr.CodePreconditionFailed, "transport", "StartMaster called on non-Master role")
	}
	addr := net.JoinHostPort(bindIP.String(), portString(t.tcpPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return mlagerr.Wrap(mlagerr.CodeIoError, "transport", err)
	}
	t.listener = ln
	t.isStarted = true

	t.wg.Add(1)
	go t.acceptLoop(ctx, ln)
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context, ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("transport: accept error", slog.Any("error", err))
			continue
		}

		remoteIP, addrErr := remoteAddrIP(conn)
		if addrErr != nil {
			t.logger.Warn("transport: could not parse remote addr, closing", slog.Any("error", addrErr))
			conn.Close()
			continue
		}

		select {
		case t.Accept <- Accepted{Conn: conn, RemoteIP: remoteIP}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// ConnectSlave issues a connect to masterIP. Success is reported on the
// same Accept channel the Master accept loop uses, matching spec.md §4.4
// ("success is delivered via the same accept/connect notification path").
// Failure is not reported on Accept: it arms the reconnect timer, which
// posts reconnectFired when it expires; the dispatcher is expected to
// call ConnectSlave again in response.
func (t *Transport) ConnectSlave(ctx context.Context, masterIP netip.Addr, reconnectFired func()) {
	if t.role != RoleSlave {
		return
	}
	addr := net.JoinHostPort(masterIP.String(), portString(t.tcpPort))

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.logger.Debug("transport: slave connect failed, scheduling reconnect",
			slog.String("addr", addr), slog.Any("error", err))
		if t.counters != nil {
			t.counters.Reconnects.Add(1)
		}
		t.reconnect.Start(t.reconnectInterval, reconnectFired)
		return
	}

	select {
	case t.Accept <- Accepted{Conn: conn, RemoteIP: masterIP}:
	case <-ctx.Done():
		conn.Close()
	}
}

// RegisterConn adopts conn as the socket for peerID, starting its reader
// goroutine. Must be called on the dispatcher goroutine after consuming
// an Accepted value.
func (t *Transport) RegisterConn(ctx context.Context, peerID int, conn net.Conn) {
	t.conns[peerID] = conn
	t.wg.Add(1)
	go t.readLoop(ctx, peerID, conn)
}

// readLoop reads length-prefixed frames off conn and decodes each as one
// wire.PeerMessage. A bare conn.Read per iteration would assume a single
// syscall returns exactly one message, which TCP never guarantees — a
// Read can return a partial message or several coalesced ones. The
// 4-byte big-endian length prefix (wire.FrameHeaderSize) written by
// sendOnSocket makes message boundaries explicit regardless of how the
// kernel chunks the stream, and gives the jumbo IGMP_MESSAGE path
// (spec.md §6) somewhere to carry its declared size.
func (t *Transport) readLoop(ctx context.Context, peerID int, conn net.Conn) {
	defer t.wg.Done()
	r := bufio.NewReaderSize(conn, wire.MaxPayloadSize)

	for {
		msg, err := t.readFrame(r)
		if err != nil {
			if errors.Is(err, errMalformedFrame) {
				t.logger.Warn("transport: malformed peer message, dropping", slog.Any("error", err))
				if t.counters != nil {
					t.counters.RxErrors.Add(1)
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			default:
			}

			readErr := classifyReadError(err)
			if errors.Is(err, errFrameTooLarge) {
				readErr = mlagerr.New(mlagerr.CodeIoError, "transport", err.Error())
			}
			t.sendInbound(ctx, Inbound{PeerID: peerID, Err: readErr})
			return
		}

		if t.counters != nil {
			t.counters.RxMessages.Add(1)
		}
		t.sendInbound(ctx, Inbound{PeerID: peerID, Message: msg})
	}
}

// readFrame reads one length-prefixed frame and decodes it. Frames at or
// under wire.MaxPayloadSize borrow from wire's buffer pool; larger ones
// (a jumbo IGMP tunneled payload) get an ad hoc allocation sized exactly
// to the declared length.
func (t *Transport) readFrame(r *bufio.Reader) (wire.PeerMessage, error) {
	var hdr [wire.FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return wire.PeerMessage{}, err
	}

	frameLen := binary.BigEndian.Uint32(hdr[:])
	if frameLen == 0 || frameLen > wire.MaxFrameSize {
		return wire.PeerMessage{}, errFrameTooLarge
	}

	var pooled *[]byte
	var payload []byte
	if frameLen <= wire.MaxPayloadSize {
		pooled = wire.GetBuffer()
		payload = (*pooled)[:frameLen]
	} else {
		payload = make([]byte, frameLen)
	}

	_, err := io.ReadFull(r, payload)
	if pooled != nil {
		defer wire.PutBuffer(pooled)
	}
	if err != nil {
		return wire.PeerMessage{}, err
	}

	msg, err := wire.Unmarshal(payload)
	if err != nil {
		return wire.PeerMessage{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return msg, nil
}

func (t *Transport) sendInbound(ctx context.Context, in Inbound) {
	select {
	case t.Inbound <- in:
	case <-ctx.Done():
	}
}

// classifyReadError maps a socket read error to the §7 taxonomy: io.EOF
// becomes an IoError "connection reset", a net.Error timeout becomes
// Timeout, and anything else is wrapped as IoError. readLoop reports any
// of these on Inbound and stops reading that connection; the manager turns
// every one of them into EventPeerDown. No read error, of any class,
// triggers a reconnect on Slave: a new connect is only attempted by the
// reconnect timer after a failed ConnectSlave.
func classifyReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return mlagerr.New(mlagerr.CodeIoError, "transport", "connection reset")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return mlagerr.New(mlagerr.CodeTimeout, "transport", "read timeout")
	}
	return mlagerr.Wrap(mlagerr.CodeIoError, "transport", err)
}

// Send implements spec.md §4.4's send-path dispatch. destPeerID selects
// the target by local peer index; localInject is called for loopback
// delivery (Master sending to itself, or Standalone sending to self).
func (t *Transport) Send(destPeerID int, msg wire.PeerMessage, localInject func(wire.PeerMessage)) error {
	switch t.role {
	case RoleMaster:
		if destPeerID == LocalPeerID {
			localInject(msg)
			return nil
		}
		return t.sendOnSocket(destPeerID, msg)

	case RoleSlave:
		// Slave always emits to the Master, whose conn is registered under
		// peer index 1 in the slave's table (index 0 is the local node).
		return t.sendOnSocket(masterPeerIDFromSlave, msg)

	case RoleStandalone:
		if destPeerID == LocalPeerID {
			localInject(msg)
			return nil
		}
		return mlagerr.New(mlagerr.CodeNotFound, "transport", "standalone: no remote peer")

	default:
		return mlagerr.New(mlagerr.CodePreconditionFailed, "transport", "unknown role")
	}
}

// masterPeerIDFromSlave is the registry index a Slave uses for its single
// socket to the Master.
const masterPeerIDFromSlave = 1

func (t *Transport) sendOnSocket(peerID int, msg wire.PeerMessage) error {
	conn, ok := t.conns[peerID]
	if !ok {
		return mlagerr.New(mlagerr.CodeNotFound, "transport", "no socket for peer")
	}

	need := wire.EncodedLen(msg)
	var pooled *[]byte
	var buf []byte
	if need <= wire.MaxPayloadSize {
		pooled = wire.GetBuffer()
		buf = (*pooled)[:need]
	} else {
		buf = make([]byte, need)
	}
	if pooled != nil {
		defer wire.PutBuffer(pooled)
	}

	n, err := wire.Marshal(msg, buf)
	if err != nil {
		return mlagerr.Wrap(mlagerr.CodeInvalidArgument, "transport", err)
	}

	var hdr [wire.FrameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(n))

	if _, err := conn.Write(hdr[:]); err != nil {
		if t.counters != nil {
			t.counters.TxErrors.Add(1)
		}
		return mlagerr.Wrap(mlagerr.CodeIoError, "transport", err)
	}
	if _, err := conn.Write(buf[:n]); err != nil {
		if t.counters != nil {
			t.counters.TxErrors.Add(1)
		}
		return mlagerr.Wrap(mlagerr.CodeIoError, "transport", err)
	}
	if t.counters != nil {
		t.counters.TxMessages.Add(1)
	}
	return nil
}

// ClosePeer implements PEER_STOP(peer_id): closes only that peer's socket.
func (t *Transport) ClosePeer(peerID int) error {
	conn, ok := t.conns[peerID]
	if !ok {
		return mlagerr.New(mlagerr.CodeNotFound, "transport", "no socket for peer")
	}
	delete(t.conns, peerID)
	return conn.Close()
}

// Stop implements SERVER_STOP: closes the listener (if any) and every
// per-peer socket, and marks the transport stopped.
func (t *Transport) Stop() {
	t.reconnect.Stop()
	if t.listener != nil {
		t.listener.Close()
	}
	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
	t.isStarted = false
	t.wg.Wait()
}

// IsStarted reports whether the transport is currently active.
func (t *Transport) IsStarted() bool { return t.isStarted }

func portString(p int) string {
	return strconv.Itoa(p)
}

func remoteAddrIP(conn net.Conn) (netip.Addr, error) {
	addrPort, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return netip.Addr{}, err
	}
	return addrPort.Addr(), nil
}
