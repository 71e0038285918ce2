// Package wire implements the MLAG peer-to-peer framing and the two
// opcode tables of spec.md §4.3/§4.4/§6 as strongly-typed sum types, one
// variant per opcode, rather than a runtime opcode->handler lookup table.
// The Marshal/Unmarshal functions carry the byte-order transform that
// spec.md's "registered per-opcode hook" describes; an opcode with no known
// variant decodes with its raw payload in UnknownData instead of failing
// the table lookup.
package wire

import (
	"encoding/binary"
	"errors"
	"sync"
)

// Opcode identifies a peer-wire message's wire format.
type Opcode uint16

const (
	OpcodePeerStart   Opcode = 1
	OpcodePeerEnable  Opcode = 2
	OpcodeIGMPMessage Opcode = 3
)

// Sentinel errors returned by Unmarshal.
var (
	ErrTooShort     = errors.New("wire: payload shorter than opcode's fixed layout")
	ErrTruncatedBuf = errors.New("wire: destination buffer too small for payload")
)

// MaxPayloadSize bounds a single non-jumbo payload; larger IGMP tunneled
// frames use the jumbo path (spec.md §6) and are allocated ad hoc instead
// of coming from bufPool.
const MaxPayloadSize = 2048

// FrameHeaderSize is the length, in bytes, of the big-endian frame-length
// prefix internal/transport writes ahead of every marshaled PeerMessage,
// so message boundaries on the TCP stream don't depend on how the kernel
// happens to chunk or coalesce individual Read calls.
const FrameHeaderSize = 4

// MaxFrameSize bounds a single frame's declared length. A length above
// this is treated as a corrupt header rather than a legitimate jumbo
// payload, since trusting an arbitrarily large length would let a
// malformed or hostile peer force an unbounded allocation.
const MaxFrameSize = 1 << 20

// bufPool recycles payload buffers across Marshal calls, mirroring the
// teacher's sync.Pool-backed packet buffer reuse.
var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPayloadSize)
		return &buf
	},
}

// GetBuffer returns a pooled buffer of MaxPayloadSize bytes.
func GetBuffer() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuffer returns buf to the pool.
func PutBuffer(buf *[]byte) {
	bufPool.Put(buf)
}

// PeerMessage is the peer-wire opcode sum type (spec.md §6). Exactly one
// of the typed fields is meaningful, selected by Op.
type PeerMessage struct {
	Op Opcode

	PeerStart   PeerStart
	PeerEnable  PeerEnable
	IGMP        IGMPMessage
	UnknownData []byte // populated when Op has no known variant
}

// PeerStart is PEER_START {mlag_id:32, health_state:32}.
type PeerStart struct {
	MlagID      uint32
	HealthState uint32
}

// PeerEnable is PEER_ENABLE {mlag_id:32, state:32}.
type PeerEnable struct {
	MlagID uint32
	State  uint32
}

// IGMPMessage is IGMP_MESSAGE {opcode:32, sending_peer_id:32, trap_id:32,
// source_port:32, is_mlag:32, size:64, buffer[size]}. The tunneled buffer
// bytes themselves are not byte-swapped (spec.md §6).
type IGMPMessage struct {
	InnerOpcode   uint32
	SendingPeerID uint32
	TrapID        uint32
	SourcePort    uint32
	IsMLAG        uint32
	Buffer        []byte
}

// EncodedLen returns the exact number of bytes Marshal will write for m,
// so a caller can size its write buffer (pooled or, for a jumbo IGMP
// payload, allocated ad hoc) before encoding.
func EncodedLen(m PeerMessage) int {
	switch m.Op {
	case OpcodePeerStart, OpcodePeerEnable:
		return 2 + 8
	case OpcodeIGMPMessage:
		return 2 + 4*5 + 8 + len(m.IGMP.Buffer)
	default:
		return 2 + len(m.UnknownData)
	}
}

// Marshal encodes m into buf (network byte order, 16-bit opcode prefix)
// and returns the number of bytes written.
func Marshal(m PeerMessage, buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrTruncatedBuf
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(m.Op))

	switch m.Op {
	case OpcodePeerStart:
		if len(buf) < 2+8 {
			return 0, ErrTruncatedBuf
		}
		binary.BigEndian.PutUint32(buf[2:6], m.PeerStart.MlagID)
		binary.BigEndian.PutUint32(buf[6:10], m.PeerStart.HealthState)
		return 10, nil

	case OpcodePeerEnable:
		if len(buf) < 2+8 {
			return 0, ErrTruncatedBuf
		}
		binary.BigEndian.PutUint32(buf[2:6], m.PeerEnable.MlagID)
		binary.BigEndian.PutUint32(buf[6:10], m.PeerEnable.State)
		return 10, nil

	case OpcodeIGMPMessage:
		n := len(m.IGMP.Buffer)
		need := 2 + 4*5 + 8 + n
		if len(buf) < need {
			return 0, ErrTruncatedBuf
		}
		off := 2
		binary.BigEndian.PutUint32(buf[off:off+4], m.IGMP.InnerOpcode)
		off += 4
		binary.BigEndian.PutUint32(buf[off:off+4], m.IGMP.SendingPeerID)
		off += 4
		binary.BigEndian.PutUint32(buf[off:off+4], m.IGMP.TrapID)
		off += 4
		binary.BigEndian.PutUint32(buf[off:off+4], m.IGMP.SourcePort)
		off += 4
		binary.BigEndian.PutUint32(buf[off:off+4], m.IGMP.IsMLAG)
		off += 4
		binary.BigEndian.PutUint64(buf[off:off+8], uint64(n))
		off += 8
		copy(buf[off:off+n], m.IGMP.Buffer)
		return off + n, nil

	default:
		n := copy(buf[2:], m.UnknownData)
		return 2 + n, nil
	}
}

// Unmarshal decodes buf into a PeerMessage. Opcodes with no registered
// variant decode as Op set and UnknownData holding the raw payload,
// rather than failing (spec.md §4.4: "opcodes with no registered
// transform are passed through").
func Unmarshal(buf []byte) (PeerMessage, error) {
	if len(buf) < 2 {
		return PeerMessage{}, ErrTooShort
	}
	op := Opcode(binary.BigEndian.Uint16(buf[0:2]))
	body := buf[2:]

	switch op {
	case OpcodePeerStart:
		if len(body) < 8 {
			return PeerMessage{}, ErrTooShort
		}
		return PeerMessage{Op: op, PeerStart: PeerStart{
			MlagID:      binary.BigEndian.Uint32(body[0:4]),
			HealthState: binary.BigEndian.Uint32(body[4:8]),
		}}, nil

	case OpcodePeerEnable:
		if len(body) < 8 {
			return PeerMessage{}, ErrTooShort
		}
		return PeerMessage{Op: op, PeerEnable: PeerEnable{
			MlagID: binary.BigEndian.Uint32(body[0:4]),
			State:  binary.BigEndian.Uint32(body[4:8]),
		}}, nil

	case OpcodeIGMPMessage:
		if len(body) < 4*5+8 {
			return PeerMessage{}, ErrTooShort
		}
		off := 0
		innerOp := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		sendingPeer := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		trapID := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		srcPort := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		isMLAG := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		size := binary.BigEndian.Uint64(body[off : off+8])
		off += 8
		if uint64(len(body)-off) < size {
			return PeerMessage{}, ErrTooShort
		}
		buffer := make([]byte, size)
		copy(buffer, body[off:off+int(size)])
		return PeerMessage{Op: op, IGMP: IGMPMessage{
			InnerOpcode:   innerOp,
			SendingPeerID: sendingPeer,
			TrapID:        trapID,
			SourcePort:    srcPort,
			IsMLAG:        isMLAG,
			Buffer:        buffer,
		}}, nil

	default:
		unknown := make([]byte, len(body))
		copy(unknown, body)
		return PeerMessage{Op: op, UnknownData: unknown}, nil
	}
}
