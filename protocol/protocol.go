// Package protocol implements the binary frame protocol used by the tcp network.
//
// TCP is a byte stream, so every message is prefixed with a fixed-size 14-byte
// header followed by a variable-length body. The receiver reads the header
// first to learn the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │fl│mt│   seq   │ bodyLen │    body ...    │
//	│ mrp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// Data frames carry one encoded envelope. FlagBinary marks a compressed body,
// the equivalent of a binary websocket message. Ping and pong frames have no
// body; a pong echoes the seq of the ping it answers.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "mrp". Used to reject non-protocol connections early
// (e.g., HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (flags) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame so a corrupt header cannot make the
	// reader allocate arbitrary memory.
	MaxBodyLen uint32 = 64 << 20
)

// Flag bits.
const (
	FlagBinary byte = 0x01 // body is compressed
	knownFlags      = FlagBinary
)

// MsgType distinguishes data frames from keepalive frames.
type MsgType byte

const (
	MsgTypeData MsgType = 0 // Envelope carrying requests or responses
	MsgTypePing MsgType = 1 // KeepAlive probe (no body)
	MsgTypePong MsgType = 2 // KeepAlive answer (no body)
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	Flags   byte
	MsgType MsgType
	Seq     uint32 // ping sequence, echoed by pong; zero for data frames
	BodyLen uint32
}

// Binary reports whether the body is compressed.
func (h *Header) Binary() bool {
	return h.Flags&FlagBinary != 0
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.Flags
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	// One write per frame keeps the frame atomic on the socket.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, flags, message type and length.
// Uses io.ReadFull to guarantee exactly N bytes are read, preventing partial reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}

	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	if headerBuf[4]&^knownFlags != 0 {
		return nil, nil, fmt.Errorf("unsupported flags: %#x", headerBuf[4])
	}

	msgType := headerBuf[5]
	if msgType != byte(MsgTypeData) && msgType != byte(MsgTypePing) && msgType != byte(MsgTypePong) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		Flags:   headerBuf[4],
		MsgType: MsgType(msgType),
		Seq:     seq,
		BodyLen: bodyLen,
	}, body, nil
}
