package mavlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Frame layout.
const (
	StartV1 byte = 0xFE
	StartV2 byte = 0xFD

	headerLenV1    = 6
	headerLenV2    = 10
	checksumLen    = 2
	signatureLen   = 13
	incompatSigned = 0x01

	// MaxFrameLen is the largest possible v2 frame, signature included.
	MaxFrameLen = headerLenV2 + 255 + checksumLen + signatureLen
)

var (
	// ErrBuildFailed is returned when a message cannot be framed.
	ErrBuildFailed = errors.New("mavlink: frame build failed")
	// ErrBadFrame is returned by ParseFrame for input that is not exactly one
	// valid frame.
	ErrBadFrame = errors.New("mavlink: malformed frame")
)

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithProtocolV1 makes the encoder emit v1 (0xFE) frames.
func WithProtocolV1() EncoderOption {
	return func(e *Encoder) { e.v1 = true }
}

// Encoder frames messages for one system/component pair. The sequence number
// wraps at 256 and is shared by every message the encoder produces; it is safe
// for concurrent use.
type Encoder struct {
	mu       sync.Mutex
	seq      uint8
	systemID uint8
	compID   uint8
	v1       bool
}

// NewEncoder returns an encoder that stamps frames with the given ids.
func NewEncoder(systemID, componentID uint8, opts ...EncoderOption) *Encoder {
	e := &Encoder{systemID: systemID, compID: componentID}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewGCSEncoder returns the encoder the ground station uses for all outgoing
// traffic.
func NewGCSEncoder() *Encoder {
	return NewEncoder(GCSSystemID, GCSComponentID)
}

// Encode serializes m into a complete frame.
func (e *Encoder) Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrBuildFailed)
	}
	id := m.MessageID()
	info, ok := messageTable[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message id %d", ErrBuildFailed, id)
	}
	payload := m.AppendPayload(make([]byte, 0, info.length))
	if len(payload) == 0 || len(payload) > 255 {
		return nil, fmt.Errorf("%w: payload length %d for message %d", ErrBuildFailed, len(payload), id)
	}

	e.mu.Lock()
	seq := e.seq
	e.seq++
	e.mu.Unlock()

	var frame []byte
	if e.v1 {
		if id > 0xFF {
			return nil, fmt.Errorf("%w: message %d not representable in v1", ErrBuildFailed, id)
		}
		frame = make([]byte, 0, headerLenV1+len(payload)+checksumLen)
		frame = append(frame, StartV1, byte(len(payload)), seq, e.systemID, e.compID, byte(id))
	} else {
		payload = trimTrailingZeros(payload)
		frame = make([]byte, 0, headerLenV2+len(payload)+checksumLen)
		frame = append(frame, StartV2, byte(len(payload)), 0, 0, seq, e.systemID, e.compID,
			byte(id), byte(id>>8), byte(id>>16))
	}
	frame = append(frame, payload...)
	frame = binary.LittleEndian.AppendUint16(frame, frameChecksum(frame[1:], info.crcExtra))
	if len(frame) > MaxFrameLen {
		return nil, fmt.Errorf("%w: frame length %d", ErrBuildFailed, len(frame))
	}
	return frame, nil
}

// trimTrailingZeros applies v2 payload truncation. At least one byte is kept.
func trimTrailingZeros(p []byte) []byte {
	n := len(p)
	for n > 1 && p[n-1] == 0 {
		n--
	}
	return p[:n]
}

// ParseFrame decodes exactly one complete frame carrying any message the
// ground station knows, outbound commands included. It is the inspection
// counterpart of Encode; streaming input goes through a Parser.
func ParseFrame(frame []byte) (Message, error) {
	res := scanFrame(frame)
	if res.status != frameOK || res.length != len(frame) {
		return nil, ErrBadFrame
	}
	m := decodeCommand(res.msgID, res.payload)
	if m == nil {
		m = decodePacket(res.msgID, res.payload)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: message %d not decodable", ErrBadFrame, res.msgID)
	}
	return m, nil
}
