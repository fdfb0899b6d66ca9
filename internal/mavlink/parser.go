package mavlink

import "encoding/binary"

// maxBuffered bounds the bytes a Parser retains between calls. Anything beyond
// one maximal frame plus a full datagram is stale garbage.
const maxBuffered = 4 * MaxFrameLen

type frameStatus int

const (
	frameOK frameStatus = iota
	frameNeedMore
	frameCorrupt
	frameUnknown
)

type scanResult struct {
	status  frameStatus
	length  int
	msgID   uint32
	payload []byte
}

// scanFrame inspects the frame starting at b[0], which must be a start byte.
// The returned payload is zero-extended to the message's full length.
func scanFrame(b []byte) scanResult {
	if len(b) < 2 {
		return scanResult{status: frameNeedMore}
	}
	payloadLen := int(b[1])
	var hdr, total int
	var msgID uint32
	switch b[0] {
	case StartV1:
		hdr = headerLenV1
		total = hdr + payloadLen + checksumLen
		if len(b) < hdr {
			return scanResult{status: frameNeedMore}
		}
		msgID = uint32(b[5])
	case StartV2:
		hdr = headerLenV2
		if len(b) < hdr {
			return scanResult{status: frameNeedMore}
		}
		incompat := b[2]
		if incompat&^incompatSigned != 0 {
			return scanResult{status: frameCorrupt}
		}
		total = hdr + payloadLen + checksumLen
		if incompat&incompatSigned != 0 {
			total += signatureLen
		}
		msgID = uint32(b[7]) | uint32(b[8])<<8 | uint32(b[9])<<16
	default:
		return scanResult{status: frameCorrupt}
	}
	if len(b) < total {
		return scanResult{status: frameNeedMore}
	}

	info, known := messageTable[msgID]
	if !known {
		return scanResult{status: frameUnknown, length: total, msgID: msgID}
	}
	if payloadLen > info.length {
		return scanResult{status: frameCorrupt}
	}
	want := binary.LittleEndian.Uint16(b[hdr+payloadLen:])
	if frameChecksum(b[1:hdr+payloadLen], info.crcExtra) != want {
		return scanResult{status: frameCorrupt}
	}

	payload := make([]byte, info.length)
	copy(payload, b[hdr:hdr+payloadLen])
	return scanResult{status: frameOK, length: total, msgID: msgID, payload: payload}
}

// ParserStats counts what a Parser has seen since it was created.
type ParserStats struct {
	Frames        uint64 `json:"frames"`
	Decoded       uint64 `json:"decoded"`
	CorruptFrames uint64 `json:"corrupt_frames"`
	UnknownFrames uint64 `json:"unknown_frames"`
	SkippedBytes  uint64 `json:"skipped_bytes"`
}

// Parser is a streaming frame decoder. Bytes may arrive in arbitrary chunks:
// an incomplete trailing frame is held until the next call. A corrupt frame
// costs only its start byte; scanning resumes at the next preamble. A Parser
// is not safe for concurrent use.
type Parser struct {
	buf   []byte
	stats ParserStats
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{buf: make([]byte, 0, 2*MaxFrameLen)}
}

// Decode consumes data and returns every packet completed by it, in stream
// order. Valid frames of messages the ground station does not consume are
// counted and dropped.
func (p *Parser) Decode(data []byte) []Packet {
	p.buf = append(p.buf, data...)
	var out []Packet
	start := 0
	for start < len(p.buf) {
		rest := p.buf[start:]
		i := indexStart(rest)
		if i < 0 {
			p.stats.SkippedBytes += uint64(len(rest))
			start = len(p.buf)
			break
		}
		if i > 0 {
			p.stats.SkippedBytes += uint64(i)
			start += i
			rest = rest[i:]
		}

		res := scanFrame(rest)
		if res.status == frameNeedMore {
			break
		}
		switch res.status {
		case frameCorrupt:
			p.stats.CorruptFrames++
			p.stats.SkippedBytes++
			start++
		case frameUnknown:
			// A stray start byte inside payload data looks like an unknown
			// frame too, so only the start byte is consumed.
			p.stats.UnknownFrames++
			p.stats.SkippedBytes++
			start++
		case frameOK:
			p.stats.Frames++
			start += res.length
			if pkt := decodePacket(res.msgID, res.payload); pkt != nil {
				p.stats.Decoded++
				out = append(out, pkt)
			}
		}
	}

	n := copy(p.buf, p.buf[start:])
	p.buf = p.buf[:n]
	if len(p.buf) > maxBuffered {
		drop := len(p.buf) - maxBuffered
		p.stats.SkippedBytes += uint64(drop)
		n = copy(p.buf, p.buf[drop:])
		p.buf = p.buf[:n]
	}
	return out
}

// Stats returns a copy of the parser counters.
func (p *Parser) Stats() ParserStats {
	return p.stats
}

// Buffered reports how many bytes are held waiting for the rest of a frame.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Reset discards buffered bytes. Counters are kept.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
}

func indexStart(b []byte) int {
	for i, c := range b {
		if c == StartV1 || c == StartV2 {
			return i
		}
	}
	return -1
}
