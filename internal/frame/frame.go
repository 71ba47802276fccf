// Package frame implements the C4 framing codec: pure byte-level
// reassembly of the Android Auto wire frames over a growable buffer fed
// by a raw reader task (spec.md §4.4).
package frame

import (
	"encoding/binary"
	"fmt"
)

// Flag bits carried in a frame header's second byte.
const (
	FlagFirst     byte = 0x01
	FlagLast      byte = 0x02
	FlagControl   byte = 0x04
	FlagEncrypted byte = 0x08
)

const (
	minHeaderSize    = 4
	extendedHeader   = 8
	totalLengthField = 4
)

// Packet is the payload-level unit the codec publishes: a channel id, the
// flags the frame carried, and (for the first frame of a multi-frame
// message) the total reassembled length the sender announced.
type Packet struct {
	Channel       byte
	Flags         byte
	TotalLength   uint32
	HasTotalLength bool
	Payload       []byte
}

func (p Packet) IsFirst() bool     { return p.Flags&FlagFirst != 0 }
func (p Packet) IsLast() bool      { return p.Flags&FlagLast != 0 }
func (p Packet) IsEncrypted() bool { return p.Flags&FlagEncrypted != 0 }
func (p Packet) IsControl() bool   { return p.Flags&FlagControl != 0 }

// HasPrefix reports whether b starts with prefix; used by the rewriter to
// match the navigation rewrite's fixed byte fingerprint.
func HasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Decoder incrementally reassembles frames from a stream fed in
// arbitrarily sized chunks (spec.md §8, "reassembly across chunk
// boundaries"). It is not safe for concurrent use — each side's reader
// task owns exactly one Decoder, matching the "exactly one processor task
// writes to a given endpoint" invariant's read-side counterpart.
type Decoder struct {
	buf []byte
}

// NewDecoder returns a Decoder with no buffered data.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly read bytes to the internal buffer and returns every
// complete frame now decodable, draining consumed bytes from the buffer.
func (d *Decoder) Feed(chunk []byte) ([]Packet, error) {
	d.buf = append(d.buf, chunk...)

	var packets []Packet
	for {
		pkt, consumed, ok, err := decodeOne(d.buf)
		if err != nil {
			return packets, err
		}
		if !ok {
			break
		}
		packets = append(packets, pkt)
		d.buf = d.buf[consumed:]
	}
	return packets, nil
}

// decodeOne attempts to decode a single frame from the head of buf. ok is
// false when buf does not yet hold a complete frame (caller should wait
// for more bytes); consumed is only meaningful when ok is true.
func decodeOne(buf []byte) (pkt Packet, consumed int, ok bool, err error) {
	if len(buf) < minHeaderSize {
		return Packet{}, 0, false, nil
	}

	channel := buf[0]
	flags := buf[1]
	payloadLen := int(binary.BigEndian.Uint16(buf[2:4]))

	headerSize := minHeaderSize
	hasTotal := false
	var total uint32

	if flags&(FlagFirst|FlagLast) == FlagFirst {
		if len(buf) < extendedHeader {
			return Packet{}, 0, false, nil
		}
		total = binary.BigEndian.Uint32(buf[4:8])
		hasTotal = true
		headerSize = extendedHeader
	}

	frameSize := headerSize + payloadLen
	if len(buf) < frameSize {
		return Packet{}, 0, false, nil
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[headerSize:frameSize])

	if payloadLen < 0 || frameSize < 0 {
		return Packet{}, 0, false, fmt.Errorf("frame: negative length")
	}

	return Packet{
		Channel:        channel,
		Flags:          flags,
		TotalLength:    total,
		HasTotalLength: hasTotal,
		Payload:        payload,
	}, frameSize, true, nil
}

// EncodeSingle emits a single-frame (FIRST|LAST) frame for payload. The
// proxy never fragments on egress (spec.md §4.4): every packet produced
// by the rewriter already fits within the protocol's frame-size budget.
func EncodeSingle(channel byte, flags byte, payload []byte) []byte {
	flags |= FlagFirst | FlagLast
	out := make([]byte, minHeaderSize+len(payload))
	out[0] = channel
	out[1] = flags
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[4:], payload)
	return out
}

// EncodeFirst emits the first frame of a multi-frame message, announcing
// totalLength (the sum of every payload byte across the whole message).
func EncodeFirst(channel byte, flags byte, totalLength uint32, payload []byte) []byte {
	flags = (flags | FlagFirst) &^ FlagLast
	out := make([]byte, extendedHeader+len(payload))
	out[0] = channel
	out[1] = flags
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	binary.BigEndian.PutUint32(out[4:8], totalLength)
	copy(out[8:], payload)
	return out
}

// EncodeContinuation emits a non-first frame (flags without FIRST); set
// last=true for the final frame of a multi-frame message.
func EncodeContinuation(channel byte, flags byte, last bool, payload []byte) []byte {
	flags &^= FlagFirst
	if last {
		flags |= FlagLast
	} else {
		flags &^= FlagLast
	}
	out := make([]byte, minHeaderSize+len(payload))
	out[0] = channel
	out[1] = flags
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[4:], payload)
	return out
}
