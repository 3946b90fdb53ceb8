package rtp

import (
	"math/rand"
)

// NAL unit type values (H.264 / RFC 6184).
const (
	NALUTypeUnspecified = 0
	NALUTypePFrame      = 1
	NALUTypeIFrame      = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
	NALUTypeSTAPA       = 24 // Single-Time Aggregation Packet
	NALUTypeFUA         = 28 // Fragmentation Unit A
)

const (
	h264ClockRate  = 90000
	defaultMTU     = 1400
	fuaHeaderBytes = 2 // FU indicator + FU header
)

// H264Packetizer turns Annex-B NAL units into RTP packets per RFC 6184.
// The sequence number increases by one per packet for the life of the
// packetizer; each packet carries the timestamp the caller passes for its
// access unit. SSRC, initial sequence, and initial timestamp are chosen once
// at construction and never re-randomized.
type H264Packetizer struct {
	PayloadType uint8
	SSRC        uint32
	MTU         int

	seq uint16
	ts  uint32
}

// NewH264Packetizer creates a packetizer with a random SSRC, start sequence,
// and start timestamp, as required for a fresh RTP session.
func NewH264Packetizer(payloadType uint8) *H264Packetizer {
	return &H264Packetizer{
		PayloadType: payloadType,
		SSRC:        rand.Uint32(),
		MTU:         defaultMTU,
		seq:         uint16(rand.Uint32()),
		ts:          rand.Uint32(),
	}
}

// NextSequence returns the sequence number that will be assigned to the next
// packet emitted, without consuming it.
func (h *H264Packetizer) NextSequence() uint16 {
	return h.seq
}

// NextTimestampHint returns the timestamp last used (or the random initial
// one if nothing has been sent yet) for callers that need to emit an access
// unit, such as an in-band parameter-set push, outside the normal
// PacketizeFrame(timestamp) call path.
func (h *H264Packetizer) NextTimestampHint() uint32 {
	return h.ts
}

// ClockRate is the fixed 90kHz clock used by the H.264 RTP payload format.
func (h *H264Packetizer) ClockRate() uint32 { return h264ClockRate }

// Packetize strips the NAL's Annex-B start code and emits one or more RTP
// packets carrying it. timestamp is the 90kHz RTP timestamp for the access
// unit this NAL belongs to; isLast marks the last NAL of that access unit
// (only its final fragment gets the marker bit).
func (h *H264Packetizer) Packetize(nalWithStartCode []byte, timestamp uint32, isLast bool) ([]*Packet, error) {
	nal := stripStartCode(nalWithStartCode)
	if len(nal) == 0 {
		return nil, nil
	}

	h.ts = timestamp

	mtu := h.MTU
	if mtu <= 0 {
		mtu = defaultMTU
	}
	maxSingle := mtu - 12

	if len(nal) <= maxSingle {
		pkt := &Packet{
			PayloadType:    h.PayloadType,
			SequenceNumber: h.seq,
			Timestamp:      timestamp,
			SSRC:           h.SSRC,
			Marker:         isLast,
			Payload:        nal,
		}
		h.seq++
		return []*Packet{pkt}, nil
	}

	return h.packetizeFUA(nal, timestamp, isLast, mtu), nil
}

func (h *H264Packetizer) packetizeFUA(nal []byte, timestamp uint32, isLast bool, mtu int) []*Packet {
	header := nal[0]
	nri := header & 0x60
	naluType := header & 0x1F
	body := nal[1:]

	chunkSize := mtu - 12 - fuaHeaderBytes
	if chunkSize <= 0 {
		chunkSize = 1
	}

	var packets []*Packet
	for offset := 0; offset < len(body); offset += chunkSize {
		end := offset + chunkSize
		if end > len(body) {
			end = len(body)
		}
		chunk := body[offset:end]

		start := offset == 0
		last := end == len(body)

		fuIndicator := nri | NALUTypeFUA
		fuHeader := naluType
		if start {
			fuHeader |= 0x80
		}
		if last {
			fuHeader |= 0x40
		}

		payload := make([]byte, 0, 2+len(chunk))
		payload = append(payload, fuIndicator, fuHeader)
		payload = append(payload, chunk...)

		marker := last && isLast

		packets = append(packets, &Packet{
			PayloadType:    h.PayloadType,
			SequenceNumber: h.seq,
			Timestamp:      timestamp,
			SSRC:           h.SSRC,
			Marker:         marker,
			Payload:        payload,
		})
		h.seq++
	}

	return packets
}

// PacketizeFrame splits an Annex-B byte stream into NAL units and packetizes
// each in order, marking only the final NAL of the stream as last-of-AU.
func (h *H264Packetizer) PacketizeFrame(byteStream []byte, timestamp uint32) ([]*Packet, error) {
	nalus := SplitAnnexB(byteStream)
	var out []*Packet
	for i, nalu := range nalus {
		isLast := i == len(nalus)-1
		pkts, err := h.Packetize(nalu, timestamp, isLast)
		if err != nil {
			return nil, err
		}
		out = append(out, pkts...)
	}
	return out, nil
}

// SplitAnnexB locates 3- or 4-byte start codes in an Annex-B byte stream and
// returns the NAL units between them, in order, each still prefixed with its
// original start code.
func SplitAnnexB(data []byte) [][]byte {
	starts := findStartCodes(data)
	if len(starts) == 0 {
		return nil
	}

	var nalus [][]byte
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].offset
		}
		nalus = append(nalus, data[s.offset:end])
	}
	return nalus
}

type startCode struct {
	offset int
	length int
}

func findStartCodes(data []byte) []startCode {
	var starts []startCode
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				starts = append(starts, startCode{offset: i, length: 3})
				i += 3
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				starts = append(starts, startCode{offset: i, length: 4})
				i += 4
				continue
			}
		}
		i++
	}
	return starts
}

// stripStartCode removes a leading 3- or 4-byte Annex-B start code, if any.
func stripStartCode(nal []byte) []byte {
	if len(nal) >= 4 && nal[0] == 0 && nal[1] == 0 && nal[2] == 0 && nal[3] == 1 {
		return nal[4:]
	}
	if len(nal) >= 3 && nal[0] == 0 && nal[1] == 0 && nal[2] == 1 {
		return nal[3:]
	}
	return nal
}

// NALUType extracts the 5-bit NAL unit type from a NAL payload that has
// already had its start code stripped.
func NALUType(nal []byte) uint8 {
	if len(nal) == 0 {
		return NALUTypeUnspecified
	}
	return nal[0] & 0x1F
}

// ReassembleFUA reconstructs the original NAL header byte from an FU
// indicator and FU header, as used to verify fragmentation round-trips:
// NRI bits come from the indicator, type bits from the header.
func ReassembleFUA(fuIndicator, fuHeader byte) byte {
	return (fuIndicator & 0x60) | (fuHeader & 0x1F)
}
