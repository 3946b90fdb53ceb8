package rtp

import (
	"fmt"

	"github.com/pion/rtp"
)

// Packet wraps the RFC 3550 RTP header and payload. Serialize/Parse keep the
// bit-exact wire layout (V|P|X|CC, M|PT, seq, ts, ssrc) by delegating to the
// pion RTP codec rather than hand-assembling bytes.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32
	Payload        []byte
}

// Serialize renders the packet to its 12-byte header plus payload wire form.
func (p *Packet) Serialize() ([]byte, error) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Padding:        p.Padding,
			Extension:      p.Extension,
			Marker:         p.Marker,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.SequenceNumber,
			Timestamp:      p.Timestamp,
			SSRC:           p.SSRC,
			CSRC:           p.CSRC,
		},
		Payload: p.Payload,
	}
	return pkt.Marshal()
}

// Parse inverts Serialize. It rejects buffers shorter than the fixed 12-byte
// header.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("rtp: packet too short: %d bytes", len(buf))
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("rtp: unmarshal: %w", err)
	}

	return &Packet{
		Version:        pkt.Version,
		Padding:        pkt.Padding,
		Extension:      pkt.Extension,
		Marker:         pkt.Marker,
		PayloadType:    pkt.PayloadType,
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		SSRC:           pkt.SSRC,
		CSRC:           pkt.CSRC,
		Payload:        pkt.Payload,
	}, nil
}
