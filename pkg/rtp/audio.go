package rtp

import (
	"encoding/binary"
	"math/rand"
)

// Audio codec identifiers carried opaquely by stream.Config and used to pick
// the packetizing strategy below.
const (
	AudioCodecPCMU = "PCMU"
	AudioCodecPCMA = "PCMA"
	AudioCodecAAC  = "AAC"
)

const (
	// DefaultSamplesPerPacket is 160 samples = 20ms at 8kHz, the standard
	// G.711 packetization interval.
	DefaultSamplesPerPacket = 160

	// AACSamplesPerFrame is the standard AAC frame size in samples (one
	// access unit), used to advance the RTP timestamp per frame.
	AACSamplesPerFrame = 1024
)

// AudioPacketizer frames PCM (mu-law/A-law) or AAC samples into RTP packets.
// Like H264Packetizer its SSRC/sequence/timestamp are chosen once and never
// re-randomized.
type AudioPacketizer struct {
	PayloadType      uint8
	ClockRate        uint32
	SSRC             uint32
	SamplesPerPacket int
	Codec            string

	seq              uint16
	ts               uint32
	talkspurtStarted bool
}

// NewAudioPacketizer creates an audio packetizer for the given codec and
// clock rate with a random SSRC, start sequence, and start timestamp.
func NewAudioPacketizer(codec string, payloadType uint8, clockRate uint32) *AudioPacketizer {
	return &AudioPacketizer{
		PayloadType:      payloadType,
		ClockRate:        clockRate,
		SSRC:             rand.Uint32(),
		SamplesPerPacket: DefaultSamplesPerPacket,
		Codec:            codec,
		seq:              uint16(rand.Uint32()),
		ts:               rand.Uint32(),
	}
}

// NextSequence returns the sequence number the next emitted packet will use.
func (a *AudioPacketizer) NextSequence() uint16 {
	return a.seq
}

// PacketizePCM breaks a PCMU/PCMA sample buffer into SamplesPerPacket chunks,
// one RTP packet each, with the timestamp advancing by the chunk length in
// samples. The marker bit is set only on the first packet of a talkspurt
// (the first call after a gap, signaled by startOfTalkspurt).
func (a *AudioPacketizer) PacketizePCM(samples []byte, startOfTalkspurt bool) ([]*Packet, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	chunkSize := a.SamplesPerPacket
	if chunkSize <= 0 {
		chunkSize = DefaultSamplesPerPacket
	}

	var packets []*Packet
	first := startOfTalkspurt
	for offset := 0; offset < len(samples); offset += chunkSize {
		end := offset + chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[offset:end]

		packets = append(packets, &Packet{
			PayloadType:    a.PayloadType,
			SequenceNumber: a.seq,
			Timestamp:      a.ts,
			SSRC:           a.SSRC,
			Marker:         first,
			Payload:        chunk,
		})

		a.seq++
		a.ts += uint32(len(chunk))
		first = false
	}

	return packets, nil
}

// PacketizeAAC emits one RTP packet per raw AAC frame (no ADTS header) using
// mpeg4-generic hbr framing (RFC 3640): a 2-byte AU-headers-length of 16,
// followed by a 2-byte AU-size<<3 header, followed by the frame. The marker
// bit is always set.
func (a *AudioPacketizer) PacketizeAAC(frame []byte, sampleCount uint32) (*Packet, error) {
	auHeader := make([]byte, 4)
	binary.BigEndian.PutUint16(auHeader[0:2], 16) // AU-headers-length in bits
	binary.BigEndian.PutUint16(auHeader[2:4], uint16(len(frame))<<3)

	payload := make([]byte, 0, len(auHeader)+len(frame))
	payload = append(payload, auHeader...)
	payload = append(payload, frame...)

	pkt := &Packet{
		PayloadType:    a.PayloadType,
		SequenceNumber: a.seq,
		Timestamp:      a.ts,
		SSRC:           a.SSRC,
		Marker:         true,
		Payload:        payload,
	}

	a.seq++
	if sampleCount > 0 {
		a.ts += sampleCount
	}

	return pkt, nil
}
