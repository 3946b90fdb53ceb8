package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAudioPacketizerPCMChunking(t *testing.T) {
	p := NewAudioPacketizer(AudioCodecPCMU, 0, 8000)
	p.SamplesPerPacket = 160

	samples := make([]byte, 160*3+40) // 3 full packets + a partial one
	for i := range samples {
		samples[i] = byte(i)
	}

	pkts, err := p.PacketizePCM(samples, true)
	require.NoError(t, err)
	require.Len(t, pkts, 4)

	require.True(t, pkts[0].Marker)
	for i := 1; i < len(pkts); i++ {
		require.False(t, pkts[i].Marker)
	}

	for i := 1; i < len(pkts); i++ {
		require.Equal(t, pkts[i-1].SequenceNumber+1, pkts[i].SequenceNumber)
		require.Equal(t, pkts[i-1].Timestamp+uint32(len(pkts[i-1].Payload)), pkts[i].Timestamp)
	}

	require.Len(t, pkts[3].Payload, 40)
}

func TestAudioPacketizerAACFraming(t *testing.T) {
	p := NewAudioPacketizer(AudioCodecAAC, 97, 48000)

	frame := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	pkt, err := p.PacketizeAAC(frame, 1024)
	require.NoError(t, err)
	require.True(t, pkt.Marker)
	require.Len(t, pkt.Payload, 4+len(frame))

	require.Equal(t, byte(0), pkt.Payload[0])
	require.Equal(t, byte(16), pkt.Payload[1])

	auSizeShifted := uint16(pkt.Payload[2])<<8 | uint16(pkt.Payload[3])
	require.Equal(t, uint16(len(frame))<<3, auSizeShifted)

	require.Equal(t, frame, pkt.Payload[4:])

	next, err := p.PacketizeAAC(frame, 1024)
	require.NoError(t, err)
	require.Equal(t, pkt.Timestamp+1024, next.Timestamp)
	require.Equal(t, pkt.SequenceNumber+1, next.SequenceNumber)
}
