package rtsp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTCPChannelFields(t *testing.T) {
	ch := NewTCPChannel(1, MediaAudio, 2, 3)
	require.Equal(t, 1, ch.TrackID)
	require.Equal(t, MediaAudio, ch.MediaType)
	require.Equal(t, TransportTCP, ch.Transport)
	require.Equal(t, byte(2), ch.RTPChannelIndex)
	require.Equal(t, byte(3), ch.RTCPChannelIndex)
	require.NoError(t, ch.Close())
}

func TestNewUDPChannelBindsLocalPorts(t *testing.T) {
	ch, err := NewUDPChannel(0, MediaVideo, net.ParseIP("127.0.0.1"), 40000, 40001)
	require.NoError(t, err)
	defer ch.Close()

	require.NotZero(t, ch.ServerRTPPort)
	require.NotZero(t, ch.ServerRTCPPort)
	require.NotEqual(t, ch.ServerRTPPort, ch.ServerRTCPPort)
}

func TestChannelCountersAccumulate(t *testing.T) {
	ch := NewTCPChannel(0, MediaVideo, 0, 1)
	ch.recordSent(100)
	ch.recordSent(50)

	packets, bytes := ch.Counters()
	require.Equal(t, uint64(2), packets)
	require.Equal(t, uint64(150), bytes)
}

func TestChannelStartTalkspurtOnlyOnce(t *testing.T) {
	ch := NewTCPChannel(1, MediaAudio, 2, 3)
	require.True(t, ch.StartTalkspurt())
	require.False(t, ch.StartTalkspurt())
	require.False(t, ch.StartTalkspurt())
}
