package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTransportTCP(t *testing.T) {
	tr, err := ParseTransport("RTP/AVP/TCP;unicast;interleaved=0-1")
	require.NoError(t, err)
	require.Equal(t, TransportTCP, tr.Mode)
	require.Equal(t, 0, tr.InterleavedLow)
	require.Equal(t, 1, tr.InterleavedHigh)
}

func TestParseTransportUDP(t *testing.T) {
	tr, err := ParseTransport("RTP/AVP;unicast;client_port=5000-5001")
	require.NoError(t, err)
	require.Equal(t, TransportUDP, tr.Mode)
	require.Equal(t, 5000, tr.ClientPortLow)
	require.Equal(t, 5001, tr.ClientPortHigh)
}

func TestParseTransportMissingRequiredParam(t *testing.T) {
	_, err := ParseTransport("RTP/AVP;unicast")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedTransport)
	require.NotErrorIs(t, err, ErrUnsupportedTransport)

	_, err = ParseTransport("RTP/AVP/TCP;unicast")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedTransport)
	require.NotErrorIs(t, err, ErrUnsupportedTransport)
}

func TestParseTransportMissingProtocol(t *testing.T) {
	_, err := ParseTransport("unicast;client_port=5000-5001")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedTransport)
}

func TestParseTransportUnsupportedProtocolToken(t *testing.T) {
	_, err := ParseTransport("RTP/SAVP;unicast;client_port=5000-5001")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnsupportedTransport)
	require.NotErrorIs(t, err, ErrMalformedTransport)
}

func TestBuildTransportEchoTCP(t *testing.T) {
	tr := &Transport{Mode: TransportTCP, InterleavedLow: 2, InterleavedHigh: 3}
	require.Equal(t, "RTP/AVP/TCP;unicast;interleaved=2-3", BuildTransportEcho(tr))
}

func TestBuildTransportEchoUDP(t *testing.T) {
	tr := &Transport{Mode: TransportUDP, ClientPortLow: 5000, ClientPortHigh: 5001, ServerPortLow: 6000, ServerPortHigh: 6001}
	require.Equal(t, "RTP/AVP;unicast;client_port=5000-5001;server_port=6000-6001", BuildTransportEcho(tr))
}

func TestStatusPhraseKnownAndUnknown(t *testing.T) {
	require.Equal(t, "OK", StatusPhrase(StatusOK))
	require.Equal(t, "Unknown", StatusPhrase(999))
}
