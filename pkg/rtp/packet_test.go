package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		marker  bool
		pt      uint8
		csrc    []uint32
		payload []byte
	}{
		{"empty payload", false, 0, nil, nil},
		{"marker set", true, 96, nil, []byte{1, 2, 3}},
		{"max payload type", false, 127, nil, []byte("hello world")},
		{"with csrc", true, 8, []uint32{1, 2, 3}, []byte{0xde, 0xad, 0xbe, 0xef}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pkt := &Packet{
				Marker:         tc.marker,
				PayloadType:    tc.pt,
				SequenceNumber: 42,
				Timestamp:      12345,
				SSRC:           0xcafebabe,
				CSRC:           tc.csrc,
				Payload:        tc.payload,
			}

			buf, err := pkt.Serialize()
			require.NoError(t, err)

			got, err := Parse(buf)
			require.NoError(t, err)

			require.Equal(t, pkt.Marker, got.Marker)
			require.Equal(t, pkt.PayloadType, got.PayloadType)
			require.Equal(t, pkt.SequenceNumber, got.SequenceNumber)
			require.Equal(t, pkt.Timestamp, got.Timestamp)
			require.Equal(t, pkt.SSRC, got.SSRC)
			require.Equal(t, len(tc.payload), len(got.Payload))
		})
	}
}

func TestParseRejectsShortBuffer(t *testing.T) {
	_, err := Parse(make([]byte, 11))
	require.Error(t, err)
}

func TestSerializeHeaderLayout(t *testing.T) {
	pkt := &Packet{
		Marker:         true,
		PayloadType:    96,
		SequenceNumber: 0x1234,
		Timestamp:      0x89abcdef,
		SSRC:           0x11223344,
		Payload:        []byte{0xaa},
	}
	buf, err := pkt.Serialize()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(buf), 13)

	require.Equal(t, byte(0x80), buf[0]&0xC0, "version bits")
	require.Equal(t, byte(0x80|96), buf[1], "marker+payload type byte")
	require.Equal(t, uint16(0x1234), uint16(buf[2])<<8|uint16(buf[3]))
}
