package rtcp

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestNTPTimestampEpochOffset(t *testing.T) {
	// 1970-01-01T00:00:00Z should be exactly ntpEpochOffset seconds since 1900.
	epoch := time.Unix(0, 0).UTC()
	got := NTPTimestamp(epoch)
	require.Equal(t, uint64(ntpEpochOffset)<<32, got)
}

func TestSenderReportFields(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sr := SenderReport(0xAABBCCDD, now, 90000, 42, 5000)

	require.Equal(t, uint32(0xAABBCCDD), sr.SSRC)
	require.Equal(t, uint32(90000), sr.RTPTime)
	require.Equal(t, uint32(42), sr.PacketCount)
	require.Equal(t, uint32(5000), sr.OctetCount)
	require.Equal(t, NTPTimestamp(now), sr.NTPTime)

	buf, err := sr.Marshal()
	require.NoError(t, err)
	require.Equal(t, uint8(200), buf[1], "sender report PT must be 200")
}

func TestSourceDescriptionCNAME(t *testing.T) {
	sdes := SourceDescription(123, "stream-1")
	require.Len(t, sdes.Chunks, 1)
	require.Equal(t, uint32(123), sdes.Chunks[0].Source)
	require.Equal(t, rtcp.SDESCNAME, sdes.Chunks[0].Items[0].Type)
	require.Equal(t, "stream-1", sdes.Chunks[0].Items[0].Text)

	buf, err := sdes.Marshal()
	require.NoError(t, err)
	require.Equal(t, uint8(202), buf[1], "SDES PT must be 202")
}

func TestGoodbye(t *testing.T) {
	bye := Goodbye(1, 2, 3)
	require.Equal(t, []uint32{1, 2, 3}, bye.Sources)

	buf, err := bye.Marshal()
	require.NoError(t, err)
	require.Equal(t, uint8(203), buf[1], "BYE PT must be 203")
}

func TestMarshalCompound(t *testing.T) {
	sr := SenderReport(1, time.Now(), 0, 0, 0)
	sdes := SourceDescription(1, "cam1")

	buf, err := MarshalCompound(sr, sdes)
	require.NoError(t, err)
	require.NotEmpty(t, buf)
}
