// Package rtcp builds the RTCP packets this server transmits: Sender
// Reports, SDES/CNAME, and BYE. Receiver-report parsing is out of scope.
package rtcp

import (
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between the NTP epoch (1900) and
// the Unix epoch (1970).
const ntpEpochOffset = 2208988800

// NTPTimestamp converts a wall-clock time to the 64-bit NTP timestamp format
// used by Sender Reports: seconds since 1900 in the high 32 bits, fractional
// seconds scaled by 2^32 in the low 32 bits.
func NTPTimestamp(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs<<32 | frac
}

// SenderReport builds an RTCP Sender Report (PT=200) for one SSRC, reporting
// the wall-clock send time, the RTP timestamp matching it, and cumulative
// packet/octet counts.
func SenderReport(ssrc uint32, sentAt time.Time, rtpTimestamp uint32, packetCount, octetCount uint32) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     NTPTimestamp(sentAt),
		RTPTime:     rtpTimestamp,
		PacketCount: packetCount,
		OctetCount:  octetCount,
	}
}

// SourceDescription builds an RTCP SDES packet (PT=202) carrying a single
// CNAME item for the given SSRC.
func SourceDescription(ssrc uint32, cname string) *rtcp.SourceDescription {
	return &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{
			{
				Source: ssrc,
				Items: []rtcp.SourceDescriptionItem{
					{
						Type: rtcp.SDESCNAME,
						Text: cname,
					},
				},
			},
		},
	}
}

// Goodbye builds an RTCP BYE packet (PT=203) for the given SSRCs.
func Goodbye(ssrcs ...uint32) *rtcp.Goodbye {
	return &rtcp.Goodbye{
		Sources: ssrcs,
	}
}

// MarshalCompound serializes a set of RTCP packets as one compound packet,
// the form the server writes to the wire (SR followed by SDES is the common
// pairing; BYE is typically sent alone at teardown).
func MarshalCompound(packets ...rtcp.Packet) ([]byte, error) {
	return rtcp.Marshal(packets)
}
