// Package sdp builds the session description returned by DESCRIBE. Lines are
// emitted in the fixed order the RTSP server's clients expect: session-level
// v/o/s/i/c/t/a lines, then one m=video block and optionally one m=audio
// block.
package sdp

import (
	"encoding/base64"
	"fmt"

	psdp "github.com/pion/sdp/v3"
)

// VideoParams describes the H.264 video media block.
type VideoParams struct {
	PayloadType      uint8
	ProfileLevelID   string // hex, e.g. "42e01f"
	SpropParameterSets string // "sps_b64,pps_b64", empty if unknown
	TrackID          int
}

// AudioCodec names the audio payload formats this generator can describe.
type AudioCodec string

const (
	AudioPCMU AudioCodec = "PCMU"
	AudioPCMA AudioCodec = "PCMA"
	AudioAAC  AudioCodec = "AAC"
)

// AudioParams describes the optional audio media block.
type AudioParams struct {
	Codec       AudioCodec
	PayloadType uint8
	ClockRate   uint32
	Channels    int
	// FMTPConfig carries the mpeg4-generic fmtp configuration string for
	// AAC; unused for PCMU/PCMA.
	FMTPConfig string
	TrackID    int
}

// Params is everything the generator needs to build one stream's SDP.
type Params struct {
	SessionID   uint64
	SessionVer  uint64
	ServerName  string
	StreamName  string
	Host        string // IP address, no port
	Video       *VideoParams
	Audio       *AudioParams
}

// Generate builds the CRLF-terminated SDP body for one stream.
func Generate(p Params) ([]byte, error) {
	if p.Video == nil {
		return nil, fmt.Errorf("sdp: video params required")
	}

	sd := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: p.SessionVer,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.Host,
		},
		SessionName: psdp.SessionName(p.StreamName),
		SessionInformation: informationPtr(fmt.Sprintf("%s Stream", p.ServerName)),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: p.Host},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []psdp.Attribute{
			psdp.NewAttribute("tool", "rtsp-cam-server"),
			psdp.NewAttribute("type", "broadcast"),
			psdp.NewAttribute("control", "*"),
			psdp.NewAttribute("range", "npt=0-"),
		},
	}

	sd.MediaDescriptions = append(sd.MediaDescriptions, videoMediaDescription(*p.Video))

	if p.Audio != nil {
		sd.MediaDescriptions = append(sd.MediaDescriptions, audioMediaDescription(*p.Audio))
	}

	return sd.Marshal()
}

func informationPtr(s string) *psdp.Information {
	i := psdp.Information(s)
	return &i
}

func videoMediaDescription(v VideoParams) *psdp.MediaDescription {
	fmtp := fmt.Sprintf("packetization-mode=1;profile-level-id=%s", v.ProfileLevelID)
	if v.SpropParameterSets != "" {
		fmtp += fmt.Sprintf(";sprop-parameter-sets=%s", v.SpropParameterSets)
	}

	return &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   "video",
			Port:    psdp.RangedPort{Value: 0},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{fmt.Sprintf("%d", v.PayloadType)},
		},
		Bandwidth: []psdp.Bandwidth{
			{Type: "AS", Bandwidth: 2000},
		},
		Attributes: []psdp.Attribute{
			psdp.NewAttribute("rtpmap", fmt.Sprintf("%d H264/90000", v.PayloadType)),
			psdp.NewAttribute("fmtp", fmt.Sprintf("%d %s", v.PayloadType, fmtp)),
			psdp.NewAttribute("control", fmt.Sprintf("trackID=%d", v.TrackID)),
		},
	}
}

func audioMediaDescription(a AudioParams) *psdp.MediaDescription {
	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   "audio",
			Port:    psdp.RangedPort{Value: 0},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{fmt.Sprintf("%d", a.PayloadType)},
		},
	}

	switch a.Codec {
	case AudioAAC:
		md.Attributes = []psdp.Attribute{
			psdp.NewAttribute("rtpmap", fmt.Sprintf("%d mpeg4-generic/%d/%d", a.PayloadType, a.ClockRate, a.Channels)),
			psdp.NewAttribute("fmtp", fmt.Sprintf("%d %s", a.PayloadType, a.FMTPConfig)),
			psdp.NewAttribute("control", fmt.Sprintf("trackID=%d", a.TrackID)),
		}
	default: // PCMU / PCMA
		md.Attributes = []psdp.Attribute{
			psdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/%d/%d", a.PayloadType, a.Codec, a.ClockRate, a.Channels)),
			psdp.NewAttribute("control", fmt.Sprintf("trackID=%d", a.TrackID)),
		}
	}

	return md
}

// SpropParameterSets builds the "<sps_b64>,<pps_b64>" value of the
// sprop-parameter-sets fmtp parameter from raw SPS/PPS bytes with their start
// codes already stripped. It returns "" if either is empty.
func SpropParameterSets(sps, pps []byte) string {
	if len(sps) == 0 || len(pps) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(sps) + "," + base64.StdEncoding.EncodeToString(pps)
}
