package mpegts

import (
	"fmt"
	"strings"
)

// Descriptor tags decoded for display.
const (
	DescriptorTagRegistration = 0x05
	DescriptorTagISO639       = 0x0A
)

var descriptorNames = map[uint8]string{
	0x02: "video_stream_descriptor",
	0x03: "audio_stream_descriptor",
	0x05: "registration_descriptor",
	0x06: "data_stream_alignment_descriptor",
	0x09: "CA_descriptor",
	0x0A: "ISO_639_language_descriptor",
	0x0E: "maximum_bitrate_descriptor",
	0x1C: "MPEG-4_audio_descriptor",
	0x28: "AVC_video_descriptor",
	0x2A: "AVC_timing_and_HRD_descriptor",
	0x2B: "AAC_descriptor",
	0x38: "HEVC_video_descriptor",
	0x48: "service_descriptor",
	0x52: "stream_identifier_descriptor",
	0x56: "teletext_descriptor",
	0x59: "subtitling_descriptor",
	0x6A: "AC-3_descriptor",
	0x7A: "enhanced_AC-3_descriptor",
	0x7C: "AAC_descriptor",
	0x81: "ATSC_AC-3_descriptor",
	0x86: "caption_service_descriptor",
	0x8A: "cue_identifier_descriptor",
}

var streamTypeNames = map[uint8]string{
	0x01: "MPEG-1 video",
	0x02: "MPEG-2 video",
	0x03: "MPEG-1 audio",
	0x04: "MPEG-2 audio",
	0x05: "private sections",
	0x06: "PES private data",
	0x0F: "AAC audio (ADTS)",
	0x11: "AAC audio (LATM)",
	0x15: "ID3 metadata",
	0x1B: "H.264 video",
	0x24: "H.265 video",
	0x81: "AC-3 audio",
	0x86: "SCTE-35",
	0x87: "E-AC-3 audio",
}

// DescriptorName returns the conventional name for a descriptor tag.
func DescriptorName(tag uint8) string {
	if n, ok := descriptorNames[tag]; ok {
		return n
	}
	return "unknown"
}

// StreamTypeName returns a human-readable name for a PMT stream_type.
func StreamTypeName(streamType uint8) string {
	if n, ok := streamTypeNames[streamType]; ok {
		return n
	}
	return "unknown"
}

// Languages decodes the ISO 639 codes of an ISO_639_language_descriptor.
// It returns nil for any other tag.
func (d Descriptor) Languages() []string {
	if d.Tag != DescriptorTagISO639 {
		return nil
	}
	var langs []string
	for b := d.Data; len(b) >= 4; b = b[4:] {
		langs = append(langs, string(b[:3]))
	}
	return langs
}

// FormatIdentifier returns the four-character format_identifier of a
// registration_descriptor.
func (d Descriptor) FormatIdentifier() (string, bool) {
	if d.Tag != DescriptorTagRegistration || len(d.Data) < 4 {
		return "", false
	}
	return string(d.Data[:4]), true
}

// String renders the descriptor as "0xTT name: detail".
func (d Descriptor) String() string {
	var detail string
	switch {
	case d.Tag == DescriptorTagISO639:
		detail = strings.Join(d.Languages(), ",")
	case d.Tag == DescriptorTagRegistration:
		detail, _ = d.FormatIdentifier()
		detail = fmt.Sprintf("%q", detail)
	default:
		detail = fmt.Sprintf("% x", d.Data)
	}
	return fmt.Sprintf("0x%02x %s: %s", d.Tag, DescriptorName(d.Tag), detail)
}
