package recording

import "io"

// Encoder writes a mono PCM16 track in a container format.
type Encoder interface {
	Encode(w io.Writer, samples []int16, rate int) error
	// Ext is the file extension without the dot.
	Ext() string
	ContentType() string
	// BitsPerSecond is the target bitrate of the encoded stream, 0 for
	// uncompressed formats.
	BitsPerSecond() int
}

// ContentTypeFor maps a recording file extension to its MIME type.
func ContentTypeFor(ext string) string {
	switch ext {
	case "ogg":
		return "audio/ogg"
	case "wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
