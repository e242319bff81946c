package media

import (
	"bytes"
	"fmt"
)

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// Video describes a validated video.
type Video struct {
	Kind Kind
	Mime string
}

// DetectVideo recognises MP4 by its ftyp box and WebM by the EBML header.
func DetectVideo(buf []byte) Kind {
	if len(buf) < 16 {
		return KindUnknown
	}

	switch {
	case string(buf[4:8]) == "ftyp":
		return KindMP4
	case bytes.HasPrefix(buf, ebmlMagic):
		return KindWebM
	default:
		return KindUnknown
	}
}

// ValidateVideo checks a video payload against its declared MIME type and
// byte limit.
func ValidateVideo(mime string, buf []byte, maxBytes int64) (*Video, error) {
	declared, ok := mimeKinds[mime]
	if !ok || (declared != KindMP4 && declared != KindWebM) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mime)
	}

	if len(buf) == 0 || int64(len(buf)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(buf))
	}

	kind := DetectVideo(buf)
	if kind == KindUnknown {
		return nil, fmt.Errorf("%w: unrecognised video header", ErrInvalidMedia)
	}

	if kind != declared {
		return nil, fmt.Errorf("%w: declared %s, found %s", ErrMimeMismatch, mime, kind)
	}

	return &Video{Kind: kind, Mime: mime}, nil
}
