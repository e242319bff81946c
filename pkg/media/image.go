package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ImageLimits bounds an accepted image.
type ImageLimits struct {
	MaxBytes     int64
	MaxDimension int
	MaxPixels    int
}

// DefaultImageLimits matches the configuration defaults.
var DefaultImageLimits = ImageLimits{
	MaxBytes:     2_500_000,
	MaxDimension: 4096,
	MaxPixels:    8_000_000,
}

// Image describes a validated image.
type Image struct {
	Kind   Kind
	Mime   string
	Width  int
	Height int
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

// DetectImage sniffs PNG, JPEG and WebP from the leading bytes.
func DetectImage(buf []byte) Kind {
	if len(buf) < 12 {
		return KindUnknown
	}

	switch {
	case bytes.HasPrefix(buf, pngMagic):
		return KindPNG
	case bytes.HasPrefix(buf, jpegMagic):
		return KindJPEG
	case bytes.HasPrefix(buf, riffMagic) && bytes.Equal(buf[8:12], webpMagic):
		return KindWebP
	default:
		return KindUnknown
	}
}

// ImageSize reads the pixel dimensions from the image header. ok is false
// when the header is truncated or malformed.
func ImageSize(buf []byte, kind Kind) (width, height int, ok bool) {
	switch kind {
	case KindPNG:
		width, height = pngSize(buf)
	case KindJPEG:
		width, height = jpegSize(buf)
	case KindWebP:
		width, height = webpSize(buf)
	}

	return width, height, width > 0 && height > 0
}

func pngSize(buf []byte) (int, int) {
	if len(buf) < 24 || !bytes.HasPrefix(buf, pngMagic) {
		return 0, 0
	}

	if string(buf[12:16]) != "IHDR" {
		return 0, 0
	}

	return int(binary.BigEndian.Uint32(buf[16:20])), int(binary.BigEndian.Uint32(buf[20:24]))
}

func isSOF(marker byte) bool {
	switch {
	case marker >= 0xc0 && marker <= 0xc3,
		marker >= 0xc5 && marker <= 0xc7,
		marker >= 0xc9 && marker <= 0xcb,
		marker >= 0xcd && marker <= 0xcf:
		return true
	default:
		return false
	}
}

// jpegSize walks the marker segments up to the first start-of-frame.
func jpegSize(buf []byte) (int, int) {
	if len(buf) < 4 || buf[0] != 0xff || buf[1] != 0xd8 {
		return 0, 0
	}

	for i := 2; i+9 < len(buf); {
		if buf[i] != 0xff {
			i++

			continue
		}

		marker := buf[i+1]
		if marker == 0 || marker == 0xd9 || marker == 0xda {
			return 0, 0
		}

		length := int(binary.BigEndian.Uint16(buf[i+2 : i+4]))
		if length < 2 {
			return 0, 0
		}

		if isSOF(marker) {
			height := binary.BigEndian.Uint16(buf[i+5 : i+7])
			width := binary.BigEndian.Uint16(buf[i+7 : i+9])

			return int(width), int(height)
		}

		i += 2 + length
	}

	return 0, 0
}

func webpSize(buf []byte) (int, int) {
	if len(buf) < 30 || DetectImage(buf) != KindWebP {
		return 0, 0
	}

	switch string(buf[12:16]) {
	case "VP8X":
		w := int(buf[24]) | int(buf[25])<<8 | int(buf[26])<<16
		h := int(buf[27]) | int(buf[28])<<8 | int(buf[29])<<16

		return w + 1, h + 1
	case "VP8 ":
		if buf[20] != 0x9d || buf[21] != 0x01 || buf[22] != 0x2a {
			return 0, 0
		}

		w := int(binary.LittleEndian.Uint16(buf[23:25])) & 0x3fff
		h := int(binary.LittleEndian.Uint16(buf[25:27])) & 0x3fff

		return w, h
	case "VP8L":
		if buf[20] != 0x2f {
			return 0, 0
		}

		b0, b1, b2, b3 := int(buf[21]), int(buf[22]), int(buf[23]), int(buf[24])
		w := 1 + ((b1&0x3f)<<8 | b0)
		h := 1 + ((b3&0x0f)<<10 | b2<<2 | (b1&0xc0)>>6)

		return w, h
	default:
		return 0, 0
	}
}

// ValidateImage checks an image payload against its declared MIME type
// and limits.
func ValidateImage(mime string, buf []byte, limits ImageLimits) (*Image, error) {
	declared, ok := mimeKinds[mime]
	if !ok || declared == KindMP4 || declared == KindWebM {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, mime)
	}

	if len(buf) == 0 || int64(len(buf)) > limits.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(buf))
	}

	kind := DetectImage(buf)
	if kind == KindUnknown {
		return nil, fmt.Errorf("%w: unrecognised image header", ErrInvalidMedia)
	}

	if kind != declared {
		return nil, fmt.Errorf("%w: declared %s, found %s", ErrMimeMismatch, mime, kind)
	}

	width, height, ok := ImageSize(buf, kind)
	if !ok {
		return nil, fmt.Errorf("%w: unreadable %s dimensions", ErrInvalidMedia, kind)
	}

	if width > limits.MaxDimension || height > limits.MaxDimension ||
		width*height > limits.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLargeDimensions, width, height)
	}

	return &Image{Kind: kind, Mime: mime, Width: width, Height: height}, nil
}
