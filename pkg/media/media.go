// Package media validates user-supplied images and videos by their magic
// bytes and stores them on the local filesystem or in an S3 bucket.
package media

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var (
	// ErrUnsupportedType is returned for a declared MIME type that is not
	// accepted.
	ErrUnsupportedType = errors.New("unsupported type")
	// ErrInvalidMedia is returned when the bytes are not a recognisable
	// image or video.
	ErrInvalidMedia = errors.New("invalid media")
	// ErrMimeMismatch is returned when the sniffed type disagrees with the
	// declared MIME type.
	ErrMimeMismatch = errors.New("mime mismatch")
	// ErrTooLarge is returned for empty payloads and payloads over the
	// byte limit.
	ErrTooLarge = errors.New("too large")
	// ErrTooLargeDimensions is returned for images over the dimension or
	// pixel limit.
	ErrTooLargeDimensions = errors.New("too large dimensions")
)

// Kind is a sniffed media format, named by its file extension.
type Kind string

const (
	KindUnknown Kind = ""
	KindPNG     Kind = "png"
	KindJPEG    Kind = "jpg"
	KindWebP    Kind = "webp"
	KindMP4     Kind = "mp4"
	KindWebM    Kind = "webm"
)

var mimeKinds = map[string]Kind{
	"image/png":  KindPNG,
	"image/jpeg": KindJPEG,
	"image/webp": KindWebP,
	"video/mp4":  KindMP4,
	"video/webm": KindWebM,
}

// RandomName returns 32 random hex characters followed by "." and ext.
func RandomName(ext string) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)

	return hex.EncodeToString(b) + "." + ext
}
