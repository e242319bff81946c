package media

import (
	"encoding/base64"
	"fmt"
	"regexp"
)

var dataURLPattern = regexp.MustCompile(
	`^data:(image/png|image/jpeg|image/webp);base64,([A-Za-z0-9+/=]+)$`,
)

// ParseDataURL decodes a base64 image data URL and returns its MIME type
// and payload.
func ParseDataURL(s string) (string, []byte, error) {
	m := dataURLPattern.FindStringSubmatch(s)
	if m == nil {
		return "", nil, fmt.Errorf("%w: not a png, jpeg or webp data url", ErrUnsupportedType)
	}

	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return "", nil, fmt.Errorf("%w: decoding base64: %v", ErrInvalidMedia, err)
	}

	return m[1], data, nil
}
