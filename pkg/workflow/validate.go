package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("invalid input")

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidInput, field, fmt.Sprintf(format, args...))
}

// text trims v and checks its rune length against [min, max].
func text(field, v string, minLen, maxLen int) (string, error) {
	v = strings.TrimSpace(v)

	n := utf8.RuneCountInString(v)
	if n < minLen || n > maxLen {
		return "", invalid(field, "must be %d to %d characters", minLen, maxLen)
	}

	return v, nil
}

// optionalText validates a field that may be absent. A present value is
// trimmed and must still satisfy [min, max].
func optionalText(field string, v *string, minLen, maxLen int) (*string, error) {
	if v == nil {
		return nil, nil
	}

	out, err := text(field, *v, minLen, maxLen)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// blankable validates a form field where the empty string means unset.
func blankable(field, v string, maxLen int) (*string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}

	if utf8.RuneCountInString(v) > maxLen {
		return nil, invalid(field, "must be at most %d characters", maxLen)
	}

	return &v, nil
}

func intRange(field string, v, minV, maxV int) (int, error) {
	if v < minV || v > maxV {
		return 0, invalid(field, "must be between %d and %d", minV, maxV)
	}

	return v, nil
}

func oneOf(field, v string, allowed ...string) (string, error) {
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}

	return "", invalid(field, "must be one of %s", strings.Join(allowed, ", "))
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseDateTimeLocal parses an HTML datetime-local value in loc. It
// returns nil for blank or unparseable input.
func ParseDateTimeLocal(v string, loc *time.Location) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			t = t.UTC()

			return &t
		}
	}

	return nil
}

// SplitIDs splits a comma separated id list, dropping blanks.
func SplitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}

	return ids
}

// prefix returns at most n leading bytes of an ASCII id.
func prefix(id string, n int) string {
	if len(id) <= n {
		return id
	}

	return id[:n]
}
