package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/gravewhisper/gravewhisper/pkg/media"
	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
)

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:5555", expected: "192.0.2.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.1", expected: "192.0.2.1"},
		{
			name:       "forwarded chain takes first",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.2"},
			expected:   "203.0.113.5",
		},
		{
			name:       "real ip",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "198.51.100.3"},
			expected:   "198.51.100.3",
		},
		{
			name:       "forwarded wins over real ip",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.5",
				"X-Real-IP":       "198.51.100.3",
			},
			expected: "203.0.113.5",
		},
		{
			name:       "empty forwarded entry falls through",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": " , 10.0.0.2"},
			expected:   "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr

			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.expected, extractIP(req))
		})
	}
}

func TestPreviewText(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{name: "plain", content: "It knocked twice.", expected: "It knocked twice."},
		{name: "heading and emphasis", content: "# Night\n\n**It** knocked _twice_.", expected: "Night It knocked twice ."},
		{name: "link keeps text", content: "See [the map](https://x.test/map).", expected: "See the map."},
		{name: "image dropped", content: "Before ![ghost](/uploads/a.png) after", expected: "Before after"},
		{name: "code dropped", content: "Run `rm` then ```\nsecret\n``` done", expected: "Run then done"},
		{name: "whitespace collapsed", content: "a\n\n\tb   c", expected: "a b c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, previewText(tt.content))
		})
	}

	t.Run("long text is cut", func(t *testing.T) {
		out := previewText(strings.Repeat("鬼", 300))

		assert.Equal(t, previewRunes+1, utf8.RuneCountInString(out))
		assert.True(t, strings.HasSuffix(out, "…"))
	})
}

func TestParseExclude(t *testing.T) {
	assert.Empty(t, parseExclude(""))
	assert.Equal(t, []string{"red-door", "blue room"}, parseExclude("red-door, ,blue%20room"))

	many := make([]string, 0, 60)
	for i := range 60 {
		many = append(many, fmt.Sprintf("slug-%d", i))
	}

	out := parseExclude(strings.Join(many, ","))
	assert.Len(t, out, maxRandomExclude)
	assert.Equal(t, "slug-0", out[0])
}

func TestParseTake(t *testing.T) {
	tests := []struct {
		raw      string
		expected int
	}{
		{raw: "", expected: defaultTake},
		{raw: "abc", expected: defaultTake},
		{raw: "10", expected: 10},
		{raw: "0", expected: 1},
		{raw: "-4", expected: 1},
		{raw: "500", expected: maxTake},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseTake(tt.raw))
		})
	}
}

func TestWriteError(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("%w: title", workflow.ErrInvalidInput), status: http.StatusBadRequest, code: "invalid_input"},
		{err: workflow.ErrTooFewSubmissions, status: http.StatusBadRequest, code: "too_few_submissions"},
		{err: workflow.ErrSubmissionHasPost, status: http.StatusConflict, code: "submission_has_post"},
		{err: store.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
		{err: store.ErrConflict, status: http.StatusConflict, code: "conflict"},
		{err: media.ErrMimeMismatch, status: http.StatusBadRequest, code: "mime_mismatch"},
		{err: media.ErrTooLarge, status: http.StatusRequestEntityTooLarge, code: "too_large"},
		{err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ts.srv.writeError(rec, tt.err, "test")

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody(t, rec)["error"])
		})
	}
}
