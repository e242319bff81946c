package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
)

const (
	testUsername = "keeper"
	testPassword = "lantern-in-the-fog"
	testStory    = "Every night at three the piano downstairs plays one note."
)

type testServer struct {
	srv     *server
	handler http.Handler
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		LogLevel: "error",
		Server: config.ServerConfig{
			Listen:      "127.0.0.1:0",
			Environment: config.EnvDevelopment,
			RateLimit: config.RateLimitConfig{
				Enabled:      true,
				Window:       "60s",
				Auth:         config.RateLimitTier{RequestsPerMinute: 1000},
				Submissions:  config.RateLimitTier{RequestsPerMinute: 1000},
				Comments:     6,
				VideoUploads: 4,
				ImageUploads: 10,
			},
		},
		Auth: config.AuthConfig{
			Secret:            "graveyard-shift-secret",
			SessionTTL:        "1h",
			BackdoorCode:      "open-sesame",
			AllowRegistration: true,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{Path: filepath.Join(dir, "test.db")},
		},
		Media: config.MediaConfig{
			MaxImageSize:    "2.5MB",
			MaxImageDim:     4096,
			MaxImagePixels:  8_000_000,
			MaxVideoSize:    "1MiB",
			MaxDatabaseSize: "50MiB",
			Local: &config.LocalMediaConfig{
				Enabled:      true,
				Dir:          filepath.Join(dir, "uploads"),
				PublicPrefix: "/uploads",
			},
		},
	}
}

func setupTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := testConfig(t.TempDir())
	for _, fn := range mutate {
		fn(cfg)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		now:  time.Now,
		done: make(chan struct{}),
	}

	ctx := context.Background()

	s.store = store.NewStore(log, &cfg.Database)
	require.NoError(t, s.store.Start(ctx))
	require.NoError(t, s.setup(ctx))

	t.Cleanup(func() { _ = s.Stop() })

	return &testServer{srv: s, handler: s.buildRouter()}
}

func (ts *testServer) do(
	t *testing.T, method, path, contentType string, body io.Reader, cookies ...*http.Cookie,
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	return rec
}

func (ts *testServer) doJSON(
	t *testing.T, method, path string, body any, cookies ...*http.Cookie,
) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		r = bytes.NewReader(raw)
	}

	return ts.do(t, method, path, "application/json", r, cookies...)
}

func (ts *testServer) doForm(
	t *testing.T, path string, form url.Values, cookies ...*http.Cookie,
) *httptest.ResponseRecorder {
	t.Helper()

	return ts.do(t, http.MethodPost, path,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), cookies...)
}

// createAdmin stores an admin with a cheap hash to keep tests fast.
func (ts *testServer) createAdmin(t *testing.T, username, password string) *store.AdminUser {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	admin := &store.AdminUser{Username: username, PasswordHash: string(hash)}
	require.NoError(t, ts.srv.store.CreateAdmin(context.Background(), admin))

	return admin
}

// login creates the test admin and returns its session cookie.
func (ts *testServer) login(t *testing.T) *http.Cookie {
	t.Helper()

	ts.createAdmin(t, testUsername, testPassword)

	rec := ts.doJSON(t, http.MethodPost, "/api/admin/login", map[string]string{
		"username": testUsername,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	return sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == "gw_session" && c.Value != "" {
			return c
		}
	}

	require.FailNow(t, "no session cookie set")

	return nil
}

func (ts *testServer) publishPost(t *testing.T, title, slug string) *store.Post {
	t.Helper()

	p, err := ts.srv.flow.CreatePost(context.Background(), workflow.Actor{}, workflow.PostForm{
		Title:   title,
		Slug:    slug,
		Content: testStory,
		Status:  store.PostPublished,
	})
	require.NoError(t, err)

	return p
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return out
}

func auditActions(t *testing.T, st store.Store) []string {
	t.Helper()

	entries, err := st.ListAudit(context.Background(), 500)
	require.NoError(t, err)

	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}

	return actions
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestListCategories(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Categories []categoryResponse `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Len(t, body.Categories, len(workflow.DefaultCategories))
	assert.Equal(t, "urban-legends", body.Categories[0].Slug)
	assert.Equal(t, 1, body.Categories[0].Order)
}

func TestCreateSubmission(t *testing.T) {
	ts := setupTestServer(t)

	t.Run("valid submission is stored pending", func(t *testing.T) {
		rec := ts.doJSON(t, http.MethodPost, "/api/submissions/", map[string]any{
			"title":      "The Piano",
			"content":    testStory,
			"authorName": "Night Owl",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		sub, ok := decodeBody(t, rec)["submission"].(map[string]any)
		require.True(t, ok)

		got, err := ts.srv.store.GetSubmission(context.Background(), sub["id"].(string))
		require.NoError(t, err)
		assert.Equal(t, store.SubmissionPending, got.Status)
		assert.Equal(t, "Night Owl", store.Deref(got.AuthorName))
	})

	t.Run("short content is rejected", func(t *testing.T) {
		rec := ts.doJSON(t, http.MethodPost, "/api/submissions/", map[string]any{
			"title":   "Boo",
			"content": "too short",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_input", decodeBody(t, rec)["error"])
	})

	t.Run("malformed json is rejected", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/submissions/",
			"application/json", strings.NewReader("{"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubmissionTokenBucket(t *testing.T) {
	ts := setupTestServer(t, func(c *config.Config) {
		c.Server.RateLimit.Submissions.RequestsPerMinute = 2
	})

	body := map[string]any{"title": "The Piano", "content": testStory}

	for range 2 {
		rec := ts.doJSON(t, http.MethodPost, "/api/submissions/", body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.doJSON(t, http.MethodPost, "/api/submissions/", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])
}

func TestPosts(t *testing.T) {
	ts := setupTestServer(t)
	ts.publishPost(t, "The Red Door", "red-door")

	_, err := ts.srv.flow.CreatePost(context.Background(), workflow.Actor{}, workflow.PostForm{
		Title:   "Unfinished",
		Slug:    "unfinished",
		Content: testStory,
		Status:  store.PostDraft,
	})
	require.NoError(t, err)

	t.Run("list hides drafts", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/posts/", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Posts []postSummary `json:"posts"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Posts, 1)
		assert.Equal(t, "red-door", body.Posts[0].Slug)
	})

	t.Run("featured splits slots", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/posts/featured", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Empty(t, body["featured"])
		assert.Len(t, body["posts"], 1)
	})

	t.Run("get visible post", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/posts/red-door", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		post := decodeBody(t, rec)["post"].(map[string]any)
		assert.Equal(t, testStory, post["content"])
	})

	t.Run("draft is not found", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/posts/unfinished", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
	})

	t.Run("view increments counter", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/posts/red-door/view", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.InDelta(t, 1, decodeBody(t, rec)["views"], 0)

		rec = ts.do(t, http.MethodPost, "/api/posts/red-door/view", "", nil)
		assert.InDelta(t, 2, decodeBody(t, rec)["views"], 0)
		assert.Contains(t, auditActions(t, ts.srv.store), "post_view")
	})
}

func TestRandomPost(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/posts/random", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "empty", decodeBody(t, rec)["error"])

	ts.publishPost(t, "The Red Door", "red-door")
	ts.publishPost(t, "The Blue Room", "blue-room")

	rec = ts.do(t, http.MethodGet, "/api/posts/random?exclude=red-door", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	post := decodeBody(t, rec)["post"].(map[string]any)
	assert.Equal(t, "blue-room", post["slug"])
	assert.Equal(t, testStory, post["preview"])

	rec = ts.do(t, http.MethodGet, "/api/posts/random?exclude=red-door,blue-room", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComments(t *testing.T) {
	ts := setupTestServer(t)
	ts.publishPost(t, "The Red Door", "red-door")

	for i := range 6 {
		rec := ts.doJSON(t, http.MethodPost, "/api/posts/red-door/comments", map[string]any{
			"content": "I heard it too.",
		})
		require.Equal(t, http.StatusCreated, rec.Code, "comment %d: %s", i, rec.Body.String())
	}

	rec := ts.doJSON(t, http.MethodPost, "/api/posts/red-door/comments", map[string]any{
		"content": "One more.",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodGet, "/api/posts/red-door/comments?take=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["comments"], 2)
	assert.InDelta(t, 6, body["total"], 0)

	t.Run("other ip is not limited", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/posts/red-door/comments",
			strings.NewReader(`{"content":"Me as well."}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", "198.51.100.7")

		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("unknown post", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/posts/nowhere/comments",
			strings.NewReader(`{"content":"Hello?"}`))
		req.Header.Set("X-Forwarded-For", "203.0.113.9")

		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCommentQuotaDisabled(t *testing.T) {
	ts := setupTestServer(t, func(c *config.Config) {
		c.Server.RateLimit.Enabled = false
	})
	ts.publishPost(t, "The Red Door", "red-door")

	for range 8 {
		rec := ts.doJSON(t, http.MethodPost, "/api/posts/red-door/comments", map[string]any{
			"content": "Again.",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
}

func TestCORS(t *testing.T) {
	ts := setupTestServer(t, func(c *config.Config) {
		c.Server.CORSOrigins = []string{"https://gravewhisper.example"}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://gravewhisper.example")

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://gravewhisper.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func newFormRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/admin/form", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return req
}
