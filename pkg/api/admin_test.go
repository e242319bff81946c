package api

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
)

func TestAdminRequiresSession(t *testing.T) {
	ts := setupTestServer(t)

	for _, path := range []string{
		"/api/admin/dashboard",
		"/api/admin/submissions",
		"/api/admin/posts",
		"/api/admin/audit",
		"/api/admin/db-backup",
		"/api/admin/db-status",
	} {
		t.Run(path, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeBody(t, rec)["error"])
		})
	}

	t.Run("form actions redirect to login", func(t *testing.T) {
		rec := ts.doForm(t, "/admin/categories/create", url.Values{"name": {"x"}, "slug": {"x"}})
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/login", rec.Header().Get("Location"))
	})
}

func TestDashboard(t *testing.T) {
	ts := setupTestServer(t)
	cookie := ts.login(t)
	ts.publishPost(t, "The Red Door", "red-door")

	rec := ts.do(t, http.MethodGet, "/api/admin/dashboard", "", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body dashboardResponse
	decodeInto(t, rec, &body)

	assert.Equal(t, int64(len(workflow.DefaultCategories)), body.Categories)
	assert.Equal(t, int64(1), body.Posts[store.PostPublished])
}

func TestAdminSubmissions(t *testing.T) {
	ts := setupTestServer(t)
	cookie := ts.login(t)
	ctx := context.Background()

	a := createTestSubmission(t, ts, "The Piano")
	createTestSubmission(t, ts, "The Well")
	require.NoError(t, ts.srv.flow.SetStatus(ctx, workflow.Actor{}, a.ID, store.SubmissionRejected))

	tests := []struct {
		query    string
		status   int
		expected int
	}{
		{query: "", status: http.StatusOK, expected: 2},
		{query: "?status=all", status: http.StatusOK, expected: 2},
		{query: "?status=PENDING", status: http.StatusOK, expected: 1},
		{query: "?status=rejected", status: http.StatusOK, expected: 1},
		{query: "?status=LOST", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/api/admin/submissions"+tt.query, "", nil, cookie)
			require.Equal(t, tt.status, rec.Code)

			if tt.status == http.StatusOK {
				assert.Len(t, decodeBody(t, rec)["submissions"], tt.expected)
			}
		})
	}
}

func TestMergeDraft(t *testing.T) {
	ts := setupTestServer(t)
	cookie := ts.login(t)

	a := createTestSubmission(t, ts, "The Piano")
	b := createTestSubmission(t, ts, "The Well")

	rec := ts.do(t, http.MethodGet, "/api/admin/submissions/merge?ids="+a.ID, "", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "too_few_submissions", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodGet,
		"/api/admin/submissions/merge?ids="+a.ID+","+b.ID, "", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Len(t, body["submissions"], 2)
	assert.Contains(t, body["content"], "---")
}

func TestAdminAudit(t *testing.T) {
	ts := setupTestServer(t)
	cookie := ts.login(t)

	rec := ts.do(t, http.MethodGet, "/api/admin/audit?limit=1", "", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	entries := decodeBody(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "admin_login", entries[0].(map[string]any)["action"])

	rec = ts.do(t, http.MethodGet, "/api/admin/audit?limit=zero", "", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCategoryActions(t *testing.T) {
	ts := setupTestServer(t)
	cookie := ts.login(t)
	ctx := context.Background()

	rec := ts.doForm(t, "/admin/categories/create", url.Values{
		"name":  {"Lighthouses"},
		"slug":  {"lighthouses"},
		"order": {"42"},
	}, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/categories", rec.Header().Get("Location"))

	created := findCategory(t, ts.srv.store, "lighthouses")
	require.NotNil(t, created)
	assert.Equal(t, 42, created.Order)

	t.Run("update", func(t *testing.T) {
		rec := ts.doForm(t, "/admin/categories/update", url.Values{
			"id":    {created.ID},
			"name":  {"Lighthouse Keepers"},
			"slug":  {"lighthouses"},
			"order": {"7"},
		}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)

		got, err := ts.srv.store.GetCategory(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Lighthouse Keepers", got.Name)
		assert.Equal(t, 7, got.Order)
	})

	t.Run("non numeric order is rejected", func(t *testing.T) {
		rec := ts.doForm(t, "/admin/categories/create", url.Values{
			"name":  {"Wells"},
			"slug":  {"wells"},
			"order": {"first"},
		}, cookie)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Nil(t, findCategory(t, ts.srv.store, "wells"))
	})

	t.Run("delete", func(t *testing.T) {
		rec := ts.doForm(t, "/admin/categories/delete", url.Values{"id": {created.ID}}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Nil(t, findCategory(t, ts.srv.store, "lighthouses"))
	})

	actions := auditActions(t, ts.srv.store)
	assert.Contains(t, actions, "category_create")
	assert.Contains(t, actions, "category_update")
	assert.Contains(t, actions, "category_delete")
}

func TestPostActions(t *testing.T) {
	ts := setupTestServer(t)
	cookie := ts.login(t)
	ctx := context.Background()

	rec := ts.doForm(t, "/admin/posts/create", url.Values{
		"title":        {"The Red Door"},
		"slug":         {"red-door"},
		"content":      {testStory},
		"status":       {store.PostPublished},
		"displaySlot":  {store.SlotFeatured},
		"displayOrder": {"3"},
		"isPinned":     {"on"},
	}, cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/posts", rec.Header().Get("Location"))

	post, err := ts.srv.store.GetPublishedPostBySlug(ctx, "red-door", ts.srv.now())
	require.NoError(t, err)
	assert.True(t, post.IsPinned)
	assert.Equal(t, store.SlotFeatured, post.DisplaySlot)
	assert.Equal(t, 3, post.DisplayOrder)

	t.Run("update unpins when checkbox is absent", func(t *testing.T) {
		rec := ts.doForm(t, "/admin/posts/update", url.Values{
			"id":      {post.ID},
			"title":   {"The Red Door"},
			"slug":    {"red-door"},
			"content": {testStory},
			"status":  {store.PostDraft},
		}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)

		got, err := ts.srv.store.GetPostByID(ctx, post.ID)
		require.NoError(t, err)
		assert.False(t, got.IsPinned)
		assert.Equal(t, store.PostDraft, got.Status)
	})

	t.Run("delete", func(t *testing.T) {
		rec := ts.doForm(t, "/admin/posts/delete", url.Values{"id": {post.ID}}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)

		_, err := ts.srv.store.GetPostByID(ctx, post.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestSubmissionActions(t *testing.T) {
	ts := setupTestServer(t)
	cookie := ts.login(t)
	ctx := context.Background()

	t.Run("set status", func(t *testing.T) {
		sub := createTestSubmission(t, ts, "The Piano")

		rec := ts.doForm(t, "/admin/submissions/set-status", url.Values{
			"id":     {sub.ID},
			"status": {store.SubmissionRejected},
		}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/submissions", rec.Header().Get("Location"))

		got, err := ts.srv.store.GetSubmission(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, store.SubmissionRejected, got.Status)
		assert.NotNil(t, got.ReviewedAt)
	})

	t.Run("convert", func(t *testing.T) {
		sub := createTestSubmission(t, ts, "The Well")

		rec := ts.doForm(t, "/admin/submissions/convert", url.Values{
			"submissionId": {sub.ID},
			"title":        {"The Well"},
			"slug":         {"the-well"},
			"content":      {testStory},
			"status":       {store.PostPublished},
		}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/posts", rec.Header().Get("Location"))

		post, err := ts.srv.store.GetPostBySourceSubmission(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, "the-well", post.Slug)

		// A second conversion of the same submission is refused.
		rec = ts.doForm(t, "/admin/submissions/convert", url.Values{
			"submissionId": {sub.ID},
			"title":        {"The Well Again"},
			"slug":         {"the-well-again"},
			"content":      {testStory},
			"status":       {store.PostDraft},
		}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/submissions", rec.Header().Get("Location"))
	})

	t.Run("merge", func(t *testing.T) {
		a := createTestSubmission(t, ts, "Part One")
		b := createTestSubmission(t, ts, "Part Two")

		rec := ts.doForm(t, "/admin/submissions/merge", url.Values{
			"submissionIds": {a.ID},
			"title":         {"Both Parts"},
			"slug":          {"both-parts"},
			"content":       {testStory},
			"status":        {store.PostDraft},
		}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/submissions", rec.Header().Get("Location"))

		rec = ts.doForm(t, "/admin/submissions/merge", url.Values{
			"submissionIds": {a.ID + "," + b.ID},
			"title":         {"Both Parts"},
			"slug":          {"both-parts"},
			"content":       {testStory},
			"status":        {store.PostDraft},
		}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/admin/posts", rec.Header().Get("Location"))

		for _, id := range []string{a.ID, b.ID} {
			got, err := ts.srv.store.GetSubmission(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, store.SubmissionApproved, got.Status)
		}
	})

	t.Run("delete", func(t *testing.T) {
		sub := createTestSubmission(t, ts, "The Attic")

		rec := ts.doForm(t, "/admin/submissions/delete", url.Values{"id": {sub.ID}}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)

		_, err := ts.srv.store.GetSubmission(ctx, sub.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestCheckboxHook(t *testing.T) {
	var f struct {
		Pinned bool `mapstructure:"pinned"`
		Order  int  `mapstructure:"order"`
	}

	req := newFormRequest(url.Values{"pinned": {"on"}, "order": {"12"}})
	require.NoError(t, decodeForm(req, &f))
	assert.True(t, f.Pinned)
	assert.Equal(t, 12, f.Order)

	req = newFormRequest(url.Values{"order": {"twelve"}})
	assert.ErrorIs(t, decodeForm(req, &f), workflow.ErrInvalidInput)
}

func createTestSubmission(t *testing.T, ts *testServer, title string) *store.Submission {
	t.Helper()

	sub, err := ts.srv.flow.CreateSubmission(context.Background(), workflow.SubmissionInput{
		Title:   title,
		Content: testStory,
	})
	require.NoError(t, err)

	return sub
}

func findCategory(t *testing.T, st store.Store, slug string) *store.Category {
	t.Helper()

	categories, err := st.ListCategories(context.Background())
	require.NoError(t, err)

	for i := range categories {
		if categories[i].Slug == slug {
			return &categories[i]
		}
	}

	return nil
}
