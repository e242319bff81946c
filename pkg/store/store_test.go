package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/gravewhisper/gravewhisper/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func publishedPost(slug string, at time.Time) *store.Post {
	return &store.Post{
		Title:       "Title " + slug,
		Slug:        slug,
		Content:     "content of " + slug,
		Status:      store.PostPublished,
		PublishedAt: &at,
	}
}

func TestStore_Admins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := &store.AdminUser{
		Username:     "keeper",
		PasswordHash: "h1",
		CreatedAt:    time.Now().Add(-time.Hour).UTC(),
	}
	require.NoError(t, s.CreateAdmin(ctx, first))
	assert.Len(t, first.ID, 32)

	require.NoError(t, s.CreateAdmin(ctx, &store.AdminUser{
		Username:     "watcher",
		PasswordHash: "h2",
	}))

	got, err := s.FirstAdmin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "keeper", got.Username)

	err = s.CreateAdmin(ctx, &store.AdminUser{Username: "keeper", PasswordHash: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict))

	updated, err := s.UpsertAdmin(ctx, "keeper", "h3")
	require.NoError(t, err)
	assert.Equal(t, first.ID, updated.ID)

	byName, err := s.GetAdminByUsername(ctx, "keeper")
	require.NoError(t, err)
	assert.Equal(t, "h3", byName.PasswordHash)

	_, err = s.GetAdminByID(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	now := time.Now()
	require.NoError(t, s.TouchAdminLogin(ctx, first.ID, now))

	byID, err := s.GetAdminByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, byID.LastLoginAt)
	assert.WithinDuration(t, now, *byID.LastLoginAt, time.Second)
}

func TestStore_EnsureCategories(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCategory(ctx, &store.Category{
		Name: "Renamed", Slug: "b", Order: 9,
	}))

	defaults := []store.Category{
		{Name: "A", Slug: "a", Order: 1},
		{Name: "B", Slug: "b", Order: 2},
		{Name: "C", Slug: "c", Order: 3},
	}

	n, err := s.EnsureCategories(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.EnsureCategories(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 3)
	assert.Equal(t, "a", cats[0].Slug)
	assert.Equal(t, "c", cats[1].Slug)
	assert.Equal(t, "Renamed", cats[2].Name, "existing rows are left untouched")
}

func TestStore_DeleteCategoryDetachesPosts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	cat := &store.Category{Name: "Urban", Slug: "urban"}
	require.NoError(t, s.CreateCategory(ctx, cat))

	p := publishedPost("p1", time.Now().Add(-time.Minute))
	p.CategoryID = &cat.ID
	require.NoError(t, s.CreatePost(ctx, p))

	require.NoError(t, s.DeleteCategory(ctx, cat.ID))

	got, err := s.GetPostByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)

	err = s.DeleteCategory(ctx, cat.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStore_ListPublishedPosts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	cat := &store.Category{Name: "Urban", Slug: "urban"}
	require.NoError(t, s.CreateCategory(ctx, cat))

	old := publishedPost("old", now.Add(-2*time.Hour))
	recent := publishedPost("recent", now.Add(-time.Hour))
	pinned := publishedPost("pinned", now.Add(-3*time.Hour))
	pinned.IsPinned = true
	pinned.CategoryID = &cat.ID
	future := publishedPost("future", now.Add(time.Hour))
	draft := &store.Post{Title: "Draft", Slug: "draft", Content: "mirror", Status: store.PostDraft}
	featured := publishedPost("featured", now.Add(-time.Minute))
	featured.DisplaySlot = store.SlotFeatured
	featured.Content = "a whisper in the mirror"

	for _, p := range []*store.Post{old, recent, pinned, future, draft, featured} {
		require.NoError(t, s.CreatePost(ctx, p))
	}

	posts, err := s.ListPublishedPosts(ctx, store.PostFilter{Now: now, Limit: 60})
	require.NoError(t, err)

	slugs := make([]string, 0, len(posts))
	for _, p := range posts {
		slugs = append(slugs, p.Slug)
	}

	assert.Equal(t, []string{"pinned", "featured", "recent", "old"}, slugs)
	require.NotNil(t, posts[0].Category)
	assert.Equal(t, "urban", posts[0].Category.Slug)

	byCat, err := s.ListPublishedPosts(ctx, store.PostFilter{Now: now, CategorySlug: "urban"})
	require.NoError(t, err)
	require.Len(t, byCat, 1)
	assert.Equal(t, "pinned", byCat[0].Slug)

	byQuery, err := s.ListPublishedPosts(ctx, store.PostFilter{Now: now, Query: "mirror"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "featured", byQuery[0].Slug)

	bySlot, err := s.ListPublishedPosts(ctx, store.PostFilter{Now: now, Slot: store.SlotFeatured})
	require.NoError(t, err)
	require.Len(t, bySlot, 1)

	_, err = s.GetPublishedPostBySlug(ctx, "future", now)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = s.GetPublishedPostBySlug(ctx, "draft", now)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStore_PostUniqueness(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePost(ctx, publishedPost("same", time.Now())))

	err := s.CreatePost(ctx, publishedPost("same", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict))

	sub := &store.Submission{Title: "Origin", Content: "a long enough story body"}
	require.NoError(t, s.CreateSubmission(ctx, sub))

	first := publishedPost("from-sub-1", time.Now())
	first.SourceSubmissionID = &sub.ID
	require.NoError(t, s.CreatePost(ctx, first))

	second := publishedPost("from-sub-2", time.Now())
	second.SourceSubmissionID = &sub.ID
	err = s.CreatePost(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict))

	got, err := s.GetPostBySourceSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	exists, err := s.PostSlugExists(ctx, "same", "")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.PostSlugExists(ctx, "from-sub-1", first.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_PostViewsAndComments(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := publishedPost("haunt", time.Now().Add(-time.Minute))
	require.NoError(t, s.CreatePost(ctx, p))

	views, err := s.IncrementPostViews(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), views)

	views, err = s.IncrementPostViews(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), views)

	_, err = s.IncrementPostViews(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	base := time.Now().Add(-time.Hour).UTC()
	for i := range 3 {
		require.NoError(t, s.CreateComment(ctx, &store.Comment{
			PostID:    p.ID,
			Content:   "boo",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	comments, err := s.ListComments(ctx, p.ID, 2)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.True(t, comments[0].CreatedAt.After(comments[1].CreatedAt))

	total, err := s.CountComments(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	require.NoError(t, s.DeletePost(ctx, p.ID))

	total, err = s.CountComments(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestStore_RandomPostSelection(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreatePost(ctx, publishedPost("a", now.Add(-3*time.Hour))))
	require.NoError(t, s.CreatePost(ctx, publishedPost("b", now.Add(-2*time.Hour))))
	require.NoError(t, s.CreatePost(ctx, publishedPost("c", now.Add(-time.Hour))))

	n, err := s.CountPublishedPosts(ctx, now, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	p, err := s.PublishedPostAt(ctx, now, []string{"b"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", p.Slug)

	_, err = s.PublishedPostAt(ctx, now, []string{"a", "b", "c"}, 0)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStore_Submissions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UTC()

	older := &store.Submission{Title: "Older", Content: "x", CreatedAt: base}
	newer := &store.Submission{Title: "Newer", Content: "y", CreatedAt: base.Add(time.Minute)}

	// Insert out of order; listing by ids must follow creation time.
	require.NoError(t, s.CreateSubmission(ctx, newer))
	require.NoError(t, s.CreateSubmission(ctx, older))
	assert.Equal(t, store.SubmissionPending, older.Status)

	subs, err := s.ListSubmissionsByIDs(ctx, []string{newer.ID, "ghost", older.ID})
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, older.ID, subs[0].ID)
	assert.Equal(t, newer.ID, subs[1].ID)

	at := time.Now()
	n, err := s.SetSubmissionStatus(ctx, []string{older.ID, newer.ID}, store.SubmissionApproved, &at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := s.CountSubmissionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[store.SubmissionApproved])

	pending, err := s.ListSubmissions(ctx, store.SubmissionPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.SetSubmissionStatus(ctx, []string{older.ID}, store.SubmissionPending, nil)
	require.NoError(t, err)

	got, err := s.GetSubmission(ctx, older.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReviewedAt)

	p := publishedPost("linked", time.Now())
	p.SourceSubmissionID = &newer.ID
	require.NoError(t, s.CreatePost(ctx, p))

	require.NoError(t, s.DeleteSubmission(ctx, newer.ID))

	linked, err := s.GetPostByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, linked.SourceSubmissionID)
}

func TestStore_TransactionRollback(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateCategory(ctx, &store.Category{Name: "A", Slug: "a"}); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.CountCategories(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Audit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ip := "10.0.0.1"
	other := "10.0.0.2"

	for range 3 {
		require.NoError(t, s.AppendAudit(ctx, &store.AuditLog{
			Action:     "post_comment_create",
			EntityType: "Comment",
			IP:         &ip,
			Metadata:   store.AuditMetadata(map[string]any{"slug": "x"}),
		}))
	}

	require.NoError(t, s.AppendAudit(ctx, &store.AuditLog{
		Action:     "post_comment_create",
		EntityType: "Comment",
		IP:         &other,
	}))

	require.NoError(t, s.AppendAudit(ctx, &store.AuditLog{
		Action:     "post_comment_create",
		EntityType: "Comment",
		IP:         &ip,
		CreatedAt:  time.Now().Add(-2 * time.Minute).UTC(),
	}))

	n, err := s.CountRecentAudit(ctx, store.AuditQuery{
		Action: "post_comment_create",
		IP:     ip,
		Since:  time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	entries, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.JSONEq(t, `{"slug":"x"}`, string(entries[len(entries)-2].Metadata))
}

func TestStore_Reload(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCategory(ctx, &store.Category{Name: "A", Slug: "a"}))
	require.NoError(t, s.Reload(ctx))

	n, err := s.CountCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
