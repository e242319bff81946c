package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gravewhisper/gravewhisper/pkg/backup"
	"github.com/gravewhisper/gravewhisper/pkg/media"
	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
)

const (
	maxListedPosts   = 60
	maxFeaturedPosts = 3
	maxRandomExclude = 40
	defaultTake      = 30
	maxTake          = 50
	maxJSONBody      = 1 << 20
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
}

// writeError maps domain errors to their status and code. Anything
// unrecognised is logged and reported as an internal error.
func (s *server) writeError(w http.ResponseWriter, err error, msg string) {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, workflow.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})
	case errors.Is(err, workflow.ErrTooFewSubmissions):
		writeJSON(w, http.StatusBadRequest, errorResponse{"too_few_submissions"})
	case errors.Is(err, workflow.ErrSubmissionHasPost):
		writeJSON(w, http.StatusConflict, errorResponse{"submission_has_post"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{"not_found"})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{"conflict"})
	case errors.Is(err, media.ErrUnsupportedType):
		writeJSON(w, http.StatusBadRequest, errorResponse{"unsupported_type"})
	case errors.Is(err, media.ErrMimeMismatch):
		writeJSON(w, http.StatusBadRequest, errorResponse{"mime_mismatch"})
	case errors.Is(err, media.ErrTooLarge), errors.Is(err, backup.ErrTooLarge),
		errors.As(err, &maxBytes):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{"too_large"})
	case errors.Is(err, media.ErrTooLargeDimensions):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{"too_large_dimensions"})
	case errors.Is(err, backup.ErrUnsupportedDriver):
		writeJSON(w, http.StatusBadRequest, errorResponse{"unsupported_driver"})
	default:
		s.log.WithError(err).Error(msg)
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal_error"})
	}
}

type categoryResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Order int    `json:"order"`
}

// postSummary is a post as listed on the home and category pages.
type postSummary struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Slug          string             `json:"slug"`
	Excerpt       *string            `json:"excerpt"`
	ThumbnailPath *string            `json:"thumbnailPath"`
	DisplaySlot   string             `json:"displaySlot"`
	DisplayOrder  int                `json:"displayOrder"`
	IsPinned      bool               `json:"isPinned"`
	PublishedAt   *time.Time         `json:"publishedAt"`
	Category      *store.CategoryRef `json:"category"`
}

func toPostSummaries(posts []store.Post) []postSummary {
	out := make([]postSummary, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		out = append(out, postSummary{
			ID:            p.ID,
			Title:         p.Title,
			Slug:          p.Slug,
			Excerpt:       p.Excerpt,
			ThumbnailPath: p.ThumbnailPath,
			DisplaySlot:   p.DisplaySlot,
			DisplayOrder:  p.DisplayOrder,
			IsPinned:      p.IsPinned,
			PublishedAt:   p.PublishedAt,
			Category:      p.Category.Ref(),
		})
	}

	return out
}

type postDetail struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Slug          string             `json:"slug"`
	Excerpt       *string            `json:"excerpt"`
	Content       string             `json:"content"`
	ThumbnailPath *string            `json:"thumbnailPath"`
	VideoPath     *string            `json:"videoPath"`
	Views         int64              `json:"views"`
	PublishedAt   *time.Time         `json:"publishedAt"`
	Category      *store.CategoryRef `json:"category"`
}

type randomPost struct {
	Title         string             `json:"title"`
	Slug          string             `json:"slug"`
	ThumbnailPath *string            `json:"thumbnailPath"`
	PublishedAt   *time.Time         `json:"publishedAt"`
	Category      *store.CategoryRef `json:"category"`
	Views         int64              `json:"views"`
	CommentCount  int64              `json:"commentCount"`
	Preview       string             `json:"preview"`
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListCategories installs missing defaults and lists categories.
func (s *server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	if err := s.flow.EnsureDefaultCategories(r.Context()); err != nil {
		s.writeError(w, err, "Failed to ensure default categories")

		return
	}

	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to list categories")

		return
	}

	resp := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		resp = append(resp, categoryResponse{
			ID: c.ID, Name: c.Name, Slug: c.Slug, Order: c.Order,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"categories": resp})
}

func (s *server) postFilter(r *http.Request, slot string, limit int) store.PostFilter {
	q := r.URL.Query()

	return store.PostFilter{
		CategorySlug: strings.TrimSpace(q.Get("category")),
		Query:        strings.TrimSpace(q.Get("q")),
		Slot:         slot,
		Limit:        limit,
		Now:          s.now(),
	}
}

// handleListPosts lists visible posts, optionally by category and query.
func (s *server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.ListPublishedPosts(r.Context(), s.postFilter(r, "", maxListedPosts))
	if err != nil {
		s.writeError(w, err, "Failed to list posts")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": toPostSummaries(posts)})
}

// handleFeaturedPosts returns the homepage data: the featured strip and
// the grid.
func (s *server) handleFeaturedPosts(w http.ResponseWriter, r *http.Request) {
	featured, err := s.store.ListPublishedPosts(r.Context(),
		s.postFilter(r, store.SlotFeatured, maxFeaturedPosts))
	if err != nil {
		s.writeError(w, err, "Failed to list featured posts")

		return
	}

	grid, err := s.store.ListPublishedPosts(r.Context(),
		s.postFilter(r, store.SlotGrid, maxListedPosts))
	if err != nil {
		s.writeError(w, err, "Failed to list grid posts")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"featured": toPostSummaries(featured),
		"posts":    toPostSummaries(grid),
	})
}

// parseExclude splits the comma separated, individually URL encoded
// slug list of the random endpoint.
func parseExclude(raw string) []string {
	out := make([]string, 0, maxRandomExclude)

	for _, part := range strings.Split(raw, ",") {
		if decoded, err := url.QueryUnescape(part); err == nil {
			part = decoded
		}

		if part = strings.TrimSpace(part); part == "" {
			continue
		}

		out = append(out, part)
		if len(out) == maxRandomExclude {
			break
		}
	}

	return out
}

// handleRandomPost picks a uniformly random visible post that is not
// excluded.
func (s *server) handleRandomPost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()
	exclude := parseExclude(r.URL.Query().Get("exclude"))

	count, err := s.store.CountPublishedPosts(ctx, now, exclude)
	if err != nil {
		s.writeError(w, err, "Failed to count posts")

		return
	}

	if count <= 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{"empty"})

		return
	}

	offset, err := rand.Int(rand.Reader, big.NewInt(count))
	if err != nil {
		s.writeError(w, err, "Failed to pick random offset")

		return
	}

	post, err := s.store.PublishedPostAt(ctx, now, exclude, int(offset.Int64()))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{"empty"})

		return
	} else if err != nil {
		s.writeError(w, err, "Failed to load random post")

		return
	}

	comments, err := s.store.CountComments(ctx, post.ID)
	if err != nil {
		s.writeError(w, err, "Failed to count comments")

		return
	}

	preview := strings.TrimSpace(store.Deref(post.Excerpt))
	if preview == "" {
		preview = previewText(post.Content)
	}

	writeJSON(w, http.StatusOK, map[string]any{"post": randomPost{
		Title:         post.Title,
		Slug:          post.Slug,
		ThumbnailPath: post.ThumbnailPath,
		PublishedAt:   post.PublishedAt,
		Category:      post.Category.Ref(),
		Views:         post.Views,
		CommentCount:  comments,
		Preview:       preview,
	}})
}

// handleGetPost returns a visible post.
func (s *server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.store.GetPublishedPostBySlug(r.Context(), chi.URLParam(r, "slug"), s.now())
	if err != nil {
		s.writeError(w, err, "Failed to load post")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"post": postDetail{
		ID:            post.ID,
		Title:         post.Title,
		Slug:          post.Slug,
		Excerpt:       post.Excerpt,
		Content:       post.Content,
		ThumbnailPath: post.ThumbnailPath,
		VideoPath:     post.VideoPath,
		Views:         post.Views,
		PublishedAt:   post.PublishedAt,
		Category:      post.Category.Ref(),
	}})
}

// handleRecordView counts a view of a visible post.
func (s *server) handleRecordView(w http.ResponseWriter, r *http.Request) {
	views, err := s.flow.RecordView(r.Context(), actorFor(r), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeError(w, err, "Failed to record view")

		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"views": views})
}

// parseTake reads the comment page size, clamped to [1, maxTake].
func parseTake(raw string) int {
	take, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultTake
	}

	return min(maxTake, max(1, take))
}

// handleListComments returns the newest comments of a visible post and
// the total count.
func (s *server) handleListComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	post, err := s.store.GetPublishedPostBySlug(ctx, chi.URLParam(r, "slug"), s.now())
	if err != nil {
		s.writeError(w, err, "Failed to load post")

		return
	}

	comments, err := s.store.ListComments(ctx, post.ID, parseTake(r.URL.Query().Get("take")))
	if err != nil {
		s.writeError(w, err, "Failed to list comments")

		return
	}

	total, err := s.store.CountComments(ctx, post.ID)
	if err != nil {
		s.writeError(w, err, "Failed to count comments")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"comments": comments,
		"total":    total,
	})
}

// handleCreateComment adds a reader comment, limited per IP.
func (s *server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	actor := actorFor(r)

	limited, err := s.overQuota(r.Context(), "post_comment_create",
		actor.IP, "", s.cfg.Server.RateLimit.Comments)
	if err != nil {
		s.writeError(w, err, "Failed to check comment quota")

		return
	}

	if limited {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{"rate_limited"})

		return
	}

	var in workflow.CommentInput
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}

	comment, err := s.flow.AddComment(r.Context(), actor, chi.URLParam(r, "slug"), in)
	if err != nil {
		s.writeError(w, err, "Failed to create comment")

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

// handleCreateSubmission stores an anonymous story for moderation.
func (s *server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var in workflow.SubmissionInput
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}

	sub, err := s.flow.CreateSubmission(r.Context(), in)
	if err != nil {
		s.writeError(w, err, "Failed to create submission")

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"submission": map[string]any{
			"id":        sub.ID,
			"createdAt": sub.CreatedAt,
		},
	})
}

// handleUploads serves locally stored media.
func (s *server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if err := s.local.ServeFile(w, r, chi.URLParam(r, "*")); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{"not_found"})
	}
}
