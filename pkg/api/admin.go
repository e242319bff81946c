package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
	"golang.org/x/sync/errgroup"
)

const maxAuditLimit = 500

type dashboardResponse struct {
	Posts       map[string]int64 `json:"posts"`
	Submissions map[string]int64 `json:"submissions"`
	Categories  int64            `json:"categories"`
}

// handleDashboard returns post and submission counts by status.
func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	var resp dashboardResponse

	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		var err error
		resp.Posts, err = s.store.CountPostsByStatus(ctx)

		return err
	})

	g.Go(func() error {
		var err error
		resp.Submissions, err = s.store.CountSubmissionsByStatus(ctx)

		return err
	})

	g.Go(func() error {
		var err error
		resp.Categories, err = s.store.CountCategories(ctx)

		return err
	})

	if err := g.Wait(); err != nil {
		s.writeError(w, err, "Failed to load dashboard counts")

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleAdminSubmissions lists submissions, optionally by status.
func (s *server) handleAdminSubmissions(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))

	switch status {
	case "", "ALL":
		status = ""
	case store.SubmissionPending, store.SubmissionApproved, store.SubmissionRejected:
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

		return
	}

	subs, err := s.store.ListSubmissions(r.Context(), status)
	if err != nil {
		s.writeError(w, err, "Failed to list submissions")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

// handleMergeDraft returns the prefilled merge form for the given ids.
func (s *server) handleMergeDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.flow.MergedDraft(r.Context(), workflow.SplitIDs(r.URL.Query().Get("ids")))
	if err != nil {
		s.writeError(w, err, "Failed to build merge draft")

		return
	}

	writeJSON(w, http.StatusOK, draft)
}

// handleAdminPosts lists every post regardless of status.
func (s *server) handleAdminPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.ListAllPosts(r.Context())
	if err != nil {
		s.writeError(w, err, "Failed to list posts")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// handleAdminAudit lists the most recent audit entries.
func (s *server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid_input"})

			return
		}

		limit = min(n, maxAuditLimit)
	}

	entries, err := s.store.ListAudit(r.Context(), limit)
	if err != nil {
		s.writeError(w, err, "Failed to list audit log")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
