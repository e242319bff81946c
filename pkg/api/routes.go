package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.loadAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.corsMiddleware())

		r.Get("/health", s.handleHealth)
		r.Get("/categories", s.handleListCategories)

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", s.handleListPosts)
			r.Get("/featured", s.handleFeaturedPosts)
			r.Get("/random", s.handleRandomPost)
			r.Get("/{slug}", s.handleGetPost)
			r.Post("/{slug}/view", s.handleRecordView)
			r.Get("/{slug}/comments", s.handleListComments)
			r.Post("/{slug}/comments", s.handleCreateComment)
		})

		r.Route("/submissions", func(r chi.Router) {
			r.With(s.rateLimitMiddleware(s.submissionLimiter)).
				Post("/", s.handleCreateSubmission)
			r.Post("/upload-image", s.handleSubmissionUploadImage)
			r.Post("/upload-video", s.handleUploadVideo)
		})

		r.Route("/admin", func(r chi.Router) {
			// Credential endpoints share the auth token bucket.
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimitMiddleware(s.authLimiter))

				r.Post("/login", s.handleLogin)
				r.Post("/login/backdoor", s.handleBackdoorLogin)
				r.Post("/register", s.handleRegister)
			})

			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.handleMe)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdminJSON)

				r.Post("/upload-image", s.handleUploadImage)
				r.Get("/db-backup", s.handleDBBackup)
				r.Get("/db-status", s.handleDBStatus)
				r.Get("/dashboard", s.handleDashboard)
				r.Get("/submissions", s.handleAdminSubmissions)
				r.Get("/submissions/merge", s.handleMergeDraft)
				r.Get("/posts", s.handleAdminPosts)
				r.Get("/audit", s.handleAdminAudit)
			})
		})
	})

	// Redirect based form actions of the admin pages.
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdminForm)

		r.Post("/categories/create", s.formAction(actionCreateCategory))
		r.Post("/categories/update", s.formAction(actionUpdateCategory))
		r.Post("/categories/delete", s.formAction(actionDeleteCategory))
		r.Post("/categories/seed", s.formAction(actionSeedCategories))

		r.Post("/posts/create", s.formAction(actionCreatePost))
		r.Post("/posts/update", s.formAction(actionUpdatePost))
		r.Post("/posts/delete", s.formAction(actionDeletePost))

		r.Post("/submissions/update", s.formAction(actionUpdateSubmission))
		r.Post("/submissions/delete", s.formAction(actionDeleteSubmission))
		r.Post("/submissions/set-status", s.formAction(actionSetSubmissionStatus))
		r.Post("/submissions/convert", s.formAction(actionConvertSubmission))
		r.Post("/submissions/merge", s.formAction(actionMergeSubmissions))

		r.Post("/tools/restore", s.handleRestore)
	})

	if s.local != nil {
		r.Get(s.local.Prefix()+"/*", s.handleUploads)
	}

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
