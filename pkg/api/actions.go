package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

const (
	categoriesPage  = "/admin/categories"
	postsPage       = "/admin/posts"
	submissionsPage = "/admin/submissions"
	maxFormMemory   = 1 << 20
)

// formAction is an admin form post. Every outcome is a 303 redirect:
// to success when run returns nil, otherwise to failure.
type formAction struct {
	name    string
	success string
	failure string
	run     func(s *server, r *http.Request, actor workflow.Actor) error
}

type idForm struct {
	ID string `mapstructure:"id"`
}

type statusForm struct {
	ID     string `mapstructure:"id"`
	Status string `mapstructure:"status"`
}

var (
	actionCreateCategory = formAction{
		name: "category_create", success: categoriesPage, failure: categoriesPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f workflow.CategoryForm
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			_, err := s.flow.CreateCategory(r.Context(), actor, f)

			return err
		},
	}

	actionUpdateCategory = formAction{
		name: "category_update", success: categoriesPage, failure: categoriesPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f workflow.CategoryForm
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			return s.flow.UpdateCategory(r.Context(), actor, f)
		},
	}

	actionDeleteCategory = formAction{
		name: "category_delete", success: categoriesPage, failure: categoriesPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f idForm
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			return s.flow.DeleteCategory(r.Context(), actor, f.ID)
		},
	}

	actionSeedCategories = formAction{
		name: "categories_seed_defaults", success: categoriesPage, failure: categoriesPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			return s.flow.SeedDefaultCategories(r.Context(), actor)
		},
	}

	actionCreatePost = formAction{
		name: "post_create", success: postsPage, failure: postsPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f workflow.PostForm
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			_, err := s.flow.CreatePost(r.Context(), actor, f)

			return err
		},
	}

	actionUpdatePost = formAction{
		name: "post_update", success: postsPage, failure: postsPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f workflow.PostForm
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			_, err := s.flow.UpdatePost(r.Context(), actor, f)

			return err
		},
	}

	actionDeletePost = formAction{
		name: "post_delete", success: postsPage, failure: postsPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f idForm
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			return s.flow.DeletePost(r.Context(), actor, f.ID)
		},
	}

	actionUpdateSubmission = formAction{
		name: "submission_update", success: submissionsPage, failure: submissionsPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f workflow.SubmissionEdit
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			return s.flow.UpdateSubmission(r.Context(), actor, f)
		},
	}

	actionDeleteSubmission = formAction{
		name: "submission_delete", success: submissionsPage, failure: submissionsPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f idForm
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			return s.flow.DeleteSubmission(r.Context(), actor, f.ID)
		},
	}

	actionSetSubmissionStatus = formAction{
		name: "submission_set_status", success: submissionsPage, failure: submissionsPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f statusForm
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			return s.flow.SetStatus(r.Context(), actor, f.ID, f.Status)
		},
	}

	actionConvertSubmission = formAction{
		name: "submission_to_post", success: postsPage, failure: submissionsPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f workflow.PostFromSubmissionInput
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			_, err := s.flow.CreatePostFromSubmission(r.Context(), actor, f)

			return err
		},
	}

	actionMergeSubmissions = formAction{
		name: "submission_merge_to_post", success: postsPage, failure: submissionsPage,
		run: func(s *server, r *http.Request, actor workflow.Actor) error {
			var f workflow.MergeInput
			if err := decodeForm(r, &f); err != nil {
				return err
			}

			_, err := s.flow.CreatePostFromMerged(r.Context(), actor, f)

			return err
		},
	}
)

// formAction adapts a formAction to a handler.
func (s *server) formAction(a formAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.run(s, r, actorFor(r)); err != nil {
			log := s.log.WithError(err).WithField("action", a.name)

			if isRejection(err) {
				log.Warn("Admin action rejected")
			} else {
				log.Error("Admin action failed")
			}

			http.Redirect(w, r, a.failure, http.StatusSeeOther)

			return
		}

		s.log.WithFields(logrus.Fields{
			"action": a.name,
			"admin":  adminFromContext(r.Context()).Username,
		}).Debug("Admin action applied")

		http.Redirect(w, r, a.success, http.StatusSeeOther)
	}
}

// isRejection reports errors caused by the request rather than the
// server.
func isRejection(err error) bool {
	return errors.Is(err, workflow.ErrInvalidInput) ||
		errors.Is(err, workflow.ErrTooFewSubmissions) ||
		errors.Is(err, workflow.ErrSubmissionHasPost) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrConflict)
}

// checkboxHook decodes HTML checkbox values ("on") into booleans.
func checkboxHook(from, to reflect.Kind, data any) (any, error) {
	if from != reflect.String || to != reflect.Bool {
		return data, nil
	}

	switch strings.ToLower(strings.TrimSpace(data.(string))) {
	case "on", "yes", "checked":
		return true, nil
	}

	return data, nil
}

// decodeForm decodes the posted form fields into dst by their
// mapstructure tags. Repeated fields keep their first value.
func decodeForm(r *http.Request, dst any) error {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil &&
		!errors.Is(err, http.ErrNotMultipart) {
		return fmt.Errorf("%w: parsing form: %v", workflow.ErrInvalidInput, err)
	}

	values := make(map[string]any, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       checkboxHook,
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return fmt.Errorf("building form decoder: %w", err)
	}

	if err := dec.Decode(values); err != nil {
		return fmt.Errorf("%w: %v", workflow.ErrInvalidInput, err)
	}

	return nil
}
