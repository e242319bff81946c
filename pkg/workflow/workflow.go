// Package workflow implements the editorial rules of the blog: moderation
// of anonymous submissions, turning them into posts, merging several into
// one, and the admin maintenance of posts and categories. Every state
// change writes an audit entry in the same transaction.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gravewhisper/gravewhisper/pkg/store"
)

var (
	// ErrTooFewSubmissions is returned when a merge names fewer than two
	// existing submissions.
	ErrTooFewSubmissions = errors.New("merge needs at least two submissions")
	// ErrSubmissionHasPost is returned when converting a submission that
	// already originates a post.
	ErrSubmissionHasPost = errors.New("submission already has a post")
)

// Actor identifies who triggered an operation. All fields are optional.
type Actor struct {
	AdminUserID string
	IP          string
	UserAgent   string
}

// Event is an audit entry to record.
type Event struct {
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLocation sets the zone used to interpret datetime-local input.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		s.loc = loc
	}
}

// Service applies the editorial workflow on top of a store.
type Service struct {
	log   logrus.FieldLogger
	store store.Store
	now   func() time.Time
	loc   *time.Location
}

// New creates a workflow Service.
func New(log logrus.FieldLogger, st store.Store, opts ...Option) *Service {
	s := &Service{
		log:   log.WithField("component", "workflow"),
		store: st,
		now:   time.Now,
		loc:   time.Local,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// Record writes a standalone audit entry.
func (s *Service) Record(ctx context.Context, actor Actor, ev Event) error {
	return s.record(ctx, s.store, actor, ev)
}

func (s *Service) record(
	ctx context.Context, st store.Store, actor Actor, ev Event,
) error {
	entry := &store.AuditLog{
		Action:      ev.Action,
		EntityType:  ev.EntityType,
		EntityID:    store.Ptr(ev.EntityID),
		AdminUserID: store.Ptr(actor.AdminUserID),
		IP:          store.Ptr(actor.IP),
		UserAgent:   store.Ptr(actor.UserAgent),
		Metadata:    store.AuditMetadata(ev.Metadata),
	}

	if err := st.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("recording %s: %w", ev.Action, err)
	}

	return nil
}

// SubmissionInput is an anonymous story as posted by a reader. Optional
// fields are nil when absent.
type SubmissionInput struct {
	Title              string  `json:"title"`
	Content            string  `json:"content"`
	AuthorName         *string `json:"authorName"`
	Contact            *string `json:"contact"`
	CategorySuggestion *string `json:"categorySuggestion"`
	ThumbnailPath      *string `json:"thumbnailPath"`
	VideoPath          *string `json:"videoPath"`
}

// CreateSubmission validates and stores a PENDING submission. No audit
// entry is written for anonymous submissions.
func (s *Service) CreateSubmission(
	ctx context.Context, in SubmissionInput,
) (*store.Submission, error) {
	sub := &store.Submission{Status: store.SubmissionPending}

	var err error

	if sub.Title, err = text("title", in.Title, 2, 120); err != nil {
		return nil, err
	}

	if sub.Content, err = text("content", in.Content, 20, 20000); err != nil {
		return nil, err
	}

	if sub.AuthorName, err = optionalText("authorName", in.AuthorName, 1, 60); err != nil {
		return nil, err
	}

	if sub.Contact, err = optionalText("contact", in.Contact, 1, 120); err != nil {
		return nil, err
	}

	if sub.CategorySuggestion, err = optionalText(
		"categorySuggestion", in.CategorySuggestion, 1, 60,
	); err != nil {
		return nil, err
	}

	if sub.ThumbnailPath, err = optionalText("thumbnailPath", in.ThumbnailPath, 0, 300); err != nil {
		return nil, err
	}

	if sub.VideoPath, err = optionalText("videoPath", in.VideoPath, 0, 300); err != nil {
		return nil, err
	}

	// Empty media paths mean none.
	sub.ThumbnailPath = store.Ptr(store.Deref(sub.ThumbnailPath))
	sub.VideoPath = store.Ptr(store.Deref(sub.VideoPath))

	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// SubmissionEdit is the admin edit form of a submission.
type SubmissionEdit struct {
	ID         string `mapstructure:"id"`
	Title      string `mapstructure:"title"`
	Content    string `mapstructure:"content"`
	AdminNotes string `mapstructure:"adminNotes"`
	Status     string `mapstructure:"status"`
}

// reviewedAt is nil for PENDING and now for any decided status.
func (s *Service) reviewedAt(status string) *time.Time {
	if status == store.SubmissionPending {
		return nil
	}

	now := s.clock()

	return &now
}

// UpdateSubmission applies an admin edit.
func (s *Service) UpdateSubmission(
	ctx context.Context, actor Actor, in SubmissionEdit,
) error {
	if strings.TrimSpace(in.ID) == "" {
		return invalid("id", "is required")
	}

	title, err := text("title", in.Title, 2, 140)
	if err != nil {
		return err
	}

	content, err := text("content", in.Content, 20, 20000)
	if err != nil {
		return err
	}

	notes, err := blankable("adminNotes", in.AdminNotes, 2000)
	if err != nil {
		return err
	}

	status, err := oneOf("status", in.Status,
		store.SubmissionPending, store.SubmissionApproved, store.SubmissionRejected)
	if err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.UpdateSubmission(ctx, &store.Submission{
			ID:         in.ID,
			Title:      title,
			Content:    content,
			AdminNotes: notes,
			Status:     status,
			ReviewedAt: s.reviewedAt(status),
		}); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "submission_update",
			EntityType: "Submission",
			EntityID:   in.ID,
		})
	})
}

// DeleteSubmission removes a submission.
func (s *Service) DeleteSubmission(ctx context.Context, actor Actor, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("id", "is required")
	}

	return s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.DeleteSubmission(ctx, id); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "submission_delete",
			EntityType: "Submission",
			EntityID:   id,
		})
	})
}

// SetStatus changes the moderation status of a submission. Approving
// also publishes the submission: its existing post is republished, or a
// new post is created from it. The whole change is one transaction, and
// the unique source submission index rejects a concurrent duplicate post.
func (s *Service) SetStatus(
	ctx context.Context, actor Actor, id, status string,
) error {
	if strings.TrimSpace(id) == "" {
		return invalid("id", "is required")
	}

	if _, err := oneOf("status", status,
		store.SubmissionPending, store.SubmissionApproved, store.SubmissionRejected,
	); err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx store.Store) error {
		sub, err := tx.GetSubmission(ctx, id)
		if err != nil {
			return err
		}

		if _, err := tx.SetSubmissionStatus(
			ctx, []string{id}, status, s.reviewedAt(status),
		); err != nil {
			return err
		}

		if err := s.record(ctx, tx, actor, Event{
			Action:     "submission_set_status",
			EntityType: "Submission",
			EntityID:   id,
			Metadata:   map[string]any{"status": status},
		}); err != nil {
			return err
		}

		if status != store.SubmissionApproved {
			return nil
		}

		return s.publishSubmission(ctx, tx, actor, sub)
	})
}

func (s *Service) publishSubmission(
	ctx context.Context, tx store.Store, actor Actor, sub *store.Submission,
) error {
	now := s.clock()

	existing, err := tx.GetPostBySourceSubmission(ctx, sub.ID)

	switch {
	case err == nil:
		if err := tx.PublishPost(ctx, existing.ID, now); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "submission_publish_existing_post",
			EntityType: "Post",
			EntityID:   existing.ID,
			Metadata:   map[string]any{"submissionId": sub.ID},
		})
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	slug, err := ResolveUniqueSlug(ctx, postSlugExists(tx, ""), prefix(sub.ID, 10))
	if err != nil {
		return err
	}

	post := &store.Post{
		Title:              sub.Title,
		Slug:               slug,
		Content:            sub.Content,
		Status:             store.PostPublished,
		PublishedAt:        &now,
		ThumbnailPath:      sub.ThumbnailPath,
		VideoPath:          sub.VideoPath,
		SourceSubmissionID: &sub.ID,
	}

	if err := tx.CreatePost(ctx, post); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"submission": sub.ID,
		"post":       post.ID,
		"slug":       post.Slug,
	}).Info("Published submission as new post")

	return s.record(ctx, tx, actor, Event{
		Action:     "submission_publish_new_post",
		EntityType: "Post",
		EntityID:   post.ID,
		Metadata:   map[string]any{"submissionId": sub.ID},
	})
}

func postSlugExists(st store.Store, excludeID string) SlugExistsFunc {
	return func(ctx context.Context, slug string) (bool, error) {
		return st.PostSlugExists(ctx, slug, excludeID)
	}
}

// PostDraft is the editable part of a post built from submissions.
type PostDraft struct {
	Title       string `mapstructure:"title"`
	Slug        string `mapstructure:"slug"`
	Excerpt     string `mapstructure:"excerpt"`
	Content     string `mapstructure:"content"`
	CategoryID  string `mapstructure:"categoryId"`
	Status      string `mapstructure:"status"`
	PublishedAt string `mapstructure:"publishedAt"`
}

// PostFromSubmissionInput converts a single submission.
type PostFromSubmissionInput struct {
	SubmissionID string    `mapstructure:"submissionId"`
	Draft        PostDraft `mapstructure:",squash"`
}

// MergeInput converts several submissions into one post.
type MergeInput struct {
	// SubmissionIDs is a comma separated id list.
	SubmissionIDs string    `mapstructure:"submissionIds"`
	Draft         PostDraft `mapstructure:",squash"`
}

// validateDraft checks the draft and returns a post without media or
// origin set.
func (s *Service) validateDraft(d PostDraft) (*store.Post, error) {
	p := &store.Post{}

	var err error

	if p.Title, err = text("title", d.Title, 2, 140); err != nil {
		return nil, err
	}

	if p.Slug, err = text("slug", d.Slug, 1, 140); err != nil {
		return nil, err
	}

	if p.Excerpt, err = blankable("excerpt", d.Excerpt, 240); err != nil {
		return nil, err
	}

	if p.Content, err = text("content", d.Content, 1, 200000); err != nil {
		return nil, err
	}

	if p.Status, err = oneOf("status", d.Status, store.PostDraft, store.PostPublished); err != nil {
		return nil, err
	}

	p.CategoryID = store.Ptr(d.CategoryID)
	p.PublishedAt = s.publishedAt(p.Status, d.PublishedAt)

	return p, nil
}

// publishedAt is the requested time, or now, for PUBLISHED posts and nil
// for drafts.
func (s *Service) publishedAt(status, requested string) *time.Time {
	if status != store.PostPublished {
		return nil
	}

	if t := ParseDateTimeLocal(requested, s.loc); t != nil {
		return t
	}

	now := s.clock()

	return &now
}

// CreatePostFromSubmission converts one submission into a post and marks
// it APPROVED.
func (s *Service) CreatePostFromSubmission(
	ctx context.Context, actor Actor, in PostFromSubmissionInput,
) (*store.Post, error) {
	if strings.TrimSpace(in.SubmissionID) == "" {
		return nil, invalid("submissionId", "is required")
	}

	post, err := s.validateDraft(in.Draft)
	if err != nil {
		return nil, err
	}

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		sub, err := tx.GetSubmission(ctx, in.SubmissionID)
		if err != nil {
			return err
		}

		if _, err := tx.GetPostBySourceSubmission(ctx, sub.ID); err == nil {
			return ErrSubmissionHasPost
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if post.Slug, err = ResolveUniqueSlug(ctx, postSlugExists(tx, ""), post.Slug); err != nil {
			return err
		}

		post.ThumbnailPath = sub.ThumbnailPath
		post.VideoPath = sub.VideoPath
		post.SourceSubmissionID = &sub.ID

		if err := tx.CreatePost(ctx, post); err != nil {
			return err
		}

		now := s.clock()
		if _, err := tx.SetSubmissionStatus(
			ctx, []string{sub.ID}, store.SubmissionApproved, &now,
		); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "submission_to_post",
			EntityType: "Post",
			EntityID:   post.ID,
			Metadata:   map[string]any{"submissionId": sub.ID},
		})
	})
	if err != nil {
		return nil, err
	}

	return post, nil
}

// CreatePostFromMerged combines several submissions into one post and
// approves all of them. Media is taken from the first submission, in
// creation order, that has it. The origin link goes to the first
// submission that does not already originate a post.
func (s *Service) CreatePostFromMerged(
	ctx context.Context, actor Actor, in MergeInput,
) (*store.Post, error) {
	ids := SplitIDs(in.SubmissionIDs)
	if len(ids) < 2 {
		return nil, ErrTooFewSubmissions
	}

	post, err := s.validateDraft(in.Draft)
	if err != nil {
		return nil, err
	}

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		subs, err := tx.ListSubmissionsByIDs(ctx, ids)
		if err != nil {
			return err
		}

		if len(subs) < 2 {
			return ErrTooFewSubmissions
		}

		for i := range subs {
			if post.ThumbnailPath == nil && store.Deref(subs[i].ThumbnailPath) != "" {
				post.ThumbnailPath = subs[i].ThumbnailPath
			}

			if post.VideoPath == nil && store.Deref(subs[i].VideoPath) != "" {
				post.VideoPath = subs[i].VideoPath
			}
		}

		for i := range subs {
			_, err := tx.GetPostBySourceSubmission(ctx, subs[i].ID)
			if errors.Is(err, store.ErrNotFound) {
				post.SourceSubmissionID = &subs[i].ID

				break
			}

			if err != nil {
				return err
			}
		}

		if post.Slug, err = ResolveUniqueSlug(ctx, postSlugExists(tx, ""), post.Slug); err != nil {
			return err
		}

		if err := tx.CreatePost(ctx, post); err != nil {
			return err
		}

		now := s.clock()
		if _, err := tx.SetSubmissionStatus(ctx, ids, store.SubmissionApproved, &now); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "submission_merge_to_post",
			EntityType: "Post",
			EntityID:   post.ID,
			Metadata:   map[string]any{"submissionIds": ids},
		})
	})
	if err != nil {
		return nil, err
	}

	return post, nil
}

// MergeDraft is the prefilled form for a merge.
type MergeDraft struct {
	SubmissionIDs []string           `json:"submissionIds"`
	Submissions   []store.Submission `json:"submissions"`
	Slug          string             `json:"slug"`
	Content       string             `json:"content"`
}

// MergedDraft builds the default merged content for the given ids. Each
// submission becomes a numbered section, separated by horizontal rules.
func (s *Service) MergedDraft(ctx context.Context, ids []string) (*MergeDraft, error) {
	if len(ids) < 2 {
		return nil, ErrTooFewSubmissions
	}

	subs, err := s.store.ListSubmissionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	if len(subs) < 2 {
		return nil, ErrTooFewSubmissions
	}

	sections := make([]string, 0, len(subs))
	for i, sub := range subs {
		sections = append(sections, fmt.Sprintf(
			"## 投稿 %d\n\n**%s**\n\n%s\n", i+1, sub.Title, sub.Content,
		))
	}

	return &MergeDraft{
		SubmissionIDs: ids,
		Submissions:   subs,
		Slug:          prefix(ids[0], 10),
		Content:       strings.Join(sections, "\n---\n\n"),
	}, nil
}
