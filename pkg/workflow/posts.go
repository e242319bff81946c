package workflow

import (
	"context"
	"strings"

	"github.com/gravewhisper/gravewhisper/pkg/store"
)

// PostForm is the admin create and edit form of a post. ID is empty on
// create.
type PostForm struct {
	ID            string `mapstructure:"id"`
	Title         string `mapstructure:"title"`
	Slug          string `mapstructure:"slug"`
	Excerpt       string `mapstructure:"excerpt"`
	Content       string `mapstructure:"content"`
	CategoryID    string `mapstructure:"categoryId"`
	Status        string `mapstructure:"status"`
	DisplaySlot   string `mapstructure:"displaySlot"`
	DisplayOrder  int    `mapstructure:"displayOrder"`
	IsPinned      bool   `mapstructure:"isPinned"`
	PublishedAt   string `mapstructure:"publishedAt"`
	ThumbnailPath string `mapstructure:"thumbnailPath"`
	VideoPath     string `mapstructure:"videoPath"`
}

func (s *Service) validatePostForm(f PostForm) (*store.Post, error) {
	p, err := s.validateDraft(PostDraft{
		Title:       f.Title,
		Slug:        f.Slug,
		Excerpt:     f.Excerpt,
		Content:     f.Content,
		CategoryID:  f.CategoryID,
		Status:      f.Status,
		PublishedAt: f.PublishedAt,
	})
	if err != nil {
		return nil, err
	}

	slot := f.DisplaySlot
	if slot == "" {
		slot = store.SlotGrid
	}

	if p.DisplaySlot, err = oneOf("displaySlot", slot, store.SlotGrid, store.SlotFeatured); err != nil {
		return nil, err
	}

	if p.DisplayOrder, err = intRange("displayOrder", f.DisplayOrder, 0, 9999); err != nil {
		return nil, err
	}

	if p.ThumbnailPath, err = blankable("thumbnailPath", f.ThumbnailPath, 300); err != nil {
		return nil, err
	}

	if p.VideoPath, err = blankable("videoPath", f.VideoPath, 300); err != nil {
		return nil, err
	}

	p.ID = strings.TrimSpace(f.ID)
	p.IsPinned = f.IsPinned

	return p, nil
}

// CreatePost creates a post from the admin form. A taken slug is
// suffixed to stay unique.
func (s *Service) CreatePost(
	ctx context.Context, actor Actor, f PostForm,
) (*store.Post, error) {
	p, err := s.validatePostForm(f)
	if err != nil {
		return nil, err
	}

	p.ID = ""

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		if p.Slug, err = ResolveUniqueSlug(ctx, postSlugExists(tx, ""), p.Slug); err != nil {
			return err
		}

		if err := tx.CreatePost(ctx, p); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "post_create",
			EntityType: "Post",
			EntityID:   p.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// UpdatePost replaces the editable fields of a post.
func (s *Service) UpdatePost(
	ctx context.Context, actor Actor, f PostForm,
) (*store.Post, error) {
	if strings.TrimSpace(f.ID) == "" {
		return nil, invalid("id", "is required")
	}

	p, err := s.validatePostForm(f)
	if err != nil {
		return nil, err
	}

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		if p.Slug, err = ResolveUniqueSlug(ctx, postSlugExists(tx, p.ID), p.Slug); err != nil {
			return err
		}

		if err := tx.UpdatePost(ctx, p); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "post_update",
			EntityType: "Post",
			EntityID:   p.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// DeletePost removes a post and its comments.
func (s *Service) DeletePost(ctx context.Context, actor Actor, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("id", "is required")
	}

	return s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.DeletePost(ctx, id); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "post_delete",
			EntityType: "Post",
			EntityID:   id,
		})
	})
}

// CommentInput is a reader comment. AuthorName is nil when absent.
type CommentInput struct {
	AuthorName *string `json:"authorName"`
	Content    string  `json:"content"`
}

// AddComment attaches a comment to the visible post with the given slug.
func (s *Service) AddComment(
	ctx context.Context, actor Actor, slug string, in CommentInput,
) (*store.Comment, error) {
	author, err := optionalText("authorName", in.AuthorName, 1, 60)
	if err != nil {
		return nil, err
	}

	content, err := text("content", in.Content, 1, 1200)
	if err != nil {
		return nil, err
	}

	post, err := s.store.GetPublishedPostBySlug(ctx, slug, s.clock())
	if err != nil {
		return nil, err
	}

	c := &store.Comment{
		PostID:     post.ID,
		AuthorName: author,
		Content:    content,
	}

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateComment(ctx, c); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "post_comment_create",
			EntityType: "Comment",
			EntityID:   c.ID,
			Metadata:   map[string]any{"postId": post.ID, "slug": slug, "ip": actor.IP},
		})
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// RecordView increments the view counter of a visible post and returns
// the new count.
func (s *Service) RecordView(ctx context.Context, actor Actor, slug string) (int64, error) {
	post, err := s.store.GetPublishedPostBySlug(ctx, slug, s.clock())
	if err != nil {
		return 0, err
	}

	var views int64

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		if views, err = tx.IncrementPostViews(ctx, post.ID); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "post_view",
			EntityType: "Post",
			EntityID:   post.ID,
			Metadata:   map[string]any{"slug": slug, "ip": actor.IP},
		})
	})
	if err != nil {
		return 0, err
	}

	return views, nil
}
