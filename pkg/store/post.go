package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// publishedScope restricts a query to posts visible at now.
func publishedScope(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Where("status = ?", PostPublished).
			Where("published_at IS NOT NULL AND published_at <= ?", now.UTC())
	}
}

func excludeSlugsScope(slugs []string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if len(slugs) == 0 {
			return db
		}

		return db.Where("slug NOT IN ?", slugs)
	}
}

// ListPublishedPosts returns visible posts ordered pinned first, then by
// display order, then newest.
func (s *store) ListPublishedPosts(
	ctx context.Context, f PostFilter,
) ([]Post, error) {
	q := s.conn(ctx).
		Model(&Post{}).
		Preload("Category").
		Scopes(publishedScope(f.Now))

	if f.CategorySlug != "" {
		q = q.Where("category_id IN (?)",
			s.conn(ctx).Model(&Category{}).Select("id").Where("slug = ?", f.CategorySlug))
	}

	if f.Query != "" {
		like := "%" + f.Query + "%"
		q = q.Where("(title LIKE ? OR excerpt LIKE ? OR content LIKE ?)", like, like, like)
	}

	if f.Slot != "" {
		q = q.Where("display_slot = ?", f.Slot)
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var posts []Post
	if err := q.
		Order("is_pinned DESC").
		Order("display_order ASC").
		Order("published_at DESC").
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("listing published posts: %w", err)
	}

	return posts, nil
}

// ListAllPosts returns every post for the admin view, newest first.
func (s *store) ListAllPosts(ctx context.Context) ([]Post, error) {
	var posts []Post
	if err := s.conn(ctx).
		Preload("Category").
		Order("created_at DESC").
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}

	return posts, nil
}

func (s *store) GetPublishedPostBySlug(
	ctx context.Context, slug string, now time.Time,
) (*Post, error) {
	var p Post
	if err := s.conn(ctx).
		Preload("Category").
		Scopes(publishedScope(now)).
		Where("slug = ?", slug).
		First(&p).Error; err != nil {
		return nil, fmt.Errorf("getting post by slug: %w", translate(err))
	}

	return &p, nil
}

func (s *store) GetPostByID(ctx context.Context, id string) (*Post, error) {
	var p Post
	if err := s.conn(ctx).
		Preload("Category").
		Where("id = ?", id).
		First(&p).Error; err != nil {
		return nil, fmt.Errorf("getting post by id: %w", translate(err))
	}

	return &p, nil
}

func (s *store) GetPostBySourceSubmission(
	ctx context.Context, submissionID string,
) (*Post, error) {
	var p Post
	if err := s.conn(ctx).
		Where("source_submission_id = ?", submissionID).
		First(&p).Error; err != nil {
		return nil, fmt.Errorf("getting post by source submission: %w", translate(err))
	}

	return &p, nil
}

// PostSlugExists reports whether a post other than excludeID uses slug.
func (s *store) PostSlugExists(
	ctx context.Context, slug, excludeID string,
) (bool, error) {
	q := s.conn(ctx).Model(&Post{}).Where("slug = ?", slug)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("checking post slug: %w", err)
	}

	return n > 0, nil
}

func (s *store) CreatePost(ctx context.Context, p *Post) error {
	if err := s.conn(ctx).
		Omit(clause.Associations).
		Create(p).Error; err != nil {
		return fmt.Errorf("creating post: %w", translate(err))
	}

	return nil
}

func (s *store) UpdatePost(ctx context.Context, p *Post) error {
	result := s.conn(ctx).
		Model(&Post{}).
		Where("id = ?", p.ID).
		Select(
			"title", "slug", "excerpt", "content", "status",
			"display_slot", "display_order", "is_pinned", "published_at",
			"thumbnail_path", "video_path", "category_id",
		).
		Omit(clause.Associations).
		Updates(p)
	if result.Error != nil {
		return fmt.Errorf("updating post: %w", translate(result.Error))
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating post: %w", ErrNotFound)
	}

	return nil
}

// DeletePost removes the post together with its comments.
func (s *store) DeletePost(ctx context.Context, id string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&Comment{}).Error; err != nil {
			return fmt.Errorf("deleting post comments: %w", err)
		}

		result := tx.Where("id = ?", id).Delete(&Post{})
		if result.Error != nil {
			return fmt.Errorf("deleting post: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("deleting post: %w", ErrNotFound)
		}

		return nil
	})
}

// PublishPost marks the post PUBLISHED as of at.
func (s *store) PublishPost(ctx context.Context, id string, at time.Time) error {
	result := s.conn(ctx).
		Model(&Post{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       PostPublished,
			"published_at": at.UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("publishing post: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("publishing post: %w", ErrNotFound)
	}

	return nil
}

// IncrementPostViews bumps the view counter and returns the new value.
func (s *store) IncrementPostViews(ctx context.Context, id string) (int64, error) {
	var views int64

	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Post{}).
			Where("id = ?", id).
			UpdateColumn("views", gorm.Expr("views + ?", 1))
		if result.Error != nil {
			return result.Error
		}

		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		return tx.Model(&Post{}).
			Where("id = ?", id).
			Pluck("views", &views).Error
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing post views: %w", err)
	}

	return views, nil
}

func (s *store) CountPublishedPosts(
	ctx context.Context, now time.Time, excludeSlugs []string,
) (int64, error) {
	var n int64
	if err := s.conn(ctx).
		Model(&Post{}).
		Scopes(publishedScope(now), excludeSlugsScope(excludeSlugs)).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting published posts: %w", err)
	}

	return n, nil
}

// PublishedPostAt returns the visible post at offset in newest-first order.
func (s *store) PublishedPostAt(
	ctx context.Context, now time.Time, excludeSlugs []string, offset int,
) (*Post, error) {
	var posts []Post
	if err := s.conn(ctx).
		Preload("Category").
		Scopes(publishedScope(now), excludeSlugsScope(excludeSlugs)).
		Order("published_at DESC").
		Offset(offset).
		Limit(1).
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("getting published post at offset: %w", err)
	}

	if len(posts) == 0 {
		return nil, fmt.Errorf("getting published post at offset: %w", ErrNotFound)
	}

	return &posts[0], nil
}

func (s *store) CountPostsByStatus(ctx context.Context) (map[string]int64, error) {
	return countByStatus(s.conn(ctx).Model(&Post{}))
}

type statusCount struct {
	Status string
	N      int64
}

func countByStatus(q *gorm.DB) (map[string]int64, error) {
	var rows []statusCount
	if err := q.
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting by status: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}

	return out, nil
}
