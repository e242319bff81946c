package store

import (
	"context"
	"fmt"
)

func (s *store) CreateComment(ctx context.Context, c *Comment) error {
	if err := s.conn(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("creating comment: %w", translate(err))
	}

	return nil
}

// ListComments returns up to take comments on the post, newest first.
func (s *store) ListComments(
	ctx context.Context, postID string, take int,
) ([]Comment, error) {
	comments := make([]Comment, 0)
	if err := s.conn(ctx).
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Limit(take).
		Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}

	return comments, nil
}

func (s *store) CountComments(ctx context.Context, postID string) (int64, error) {
	var n int64
	if err := s.conn(ctx).
		Model(&Comment{}).
		Where("post_id = ?", postID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting comments: %w", err)
	}

	return n, nil
}
