package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

func (s *store) CreateSubmission(ctx context.Context, sub *Submission) error {
	if err := s.conn(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("creating submission: %w", translate(err))
	}

	return nil
}

func (s *store) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	var sub Submission
	if err := s.conn(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		return nil, fmt.Errorf("getting submission: %w", translate(err))
	}

	return &sub, nil
}

// ListSubmissions returns submissions newest first, optionally filtered
// by status.
func (s *store) ListSubmissions(
	ctx context.Context, status string,
) ([]Submission, error) {
	q := s.conn(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var subs []Submission
	if err := q.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}

	return subs, nil
}

// ListSubmissionsByIDs returns the matching submissions in creation order.
// Unknown ids are skipped.
func (s *store) ListSubmissionsByIDs(
	ctx context.Context, ids []string,
) ([]Submission, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var subs []Submission
	if err := s.conn(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC").
		Order("id ASC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("listing submissions by id: %w", err)
	}

	return subs, nil
}

func (s *store) UpdateSubmission(ctx context.Context, sub *Submission) error {
	result := s.conn(ctx).
		Model(&Submission{}).
		Where("id = ?", sub.ID).
		Select("title", "content", "status", "admin_notes", "reviewed_at").
		Updates(sub)
	if result.Error != nil {
		return fmt.Errorf("updating submission: %w", translate(result.Error))
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating submission: %w", ErrNotFound)
	}

	return nil
}

// SetSubmissionStatus updates the status and review time of every listed
// submission and returns the number of rows changed.
func (s *store) SetSubmissionStatus(
	ctx context.Context, ids []string, status string, reviewedAt *time.Time,
) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var reviewed any
	if reviewedAt != nil {
		reviewed = reviewedAt.UTC()
	}

	result := s.conn(ctx).
		Model(&Submission{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":      status,
			"reviewed_at": reviewed,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("setting submission status: %w", result.Error)
	}

	return result.RowsAffected, nil
}

// DeleteSubmission removes the submission. A post it originated keeps
// existing but loses the link.
func (s *store) DeleteSubmission(ctx context.Context, id string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Post{}).
			Where("source_submission_id = ?", id).
			Update("source_submission_id", nil).Error; err != nil {
			return fmt.Errorf("unlinking post: %w", err)
		}

		result := tx.Where("id = ?", id).Delete(&Submission{})
		if result.Error != nil {
			return fmt.Errorf("deleting submission: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("deleting submission: %w", ErrNotFound)
		}

		return nil
	})
}

func (s *store) CountSubmissionsByStatus(
	ctx context.Context,
) (map[string]int64, error) {
	return countByStatus(s.conn(ctx).Model(&Submission{}))
}
