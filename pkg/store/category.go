package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ListCategories returns all categories ordered for navigation.
func (s *store) ListCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := s.conn(ctx).
		Order("sort_order ASC").
		Order("name ASC").
		Find(&categories).Error; err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}

	return categories, nil
}

func (s *store) GetCategory(ctx context.Context, id string) (*Category, error) {
	var c Category
	if err := s.conn(ctx).
		Where("id = ?", id).
		First(&c).Error; err != nil {
		return nil, fmt.Errorf("getting category: %w", translate(err))
	}

	return &c, nil
}

func (s *store) CreateCategory(ctx context.Context, c *Category) error {
	if err := s.conn(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("creating category: %w", translate(err))
	}

	return nil
}

func (s *store) UpdateCategory(ctx context.Context, c *Category) error {
	result := s.conn(ctx).
		Model(&Category{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"name":       c.Name,
			"slug":       c.Slug,
			"sort_order": c.Order,
		})
	if result.Error != nil {
		return fmt.Errorf("updating category: %w", translate(result.Error))
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating category: %w", ErrNotFound)
	}

	return nil
}

// DeleteCategory removes the category and detaches its posts.
func (s *store) DeleteCategory(ctx context.Context, id string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Post{}).
			Where("category_id = ?", id).
			Update("category_id", nil).Error; err != nil {
			return fmt.Errorf("detaching posts: %w", err)
		}

		result := tx.Where("id = ?", id).Delete(&Category{})
		if result.Error != nil {
			return fmt.Errorf("deleting category: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("deleting category: %w", ErrNotFound)
		}

		return nil
	})
}

// UpsertCategory creates or updates the category identified by its slug.
func (s *store) UpsertCategory(ctx context.Context, c *Category) error {
	result := s.conn(ctx).
		Where("slug = ?", c.Slug).
		Assign(map[string]any{"name": c.Name, "sort_order": c.Order}).
		FirstOrCreate(c)
	if result.Error != nil {
		return fmt.Errorf("upserting category %q: %w", c.Slug, translate(result.Error))
	}

	return nil
}

// EnsureCategories inserts the defaults whose slug does not exist yet and
// leaves existing rows untouched. It returns the number inserted.
func (s *store) EnsureCategories(
	ctx context.Context, defaults []Category,
) (int, error) {
	var existing []string
	if err := s.conn(ctx).
		Model(&Category{}).
		Pluck("slug", &existing).Error; err != nil {
		return 0, fmt.Errorf("listing category slugs: %w", err)
	}

	have := make(map[string]struct{}, len(existing))
	for _, slug := range existing {
		have[slug] = struct{}{}
	}

	missing := make([]Category, 0, len(defaults))

	for _, c := range defaults {
		if _, ok := have[c.Slug]; ok {
			continue
		}

		missing = append(missing, Category{Name: c.Name, Slug: c.Slug, Order: c.Order})
	}

	if len(missing) == 0 {
		return 0, nil
	}

	if err := s.conn(ctx).Create(&missing).Error; err != nil {
		return 0, fmt.Errorf("inserting default categories: %w", translate(err))
	}

	s.log.WithField("count", len(missing)).Info("Inserted default categories")

	return len(missing), nil
}

func (s *store) CountCategories(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn(ctx).Model(&Category{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting categories: %w", err)
	}

	return n, nil
}
