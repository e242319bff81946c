package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/gravewhisper/gravewhisper/pkg/store"
)

// DefaultCategories are installed on first use and by the seed command.
var DefaultCategories = []store.Category{
	{Name: "都市傳說", Slug: "urban-legends", Order: 1},
	{Name: "靈異事件", Slug: "paranormal", Order: 2},
	{Name: "未解之謎", Slug: "unsolved", Order: 3},
	{Name: "禁忌檔案", Slug: "forbidden", Order: 4},
	{Name: "詭異物件", Slug: "creepy-objects", Order: 5},
	{Name: "兇宅檔案", Slug: "haunted-houses", Order: 6},
	{Name: "靈異照片", Slug: "ghost-photos", Order: 7},
	{Name: "失蹤事件", Slug: "missing-persons", Order: 8},
	{Name: "怪談傳說", Slug: "kaidan", Order: 9},
	{Name: "神秘學", Slug: "occult", Order: 10},
	{Name: "民間信仰", Slug: "folk-beliefs", Order: 11},
	{Name: "禁忌儀式", Slug: "taboos-rituals", Order: 12},
	{Name: "超自然現象", Slug: "supernatural", Order: 13},
	{Name: "夜半怪聲", Slug: "midnight-sounds", Order: 14},
	{Name: "鏡面異象", Slug: "mirror-anomalies", Order: 15},
	{Name: "靈界生物", Slug: "entities", Order: 16},
	{Name: "靈媒紀錄", Slug: "medium-logs", Order: 17},
	{Name: "科學未解", Slug: "scientific-unexplained", Order: 18},
	{Name: "夢境與預兆", Slug: "dreams-omens", Order: 19},
	{Name: "黑暗歷史", Slug: "dark-history", Order: 20},
}

// CategoryForm is the admin create and edit form of a category.
type CategoryForm struct {
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Slug  string `mapstructure:"slug"`
	Order int    `mapstructure:"order"`
}

func validateCategory(f CategoryForm) (*store.Category, error) {
	c := &store.Category{ID: strings.TrimSpace(f.ID)}

	var err error

	if c.Name, err = text("name", f.Name, 1, 40); err != nil {
		return nil, err
	}

	if c.Slug, err = text("slug", f.Slug, 1, 40); err != nil {
		return nil, err
	}

	if c.Order, err = intRange("order", f.Order, 0, 9999); err != nil {
		return nil, err
	}

	return c, nil
}

// EnsureDefaultCategories inserts any missing default category. A
// concurrent insert of the same slug is not an error.
func (s *Service) EnsureDefaultCategories(ctx context.Context) error {
	_, err := s.store.EnsureCategories(ctx, DefaultCategories)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}

	return err
}

// CreateCategory adds a category.
func (s *Service) CreateCategory(
	ctx context.Context, actor Actor, f CategoryForm,
) (*store.Category, error) {
	c, err := validateCategory(f)
	if err != nil {
		return nil, err
	}

	c.ID = ""

	err = s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.CreateCategory(ctx, c); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "category_create",
			EntityType: "Category",
			EntityID:   c.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

// UpdateCategory renames, re-slugs or reorders a category.
func (s *Service) UpdateCategory(ctx context.Context, actor Actor, f CategoryForm) error {
	if strings.TrimSpace(f.ID) == "" {
		return invalid("id", "is required")
	}

	c, err := validateCategory(f)
	if err != nil {
		return err
	}

	return s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.UpdateCategory(ctx, c); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "category_update",
			EntityType: "Category",
			EntityID:   c.ID,
		})
	})
}

// DeleteCategory removes a category. Its posts become uncategorised.
func (s *Service) DeleteCategory(ctx context.Context, actor Actor, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("id", "is required")
	}

	return s.store.Transaction(ctx, func(tx store.Store) error {
		if err := tx.DeleteCategory(ctx, id); err != nil {
			return err
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "category_delete",
			EntityType: "Category",
			EntityID:   id,
		})
	})
}

// SeedDefaultCategories upserts every default category, restoring its
// name and order.
func (s *Service) SeedDefaultCategories(ctx context.Context, actor Actor) error {
	return s.store.Transaction(ctx, func(tx store.Store) error {
		for _, def := range DefaultCategories {
			c := def
			if err := tx.UpsertCategory(ctx, &c); err != nil {
				return err
			}
		}

		return s.record(ctx, tx, actor, Event{
			Action:     "categories_seed_defaults",
			EntityType: "Category",
			Metadata:   map[string]any{"count": len(DefaultCategories)},
		})
	})
}
