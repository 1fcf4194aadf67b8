package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nhle/mailsweep/internal/model"
)

// CreateCategory inserts a new category.
func (s *SQLiteStore) CreateCategory(ctx context.Context, category *model.Category) error {
	if strings.TrimSpace(category.Name) == "" {
		return fmt.Errorf("category name must not be empty")
	}
	if category.ID == "" {
		category.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO categories (id, user_id, name, description) VALUES (?, ?, ?, ?)",
		category.ID, category.UserID, category.Name, category.Description,
	)
	if err != nil {
		return fmt.Errorf("creating category: %w", err)
	}
	return nil
}

// CategoriesForUser returns the categories owned by userID, by name.
func (s *SQLiteStore) CategoriesForUser(ctx context.Context, userID string) ([]model.Category, error) {
	var categories []model.Category
	err := s.db.SelectContext(ctx, &categories,
		"SELECT * FROM categories WHERE user_id = ? ORDER BY name ASC", userID)
	if err != nil {
		return nil, fmt.Errorf("listing categories for user %s: %w", userID, err)
	}
	return categories, nil
}
