package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"jobboard/internal/api/model"
	"jobboard/internal/resolver"
	"jobboard/shared/postgresql"
)

// ImagesFilter selects catalog images for the images API
type ImagesFilter struct {
	Infra     string
	Name      string // matched as an anchored POSIX regex
	Tags      map[string]string
	IsDefault *bool
	Limit     int
}

// ImageStore persists and queries the image catalog
type ImageStore struct {
	db *sqlx.DB
}

// NewImageStore creates an ImageStore backed by the given PostgreSQL client
func NewImageStore(pg *postgresql.Client) *ImageStore {
	return &ImageStore{
		db: pg.GetDB(),
	}
}

// Create registers a new image
func (s *ImageStore) Create(ctx context.Context, infra, name string, isDefault bool, tags map[string]string) (*model.Image, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	var image model.Image
	query := `
		INSERT INTO images (infra, name, is_default, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, infra, name, is_default, tags, created_at, updated_at
	`

	err = s.db.GetContext(ctx, &image, query, infra, name, isDefault, tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to create image: %w", err)
	}

	return &image, nil
}

// Select queries the catalog with the given filter. First match wins
// semantics rely on the stable id ordering.
func (s *ImageStore) Select(ctx context.Context, filter ImagesFilter) ([]model.Image, error) {
	query := `
		SELECT id, infra, name, is_default, tags, created_at, updated_at
		FROM images
		WHERE infra = $1
	`
	args := []interface{}{filter.Infra}
	argIdx := 2

	if filter.Name != "" {
		query += fmt.Sprintf(" AND name ~ ('^' || $%d || '$')", argIdx)
		args = append(args, filter.Name)
		argIdx++
	}

	if len(filter.Tags) > 0 {
		tagsJSON, err := json.Marshal(filter.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tags: %w", err)
		}
		query += fmt.Sprintf(" AND tags @> $%d::jsonb", argIdx)
		args = append(args, tagsJSON)
		argIdx++
	}

	if filter.IsDefault != nil {
		query += fmt.Sprintf(" AND is_default = $%d", argIdx)
		args = append(args, *filter.IsDefault)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 1
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", argIdx)
	args = append(args, limit)

	var images []model.Image
	err := s.db.SelectContext(ctx, &images, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select images: %w", err)
	}

	return images, nil
}

// FindImageNames executes one resolution query against the catalog. This
// satisfies resolver.ImageFinder.
func (s *ImageStore) FindImageNames(ctx context.Context, q resolver.Query) ([]string, error) {
	tagsJSON, err := json.Marshal(q.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	query := `SELECT name FROM images WHERE infra = $1 AND tags @> $2::jsonb`
	args := []interface{}{q.Infra, tagsJSON}

	if q.IsDefault {
		query += " AND is_default = true"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}
	query += " ORDER BY id LIMIT $3"
	args = append(args, limit)

	var names []string
	err = s.db.SelectContext(ctx, &names, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query image names: %w", err)
	}

	return names, nil
}
