package handler

import (
	"context"
	"log/slog"

	"jobboard/internal/api/model"
	"jobboard/internal/api/storage"
	"jobboard/internal/service"
	"jobboard/shared/postgresql"
	"jobboard/shared/redis"
)

// JobService is the allocation/delivery workflow boundary
type JobService interface {
	Allocate(ctx context.Context, jobID, queue, site, from string) (*service.Allocation, error)
	CreateOrUpdate(ctx context.Context, job map[string]any, site string) error
	Fetch(ctx context.Context, jobID, site, infra string) (map[string]any, error)
	Delete(ctx context.Context, jobID, site string) error
}

// ImageCatalog is the images API persistence boundary
type ImageCatalog interface {
	Create(ctx context.Context, infra, name string, isDefault bool, tags map[string]string) (*model.Image, error)
	Select(ctx context.Context, filter storage.ImagesFilter) ([]model.Image, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Jobs     JobService
	Images   ImageCatalog
	DBClient *postgresql.Client
	Redis    *redis.Client
	Version  string
}

// JobHandler handles job allocation and delivery HTTP requests
type JobHandler struct {
	jobs   JobService
	logger *slog.Logger
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		jobs:   deps.Jobs,
		logger: deps.Logger,
	}
}

// ImageHandler handles image catalog HTTP requests
type ImageHandler struct {
	images ImageCatalog
	logger *slog.Logger
}

// NewImageHandler creates a new ImageHandler instance
func NewImageHandler(deps *Dependencies) *ImageHandler {
	return &ImageHandler{
		images: deps.Images,
		logger: deps.Logger,
	}
}

// HealthHandler serves the unauthenticated health and stats endpoints
type HealthHandler struct {
	db      *postgresql.Client
	redis   *redis.Client
	version string
	logger  *slog.Logger
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		db:      deps.DBClient,
		redis:   deps.Redis,
		version: deps.Version,
		logger:  deps.Logger,
	}
}
