// Package service implements the job allocation and delivery workflow:
// credential issuance, record creation, script fetch, image resolution,
// and payload assembly.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"jobboard/internal/api/model"
	"jobboard/internal/config"
)

// ErrInvalidJob is returned when a submitted job document cannot be
// persisted, e.g. when it carries no id.
var ErrInvalidJob = errors.New("invalid job document")

// JobStore is the persistence boundary for job records
type JobStore interface {
	Upsert(ctx context.Context, jobID, site string, data []byte) error
	Get(ctx context.Context, jobID, site string) (*model.Job, error)
	Delete(ctx context.Context, jobID, site string) error
	Allocate(ctx context.Context, jobID, site, queue, from string) (bool, error)
}

// ScriptFetcher produces the build script for a job payload
type ScriptFetcher interface {
	FetchScript(ctx context.Context, jobID, site string, jobData map[string]any) (string, error)
}

// ImageResolver resolves the machine image name for a job config
type ImageResolver interface {
	Resolve(ctx context.Context, config map[string]any, infra string) (string, error)
}

// EventPublisher emits allocation events to the message broker
type EventPublisher interface {
	Publish(ctx context.Context, body []byte, contentType string) error
}

// Service orchestrates the job workflow
type Service struct {
	jobs           JobStore
	scripts        ScriptFetcher
	images         ImageResolver
	signer         *Signer
	publisher      EventPublisher // nil when event publishing is disabled
	sites          map[string]config.SiteConfig
	buildConfig    map[string]any
	paranoidQueues []string
	logger         *slog.Logger
}

// New creates the workflow service
func New(jobs JobStore, scripts ScriptFetcher, images ImageResolver, signer *Signer, publisher EventPublisher, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		jobs:           jobs,
		scripts:        scripts,
		images:         images,
		signer:         signer,
		publisher:      publisher,
		sites:          cfg.Sites,
		buildConfig:    cfg.Build.Config,
		paranoidQueues: cfg.Build.ParanoidQueues,
		logger:         logger,
	}
}

// Allocation is the result of a successful queue assignment
type Allocation struct {
	JobID string `json:"id"`
	Queue string `json:"queue"`
}

// Allocate records a queue assignment for a job. Returns nil when no
// record exists for the job id, which callers treat as a no-op.
func (s *Service) Allocate(ctx context.Context, jobID, queue, site, from string) (*Allocation, error) {
	ok, err := s.jobs.Allocate(ctx, jobID, site, queue, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	s.publishAllocation(ctx, jobID, queue, site, from)

	return &Allocation{JobID: jobID, Queue: queue}, nil
}

// publishAllocation emits a best-effort allocation event; failures are
// logged and swallowed
func (s *Service) publishAllocation(ctx context.Context, jobID, queue, site, from string) {
	if s.publisher == nil {
		return
	}

	body, err := json.Marshal(map[string]any{
		"job_id":       jobID,
		"queue":        queue,
		"site":         site,
		"allocated_by": from,
		"allocated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	if err := s.publisher.Publish(ctx, body, "application/json"); err != nil {
		s.logger.Warn("failed to publish allocation event",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// CreateOrUpdate upserts a raw job descriptor document for a site
func (s *Service) CreateOrUpdate(ctx context.Context, job map[string]any, site string) error {
	jobID := JobIDString(job["id"])
	if jobID == "" {
		return ErrInvalidJob
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job document: %w", err)
	}

	return s.jobs.Upsert(ctx, jobID, site, data)
}

// Delete removes a job record. Deleting a job that does not exist is not
// an error.
func (s *Service) Delete(ctx context.Context, jobID, site string) error {
	return s.jobs.Delete(ctx, jobID, site)
}

func (s *Service) paranoid(queue string) bool {
	return slices.Contains(s.paranoidQueues, queue)
}

// JobIDString normalizes a job id value, which arrives as either a JSON
// number or a string
func JobIDString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
