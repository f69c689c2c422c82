package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"jobboard/internal/api/storage"
)

// rejectKeys are dropped from the top level of the delivered data document
var rejectKeys = []string{
	"cache_settings",
	"env_vars",
	"source",
	"ssh_key",
}

// selectKeys is the per-subdocument allow-list applied before delivery
var selectKeys = map[string][]string{
	"config": {
		"dist",
		"group",
		"language",
		"os",
	},
	"job": {
		"id",
		"number",
		"queued_at",
	},
	"repository": {
		"slug",
	},
}

// Fetch assembles the delivery payload for a job: the redacted stored
// document plus build script, short-lived credential, reporting URLs,
// and the resolved image name. A failed upstream script fetch surfaces
// as a *script.BuildScriptError.
func (s *Service) Fetch(ctx context.Context, jobID, site, infra string) (map[string]any, error) {
	if jobID == "" || site == "" {
		return nil, storage.ErrJobNotFound
	}

	s.logger.Info("fetching job from database",
		slog.String("job_id", jobID),
		slog.String("site", site),
		slog.String("infra", infra),
	)
	dbJob, err := s.jobs.Get(ctx, jobID, site)
	if err != nil {
		return nil, err
	}

	job, err := dbJob.DataDocument()
	if err != nil {
		return nil, fmt.Errorf("failed to decode job document: %w", err)
	}

	data, ok := job["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("job %s has no data document", jobID)
	}

	scriptPayload := make(map[string]any, len(data)+len(s.buildConfig)+1)
	for k, v := range data {
		scriptPayload[k] = v
	}
	for k, v := range s.buildConfig {
		scriptPayload[k] = v
	}
	scriptPayload["paranoid"] = s.paranoid(dbJob.Queue.String)

	s.logger.Info("fetching job script",
		slog.String("job_id", jobID),
		slog.String("site", site),
	)
	scriptBody, err := s.scripts.FetchScript(ctx, jobID, site, scriptPayload)
	if err != nil {
		return nil, err
	}

	s.logger.Info("creating jwt",
		slog.String("job_id", jobID),
		slog.String("site", site),
	)
	token, err := s.signer.JobToken(jobID, site)
	if err != nil {
		return nil, fmt.Errorf("failed to issue job credential: %w", err)
	}

	s.logger.Info("fetching image name",
		slog.String("job_id", jobID),
		slog.String("site", site),
		slog.String("infra", infra),
	)
	configDoc, _ := data["config"].(map[string]any)
	imageName, err := s.images.Resolve(ctx, configDoc, infra)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image name: %w", err)
	}

	siteCfg, ok := s.sites[site]
	if !ok {
		return nil, fmt.Errorf("no URL templates configured for site %q", site)
	}
	jobStateURL := expandJobURL(siteCfg.JobStateURL, jobID)
	logPartsURL := expandJobURL(siteCfg.LogPartsURL, jobID)

	job["job_script"] = map[string]any{
		"name":     "main",
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(scriptBody)),
	}
	job["job_state_url"] = jobStateURL
	job["log_parts_url"] = logPartsURL
	job["jwt"] = token
	job["image_name"] = imageName
	job["@type"] = "job_board_job"

	return cleaned(job), nil
}

// expandJobURL fills the {job_id} placeholder in a per-site URL template
func expandJobURL(template, jobID string) string {
	return strings.ReplaceAll(template, "{job_id}", jobID)
}

// cleaned redacts the delivery payload: disallowed top-level data fields
// are dropped entirely, and the retained subdocuments keep only their
// allow-listed fields
func cleaned(job map[string]any) map[string]any {
	data, ok := job["data"].(map[string]any)
	if !ok {
		return job
	}

	for _, key := range rejectKeys {
		delete(data, key)
	}

	for dataKey, keep := range selectKeys {
		sub, ok := data[dataKey].(map[string]any)
		if !ok {
			continue
		}
		for key := range sub {
			if !slices.Contains(keep, key) {
				delete(sub, key)
			}
		}
	}

	return job
}
