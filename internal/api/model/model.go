package model

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Job is a persisted job record keyed by (job_id, site). Data holds the
// raw job descriptor document as submitted on /jobs/add.
type Job struct {
	ID          int64          `db:"id"`
	JobID       string         `db:"job_id"`
	Site        string         `db:"site"`
	Queue       sql.NullString `db:"queue"`
	AllocatedBy sql.NullString `db:"allocated_by"`
	AllocatedAt sql.NullTime   `db:"allocated_at"`
	Data        types.JSONText `db:"data"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// DataDocument decodes the stored job descriptor document
func (j *Job) DataDocument() (map[string]any, error) {
	doc := map[string]any{}
	if len(j.Data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(j.Data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Image is a catalog entry for a machine image, tagged per infrastructure
type Image struct {
	ID        int64          `db:"id"`
	Infra     string         `db:"infra"`
	Name      string         `db:"name"`
	IsDefault bool           `db:"is_default"`
	Tags      types.JSONText `db:"tags"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// TagMap decodes the stored tags into a string mapping
func (i *Image) TagMap() (map[string]string, error) {
	tags := map[string]string{}
	if len(i.Tags) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(i.Tags, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
