package dto

import (
	"time"

	"jobboard/internal/api/model"
)

// ImageDTO is the images API representation of a catalog entry
type ImageDTO struct {
	ID        int64             `json:"id"`
	Infra     string            `json:"infra"`
	Name      string            `json:"name"`
	IsDefault bool              `json:"is_default"`
	Tags      map[string]string `json:"tags"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

// NewImageDTO converts a stored image record for the API
func NewImageDTO(image *model.Image) ImageDTO {
	tags, err := image.TagMap()
	if err != nil {
		tags = map[string]string{}
	}

	return ImageDTO{
		ID:        image.ID,
		Infra:     image.Infra,
		Name:      image.Name,
		IsDefault: image.IsDefault,
		Tags:      tags,
		CreatedAt: image.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: image.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
