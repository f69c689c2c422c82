package handler

import (
	"bufio"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"jobboard/internal/api/dto"
	"jobboard/internal/api/model"
	"jobboard/internal/api/storage"
)

// List handles GET /images: queries the catalog by infra, name regex,
// and tags
func (h *ImageHandler) List(c *gin.Context) {
	filter, ok := imagesFilterFromValues(c.Request.URL.Query())
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "parameter infra is required",
		})
		return
	}

	images, err := h.images.Select(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to select images",
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"@type": "error",
			"error": "image query failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": imageDTOs(images)})
}

// Create handles POST /images: registers an image
func (h *ImageHandler) Create(c *gin.Context) {
	infra := c.Query("infra")
	name := c.Query("name")
	if infra == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "parameters infra and name are required",
		})
		return
	}

	isDefault := c.Query("is_default") == "true"
	tags := parseTags(c.Query("tags"))

	image, err := h.images.Create(c.Request.Context(), infra, name, isDefault, tags)
	if err != nil {
		h.logger.Error("failed to create image",
			slog.String("infra", infra),
			slog.String("name", name),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"@type": "error",
			"error": "image create failed",
		})
		return
	}

	h.logger.Info("image created",
		slog.String("infra", infra),
		slog.String("name", name),
		slog.Bool("is_default", isDefault),
	)

	c.JSON(http.StatusCreated, gin.H{"data": []dto.ImageDTO{dto.NewImageDTO(image)}})
}

// Search handles POST /images/search. The body is a uri-list: one query
// string per line; lines without an infra field are skipped. Results are
// the in-order union of the per-line queries.
func (h *ImageHandler) Search(c *gin.Context) {
	var results []model.Image

	scanner := bufio.NewScanner(c.Request.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		values, err := url.ParseQuery(line)
		if err != nil {
			continue
		}

		filter, ok := imagesFilterFromValues(values)
		if !ok {
			continue
		}

		images, err := h.images.Select(c.Request.Context(), filter)
		if err != nil {
			h.logger.Error("failed to search images",
				slog.Any("error", err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"@type": "error",
				"error": "image query failed",
			})
			return
		}

		results = append(results, images...)
	}

	c.JSON(http.StatusOK, gin.H{"data": imageDTOs(results)})
}

// imagesFilterFromValues builds a catalog filter from query values; ok is
// false when the required infra field is missing
func imagesFilterFromValues(values url.Values) (storage.ImagesFilter, bool) {
	infra := values.Get("infra")
	if infra == "" {
		return storage.ImagesFilter{}, false
	}

	filter := storage.ImagesFilter{
		Infra: infra,
		Name:  values.Get("name"),
		Tags:  parseTags(values.Get("tags")),
		Limit: 1,
	}

	if limit, err := strconv.Atoi(values.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}

	if values.Has("is_default") {
		isDefault := values.Get("is_default") == "true"
		filter.IsDefault = &isDefault
	}

	return filter, true
}

// parseTags decodes a "key:value,key:value" tag expression
func parseTags(raw string) map[string]string {
	if raw == "" {
		return nil
	}

	tags := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		tags[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return tags
}

func imageDTOs(images []model.Image) []dto.ImageDTO {
	dtos := make([]dto.ImageDTO, 0, len(images))
	for i := range images {
		dtos = append(dtos, dto.NewImageDTO(&images[i]))
	}
	return dtos
}
