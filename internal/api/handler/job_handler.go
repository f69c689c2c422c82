package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"jobboard/internal/api/auth"
	"jobboard/internal/api/dto"
	"jobboard/internal/api/storage"
	"jobboard/internal/script"
	"jobboard/internal/service"
)

// queueNamePrefix is stripped from queue names before allocation
const queueNamePrefix = "builds."

// Allocate handles POST /jobs: records a queue assignment for the
// submitted job id
func (h *JobHandler) Allocate(c *gin.Context) {
	queue := strings.TrimSpace(c.Query("queue"))
	if queue == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"@type": "error",
			"error": "queue param required",
		})
		return
	}

	if _, ok := c.Request.Header["From"]; !ok {
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"@type": "error",
			"error": "missing from header",
		})
		return
	}

	queue = strings.TrimPrefix(queue, queueNamePrefix)
	from := c.GetHeader("From")
	site := auth.SiteFromContext(c)

	var req dto.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"@type": "error",
			"error": "invalid request body",
		})
		return
	}

	jobID := ""
	if len(req.Jobs) > 0 {
		jobID = service.JobIDString(req.Jobs[0])
	}

	jobs := []*service.Allocation{}
	if jobID != "" {
		alloc, err := h.jobs.Allocate(c.Request.Context(), jobID, queue, site, from)
		if err != nil {
			h.logger.Error("failed to allocate job",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"@type": "error",
				"error": "allocation failed",
			})
			return
		}
		if alloc != nil {
			jobs = append(jobs, alloc)
		}
	}

	h.logger.Info("allocated",
		slog.String("queue", queue),
		slog.String("from", from),
		slog.String("site", site),
	)

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"@queue": queue,
	})
}

// Add handles POST /jobs/add: upserts a raw job descriptor document
func (h *JobHandler) Add(c *gin.Context) {
	var job map[string]any
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"@type": "error",
			"error": "what",
		})
		return
	}

	site := auth.SiteFromContext(c)
	jobID := service.JobIDString(job["id"])

	h.logger.Debug("parsed job",
		slog.String("job_id", jobID),
		slog.String("site", site),
	)

	if err := h.jobs.CreateOrUpdate(c.Request.Context(), job, site); err != nil {
		h.logger.Error("failed to create or update job",
			slog.String("job_id", jobID),
			slog.String("site", site),
			slog.Any("error", err),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"@type": "error",
			"error": "what",
		})
		return
	}

	h.logger.Info("added",
		slog.String("job_id", jobID),
		slog.String("site", site),
	)

	c.Status(http.StatusCreated)
}

// Get handles GET /jobs/:job_id: delivers the full job payload
func (h *JobHandler) Get(c *gin.Context) {
	jobID := c.Param("job_id")
	site := auth.SiteFromContext(c)
	infra := auth.InfraFromContext(c)

	job, err := h.jobs.Fetch(c.Request.Context(), jobID, site, infra)

	if errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"@type": "error",
			"error": "no such job",
		})
		return
	}

	var scriptErr *script.BuildScriptError
	if errors.As(err, &scriptErr) {
		c.JSON(http.StatusFailedDependency, gin.H{
			"@type":          "error",
			"error":          "job script fetch error",
			"upstream_error": scriptErr.Error(),
		})
		return
	}

	if err != nil {
		h.logger.Error("failed to fetch job",
			slog.String("job_id", jobID),
			slog.String("site", site),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"@type": "error",
			"error": "job fetch failed",
		})
		return
	}

	h.logger.Info("fetched",
		slog.String("job_id", jobID),
		slog.String("site", site),
		slog.String("infra", infra),
	)

	c.JSON(http.StatusOK, job)
}

// Delete handles DELETE /jobs/:job_id. Deleting a job that does not
// exist succeeds.
func (h *JobHandler) Delete(c *gin.Context) {
	jobID := c.Param("job_id")
	site := auth.SiteFromContext(c)

	if err := h.jobs.Delete(c.Request.Context(), jobID, site); err != nil {
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"@type": "error",
			"error": "job delete failed",
		})
		return
	}

	h.logger.Info("deleted",
		slog.String("job_id", jobID),
		slog.String("site", site),
	)

	c.Status(http.StatusNoContent)
}
