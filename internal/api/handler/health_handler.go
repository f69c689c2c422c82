package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

// Root handles GET /: a health payload with cache ping, database time,
// and version
func (h *HealthHandler) Root(c *gin.Context) {
	ctx := c.Request.Context()

	pong, err := h.redis.Ping(ctx)
	if err != nil {
		h.logger.Warn("redis ping failed",
			slog.Any("error", err),
		)
	}

	now, err := h.db.NowUTC(ctx)
	if err != nil {
		h.logger.Error("failed to read database time",
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"@type": "error",
			"error": "database unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"greeting": "hello, human 👋!",
		"pong":     pong,
		"now":      now.Format(time.RFC3339),
		"version":  h.version,
	})
}

// LatestStats handles GET /latest-stats: the raw cached stats blob
func (h *HealthHandler) LatestStats(c *gin.Context) {
	stats, err := h.redis.GetRDB().Get(c.Request.Context(), "latest-stats").Bytes()
	if err != nil && !errors.Is(err, goredis.Nil) {
		h.logger.Error("failed to read latest stats",
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"@type": "error",
			"error": "stats unavailable",
		})
		return
	}

	c.Data(http.StatusOK, "application/json", stats)
}
