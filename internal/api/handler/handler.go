package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/replayops/recfleet/internal/scheduler"
	"github.com/replayops/recfleet/internal/scheduler/domain"
	"github.com/replayops/recfleet/shared/postgresql"
)

// KickPublisher signals the dispatcher that the pending pool may have grown.
// Nil is fine: the dispatcher's periodic tick covers the gap.
type KickPublisher interface {
	PublishKick(ctx context.Context, reason string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Service    *scheduler.Service
	Dispatcher *scheduler.Dispatcher
	Bus        KickPublisher
	DBClient   *postgresql.Client
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrWorkerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// jobIDParam parses the :job_id path parameter.
func jobIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a positive integer"})
		return 0, false
	}
	return id, true
}
