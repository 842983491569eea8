package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/harentsoaR/dentist-scheduling/internal/apperr"
	"github.com/harentsoaR/dentist-scheduling/internal/reminders"
	"github.com/harentsoaR/dentist-scheduling/internal/scheduling"
)

// Handler carries the services every route needs.
type Handler struct {
	Engine    *scheduling.Engine
	Reminders *reminders.Scheduler
	Logger    zerolog.Logger

	// baseCtx outlives requests; the reminder task started over HTTP runs under it.
	baseCtx context.Context
}

func NewHandler(ctx context.Context, engine *scheduling.Engine, rem *reminders.Scheduler, logger zerolog.Logger) *Handler {
	return &Handler{
		Engine:    engine,
		Reminders: rem,
		Logger:    logger.With().Str("component", "http").Logger(),
		baseCtx:   ctx,
	}
}

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:        http.StatusBadRequest,
	apperr.KindNotFound:          http.StatusNotFound,
	apperr.KindSlotUnavailable:   http.StatusConflict,
	apperr.KindInvalidTransition: http.StatusConflict,
	apperr.KindUpstream:          http.StatusBadGateway,
}

// respondError writes err as JSON with the status its kind maps to.
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	status, ok := statusByKind[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if appErr.Kind == apperr.KindUpstream {
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("upstream failure")
	}
	c.JSON(status, gin.H{"error": appErr.Message, "code": appErr.Kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": apperr.KindValidation})
}
