package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/dentist-scheduling/internal/reminders"
)

func (h *Handler) ReminderSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.Reminders.Settings())
}

func (h *Handler) StartReminders(c *gin.Context) {
	err := h.Reminders.Start(h.baseCtx)
	if errors.Is(err, reminders.ErrAlreadyStarted) {
		c.JSON(http.StatusConflict, gin.H{"error": "Reminder scheduler is already running"})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Reminders.Settings())
}

func (h *Handler) StopReminders(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := h.Reminders.Stop(ctx); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Timed out waiting for the reminder scan to finish"})
		return
	}
	c.JSON(http.StatusOK, h.Reminders.Settings())
}

// RunReminders scans for due reminders right away.
func (h *Handler) RunReminders(c *gin.Context) {
	stats, ran := h.Reminders.RunOnce(c.Request.Context())
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"error": "A reminder scan is already in progress"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
