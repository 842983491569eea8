package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/dentist-scheduling/internal/middleware"
	"github.com/harentsoaR/dentist-scheduling/internal/utils"
)

// Register mounts every route on r. auth guards the /api group.
func (h *Handler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	staffOnly := middleware.RequireRole(utils.RoleDentist, utils.RoleStaff)

	api := r.Group("/api")
	api.Use(auth)
	{
		api.GET("/providers/:id/slots", h.GetAvailableSlots)
		api.POST("/providers/:id/availability/recurring", staffOnly, h.CreateRecurringAvailability)

		api.POST("/appointments", h.CreateAppointment)
		api.GET("/appointments", h.GetAppointments)
		api.GET("/appointments/:id", h.GetAppointment)
		api.PUT("/appointments/:id/reschedule", staffOnly, h.RescheduleAppointment)
		api.PATCH("/appointments/:id/cancel", staffOnly, h.CancelAppointment)
		api.POST("/appointments/:id/insurance/verified", staffOnly, h.CompleteInsuranceVerification)

		rem := api.Group("/reminders", staffOnly)
		rem.GET("/settings", h.ReminderSettings)
		rem.POST("/start", h.StartReminders)
		rem.POST("/stop", h.StopReminders)
		rem.POST("/run", h.RunReminders)
	}
}
