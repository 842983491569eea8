package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/dentist-scheduling/internal/middleware"
	"github.com/harentsoaR/dentist-scheduling/internal/models"
	"github.com/harentsoaR/dentist-scheduling/internal/scheduling"
	"github.com/harentsoaR/dentist-scheduling/internal/utils"
)

// --- CREATE APPOINTMENT ---
func (h *Handler) CreateAppointment(c *gin.Context) {
	var req struct {
		PatientID                     string `json:"patientId"`
		ProviderID                    string `json:"providerId"`
		Type                          string `json:"type"`
		StartTime                     string `json:"startTime"`
		DurationMinutes               int    `json:"durationMinutes"`
		Notes                         string `json:"notes"`
		IsOnline                      bool   `json:"isOnline"`
		RequiresInsuranceVerification bool   `json:"requiresInsuranceVerification"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		badRequest(c, "Invalid time format, use RFC3339")
		return
	}

	// Clients can only book for themselves.
	if c.GetString(middleware.ContextUserRole) == utils.RoleClient {
		userID := c.GetString(middleware.ContextUserID)
		if req.PatientID != "" && req.PatientID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Clients can only book their own appointments."})
			return
		}
		req.PatientID = userID
	}

	apt, err := h.Engine.ScheduleAppointment(c.Request.Context(), scheduling.ScheduleRequest{
		PatientID:                     req.PatientID,
		ProviderID:                    req.ProviderID,
		Type:                          models.AppointmentType(req.Type),
		StartTime:                     startTime,
		DurationMinutes:               req.DurationMinutes,
		Notes:                         req.Notes,
		IsOnline:                      req.IsOnline,
		RequiresInsuranceVerification: req.RequiresInsuranceVerification,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, apt)
}

// --- GET APPOINTMENTS (with Filtering) ---
// /api/appointments?providerId=dr-smith&date=2024-07-01&status=scheduled
func (h *Handler) GetAppointments(c *gin.Context) {
	date, err := time.ParseInLocation(models.DateLayout, c.Query("date"), h.Engine.Location())
	if err != nil {
		badRequest(c, "Invalid date, use YYYY-MM-DD")
		return
	}

	appointments, err := h.Engine.ListAppointments(c.Request.Context(), c.Query("providerId"), date, models.AppointmentStatus(c.Query("status")))
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Clients only see their own appointments.
	if c.GetString(middleware.ContextUserRole) == utils.RoleClient {
		userID := c.GetString(middleware.ContextUserID)
		own := make([]models.Appointment, 0, len(appointments))
		for _, apt := range appointments {
			if apt.PatientID == userID {
				own = append(own, apt)
			}
		}
		appointments = own
	}
	c.JSON(http.StatusOK, appointments)
}

// --- GET APPOINTMENT ---
func (h *Handler) GetAppointment(c *gin.Context) {
	apt, err := h.Engine.GetAppointment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if c.GetString(middleware.ContextUserRole) == utils.RoleClient && apt.PatientID != c.GetString(middleware.ContextUserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Permission denied."})
		return
	}
	c.JSON(http.StatusOK, apt)
}

// --- RESCHEDULE APPOINTMENT (Dentist/Staff Only) ---
func (h *Handler) RescheduleAppointment(c *gin.Context) {
	var req struct {
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	newStart, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		badRequest(c, "Invalid time format, use RFC3339")
		return
	}
	var newEnd time.Time
	if req.EndTime != "" {
		if newEnd, err = time.Parse(time.RFC3339, req.EndTime); err != nil {
			badRequest(c, "Invalid time format, use RFC3339")
			return
		}
	}

	apt, err := h.Engine.RescheduleAppointment(c.Request.Context(), c.Param("id"), newStart, newEnd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, apt)
}

// --- CANCEL APPOINTMENT (Dentist/Staff Only) ---
func (h *Handler) CancelAppointment(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body")
			return
		}
	}

	apt, err := h.Engine.CancelAppointment(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, apt)
}

// --- INSURANCE CALLBACK (Dentist/Staff Only) ---
func (h *Handler) CompleteInsuranceVerification(c *gin.Context) {
	apt, err := h.Engine.CompleteInsuranceVerification(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, apt)
}
