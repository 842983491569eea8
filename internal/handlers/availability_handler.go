package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

// --- GET AVAILABLE SLOTS ---
// /api/providers/:id/slots?date=2024-07-01&duration=30 or &type=cleaning
func (h *Handler) GetAvailableSlots(c *gin.Context) {
	date, err := time.ParseInLocation(models.DateLayout, c.Query("date"), h.Engine.Location())
	if err != nil {
		badRequest(c, "Invalid date, use YYYY-MM-DD")
		return
	}

	var minutes int
	switch {
	case c.Query("duration") != "":
		if minutes, err = strconv.Atoi(c.Query("duration")); err != nil {
			badRequest(c, "duration must be a number of minutes")
			return
		}
	case c.Query("type") != "":
		var ok bool
		if minutes, ok = h.Engine.DurationFor(models.AppointmentType(c.Query("type"))); !ok {
			badRequest(c, "Unknown appointment type")
			return
		}
	default:
		badRequest(c, "duration or type is required")
		return
	}

	day, err := h.Engine.GetAvailableSlots(c.Request.Context(), c.Param("id"), date, minutes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, day)
}

// --- CREATE RECURRING AVAILABILITY (Dentist/Staff Only) ---
func (h *Handler) CreateRecurringAvailability(c *gin.Context) {
	var req struct {
		StartDate string `json:"startDate"`
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
		Pattern   struct {
			Frequency  string `json:"frequency"`
			Interval   int    `json:"interval"`
			EndDate    string `json:"endDate"`
			DaysOfWeek []int  `json:"daysOfWeek"`
		} `json:"pattern"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	loc := h.Engine.Location()
	startDate, err := time.ParseInLocation(models.DateLayout, req.StartDate, loc)
	if err != nil {
		badRequest(c, "Invalid startDate, use YYYY-MM-DD")
		return
	}
	pattern := models.RecurrencePattern{
		Frequency:  models.Frequency(req.Pattern.Frequency),
		Interval:   req.Pattern.Interval,
		DaysOfWeek: req.Pattern.DaysOfWeek,
	}
	if req.Pattern.EndDate != "" {
		end, err := time.ParseInLocation(models.DateLayout, req.Pattern.EndDate, loc)
		if err != nil {
			badRequest(c, "Invalid pattern.endDate, use YYYY-MM-DD")
			return
		}
		pattern.EndDate = &end
	}

	slots, err := h.Engine.CreateRecurringAvailability(c.Request.Context(), c.Param("id"), startDate, req.StartTime, req.EndTime, pattern)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if slots == nil {
		slots = make([]models.AvailabilitySlot, 0)
	}
	c.JSON(http.StatusCreated, slots)
}
