package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tripwave/availability"
	"tripwave/db"
	"tripwave/middleware"
	"tripwave/models"
	"tripwave/realtime"
	"tripwave/stores"
	"tripwave/utils"
)

// DriverHandler serves the driver-facing availability, heartbeat,
// schedule and location endpoints.
type DriverHandler struct {
	Availability *availability.Service
	Locations    *stores.LocationStore
	Emitter      *realtime.Emitter
}

func (h *DriverHandler) RegisterDriverRoutes(r *gin.Engine, driverAuth gin.HandlerFunc) {
	driver := r.Group("/api/v1/driver", driverAuth)
	{
		driver.GET("/availability", h.GetAvailability)
		driver.PUT("/availability", h.SetAvailability)
		driver.POST("/heartbeat", h.Heartbeat)
		driver.GET("/availability/history", h.GetAvailabilityHistory)
		driver.POST("/schedules", h.CreateSchedule)
		driver.GET("/schedules", h.GetSchedules)
		driver.PUT("/location", h.UpdateLocation)
	}
}

// GET /api/v1/driver/availability
func (h *DriverHandler) GetAvailability(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	rec, effective, err := h.Availability.Get(c.Request.Context(), principal.ID)
	if err != nil {
		respondAvailabilityError(c, err)
		return
	}

	utils.RespondSuccess(c, http.StatusOK, "Driver availability", gin.H{
		"availability":       effective,
		"storedAvailability": rec.Availability,
		"lastActivityAt":     rec.LastActivityAt,
		"autoOfflineMinutes": rec.AutoOfflineMinutes,
	})
}

// PUT /api/v1/driver/availability
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	var body struct {
		Status string `json:"status" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rec, err := h.Availability.SetAvailability(c.Request.Context(), principal.ID, body.Status, body.Reason)
	if err != nil {
		respondAvailabilityError(c, err)
		return
	}

	utils.RespondSuccess(c, http.StatusOK, "Availability updated", gin.H{
		"availability":   rec.Availability,
		"lastActivityAt": rec.LastActivityAt,
	})
}

// POST /api/v1/driver/heartbeat
func (h *DriverHandler) Heartbeat(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	effective, err := h.Availability.Heartbeat(c.Request.Context(), principal.ID)
	if err != nil {
		respondAvailabilityError(c, err)
		return
	}

	utils.RespondSuccess(c, http.StatusOK, "Heartbeat recorded", gin.H{
		"availability": effective,
	})
}

// GET /api/v1/driver/availability/history
func (h *DriverHandler) GetAvailabilityHistory(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	rows, err := db.Pool.Query(c.Request.Context(),
		`SELECT id, "driverId", "previousStatus", "newStatus", reason, "triggeredBy", "createdAt"
		 FROM availability_history WHERE "driverId"=$1
		 ORDER BY "createdAt" DESC LIMIT 100`, principal.ID)
	if err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch history", err)
		return
	}
	defer rows.Close()

	history := []models.AvailabilityHistory{}
	for rows.Next() {
		var rec models.AvailabilityHistory
		if err := rows.Scan(&rec.ID, &rec.DriverID, &rec.PreviousStatus, &rec.NewStatus,
			&rec.Reason, &rec.TriggeredBy, &rec.CreatedAt); err != nil {
			utils.RespondError(c, http.StatusInternalServerError, "Failed to fetch history", err)
			return
		}
		history = append(history, rec)
	}

	utils.RespondSuccess(c, http.StatusOK, "Availability history", gin.H{"history": history})
}

// POST /api/v1/driver/schedules
func (h *DriverHandler) CreateSchedule(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	var body struct {
		Type     string    `json:"type" binding:"required"`
		StartsAt time.Time `json:"startsAt" binding:"required"`
		EndsAt   time.Time `json:"endsAt" binding:"required"`
		Reason   string    `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sched, err := h.Availability.CreateSchedule(c.Request.Context(), principal.ID,
		body.Type, body.StartsAt, body.EndsAt, body.Reason)
	if err != nil {
		respondAvailabilityError(c, err)
		return
	}

	utils.RespondSuccess(c, http.StatusCreated, "Schedule created", gin.H{"schedule": sched})
}

// GET /api/v1/driver/schedules
func (h *DriverHandler) GetSchedules(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	schedules, err := h.Availability.Schedules(c.Request.Context(), principal.ID)
	if err != nil {
		respondAvailabilityError(c, err)
		return
	}

	utils.RespondSuccess(c, http.StatusOK, "Schedules", gin.H{"schedules": schedules})
}

// PUT /api/v1/driver/location — the HTTP fallback for drivers whose
// socket connection is down; the push path lives on the socket server.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	principal := middleware.GetPrincipal(c)

	var body struct {
		Latitude  float64 `json:"latitude" binding:"required"`
		Longitude float64 `json:"longitude" binding:"required"`
		Heading   float64 `json:"heading"`
		Speed     float64 `json:"speed"`
		Accuracy  float64 `json:"accuracy"`
		TripID    string  `json:"tripId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loc := models.DriverLocation{
		DriverID:    principal.ID,
		Latitude:    body.Latitude,
		Longitude:   body.Longitude,
		Heading:     body.Heading,
		Speed:       body.Speed,
		Accuracy:    body.Accuracy,
		LastUpdated: time.Now().UTC(),
	}
	if err := h.Locations.Update(c.Request.Context(), loc); err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to store location", err)
		return
	}

	ev := realtime.NewEvent(realtime.EventDriverLocation, realtime.LocationPayload{
		DriverID:    loc.DriverID,
		TripID:      body.TripID,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Heading:     loc.Heading,
		Speed:       loc.Speed,
		Accuracy:    loc.Accuracy,
		LastUpdated: loc.LastUpdated,
	})
	ev.DriverID = principal.ID
	ev.TripID = body.TripID
	h.Emitter.Emit(ev)

	utils.RespondSuccess(c, http.StatusOK, "Location updated", nil)
}

func respondAvailabilityError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, availability.ErrForbidden):
		utils.RespondError(c, http.StatusForbidden, "Driver account is not approved", nil)
	case errors.Is(err, availability.ErrDriverNotFound):
		utils.RespondError(c, http.StatusNotFound, "Driver not found", nil)
	case errors.Is(err, availability.ErrScheduleConflict):
		utils.RespondError(c, http.StatusConflict, "Schedule overlaps an existing entry", nil)
	case errors.Is(err, availability.ErrInvalidStatus):
		utils.RespondError(c, http.StatusBadRequest, "Invalid availability status", nil)
	default:
		utils.RespondError(c, http.StatusInternalServerError, "Availability operation failed", err)
	}
}
