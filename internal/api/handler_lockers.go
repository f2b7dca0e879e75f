package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smart-locker-backend/internal/model"
)

// lockerStatusResponse is the flattened structure for the status listing.
type lockerStatusResponse struct {
	ID         int64      `json:"id"`
	LockerCode string     `json:"lockerCode"`
	Status     string     `json:"status"`
	OccupiedAt *time.Time `json:"occupiedAt"`
	// InFlight reports whether the door is currently mid-operation,
	// waiting for the latch sensor to confirm closure.
	InFlight bool `json:"inFlight"`
}

// GetLockers handles GET /api/lockers: the whole bank with occupancy and
// in-flight session state.
func (h *Handler) GetLockers(c *gin.Context) {
	lockers, err := h.store.Lockers(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve lockers"})
		return
	}

	inFlight := make(map[string]bool)
	for _, code := range h.registry.Codes() {
		inFlight[code] = true
	}

	response := make([]lockerStatusResponse, 0, len(lockers))
	for _, l := range lockers {
		response = append(response, lockerStatusResponse{
			ID:         l.ID,
			LockerCode: l.LockerCode,
			Status:     l.Status,
			OccupiedAt: l.OccupiedAt,
			InFlight:   inFlight[l.LockerCode],
		})
	}
	c.JSON(http.StatusOK, response)
}

// GetHealth handles GET /api/health.
func (h *Handler) GetHealth(c *gin.Context) {
	var count int64
	if err := h.store.DB().Model(&model.Locker{}).Count(&count).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"lockers":         count,
		"active_sessions": h.registry.Len(),
	})
}
