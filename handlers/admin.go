package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripwave/stores"
	"tripwave/utils"
)

// AdminHandler exposes the platform configuration surface.
type AdminHandler struct {
	Fees *stores.FeeConfig
}

func (h *AdminHandler) RegisterAdminRoutes(r *gin.Engine, adminAuth gin.HandlerFunc) {
	admin := r.Group("/api/v1/admin", adminAuth)
	{
		admin.GET("/platform-fee", h.GetPlatformFee)
		admin.PUT("/platform-fee", h.SetPlatformFee)
	}
}

// GET /api/v1/admin/platform-fee
func (h *AdminHandler) GetPlatformFee(c *gin.Context) {
	utils.RespondSuccess(c, http.StatusOK, "Platform fee", gin.H{
		"rate": h.Fees.Rate(c.Request.Context()),
	})
}

// PUT /api/v1/admin/platform-fee
func (h *AdminHandler) SetPlatformFee(c *gin.Context) {
	var body struct {
		Rate *float64 `json:"rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Fees.SetRate(c.Request.Context(), *body.Rate); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Fee rate must be between 0 and 0.5", err)
		return
	}

	utils.RespondSuccess(c, http.StatusOK, "Platform fee updated", gin.H{"rate": *body.Rate})
}
