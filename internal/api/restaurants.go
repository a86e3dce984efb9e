package api

import (
	"net/http"

	"restaurant-service/internal/service"

	"github.com/gin-gonic/gin"
)

// onboardRestaurant registers a restaurant on trial
func (h *Handler) onboardRestaurant(c *gin.Context) {
	var req service.OnboardRequest

	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}

	restaurant, err := h.restaurants.Onboard(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, restaurant)
}

// getRestaurant handles get restaurant by slug
func (h *Handler) getRestaurant(c *gin.Context) {
	restaurant, err := h.restaurants.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, restaurant)
}

// updateSettings applies a settings edit
func (h *Handler) updateSettings(c *gin.Context) {
	var req service.SettingsRequest

	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}

	restaurant, err := h.restaurants.UpdateSettings(c.Request.Context(), c.Param("slug"), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, restaurant)
}
