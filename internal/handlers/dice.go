package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darshilaggarwal/ravello/internal/models"
	"github.com/darshilaggarwal/ravello/internal/services"
)

type DiceHandler struct {
	service *services.DiceService
}

func NewDiceHandler(service *services.DiceService) *DiceHandler {
	return &DiceHandler{service: service}
}

func (h *DiceHandler) Play(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req models.DicePlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.service.Play(c.Request.Context(), userID, &req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
