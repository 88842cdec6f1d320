package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darshilaggarwal/ravello/internal/models"
	"github.com/darshilaggarwal/ravello/internal/services"
)

type MinesHandler struct {
	engine *services.MinesEngine
}

func NewMinesHandler(engine *services.MinesEngine) *MinesHandler {
	return &MinesHandler{engine: engine}
}

func (h *MinesHandler) Start(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req models.MinesStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, balance, err := h.engine.Start(c.Request.Context(), userID, &req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"game":    session,
		"balance": balance,
	})
}

func (h *MinesHandler) Reveal(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req models.MinesRevealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.engine.Reveal(c.Request.Context(), userID, *req.Position)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *MinesHandler) Cashout(c *gin.Context) {
	userID := c.GetUint("user_id")

	res, err := h.engine.Cashout(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"multiplier":    res.Multiplier,
		"winAmount":     res.WinAmount,
		"minePositions": res.MinePositions,
		"balance":       res.Balance,
	})
}

// Active lets a reconnecting client resume its session.
func (h *MinesHandler) Active(c *gin.Context) {
	userID := c.GetUint("user_id")

	session, err := h.engine.ActiveGame(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"game": session})
}
