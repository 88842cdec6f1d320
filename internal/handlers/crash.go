package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/darshilaggarwal/ravello/internal/models"
	"github.com/darshilaggarwal/ravello/internal/services"
	"github.com/darshilaggarwal/ravello/internal/store"
)

type CrashHandler struct {
	engine *services.CrashEngine
}

func NewCrashHandler(engine *services.CrashEngine) *CrashHandler {
	return &CrashHandler{engine: engine}
}

func (h *CrashHandler) PlaceBet(c *gin.Context) {
	userID := c.GetUint("user_id")
	username := c.GetString("username")

	var req models.CrashBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	bet, balance, err := h.engine.PlaceBet(c.Request.Context(), userID, username, &req)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"bet":     bet,
		"balance": balance,
	})
}

func (h *CrashHandler) Cashout(c *gin.Context) {
	userID := c.GetUint("user_id")

	res, err := h.engine.Cashout(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"multiplier": res.Multiplier,
		"winAmount":  res.WinAmount,
		"balance":    res.Balance,
	})
}

// Current returns the running round as seen by a spectator.
func (h *CrashHandler) Current(c *gin.Context) {
	snap, err := h.engine.Snapshot(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no round in progress"})
			return
		}
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *CrashHandler) History(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)

	entries, err := h.engine.History(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rounds": entries})
}
