package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darshilaggarwal/ravello/internal/ledger"
)

type UserHandler struct {
	ledger *ledger.Ledger
}

func NewUserHandler(lg *ledger.Ledger) *UserHandler {
	return &UserHandler{ledger: lg}
}

func (h *UserHandler) Me(c *gin.Context) {
	userID := c.GetUint("user_id")

	user, err := h.ledger.User(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
		"balance":  user.Balance,
	})
}

func (h *UserHandler) Balance(c *gin.Context) {
	userID := c.GetUint("user_id")

	user, err := h.ledger.User(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": user.Balance})
}
