package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darshilaggarwal/ravello/internal/ledger"
	"github.com/darshilaggarwal/ravello/internal/services"
)

// fail maps domain errors to HTTP status codes. Anything unmapped is a 500
// with a generic message; internals never leak to the client.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrBettingClosed),
		errors.Is(err, services.ErrNotRunning),
		errors.Is(err, services.ErrNothingToWin),
		errors.Is(err, services.ErrTileRevealed),
		errors.Is(err, services.ErrSeedNotRevealed),
		errors.Is(err, services.ErrUnknownGameType),
		errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyBet),
		errors.Is(err, services.ErrAlreadySettled),
		errors.Is(err, services.ErrActiveGame):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNoActiveBet),
		errors.Is(err, services.ErrNoActiveGame),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotYourGame):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrTransient):
		// Storage conflict, not a bug: the caller can simply retry.
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "temporary storage conflict",
			"retryable": true,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request",
		"details": err.Error(),
	})
}
