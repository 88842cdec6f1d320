package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darshilaggarwal/ravello/internal/ledger"
	"github.com/darshilaggarwal/ravello/internal/models"
	"github.com/darshilaggarwal/ravello/internal/services"
)

type FairnessHandler struct {
	ledger *ledger.Ledger
	verify *services.VerifyService
}

func NewFairnessHandler(lg *ledger.Ledger, verify *services.VerifyService) *FairnessHandler {
	return &FairnessHandler{ledger: lg, verify: verify}
}

// Seeds returns the caller's current fairness state: the commitment to the
// hidden server seed, their client seed, and the next nonce.
func (h *FairnessHandler) Seeds(c *gin.Context) {
	userID := c.GetUint("user_id")

	user, err := h.ledger.EnsureSeeds(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"serverSeedHash": user.ServerSeedHash,
		"clientSeed":     user.ClientSeed,
		"nonce":          user.Nonce,
	})
}

type rotateSeedRequest struct {
	ClientSeed string `json:"clientSeed" binding:"required,min=1,max=64"`
}

// RotateSeed stores a player-chosen client seed. The server seed rotates with
// it and the retired one is returned, unlocking verification of every game
// played against the old pair.
func (h *FairnessHandler) RotateSeed(c *gin.Context) {
	userID := c.GetUint("user_id")

	var req rotateSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, retired, err := h.ledger.SetClientSeed(c.Request.Context(), userID, req.ClientSeed)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"retiredServerSeed": retired,
		"serverSeedHash":    user.ServerSeedHash,
		"clientSeed":        user.ClientSeed,
		"nonce":             user.Nonce,
	})
}

// Verify replays a finished game from revealed seeds. Open to anyone; it
// computes nothing secret.
func (h *FairnessHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.verify.Verify(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, res)
}

// VerifyGame replays a stored game against its revealed seed and reports
// whether the settled outcome holds up.
func (h *FairnessHandler) VerifyGame(c *gin.Context) {
	userID := c.GetUint("user_id")
	role := c.GetString("role")

	res, err := h.verify.VerifyGame(c.Request.Context(), userID, role, c.Param("gameId"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
