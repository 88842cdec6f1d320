package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/darshilaggarwal/ravello/internal/fairness"
	"github.com/darshilaggarwal/ravello/internal/ledger"
	"github.com/darshilaggarwal/ravello/internal/models"
	"github.com/darshilaggarwal/ravello/internal/store"
)

const minesHouseEdge = 0.96

// MinesEngine runs per-user mines sessions. A session lives in the shared
// store under a per-user key for up to an hour; expiry ends the game exactly
// like a finished one.
type MinesEngine struct {
	store  store.Store
	ledger *ledger.Ledger
	log    *zap.Logger

	// locks serializes session mutations per user so an interleaved reveal
	// can never overwrite another's read-modify-write.
	locks sync.Map
}

func NewMinesEngine(st store.Store, lg *ledger.Ledger, log *zap.Logger) *MinesEngine {
	return &MinesEngine{store: st, ledger: lg, log: log}
}

func (e *MinesEngine) userLock(userID uint) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// MinePositions derives the mine layout from a game hash: a Fisher-Yates
// shuffle of the 25 cells driven by successive hash bytes, taking the first
// mineCount cells. Deterministic, so a revealed seed reproduces the board.
func MinePositions(hash string, mineCount int) []int {
	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) < mineCount {
		panic(fmt.Sprintf("mines: malformed hash %q", hash))
	}

	cells := make([]int, models.MinesTotalCells)
	for i := range cells {
		cells[i] = i
	}
	for i := 0; i < mineCount; i++ {
		j := i + int(raw[i])%(models.MinesTotalCells-i)
		cells[i], cells[j] = cells[j], cells[i]
	}

	mines := append([]int(nil), cells[:mineCount]...)
	sort.Ints(mines)
	return mines
}

// MinesMultiplier is the payout multiplier after revealed safe picks against
// mineCount mines, with the house edge applied. Never below 1x.
func MinesMultiplier(mineCount, revealed int) float64 {
	if revealed == 0 {
		return 1
	}
	base := float64(models.MinesTotalCells) / float64(models.MinesTotalCells-mineCount)
	m := math.Pow(base, float64(revealed)) * minesHouseEdge
	return math.Max(1, models.Round2(m))
}

// Start opens a new session, debiting the stake and consuming one nonce from
// the user's seed pair. One active session per user.
func (e *MinesEngine) Start(ctx context.Context, userID uint, req *models.MinesStartRequest) (*models.MinesSession, float64, error) {
	user, err := e.ledger.EnsureSeeds(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	// Reserve the session slot before money moves, same as a crash bet.
	key := fmt.Sprintf(store.KeyMinesSession, userID)
	ok, err := e.store.SetNX(ctx, key, "pending", store.TTLMinesSession)
	if err != nil {
		return nil, 0, fmt.Errorf("reserve session: %w", err)
	}
	if !ok {
		return nil, 0, ErrActiveGame
	}

	gameID := models.GenerateGameID()
	var nonce int64
	user, err = e.ledger.DebitBet(ctx, userID, req.BetAmount, "mines", gameID,
		func(tx *gorm.DB, u *ledger.User) error {
			nonce = u.Nonce
			u.Nonce++
			return nil
		})
	if err != nil {
		if delErr := e.store.Del(ctx, key); delErr != nil {
			e.log.Error("release mines slot", zap.Uint("user", userID), zap.Error(delErr))
		}
		return nil, 0, err
	}

	hash := fairness.GameHash(user.ServerSeed, user.ClientSeed, nonce)
	session := &models.MinesSession{
		GameID:        gameID,
		UserID:        userID,
		BetAmount:     req.BetAmount,
		MineCount:     req.MinesCount,
		ServerSeed:    user.ServerSeed,
		ClientSeed:    user.ClientSeed,
		Nonce:         nonce,
		Hash:          hash,
		MinePositions: MinePositions(hash, req.MinesCount),
		Revealed:      []int{},
		Status:        models.MinesActive,
		Multiplier:    1,
		StartedAt:     time.Now().UnixMilli(),
	}
	if err := e.saveSession(ctx, session); err != nil {
		// The stake is committed; losing the session state here would eat
		// it, so fail loudly and free the slot for support to resolve.
		e.log.Error("persist mines session after debit",
			zap.Uint("user", userID), zap.String("game", gameID), zap.Error(err))
		_ = e.store.Del(ctx, key)
		return nil, 0, err
	}

	e.log.Info("mines session started",
		zap.Uint("user", userID),
		zap.String("game", gameID),
		zap.Int("mines", req.MinesCount))
	return sanitizeSession(session), user.Balance, nil
}

// Reveal uncovers one tile. Hitting a mine ends the session and publishes the
// board and server seed; uncovering the last safe tile settles as a full win.
func (e *MinesEngine) Reveal(ctx context.Context, userID uint, pos int) (*models.MinesRevealResult, error) {
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	session, err := e.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session.HasRevealed(pos) {
		return nil, ErrTileRevealed
	}

	key := fmt.Sprintf(store.KeyMinesSession, userID)

	if session.IsMine(pos) {
		session.Status = models.MinesLost
		session.Revealed = append(session.Revealed, pos)

		detail, _ := json.Marshal(map[string]any{
			"mineCount": session.MineCount,
			"revealed":  session.Revealed,
			"mines":     session.MinePositions,
			"hitAt":     pos,
		})
		seed := session.ServerSeed
		rec := &ledger.GameRecord{
			ID:           session.GameID,
			UserID:       userID,
			GameType:     "mines",
			BetAmount:    session.BetAmount,
			Outcome:      "loss",
			Multiplier:   session.Multiplier,
			Detail:       datatypes.JSON(detail),
			ClientSeed:   session.ClientSeed,
			ServerSeed:   &seed,
			Nonce:        session.Nonce,
			FairnessHash: session.Hash,
		}
		if err := e.ledger.RecordLoss(ctx, rec); err != nil {
			return nil, err
		}
		if err := e.store.Del(ctx, key); err != nil {
			e.log.Error("clear lost mines session", zap.Uint("user", userID), zap.Error(err))
		}

		return &models.MinesRevealResult{
			IsMine:        true,
			Position:      pos,
			Multiplier:    0,
			Done:          true,
			MinePositions: session.MinePositions,
		}, nil
	}

	session.Revealed = append(session.Revealed, pos)
	session.Multiplier = MinesMultiplier(session.MineCount, len(session.Revealed))

	// Last safe tile: the board is cleared, settle at the full multiplier.
	if len(session.Revealed) == models.MinesTotalCells-session.MineCount {
		session.Status = models.MinesWon
		winAmount := models.Payout(session.BetAmount, session.Multiplier)

		user, err := e.settleWin(ctx, session, winAmount, "win", true)
		if err != nil {
			return nil, err
		}
		if err := e.store.Del(ctx, key); err != nil {
			e.log.Error("clear won mines session", zap.Uint("user", userID), zap.Error(err))
		}

		return &models.MinesRevealResult{
			IsMine:        false,
			Position:      pos,
			Multiplier:    session.Multiplier,
			Done:          true,
			WinAmount:     winAmount,
			MinePositions: session.MinePositions,
			Balance:       user.Balance,
		}, nil
	}

	if err := e.saveSession(ctx, session); err != nil {
		return nil, err
	}

	return &models.MinesRevealResult{
		IsMine:     false,
		Position:   pos,
		Multiplier: session.Multiplier,
		Done:       false,
	}, nil
}

// Cashout settles an active session at its current multiplier. At least one
// tile must be revealed. The server seed stays hidden: the pair is still live
// for the user's next games, rotation reveals it.
func (e *MinesEngine) Cashout(ctx context.Context, userID uint) (*models.MinesCashoutResult, error) {
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	session, err := e.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(session.Revealed) == 0 {
		return nil, ErrNothingToWin
	}

	session.Status = models.MinesCashedOut
	winAmount := models.Payout(session.BetAmount, session.Multiplier)

	user, err := e.settleWin(ctx, session, winAmount, "win", false)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf(store.KeyMinesSession, userID)
	if err := e.store.Del(ctx, key); err != nil {
		e.log.Error("clear cashed-out mines session", zap.Uint("user", userID), zap.Error(err))
	}

	return &models.MinesCashoutResult{
		Multiplier:    session.Multiplier,
		WinAmount:     winAmount,
		MinePositions: session.MinePositions,
		Balance:       user.Balance,
	}, nil
}

// ActiveGame returns the caller's in-flight session with the board hidden,
// for client resume after a reconnect.
func (e *MinesEngine) ActiveGame(ctx context.Context, userID uint) (*models.MinesSession, error) {
	session, err := e.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sanitizeSession(session), nil
}

func (e *MinesEngine) settleWin(ctx context.Context, session *models.MinesSession, winAmount float64, outcome string, revealSeed bool) (*ledger.User, error) {
	detail, _ := json.Marshal(map[string]any{
		"mineCount": session.MineCount,
		"revealed":  session.Revealed,
		"status":    session.Status,
	})
	rec := &ledger.GameRecord{
		ID:           session.GameID,
		UserID:       session.UserID,
		GameType:     "mines",
		BetAmount:    session.BetAmount,
		Outcome:      outcome,
		WinAmount:    winAmount,
		Multiplier:   session.Multiplier,
		Detail:       datatypes.JSON(detail),
		ClientSeed:   session.ClientSeed,
		Nonce:        session.Nonce,
		FairnessHash: session.Hash,
	}
	if revealSeed {
		seed := session.ServerSeed
		rec.ServerSeed = &seed
	}
	return e.ledger.CreditWin(ctx, session.UserID, winAmount, rec)
}

// activeSession loads the caller's session. An expired session reads exactly
// like a finished one.
func (e *MinesEngine) activeSession(ctx context.Context, userID uint) (*models.MinesSession, error) {
	raw, err := e.store.Get(ctx, fmt.Sprintf(store.KeyMinesSession, userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActiveGame
		}
		return nil, err
	}

	var session models.MinesSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("unmarshal mines session: %w", err)
	}
	if session.Status != models.MinesActive {
		return nil, ErrNoActiveGame
	}
	if session.UserID != userID {
		return nil, ErrNotYourGame
	}
	return &session, nil
}

func (e *MinesEngine) saveSession(ctx context.Context, session *models.MinesSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal mines session: %w", err)
	}
	key := fmt.Sprintf(store.KeyMinesSession, session.UserID)
	return e.store.Set(ctx, key, string(raw), store.TTLMinesSession)
}

// sanitizeSession strips everything the player must not see mid-game.
func sanitizeSession(s *models.MinesSession) *models.MinesSession {
	view := *s
	view.ServerSeed = ""
	view.MinePositions = nil
	return &view
}
