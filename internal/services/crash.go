package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
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

const (
	// ChannelCrash is the broadcast channel all crash events go to.
	ChannelCrash = "crash"

	crashHouseEdge     = 0.95
	crashMinMultiplier = 1.00
	crashMaxMultiplier = 100.00
)

// CrashConfig tunes the round timing. Tests shrink these to run full rounds
// in milliseconds.
type CrashConfig struct {
	BettingWindow time.Duration
	TickInterval  time.Duration
	Cooldown      time.Duration
	RecoveryDelay time.Duration
	// TickDeadline bounds the work of a single tick so one stuck settlement
	// cannot stall multiplier broadcast for everyone.
	TickDeadline time.Duration
}

func (c CrashConfig) withDefaults() CrashConfig {
	if c.BettingWindow <= 0 {
		c.BettingWindow = 10 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Second
	}
	if c.RecoveryDelay <= 0 {
		c.RecoveryDelay = 5 * time.Second
	}
	if c.TickDeadline <= 0 {
		c.TickDeadline = 2 * time.Second
	}
	return c
}

// CrashEngine runs the continuously ticking multi-player crash game. One
// scheduler goroutine per process drives all phase transitions; player-facing
// calls only read state and settle bets.
type CrashEngine struct {
	store  store.Store
	ledger *ledger.Ledger
	bc     Broadcaster
	log    *zap.Logger
	cfg    CrashConfig

	// settleMu serializes settlement paths (manual cashout, auto-cashout,
	// bust-on-crash) so a bet's check-then-set on status is race-free
	// within the process.
	settleMu sync.Mutex
}

func NewCrashEngine(st store.Store, lg *ledger.Ledger, bc Broadcaster, log *zap.Logger, cfg CrashConfig) *CrashEngine {
	if bc == nil {
		bc = NopBroadcaster{}
	}
	return &CrashEngine{
		store:  st,
		ledger: lg,
		bc:     bc,
		log:    log,
		cfg:    cfg.withDefaults(),
	}
}

// SetBroadcaster wires the event sink after construction. The websocket hub
// needs the engine for snapshots and the engine needs the hub for events;
// call this before Run.
func (e *CrashEngine) SetBroadcaster(bc Broadcaster) {
	if bc != nil {
		e.bc = bc
	}
}

// CrashPointFromHash maps a game hash to the round's crash point.
//
// Distribution contract v1 (versioned, do not change without bumping):
// the normalized hash value r in [0,1) selects a band
//
//	r < 0.50 -> [0.0, 1.5)   r < 0.80 -> [1.5, 2.0)   r < 0.95 -> [2, 5)
//	r < 0.99 -> [5, 10)      else     -> [10, 100)
//
// then a 5% house edge is applied and the result clamped to
// [1.00, 100.00] with two decimals.
func CrashPointFromHash(hash string) float64 {
	n, err := strconv.ParseUint(hash[:8], 16, 64)
	if err != nil {
		panic(fmt.Sprintf("crash: malformed hash %q", hash[:8]))
	}
	r := float64(n) / float64(0xffffffff)

	var point float64
	switch {
	case r < 0.50:
		point = (r / 0.50) * 1.5
	case r < 0.80:
		point = 1.5 + ((r-0.50)/0.30)*0.5
	case r < 0.95:
		point = 2 + ((r-0.80)/0.15)*3
	case r < 0.99:
		point = 5 + ((r-0.95)/0.04)*5
	default:
		point = 10 + ((r-0.99)/0.01)*90
	}

	point *= crashHouseEdge
	point = math.Max(crashMinMultiplier, math.Min(crashMaxMultiplier, point))
	return models.Round2(point)
}

// multiplierAt is the concave growth curve: starts at 1.00 and rises as
// (elapsed seconds)^0.7.
func multiplierAt(elapsed time.Duration) float64 {
	return models.Round2(1 + math.Pow(elapsed.Seconds(), 0.7))
}

// Run drives the betting -> running -> crashed cycle until ctx is cancelled.
// Any failure inside a round is logged and recovered by forcing re-entry to
// a fresh betting phase; the scheduler itself never dies.
func (e *CrashEngine) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := e.runRound(ctx); err != nil {
			e.log.Error("crash round failed, recovering", zap.Error(err))
			sleep(ctx, e.cfg.RecoveryDelay)
		}
	}
}

func (e *CrashEngine) runRound(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in crash round: %v", r)
		}
	}()

	round, err := e.enterBetting(ctx)
	if err != nil {
		return err
	}

	if !sleep(ctx, e.cfg.BettingWindow) {
		return nil
	}

	round, err = e.enterRunning(ctx, round)
	if err != nil {
		return err
	}

	start := time.Now()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			crashed, tickErr := e.tick(ctx, round, time.Since(start))
			if tickErr != nil {
				// A bad tick must not stop the scheduler.
				e.log.Error("crash tick error", zap.Error(tickErr),
					zap.String("round", round.RoundID))
				continue
			}
			if crashed {
				if err := e.enterCrashed(ctx, round); err != nil {
					return err
				}
				sleep(ctx, e.cfg.Cooldown)
				return nil
			}
		}
	}
}

func (e *CrashEngine) enterBetting(ctx context.Context) (*models.CrashRound, error) {
	serverSeed := fairness.NewServerSeed()
	clientSeed := fairness.NewClientSeed()
	nonce := time.Now().UnixMilli()
	hash := fairness.GameHash(serverSeed, clientSeed, nonce)

	now := time.Now()
	round := &models.CrashRound{
		RoundID:       models.GenerateRoundID(),
		Phase:         models.PhaseBetting,
		ServerSeed:    serverSeed,
		ClientSeed:    clientSeed,
		Nonce:         nonce,
		Hash:          hash,
		CrashPoint:    CrashPointFromHash(hash),
		StartedAt:     now.UnixMilli(),
		BettingEndsAt: now.Add(e.cfg.BettingWindow).UnixMilli(),
		Multiplier:    crashMinMultiplier,
	}

	if err := e.saveRound(ctx, round); err != nil {
		return nil, err
	}
	if err := e.store.Del(ctx, store.KeyCrashPlayers); err != nil {
		return nil, fmt.Errorf("clear players: %w", err)
	}

	e.bc.Emit(ChannelCrash, "game_status", map[string]any{
		"status":          models.PhaseBetting,
		"bettingPhaseEnd": round.BettingEndsAt,
		"startTime":       round.StartedAt,
	})

	e.log.Info("new crash round",
		zap.String("round", round.RoundID),
		zap.Float64("crashPoint", round.CrashPoint))
	return round, nil
}

func (e *CrashEngine) enterRunning(ctx context.Context, round *models.CrashRound) (*models.CrashRound, error) {
	// The scheduler is the only writer during transitions, but the stored
	// copy is authoritative: re-read in case another process superseded us.
	current, err := e.currentRound(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("round state missing at start of running phase")
		}
		return nil, err
	}
	if current.RoundID != round.RoundID {
		return nil, fmt.Errorf("round superseded: have %s, stored %s", round.RoundID, current.RoundID)
	}

	round.Phase = models.PhaseRunning
	round.StartedAt = time.Now().UnixMilli()
	if err := e.saveRound(ctx, round); err != nil {
		return nil, err
	}

	e.bc.Emit(ChannelCrash, "game_start", map[string]any{})
	return round, nil
}

func (e *CrashEngine) tick(ctx context.Context, round *models.CrashRound, elapsed time.Duration) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.TickDeadline)
	defer cancel()

	round.Multiplier = multiplierAt(elapsed)
	if err := e.saveRound(tctx, round); err != nil {
		return false, err
	}

	e.bc.Emit(ChannelCrash, "multiplier_update", map[string]any{
		"multiplier": round.Multiplier,
		"elapsed":    elapsed.Milliseconds(),
	})

	// Auto-cashouts run before the crash check so a threshold reached on
	// the crashing tick still pays.
	e.processAutoCashouts(tctx, round)

	return round.Multiplier >= round.CrashPoint, nil
}

func (e *CrashEngine) processAutoCashouts(ctx context.Context, round *models.CrashRound) {
	players, err := e.store.HGetAll(ctx, store.KeyCrashPlayers)
	if err != nil {
		e.log.Error("auto-cashout: read players", zap.Error(err))
		return
	}

	for field, raw := range players {
		if strings.HasSuffix(field, claimSuffix) {
			continue
		}
		var bet models.PlayerBet
		if err := json.Unmarshal([]byte(raw), &bet); err != nil {
			e.log.Error("auto-cashout: bad player record", zap.String("field", field))
			continue
		}
		if bet.Status != models.BetActive || bet.AutoCashout == nil {
			continue
		}
		if *bet.AutoCashout > round.Multiplier {
			continue
		}

		// Settle at the preset threshold, not the tick that noticed it.
		if _, err := e.settle(ctx, round, bet.UserID, *bet.AutoCashout, true); err != nil {
			if errors.Is(err, ErrAlreadySettled) {
				continue
			}
			e.log.Error("auto-cashout failed",
				zap.Uint("user", bet.UserID), zap.Error(err))
		}
	}
}

func (e *CrashEngine) enterCrashed(ctx context.Context, round *models.CrashRound) error {
	round.Phase = models.PhaseCrashed
	if err := e.saveRound(ctx, round); err != nil {
		return err
	}

	losers := e.bustActiveBets(ctx)

	entry := models.HistoryEntry{
		RoundID:    round.RoundID,
		CrashPoint: round.CrashPoint,
		ServerSeed: round.ServerSeed,
		ClientSeed: round.ClientSeed,
		Nonce:      round.Nonce,
		Hash:       round.Hash,
		EndedAt:    time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	if err := e.store.LPush(ctx, store.KeyCrashHistory, string(raw)); err != nil {
		return fmt.Errorf("push history: %w", err)
	}
	if err := e.store.LTrim(ctx, store.KeyCrashHistory, 0, store.CrashHistoryLimit-1); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	e.bc.Emit(ChannelCrash, "game_crash", map[string]any{
		"crashPoint": round.CrashPoint,
		"losers":     losers,
	})

	e.log.Info("crash round ended",
		zap.String("round", round.RoundID),
		zap.Float64("crashPoint", round.CrashPoint),
		zap.Int("busted", len(losers)))
	return nil
}

func (e *CrashEngine) bustActiveBets(ctx context.Context) []models.Loser {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()

	losers := []models.Loser{}
	players, err := e.store.HGetAll(ctx, store.KeyCrashPlayers)
	if err != nil {
		e.log.Error("bust: read players", zap.Error(err))
		return losers
	}

	for field, raw := range players {
		if strings.HasSuffix(field, claimSuffix) {
			continue
		}
		var bet models.PlayerBet
		if err := json.Unmarshal([]byte(raw), &bet); err != nil {
			continue
		}
		if bet.Status != models.BetActive {
			continue
		}
		// A claimed bet has a cashout in flight; its status flip may simply
		// not have landed yet.
		if _, claimed := players[claimField(bet.UserID)]; claimed {
			continue
		}

		bet.Status = models.BetBusted
		if err := e.savePlayer(ctx, &bet); err != nil {
			e.log.Error("bust: save player", zap.Uint("user", bet.UserID), zap.Error(err))
			continue
		}

		losers = append(losers, models.Loser{
			UserID:    bet.UserID,
			Username:  bet.Username,
			BetAmount: bet.BetAmount,
		})
	}
	return losers
}

// PlaceBet accepts a stake for the current round. The phase is re-read
// inside the debit transaction so a bet can never be accepted against a
// stale betting phase.
func (e *CrashEngine) PlaceBet(ctx context.Context, userID uint, username string, req *models.CrashBetRequest) (*models.PlayerBet, float64, error) {
	round, err := e.currentRound(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, 0, ErrBettingClosed
		}
		return nil, 0, err
	}
	if round.Phase != models.PhaseBetting {
		return nil, 0, ErrBettingClosed
	}

	bet := &models.PlayerBet{
		UserID:      userID,
		Username:    username,
		BetAmount:   req.BetAmount,
		AutoCashout: req.AutoWithdraw,
		Status:      models.BetActive,
	}
	raw, err := json.Marshal(bet)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal bet: %w", err)
	}

	// Register the slot first; one active bet per user per round.
	field := playerField(userID)
	ok, err := e.store.HSetNX(ctx, store.KeyCrashPlayers, field, string(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("register bet: %w", err)
	}
	if !ok {
		return nil, 0, ErrAlreadyBet
	}

	user, err := e.ledger.DebitBet(ctx, userID, req.BetAmount, "crash", round.RoundID,
		func(tx *gorm.DB, u *ledger.User) error {
			// Re-read the phase in the same critical section as the debit:
			// no stale-phase accept after the round starts.
			fresh, err := e.currentRound(ctx)
			if err != nil {
				return ErrBettingClosed
			}
			if fresh.RoundID != round.RoundID || fresh.Phase != models.PhaseBetting {
				return ErrBettingClosed
			}
			return nil
		})
	if err != nil {
		// Roll the registration back; the debit never happened.
		if delErr := e.store.HDel(ctx, store.KeyCrashPlayers, field); delErr != nil {
			e.log.Error("release bet slot", zap.Uint("user", userID), zap.Error(delErr))
		}
		return nil, 0, err
	}

	e.bc.Emit(ChannelCrash, "new_bet", map[string]any{
		"userId":       userID,
		"username":     username,
		"betAmount":    req.BetAmount,
		"autoWithdraw": req.AutoWithdraw,
	})

	return bet, user.Balance, nil
}

// Cashout settles the caller's bet at the round's current multiplier.
func (e *CrashEngine) Cashout(ctx context.Context, userID uint) (*models.CashoutResult, error) {
	round, err := e.currentRound(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotRunning
		}
		return nil, err
	}
	if round.Phase != models.PhaseRunning {
		return nil, ErrNotRunning
	}

	return e.settle(ctx, round, userID, round.Multiplier, false)
}

// settle is the single settlement path shared by manual and automatic
// cashouts. Idempotence is enforced in two independent places: the claim
// marker (HSetNX, atomic in the shared store, so concurrent processes cannot
// both pass) and the deterministic record ID (the ledger's primary key
// rejects a second settlement even if the store claim were lost). settleMu
// only serializes in-process callers so their errors stay deterministic.
func (e *CrashEngine) settle(ctx context.Context, round *models.CrashRound, userID uint, multiplier float64, isAuto bool) (*models.CashoutResult, error) {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()

	raw, err := e.store.HGet(ctx, store.KeyCrashPlayers, playerField(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoActiveBet
		}
		return nil, err
	}

	var bet models.PlayerBet
	if err := json.Unmarshal([]byte(raw), &bet); err != nil {
		return nil, fmt.Errorf("unmarshal bet: %w", err)
	}
	if bet.Status != models.BetActive {
		return nil, ErrAlreadySettled
	}

	// Claim the bet before money moves. Every process settling this bet
	// races on the same field; exactly one HSetNX wins.
	claimed, err := e.store.HSetNX(ctx, store.KeyCrashPlayers, claimField(userID), "1")
	if err != nil {
		return nil, fmt.Errorf("claim bet: %w", err)
	}
	if !claimed {
		return nil, ErrAlreadySettled
	}

	winAmount := models.Payout(bet.BetAmount, multiplier)

	detail, _ := json.Marshal(map[string]any{
		"roundId":     round.RoundID,
		"cashedOutAt": multiplier,
		"isAuto":      isAuto,
	})
	rec := &ledger.GameRecord{
		ID:         crashRecordID(round.RoundID, userID),
		UserID:     userID,
		GameType:   "crash",
		BetAmount:  bet.BetAmount,
		Outcome:    "win",
		WinAmount:  winAmount,
		Multiplier: multiplier,
		Detail:     datatypes.JSON(detail),
		ClientSeed: round.ClientSeed,
		// Server seed stays hidden until the round crashes; verifiers use
		// the round history entry once it is published.
		ServerSeed:   nil,
		Nonce:        round.Nonce,
		FairnessHash: round.Hash,
	}

	user, err := e.ledger.CreditWin(ctx, userID, winAmount, rec)
	if err != nil {
		// Release the claim so a transient failure can be retried. If the
		// credit actually committed elsewhere, the record's primary key
		// keeps any retry from paying again.
		if delErr := e.store.HDel(ctx, store.KeyCrashPlayers, claimField(userID)); delErr != nil {
			e.log.Error("release settle claim", zap.Uint("user", userID), zap.Error(delErr))
		}
		return nil, err
	}

	bet.Status = models.BetCashedOut
	bet.CashedOutAt = multiplier
	bet.WinAmount = winAmount
	if err := e.savePlayer(ctx, &bet); err != nil {
		// The credit committed; the player record is display state and the
		// status flip is retried by nobody, so log loudly.
		e.log.Error("settle: save player after credit",
			zap.Uint("user", userID), zap.Error(err))
	}

	e.bc.Emit(ChannelCrash, "player_cashout", map[string]any{
		"userId":     userID,
		"username":   bet.Username,
		"multiplier": multiplier,
		"winAmount":  winAmount,
		"isAuto":     isAuto,
	})

	return &models.CashoutResult{
		Multiplier: multiplier,
		WinAmount:  winAmount,
		Balance:    user.Balance,
	}, nil
}

// Snapshot returns the state a newly subscribing client needs. Seeds and the
// crash point never leave the server while the round is live.
func (e *CrashEngine) Snapshot(ctx context.Context) (*models.CrashSnapshot, error) {
	round, err := e.currentRound(ctx)
	if err != nil {
		return nil, err
	}

	players, err := e.store.HGetAll(ctx, store.KeyCrashPlayers)
	if err != nil {
		return nil, err
	}

	snap := &models.CrashSnapshot{
		RoundID:       round.RoundID,
		Phase:         round.Phase,
		Multiplier:    round.Multiplier,
		BettingEndsAt: round.BettingEndsAt,
		StartedAt:     round.StartedAt,
		Players:       []models.PlayerBet{},
	}
	for _, raw := range players {
		var bet models.PlayerBet
		if err := json.Unmarshal([]byte(raw), &bet); err != nil {
			continue
		}
		snap.Players = append(snap.Players, bet)
	}
	return snap, nil
}

// History returns the most recent finished rounds, newest first.
func (e *CrashEngine) History(ctx context.Context, limit int64) ([]models.HistoryEntry, error) {
	if limit <= 0 || limit > store.CrashHistoryLimit {
		limit = store.CrashHistoryLimit
	}

	raws, err := e.store.LRange(ctx, store.KeyCrashHistory, 0, limit-1)
	if err != nil {
		return nil, err
	}

	entries := make([]models.HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (e *CrashEngine) currentRound(ctx context.Context) (*models.CrashRound, error) {
	raw, err := e.store.Get(ctx, store.KeyCrashRound)
	if err != nil {
		return nil, err
	}
	var round models.CrashRound
	if err := json.Unmarshal([]byte(raw), &round); err != nil {
		return nil, fmt.Errorf("unmarshal round: %w", err)
	}
	return &round, nil
}

func (e *CrashEngine) saveRound(ctx context.Context, round *models.CrashRound) error {
	raw, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	if err := e.store.Set(ctx, store.KeyCrashRound, string(raw), 0); err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	return nil
}

func (e *CrashEngine) savePlayer(ctx context.Context, bet *models.PlayerBet) error {
	raw, err := json.Marshal(bet)
	if err != nil {
		return err
	}
	return e.store.HSet(ctx, store.KeyCrashPlayers, playerField(bet.UserID), string(raw))
}

const claimSuffix = ":claim"

func playerField(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

// claimField is the settlement claim marker for a user's bet, kept in the
// players hash so it is cleared with the round.
func claimField(userID uint) string {
	return playerField(userID) + claimSuffix
}

// crashRecordID is deterministic per bet: one round, one user, one possible
// settlement row.
func crashRecordID(roundID string, userID uint) string {
	return fmt.Sprintf("%s:%d", roundID, userID)
}

// sleep waits for d or until ctx is cancelled, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
