package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/darshilaggarwal/ravello/internal/fairness"
	"github.com/darshilaggarwal/ravello/internal/ledger"
	"github.com/darshilaggarwal/ravello/internal/models"
	"github.com/darshilaggarwal/ravello/internal/store"
)

// recordingBroadcaster captures emitted events for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingBroadcaster) Emit(channel, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingBroadcaster) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func setupCrashEngine(t *testing.T) (*CrashEngine, *gorm.DB, *recordingBroadcaster) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ledger.User{}, &ledger.GameRecord{}, &ledger.WalletTransaction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bc := &recordingBroadcaster{}
	engine := NewCrashEngine(store.NewMemoryStore(), ledger.New(db, zap.NewNop()), bc, zap.NewNop(), CrashConfig{
		BettingWindow: 20 * time.Millisecond,
		TickInterval:  5 * time.Millisecond,
		Cooldown:      5 * time.Millisecond,
		RecoveryDelay: 5 * time.Millisecond,
	})
	return engine, db, bc
}

func newCrashUser(t *testing.T, db *gorm.DB, balance float64) *ledger.User {
	t.Helper()

	u := &ledger.User{Username: fmt.Sprintf("crash-%s-%d", t.Name(), time.Now().UnixNano()), Balance: balance}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestCrashPointFromHash(t *testing.T) {
	server := fairness.NewServerSeed()
	client := fairness.NewClientSeed()

	under2 := 0
	const rounds = 2000
	for nonce := int64(0); nonce < rounds; nonce++ {
		hash := fairness.GameHash(server, client, nonce)
		point := CrashPointFromHash(hash)

		if point < 1.00 || point > 100.00 {
			t.Fatalf("crash point %.2f out of range at nonce %d", point, nonce)
		}
		if point != models.Round2(point) {
			t.Fatalf("crash point %v not rounded to two decimals", point)
		}
		if again := CrashPointFromHash(hash); again != point {
			t.Fatalf("crash point not deterministic: %.2f vs %.2f", point, again)
		}
		if point < 2 {
			under2++
		}
	}

	// The banded distribution puts ~80% of raw values below 2.0x before the
	// house edge nudges it higher. Allow wide tolerance.
	frac := float64(under2) / rounds
	if frac < 0.70 || frac > 0.93 {
		t.Errorf("expected roughly 80%% of crash points below 2.0x, got %.1f%%", frac*100)
	}
}

func TestMultiplierCurve(t *testing.T) {
	if got := multiplierAt(0); got != 1.00 {
		t.Errorf("multiplier must start at 1.00, got %.2f", got)
	}
	if got := multiplierAt(time.Second); got != 2.00 {
		t.Errorf("expected 2.00 after one second, got %.2f", got)
	}

	prev := 0.0
	for ms := 0; ms <= 10000; ms += 250 {
		m := multiplierAt(time.Duration(ms) * time.Millisecond)
		if m < prev {
			t.Fatalf("multiplier not monotone at %dms: %.2f < %.2f", ms, m, prev)
		}
		prev = m
	}
}

func TestPlaceBetAndManualCashout(t *testing.T) {
	engine, db, bc := setupCrashEngine(t)
	ctx := context.Background()
	u := newCrashUser(t, db, 1000)

	round, err := engine.enterBetting(ctx)
	if err != nil {
		t.Fatalf("enter betting: %v", err)
	}

	bet, balance, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 100})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if balance != 900 {
		t.Errorf("expected balance 900 after debit, got %.2f", balance)
	}
	if bet.Status != models.BetActive {
		t.Errorf("expected active bet, got %q", bet.Status)
	}
	if !bc.has("new_bet") {
		t.Error("new_bet event not emitted")
	}

	// Cashing out in the betting phase is rejected.
	if _, err := engine.Cashout(ctx, u.ID); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}

	round, err = engine.enterRunning(ctx, round)
	if err != nil {
		t.Fatalf("enter running: %v", err)
	}

	// Advance the round to 1.5x and cash out: floor(100 * 1.5) = 150.
	round.Multiplier = 1.5
	if err := engine.saveRound(ctx, round); err != nil {
		t.Fatalf("save round: %v", err)
	}

	res, err := engine.Cashout(ctx, u.ID)
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if res.Multiplier != 1.5 || res.WinAmount != 150 {
		t.Errorf("expected 150 at 1.5x, got %.2f at %.2fx", res.WinAmount, res.Multiplier)
	}
	if res.Balance != 1050 {
		t.Errorf("expected balance 1050, got %.2f", res.Balance)
	}

	// Second cashout of the same bet must fail and not pay again.
	if _, err := engine.Cashout(ctx, u.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	fresh, _ := engine.ledger.User(ctx, u.ID)
	if fresh.Balance != 1050 {
		t.Errorf("double settlement changed balance: %.2f", fresh.Balance)
	}
	if !bc.has("player_cashout") {
		t.Error("player_cashout event not emitted")
	}
}

func TestAutoCashoutPaysAtThreshold(t *testing.T) {
	engine, db, _ := setupCrashEngine(t)
	ctx := context.Background()
	u := newCrashUser(t, db, 500)

	round, err := engine.enterBetting(ctx)
	if err != nil {
		t.Fatalf("enter betting: %v", err)
	}

	auto := 2.0
	if _, _, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 50, AutoWithdraw: &auto}); err != nil {
		t.Fatalf("place bet: %v", err)
	}

	round, err = engine.enterRunning(ctx, round)
	if err != nil {
		t.Fatalf("enter running: %v", err)
	}

	// The tick that notices the threshold shows 2.5x; the payout still uses
	// the preset 2.0x: floor(50 * 2.0) = 100.
	round.Multiplier = 2.5
	if err := engine.saveRound(ctx, round); err != nil {
		t.Fatalf("save round: %v", err)
	}
	engine.processAutoCashouts(ctx, round)

	fresh, err := engine.ledger.User(ctx, u.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if fresh.Balance != 550 {
		t.Errorf("expected balance 550 (500 - 50 + 100), got %.2f", fresh.Balance)
	}

	// The bet is settled; a manual cashout afterwards must fail.
	if _, err := engine.Cashout(ctx, u.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}

	// Re-processing the same tick must not pay twice.
	engine.processAutoCashouts(ctx, round)
	fresh, _ = engine.ledger.User(ctx, u.ID)
	if fresh.Balance != 550 {
		t.Errorf("repeated auto-cashout changed balance: %.2f", fresh.Balance)
	}
}

func TestPlaceBetRejections(t *testing.T) {
	engine, db, _ := setupCrashEngine(t)
	ctx := context.Background()
	u := newCrashUser(t, db, 100)

	// No round at all.
	if _, _, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 10}); !errors.Is(err, ErrBettingClosed) {
		t.Fatalf("expected ErrBettingClosed with no round, got %v", err)
	}

	round, err := engine.enterBetting(ctx)
	if err != nil {
		t.Fatalf("enter betting: %v", err)
	}

	// Insufficient balance releases the registration so a valid retry works.
	if _, _, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 500}); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, _, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 50}); err != nil {
		t.Fatalf("retry after rejected bet: %v", err)
	}

	// One bet per user per round.
	if _, _, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 10}); !errors.Is(err, ErrAlreadyBet) {
		t.Fatalf("expected ErrAlreadyBet, got %v", err)
	}

	// Once the round is running, new bets are closed.
	other := newCrashUser(t, db, 100)
	if _, err := engine.enterRunning(ctx, round); err != nil {
		t.Fatalf("enter running: %v", err)
	}
	if _, _, err := engine.PlaceBet(ctx, other.ID, other.Username, &models.CrashBetRequest{BetAmount: 10}); !errors.Is(err, ErrBettingClosed) {
		t.Fatalf("expected ErrBettingClosed while running, got %v", err)
	}
	fresh, _ := engine.ledger.User(ctx, other.ID)
	if fresh.Balance != 100 {
		t.Errorf("rejected bet must not debit, balance %.2f", fresh.Balance)
	}
}

func TestCrashBustsActiveBetsAndPublishesSeeds(t *testing.T) {
	engine, db, bc := setupCrashEngine(t)
	ctx := context.Background()
	u := newCrashUser(t, db, 200)

	round, err := engine.enterBetting(ctx)
	if err != nil {
		t.Fatalf("enter betting: %v", err)
	}
	if _, _, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 80}); err != nil {
		t.Fatalf("place bet: %v", err)
	}
	round, err = engine.enterRunning(ctx, round)
	if err != nil {
		t.Fatalf("enter running: %v", err)
	}

	if err := engine.enterCrashed(ctx, round); err != nil {
		t.Fatalf("enter crashed: %v", err)
	}
	if !bc.has("game_crash") {
		t.Error("game_crash event not emitted")
	}

	// Busted stake stays debited.
	fresh, _ := engine.ledger.User(ctx, u.ID)
	if fresh.Balance != 120 {
		t.Errorf("expected balance 120 after bust, got %.2f", fresh.Balance)
	}

	// The finished round is in history with everything needed to verify it.
	entries, err := engine.History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ServerSeed == "" || e.ClientSeed == "" || e.Hash == "" {
		t.Error("history entry must publish the round's fairness fields")
	}
	if fairness.GameHash(e.ServerSeed, e.ClientSeed, e.Nonce) != e.Hash {
		t.Error("published seeds do not reproduce the round hash")
	}
	if CrashPointFromHash(e.Hash) != e.CrashPoint {
		t.Error("published hash does not reproduce the crash point")
	}
}

func TestSnapshotHidesSeeds(t *testing.T) {
	engine, db, _ := setupCrashEngine(t)
	ctx := context.Background()
	u := newCrashUser(t, db, 100)

	round, err := engine.enterBetting(ctx)
	if err != nil {
		t.Fatalf("enter betting: %v", err)
	}
	if _, _, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 25}); err != nil {
		t.Fatalf("place bet: %v", err)
	}

	snap, err := engine.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.RoundID != round.RoundID || snap.Phase != models.PhaseBetting {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Players) != 1 || snap.Players[0].UserID != u.ID {
		t.Errorf("expected the placed bet in snapshot, got %+v", snap.Players)
	}
}

func TestSettleOncePerBetAcrossEngines(t *testing.T) {
	engine, db, _ := setupCrashEngine(t)
	ctx := context.Background()
	u := newCrashUser(t, db, 1000)

	// A second engine over the same store and ledger stands in for another
	// server process; its settleMu is independent, so only store-level and
	// DB-level guarantees separate the two.
	other := NewCrashEngine(engine.store, engine.ledger, &recordingBroadcaster{}, zap.NewNop(), engine.cfg)

	round, err := engine.enterBetting(ctx)
	if err != nil {
		t.Fatalf("enter betting: %v", err)
	}
	if _, _, err := engine.PlaceBet(ctx, u.ID, u.Username, &models.CrashBetRequest{BetAmount: 100}); err != nil {
		t.Fatalf("place bet: %v", err)
	}
	round, err = engine.enterRunning(ctx, round)
	if err != nil {
		t.Fatalf("enter running: %v", err)
	}
	round.Multiplier = 2.0
	if err := engine.saveRound(ctx, round); err != nil {
		t.Fatalf("save round: %v", err)
	}

	engines := []*CrashEngine{engine, other, engine, other}
	results := make(chan error, len(engines))
	var start sync.WaitGroup
	start.Add(1)
	for _, e := range engines {
		go func(e *CrashEngine) {
			start.Wait()
			_, err := e.settle(ctx, round, u.ID, 2.0, false)
			results <- err
		}(e)
	}
	start.Done()

	settled := 0
	for range engines {
		if err := <-results; err == nil {
			settled++
		} else if !errors.Is(err, ErrAlreadySettled) {
			t.Errorf("unexpected settle error: %v", err)
		}
	}
	if settled != 1 {
		t.Fatalf("expected exactly one settlement, got %d", settled)
	}

	fresh, _ := engine.ledger.User(ctx, u.ID)
	if fresh.Balance != 1100 {
		t.Errorf("expected balance 1100 after a single 2.0x payout, got %.2f", fresh.Balance)
	}

	var count int64
	db.Model(&ledger.GameRecord{}).Where("user_id = ? AND game_type = ?", u.ID, "crash").Count(&count)
	if count != 1 {
		t.Errorf("expected one settlement record, got %d", count)
	}
}

func TestRunRecoversAndCyclesRounds(t *testing.T) {
	engine, _, bc := setupCrashEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}

	if !bc.has("game_status") || !bc.has("game_start") {
		t.Error("scheduler did not cycle through betting and running phases")
	}
}
