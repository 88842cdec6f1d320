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
)

func setupDice(t *testing.T) (*DiceService, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ledger.User{}, &ledger.GameRecord{}, &ledger.WalletTransaction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return NewDiceService(ledger.New(db, zap.NewNop()), zap.NewNop()), db
}

func newDiceUser(t *testing.T, db *gorm.DB, balance float64) *ledger.User {
	t.Helper()

	u := &ledger.User{Username: fmt.Sprintf("dice-%s-%d", t.Name(), time.Now().UnixNano()), Balance: balance}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestDiceMultiplier(t *testing.T) {
	// under 50: chance 50%, 100/50 * 0.97 = 1.94.
	if got := DiceMultiplier(50, models.DiceUnder); got != 1.94 {
		t.Errorf("expected 1.94, got %v", got)
	}
	// over 90: chance 10%, 100/10 * 0.97 = 9.70.
	if got := DiceMultiplier(90, models.DiceOver); got != 9.7 {
		t.Errorf("expected 9.7, got %v", got)
	}
	// under 99 pays barely above even money.
	if got := DiceMultiplier(99, models.DiceUnder); got != 0.98 {
		t.Errorf("expected 0.98, got %v", got)
	}
}

func TestDicePlay(t *testing.T) {
	svc, db := setupDice(t)
	ctx := context.Background()
	u := newDiceUser(t, db, 1000)

	res, err := svc.Play(ctx, u.ID, &models.DicePlayRequest{BetAmount: 100, Prediction: 50, Direction: models.DiceUnder})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if res.Result < 0 || res.Result > 100 {
		t.Errorf("roll %v out of range", res.Result)
	}
	if res.Nonce != 0 {
		t.Errorf("first play must use nonce 0, got %d", res.Nonce)
	}

	if res.Win {
		want := models.Payout(100, 1.94)
		if res.WinAmount != want {
			t.Errorf("expected win %v, got %v", want, res.WinAmount)
		}
		if res.Balance != 900+want {
			t.Errorf("expected balance %v, got %v", 900+want, res.Balance)
		}
	} else {
		if res.WinAmount != 0 || res.Balance != 900 {
			t.Errorf("loss must pay nothing: %+v", res)
		}
	}

	// The roll is reproducible from the published hash.
	if fairness.Outcome(res.Hash, 0, 100) != res.Result {
		t.Error("published hash does not reproduce the roll")
	}

	// One nonce per play.
	res2, err := svc.Play(ctx, u.ID, &models.DicePlayRequest{BetAmount: 10, Prediction: 50, Direction: models.DiceOver})
	if err != nil {
		t.Fatalf("second play: %v", err)
	}
	if res2.Nonce != 1 {
		t.Errorf("expected nonce 1 on second play, got %d", res2.Nonce)
	}
	if res2.Hash == res.Hash {
		t.Error("consecutive plays must not share a hash")
	}

	// Records carry the audit trail.
	rec, err := svc.ledger.GameRecord(ctx, res.GameID)
	if err != nil {
		t.Fatalf("game record: %v", err)
	}
	if res.Win && rec.ServerSeed != nil {
		t.Error("win must withhold the server seed")
	}
	if !res.Win && rec.ServerSeed == nil {
		t.Error("loss must reveal the server seed")
	}
}

func TestDicePlayInsufficientBalance(t *testing.T) {
	svc, db := setupDice(t)
	ctx := context.Background()
	u := newDiceUser(t, db, 5)

	_, err := svc.Play(ctx, u.ID, &models.DicePlayRequest{BetAmount: 100, Prediction: 50, Direction: models.DiceUnder})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	fresh, _ := svc.ledger.User(ctx, u.ID)
	if fresh.Balance != 5 || fresh.Nonce != 0 {
		t.Errorf("rejected play must leave user untouched: %+v", fresh)
	}
}

func TestDiceConcurrentPlaysConsumeDistinctNonces(t *testing.T) {
	svc, db := setupDice(t)
	ctx := context.Background()
	u := newDiceUser(t, db, 10_000)

	const players = 16
	var wg sync.WaitGroup
	wg.Add(players)
	for i := 0; i < players; i++ {
		go func() {
			defer wg.Done()
			// SQLite may refuse a concurrent writer; only settled plays
			// matter here.
			_, _ = svc.Play(ctx, u.ID, &models.DicePlayRequest{BetAmount: 1, Prediction: 50, Direction: models.DiceUnder})
		}()
	}
	wg.Wait()

	var recs []ledger.GameRecord
	if err := db.Where("user_id = ? AND game_type = ?", u.ID, "dice").Find(&recs).Error; err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("no play settled")
	}

	nonces := map[int64]bool{}
	hashes := map[string]bool{}
	for _, rec := range recs {
		if nonces[rec.Nonce] {
			t.Fatalf("nonce %d consumed by two settled plays", rec.Nonce)
		}
		nonces[rec.Nonce] = true
		if hashes[rec.FairnessHash] {
			t.Fatalf("two settled plays share hash %s", rec.FairnessHash)
		}
		hashes[rec.FairnessHash] = true
	}

	fresh, _ := svc.ledger.User(ctx, u.ID)
	if fresh.Nonce != int64(len(recs)) {
		t.Errorf("expected nonce %d after %d settled plays, got %d", len(recs), len(recs), fresh.Nonce)
	}
}

func TestDiceWinRateTracksChance(t *testing.T) {
	svc, db := setupDice(t)
	ctx := context.Background()
	u := newDiceUser(t, db, 1_000_000)

	wins := 0
	const rolls = 400
	for i := 0; i < rolls; i++ {
		res, err := svc.Play(ctx, u.ID, &models.DicePlayRequest{BetAmount: 1, Prediction: 50, Direction: models.DiceUnder})
		if err != nil {
			t.Fatalf("play %d: %v", i, err)
		}
		if res.Win {
			wins++
		}
	}

	// ~50% chance; wide tolerance keeps this stable.
	frac := float64(wins) / rolls
	if frac < 0.35 || frac > 0.65 {
		t.Errorf("win rate %.1f%% far from the 50%% chance", frac*100)
	}
}
