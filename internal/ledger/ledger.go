// Package ledger owns balance mutation and game-record persistence. Every
// settlement executes as a single database transaction that re-reads the
// balance under a row lock, so a bet can never be left debited-but-unsettled
// or settled twice even under concurrent requests.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/darshilaggarwal/ravello/internal/fairness"
)

var (
	ErrUserNotFound        = errors.New("ledger: user not found")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrRecordNotFound      = errors.New("ledger: game record not found")

	// ErrTransient marks store failures that the caller may retry; the
	// transaction has been rolled back and no partial change is visible.
	ErrTransient = errors.New("ledger: transient store error")
)

type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
}

func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&User{}, &GameRecord{}, &WalletTransaction{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func New(db *gorm.DB, log *zap.Logger) *Ledger {
	return &Ledger{db: db, log: log}
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// lockUser re-reads the user row FOR UPDATE inside tx. Balance decisions are
// only ever made against this locked row, never a previously cached value.
// SQLite serializes writers on its own and rejects FOR UPDATE, so the clause
// is applied on Postgres only.
func lockUser(tx *gorm.DB, userID uint) (*User, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var u User
	err := q.First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, transient(err)
	}
	return &u, nil
}

// DebitBet takes the stake from the user's balance and writes the bet audit
// row atomically. The check callback runs inside the same transaction, after
// the row lock is held, so callers re-verify external preconditions (round
// phase, session state) in the same critical section as the debit. check may
// also mutate the locked user row, e.g. consuming the seed nonce; mutations
// are persisted together with the debit. The returned user reflects the
// post-debit state.
func (l *Ledger) DebitBet(ctx context.Context, userID uint, amount float64, gameType, gameID string, check func(tx *gorm.DB, u *User) error) (*User, error) {
	var out *User
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUser(tx, userID)
		if err != nil {
			return err
		}

		if check != nil {
			if err := check(tx, u); err != nil {
				return err
			}
		}

		if u.Balance < amount {
			return ErrInsufficientBalance
		}

		before := u.Balance
		u.Balance -= amount
		if err := tx.Save(u).Error; err != nil {
			return transient(err)
		}

		wt := WalletTransaction{
			UserID:        userID,
			Type:          TransactionBet,
			GameType:      gameType,
			GameID:        gameID,
			Amount:        -amount,
			BalanceBefore: before,
			BalanceAfter:  u.Balance,
			Description:   fmt.Sprintf("%s bet", gameType),
		}
		if err := tx.Create(&wt).Error; err != nil {
			return transient(err)
		}

		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreditWin pays out a settled bet and persists its GameRecord and win audit
// row in one atomic unit.
func (l *Ledger) CreditWin(ctx context.Context, userID uint, winAmount float64, rec *GameRecord) (*User, error) {
	var out *User
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUser(tx, userID)
		if err != nil {
			return err
		}

		before := u.Balance
		u.Balance += winAmount
		if err := tx.Save(u).Error; err != nil {
			return transient(err)
		}

		if err := tx.Create(rec).Error; err != nil {
			return transient(err)
		}

		wt := WalletTransaction{
			UserID:        userID,
			Type:          TransactionWin,
			GameType:      rec.GameType,
			GameID:        rec.ID,
			Amount:        winAmount,
			BalanceBefore: before,
			BalanceAfter:  u.Balance,
			Description:   fmt.Sprintf("%s win - %.2fx", rec.GameType, rec.Multiplier),
		}
		if err := tx.Create(&wt).Error; err != nil {
			return transient(err)
		}

		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordLoss persists the GameRecord of a lost game. The stake was already
// debited when the bet was placed, so no balance change happens here.
func (l *Ledger) RecordLoss(ctx context.Context, rec *GameRecord) error {
	if err := l.db.WithContext(ctx).Create(rec).Error; err != nil {
		return transient(err)
	}
	return nil
}

// SettleInstant handles single-shot games (dice): debit, outcome derivation,
// optional credit and the GameRecord land in one transaction so there is no
// intermediate state a crash could expose. play runs under the row lock with
// the user's current seed pair and nonce; concurrent plays by one user each
// see a distinct nonce because the increment commits with the settlement.
func (l *Ledger) SettleInstant(ctx context.Context, userID uint, betAmount float64, play func(u *User) (winAmount float64, rec *GameRecord, err error)) (*User, error) {
	var out *User
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if u.Balance < betAmount {
			return ErrInsufficientBalance
		}

		winAmount, rec, err := play(u)
		if err != nil {
			return err
		}

		before := u.Balance
		u.Balance -= betAmount
		u.Balance += winAmount
		// Seeds were consumed for this play.
		u.Nonce++
		if err := tx.Save(u).Error; err != nil {
			return transient(err)
		}

		if err := tx.Create(rec).Error; err != nil {
			return transient(err)
		}

		wt := WalletTransaction{
			UserID:        userID,
			Type:          TransactionBet,
			GameType:      rec.GameType,
			GameID:        rec.ID,
			Amount:        winAmount - betAmount,
			BalanceBefore: before,
			BalanceAfter:  u.Balance,
			Description:   fmt.Sprintf("%s %s", rec.GameType, rec.Outcome),
		}
		if err := tx.Create(&wt).Error; err != nil {
			return transient(err)
		}

		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) User(ctx context.Context, userID uint) (*User, error) {
	var u User
	err := l.db.WithContext(ctx).First(&u, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, transient(err)
	}
	return &u, nil
}

// EnsureSeeds backfills the fairness seed pair for users created before one
// was assigned, and returns the user.
func (l *Ledger) EnsureSeeds(ctx context.Context, userID uint) (*User, error) {
	u, err := l.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.ServerSeed != "" && u.ClientSeed != "" {
		return u, nil
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lu, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if lu.ClientSeed == "" {
			lu.ClientSeed = fairness.NewClientSeed()
		}
		if lu.ServerSeed == "" {
			lu.ServerSeed = fairness.NewServerSeed()
			lu.ServerSeedHash = fairness.ServerSeedHash(lu.ServerSeed)
		}
		if err := tx.Save(lu).Error; err != nil {
			return transient(err)
		}
		u = lu
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SetClientSeed stores a player-chosen client seed and rotates the server
// seed so the old pair can never be reused for a future outcome. The retired
// server seed is returned: once rotated out it is safe to publish, and it is
// what lets the player verify every game played against the old pair.
func (l *Ledger) SetClientSeed(ctx context.Context, userID uint, seed string) (*User, string, error) {
	var out *User
	var retired string
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		u, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		retired = u.ServerSeed
		u.ClientSeed = seed
		u.ServerSeed = fairness.NewServerSeed()
		u.ServerSeedHash = fairness.ServerSeedHash(u.ServerSeed)
		u.Nonce = 0
		if err := tx.Save(u).Error; err != nil {
			return transient(err)
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, retired, nil
}

func (l *Ledger) GameRecord(ctx context.Context, id string) (*GameRecord, error) {
	var rec GameRecord
	err := l.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, transient(err)
	}
	return &rec, nil
}
