package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// User holds the balance and the per-user fairness seed pair. The server
// seed is never serialized to clients; only its hash is.
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;size:32" json:"username"`
	Role     string `gorm:"size:16;default:user" json:"role"`
	Balance  float64 `json:"balance"`

	ClientSeed     string `gorm:"size:64" json:"client_seed"`
	ServerSeed     string `gorm:"size:64" json:"-"`
	ServerSeedHash string `gorm:"size:64" json:"server_seed_hash"`
	Nonce          int64  `json:"nonce"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GameRecord is the immutable persisted result of a finished game. Created
// exactly once per settlement and never mutated; ServerSeed stays NULL until
// it is safe to reveal.
type GameRecord struct {
	ID         string  `gorm:"primaryKey;size:64" json:"id"`
	UserID     uint    `gorm:"index" json:"user_id"`
	GameType   string  `gorm:"size:16;index" json:"game_type"`
	BetAmount  float64 `json:"bet_amount"`
	Outcome    string  `gorm:"size:8" json:"outcome"` // win | loss
	WinAmount  float64 `json:"win_amount"`
	Multiplier float64 `json:"multiplier"`

	Detail datatypes.JSON `json:"detail"`

	ClientSeed   string  `gorm:"size:64" json:"client_seed"`
	ServerSeed   *string `gorm:"size:64" json:"server_seed"`
	Nonce        int64   `json:"nonce"`
	FairnessHash string  `gorm:"size:64" json:"fairness_hash"`

	CreatedAt time.Time `json:"created_at"`
}

type TransactionType string

const (
	TransactionBet TransactionType = "bet"
	TransactionWin TransactionType = "win"
)

// WalletTransaction is the audit row written alongside every balance
// mutation, inside the same database transaction.
type WalletTransaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"index" json:"user_id"`
	Type          TransactionType `gorm:"size:8" json:"type"`
	GameType      string          `gorm:"size:16" json:"game_type"`
	GameID        string          `gorm:"size:64;index" json:"game_id"`
	Amount        float64         `json:"amount"`
	BalanceBefore float64         `json:"balance_before"`
	BalanceAfter  float64         `json:"balance_after"`
	Description   string          `gorm:"size:255" json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}
