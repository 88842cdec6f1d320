package models

// Crash round phases. Transitions are driven only by the engine scheduler:
// betting -> running -> crashed -> (cooldown) -> betting.
const (
	PhaseBetting = "betting"
	PhaseRunning = "running"
	PhaseCrashed = "crashed"
)

// Player bet statuses. A bet reaches exactly one terminal status.
const (
	BetActive    = "active"
	BetCashedOut = "cashed_out"
	BetBusted    = "busted"
)

// CrashRound is the single process-wide round, owned by the shared state
// store under one well-known key. ServerSeed stays server-side until the
// round has crashed.
type CrashRound struct {
	RoundID    string `json:"round_id"`
	Phase      string `json:"phase"`
	ServerSeed string `json:"server_seed"`
	ClientSeed string `json:"client_seed"`
	Nonce      int64  `json:"nonce"`
	Hash       string `json:"hash"`
	CrashPoint float64 `json:"crash_point"`

	StartedAt     int64   `json:"started_at"`      // unix ms
	BettingEndsAt int64   `json:"betting_ends_at"` // unix ms
	Multiplier    float64 `json:"multiplier"`
}

// PlayerBet is one player's stake in the current round, stored as a field of
// the round's player hash.
type PlayerBet struct {
	UserID      uint     `json:"user_id"`
	Username    string   `json:"username"`
	BetAmount   float64  `json:"bet_amount"`
	AutoCashout *float64 `json:"auto_cashout,omitempty"`
	Status      string   `json:"status"`
	CashedOutAt float64  `json:"cashed_out_at,omitempty"`
	WinAmount   float64  `json:"win_amount,omitempty"`
}

// HistoryEntry is an append-only record of a finished round with the
// fairness fields needed to verify its crash point.
type HistoryEntry struct {
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
	ServerSeed string  `json:"server_seed"`
	ClientSeed string  `json:"client_seed"`
	Nonce      int64   `json:"nonce"`
	Hash       string  `json:"hash"`
	EndedAt    int64   `json:"ended_at"`
}

// CrashSnapshot is what a newly subscribing client receives (crash:init) and
// what get-current-game returns. Seeds are withheld while the round is live.
type CrashSnapshot struct {
	RoundID       string      `json:"game_id"`
	Phase         string      `json:"status"`
	Multiplier    float64     `json:"current_multiplier"`
	BettingEndsAt int64       `json:"betting_phase_end"`
	StartedAt     int64       `json:"start_time"`
	Players       []PlayerBet `json:"players"`
}

type CrashBetRequest struct {
	BetAmount    float64  `json:"betAmount" binding:"required,gt=0"`
	AutoWithdraw *float64 `json:"autoWithdraw,omitempty" binding:"omitempty,gt=1"`
}

type CashoutResult struct {
	Multiplier float64 `json:"multiplier"`
	WinAmount  float64 `json:"winAmount"`
	Balance    float64 `json:"balance"`
}

// Loser appears in the game_crash broadcast for every bet still active when
// the round crashed.
type Loser struct {
	UserID    uint    `json:"userId"`
	Username  string  `json:"username"`
	BetAmount float64 `json:"betAmount"`
}
