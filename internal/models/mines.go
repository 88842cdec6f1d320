package models

// Mines board dimensions are fixed: a 5x5 grid.
const (
	MinesTotalCells = 25
	MinesMinCount   = 1
	MinesMaxCount   = 24
)

const (
	MinesActive    = "active"
	MinesLost      = "lost"
	MinesWon       = "won"
	MinesCashedOut = "cashed_out"
)

// MinesSession is one user's in-flight game. MinePositions never leave the
// server while the session is active.
type MinesSession struct {
	GameID     string  `json:"game_id"`
	UserID     uint    `json:"user_id"`
	BetAmount  float64 `json:"bet_amount"`
	MineCount  int     `json:"mine_count"`
	ServerSeed string  `json:"server_seed"`
	ClientSeed string  `json:"client_seed"`
	Nonce      int64   `json:"nonce"`
	Hash       string  `json:"hash"`

	MinePositions []int   `json:"mine_positions"`
	Revealed      []int   `json:"revealed"`
	Status        string  `json:"status"`
	Multiplier    float64 `json:"multiplier"`
	StartedAt     int64   `json:"started_at"`
}

// HasRevealed reports whether the position was already uncovered.
func (s *MinesSession) HasRevealed(pos int) bool {
	for _, p := range s.Revealed {
		if p == pos {
			return true
		}
	}
	return false
}

// IsMine reports whether the position hides a mine.
func (s *MinesSession) IsMine(pos int) bool {
	for _, p := range s.MinePositions {
		if p == pos {
			return true
		}
	}
	return false
}

type MinesStartRequest struct {
	BetAmount  float64 `json:"betAmount" binding:"required,gt=0"`
	MinesCount int     `json:"minesCount" binding:"required,min=1,max=24"`
}

type MinesRevealRequest struct {
	Position *int `json:"position" binding:"required,min=0,max=24"`
}

type MinesRevealResult struct {
	IsMine        bool    `json:"isMine"`
	Position      int     `json:"position"`
	Multiplier    float64 `json:"multiplier"`
	Done          bool    `json:"done"`
	WinAmount     float64 `json:"winAmount,omitempty"`
	MinePositions []int   `json:"minePositions,omitempty"`
	Balance       float64 `json:"balance,omitempty"`
}

type MinesCashoutResult struct {
	Multiplier    float64 `json:"multiplier"`
	WinAmount     float64 `json:"winAmount"`
	MinePositions []int   `json:"minePositions"`
	Balance       float64 `json:"balance"`
}
