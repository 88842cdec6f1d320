package models

const (
	DiceOver  = "over"
	DiceUnder = "under"
)

type DicePlayRequest struct {
	BetAmount  float64 `json:"betAmount" binding:"required,gt=0"`
	Prediction float64 `json:"prediction" binding:"required,min=1,max=99"`
	Direction  string  `json:"direction" binding:"required,oneof=over under"`
}

type DicePlayResult struct {
	GameID     string  `json:"gameId"`
	Result     float64 `json:"result"`
	Win        bool    `json:"win"`
	Multiplier float64 `json:"multiplier"`
	WinAmount  float64 `json:"winAmount"`
	Balance    float64 `json:"balance"`
	Hash       string  `json:"hash"`
	Nonce      int64   `json:"nonce"`
}
