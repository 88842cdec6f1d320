package models

// VerifyRequest replays a game from a revealed seed pair, without touching
// any stored record. Only MinesCount is game-specific; it is required for
// mines and ignored otherwise.
type VerifyRequest struct {
	GameType   string `json:"gameType" binding:"required,oneof=crash mines dice"`
	ServerSeed string `json:"serverSeed" binding:"required"`
	ClientSeed string `json:"clientSeed" binding:"required"`
	Nonce      int64  `json:"nonce" binding:"min=0"`
	MinesCount int    `json:"minesCount" binding:"omitempty,min=1,max=24"`
}

// VerifyResult carries everything needed to check a round by hand: the
// recomputed commitment, the game hash, and the game-specific outcome.
type VerifyResult struct {
	GameType       string `json:"gameType"`
	ServerSeedHash string `json:"serverSeedHash"`
	Hash           string `json:"hash"`

	CrashPoint    *float64 `json:"crashPoint,omitempty"`
	MinePositions []int    `json:"minePositions,omitempty"`
	DiceResult    *float64 `json:"diceResult,omitempty"`
}

// VerifyGameResult is the answer to "was this stored game fair": the replay
// next to whether the stored record agrees with it.
type VerifyGameResult struct {
	GameID string        `json:"gameId"`
	Result *VerifyResult `json:"result"`

	// HashMatch: the revealed seed reproduces the hash committed at play
	// time. Match: the recomputed outcome agrees with what was settled.
	HashMatch bool `json:"hashMatch"`
	Match     bool `json:"match"`
}
