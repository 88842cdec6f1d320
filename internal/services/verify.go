package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/darshilaggarwal/ravello/internal/fairness"
	"github.com/darshilaggarwal/ravello/internal/ledger"
	"github.com/darshilaggarwal/ravello/internal/models"
)

var ErrUnknownGameType = errors.New("unknown game type")

// gameVariant is one verifiable game type. The set is closed and registered
// at construction; dispatch never leaks game-type strings to callers.
type gameVariant interface {
	// replay fills the game-specific outcome from res.Hash.
	replay(res *models.VerifyResult, minesCount int) error
	// matches reports whether the stored record agrees with the replay.
	matches(rec *ledger.GameRecord, res *models.VerifyResult) bool
}

// VerifyService replays finished games from revealed seeds, either ad hoc
// from caller-supplied seeds or against a stored game record.
type VerifyService struct {
	ledger   *ledger.Ledger
	variants map[string]gameVariant
}

func NewVerifyService(lg *ledger.Ledger) *VerifyService {
	return &VerifyService{
		ledger: lg,
		variants: map[string]gameVariant{
			"crash": crashVariant{},
			"mines": minesVariant{},
			"dice":  diceVariant{},
		},
	}
}

// Verify recomputes the commitment hash, the game hash, and the outcome the
// seeds must have produced. Pure: anyone can reproduce its answers offline.
func (s *VerifyService) Verify(req *models.VerifyRequest) (*models.VerifyResult, error) {
	variant, ok := s.variants[req.GameType]
	if !ok {
		return nil, ErrUnknownGameType
	}

	res := &models.VerifyResult{
		GameType:       req.GameType,
		ServerSeedHash: fairness.ServerSeedHash(req.ServerSeed),
		Hash:           fairness.GameHash(req.ServerSeed, req.ClientSeed, req.Nonce),
	}
	if err := variant.replay(res, req.MinesCount); err != nil {
		return nil, err
	}
	return res, nil
}

// VerifyGame checks a stored game record against its own revealed seed.
// Only the record's owner or an admin may look; a record whose seed is still
// hidden cannot be verified yet.
func (s *VerifyService) VerifyGame(ctx context.Context, userID uint, role, gameID string) (*models.VerifyGameResult, error) {
	rec, err := s.ledger.GameRecord(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID && role != "admin" {
		return nil, ErrNotYourGame
	}
	if rec.ServerSeed == nil {
		return nil, ErrSeedNotRevealed
	}

	variant, ok := s.variants[rec.GameType]
	if !ok {
		return nil, ErrUnknownGameType
	}

	res := &models.VerifyResult{
		GameType:       rec.GameType,
		ServerSeedHash: fairness.ServerSeedHash(*rec.ServerSeed),
		Hash:           fairness.GameHash(*rec.ServerSeed, rec.ClientSeed, rec.Nonce),
	}
	if err := variant.replay(res, minesCountFromDetail(rec)); err != nil {
		return nil, err
	}

	hashMatch := res.Hash == rec.FairnessHash
	return &models.VerifyGameResult{
		GameID:    rec.ID,
		Result:    res,
		HashMatch: hashMatch,
		Match:     hashMatch && variant.matches(rec, res),
	}, nil
}

type crashVariant struct{}

func (crashVariant) replay(res *models.VerifyResult, _ int) error {
	point := CrashPointFromHash(res.Hash)
	res.CrashPoint = &point
	return nil
}

// A crash record stores the cashout multiplier; fairness only requires that
// it never exceeds the crash point the hash dictates.
func (crashVariant) matches(rec *ledger.GameRecord, res *models.VerifyResult) bool {
	return rec.Multiplier <= *res.CrashPoint
}

type minesVariant struct{}

func (minesVariant) replay(res *models.VerifyResult, minesCount int) error {
	if minesCount < models.MinesMinCount || minesCount > models.MinesMaxCount {
		return errors.New("minesCount must be between 1 and 24")
	}
	res.MinePositions = MinePositions(res.Hash, minesCount)
	return nil
}

func (minesVariant) matches(rec *ledger.GameRecord, res *models.VerifyResult) bool {
	var detail struct {
		Mines []int `json:"mines"`
	}
	if err := json.Unmarshal(rec.Detail, &detail); err != nil {
		return false
	}
	// A cashed-out win records no board; the hash match already pins it.
	if detail.Mines == nil {
		return true
	}
	if len(detail.Mines) != len(res.MinePositions) {
		return false
	}
	for i := range detail.Mines {
		if detail.Mines[i] != res.MinePositions[i] {
			return false
		}
	}
	return true
}

type diceVariant struct{}

func (diceVariant) replay(res *models.VerifyResult, _ int) error {
	roll := fairness.Outcome(res.Hash, 0, 100)
	res.DiceResult = &roll
	return nil
}

func (diceVariant) matches(rec *ledger.GameRecord, res *models.VerifyResult) bool {
	var detail struct {
		Outcome float64 `json:"outcome"`
	}
	if err := json.Unmarshal(rec.Detail, &detail); err != nil {
		return false
	}
	return detail.Outcome == *res.DiceResult
}

func minesCountFromDetail(rec *ledger.GameRecord) int {
	var detail struct {
		MineCount int `json:"mineCount"`
	}
	if err := json.Unmarshal(rec.Detail, &detail); err != nil {
		return 0
	}
	return detail.MineCount
}
