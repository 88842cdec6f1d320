package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/darshilaggarwal/ravello/internal/fairness"
	"github.com/darshilaggarwal/ravello/internal/ledger"
	"github.com/darshilaggarwal/ravello/internal/models"
)

const diceHouseEdge = 0.97

// DiceService settles single-roll over/under bets. A roll has no session:
// debit, outcome and settlement happen in one ledger transaction.
type DiceService struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewDiceService(lg *ledger.Ledger, log *zap.Logger) *DiceService {
	return &DiceService{ledger: lg, log: log}
}

// DiceMultiplier is the payout for a winning roll at the given prediction and
// direction, after the house edge.
func DiceMultiplier(prediction float64, direction string) float64 {
	chance := prediction
	if direction == models.DiceOver {
		chance = 100 - prediction
	}
	return models.Round2(100 / chance * diceHouseEdge)
}

// Play rolls once against the user's seed pair, consuming one nonce. The
// roll is derived inside the settlement transaction, under the same row lock
// that advances the nonce, so concurrent plays can never share one.
func (s *DiceService) Play(ctx context.Context, userID uint, req *models.DicePlayRequest) (*models.DicePlayResult, error) {
	if _, err := s.ledger.EnsureSeeds(ctx, userID); err != nil {
		return nil, err
	}

	multiplier := DiceMultiplier(req.Prediction, req.Direction)

	var (
		nonce     int64
		hash      string
		outcome   float64
		won       bool
		winAmount float64
		result    string
		rec       *ledger.GameRecord
	)
	user, err := s.ledger.SettleInstant(ctx, userID, req.BetAmount,
		func(u *ledger.User) (float64, *ledger.GameRecord, error) {
			nonce = u.Nonce
			hash = fairness.GameHash(u.ServerSeed, u.ClientSeed, nonce)
			outcome = fairness.Outcome(hash, 0, 100)

			if req.Direction == models.DiceOver {
				won = outcome > req.Prediction
			} else {
				won = outcome < req.Prediction
			}

			winAmount = 0
			result = "loss"
			if won {
				winAmount = models.Payout(req.BetAmount, multiplier)
				result = "win"
			}

			detail, _ := json.Marshal(map[string]any{
				"prediction": req.Prediction,
				"direction":  req.Direction,
				"outcome":    outcome,
			})
			rec = &ledger.GameRecord{
				ID:           models.GenerateGameID(),
				UserID:       userID,
				GameType:     "dice",
				BetAmount:    req.BetAmount,
				Outcome:      result,
				WinAmount:    winAmount,
				Multiplier:   multiplier,
				Detail:       datatypes.JSON(detail),
				ClientSeed:   u.ClientSeed,
				Nonce:        nonce,
				FairnessHash: hash,
			}
			if !won {
				// A loss cannot be disputed without the seed; reveal it.
				// Wins keep the pair live, rotation reveals it later.
				seed := u.ServerSeed
				rec.ServerSeed = &seed
			}
			return winAmount, rec, nil
		})
	if err != nil {
		return nil, err
	}

	s.log.Info("dice roll",
		zap.Uint("user", userID),
		zap.Float64("outcome", outcome),
		zap.String("result", result))

	return &models.DicePlayResult{
		GameID:     rec.ID,
		Result:     outcome,
		Win:        won,
		Multiplier: multiplier,
		WinAmount:  winAmount,
		Balance:    user.Balance,
		Hash:       hash,
		Nonce:      nonce,
	}, nil
}
