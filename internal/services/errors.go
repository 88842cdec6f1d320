package services

import "errors"

// State-conflict errors: the action is not valid for the current phase or
// status. Deterministic, returned synchronously, never leave side effects.
var (
	ErrBettingClosed  = errors.New("betting is not currently open")
	ErrAlreadyBet     = errors.New("you already have an active bet")
	ErrNotRunning     = errors.New("round is not in progress")
	ErrNoActiveBet    = errors.New("no active bet found")
	ErrAlreadySettled = errors.New("bet already settled")

	ErrActiveGame   = errors.New("you already have an active game")
	ErrNoActiveGame = errors.New("no active game found")
	ErrNothingToWin = errors.New("reveal at least one tile before cashing out")
	ErrTileRevealed = errors.New("tile already revealed")
	ErrNotYourGame  = errors.New("not authorized for this game")

	ErrSeedNotRevealed = errors.New("server seed not yet revealed for this game")
)
