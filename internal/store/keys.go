package store

import "time"

const (
	// Crash engine. Exactly one active round exists process-wide; the
	// scheduler is the only writer of KeyCrashRound during phase transitions.
	KeyCrashRound   = "crash:current"
	KeyCrashPlayers = "crash:players"
	KeyCrashHistory = "crash:history"

	// Mines sessions are per-user.
	KeyMinesSession = "mines:game:%d"

	// Abandoned mines sessions expire and then behave exactly like a
	// finished one.
	TTLMinesSession = time.Hour

	// Most recent crash rounds kept for display and verification.
	CrashHistoryLimit = 50
)
