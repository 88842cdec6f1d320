// Package fairness implements the provably-fair outcome derivation shared by
// every game: HMAC-SHA256 over "clientSeed:nonce" keyed with a hidden server
// seed, mapped to a numeric result that anyone can recompute once the server
// seed is revealed.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

// NewServerSeed returns a 256-bit hex-encoded secret. It must stay hidden
// until the outcome it protects is finalized.
func NewServerSeed() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process has no usable entropy source.
		panic(fmt.Sprintf("fairness: rand.Read: %v", err))
	}
	return hex.EncodeToString(b)
}

// NewClientSeed returns a default client seed for players who don't supply
// their own.
func NewClientSeed() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("fairness: rand.Read: %v", err))
	}
	return hex.EncodeToString(b)
}

// ServerSeedHash is the public commitment published before any bet is taken.
func ServerSeedHash(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// GameHash derives the per-game hash from the seed triple.
func GameHash(serverSeed, clientSeed string, nonce int64) string {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(clientSeed + ":" + strconv.FormatInt(nonce, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Outcome maps a game hash to a number in [min, max] with two decimal places.
// The first 8 hex characters (4 bytes) are normalized against 0xffffffff.
func Outcome(hash string, min, max float64) float64 {
	n, err := strconv.ParseUint(hash[:8], 16, 64)
	if err != nil {
		// Hashes are produced by GameHash and always valid hex; a bad value
		// here is a programming error upstream.
		panic(fmt.Sprintf("fairness: malformed hash %q", hash[:8]))
	}
	v := float64(n) / float64(0xffffffff)
	return math.Round((min+v*(max-min))*100) / 100
}

// Verify recomputes the outcome from revealed fairness fields. A player can
// call this with the disclosed server seed and must get back exactly the
// result the game originally produced.
func Verify(serverSeed, clientSeed string, nonce int64, min, max float64) float64 {
	return Outcome(GameHash(serverSeed, clientSeed, nonce), min, max)
}
