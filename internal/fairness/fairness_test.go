package fairness_test

import (
	"math"
	"testing"

	"github.com/darshilaggarwal/ravello/internal/fairness"
)

func TestSeedGeneration(t *testing.T) {
	server := fairness.NewServerSeed()
	if len(server) != 64 {
		t.Errorf("server seed should be 64 hex chars, got %d", len(server))
	}

	client := fairness.NewClientSeed()
	if len(client) != 32 {
		t.Errorf("client seed should be 32 hex chars, got %d", len(client))
	}

	if fairness.NewServerSeed() == server {
		t.Error("two server seeds should not collide")
	}
}

func TestGameHashDeterminism(t *testing.T) {
	const serverSeed = "aabbccdd"
	const clientSeed = "player-seed"

	h1 := fairness.GameHash(serverSeed, clientSeed, 7)
	h2 := fairness.GameHash(serverSeed, clientSeed, 7)

	if h1 != h2 {
		t.Errorf("same triple must yield same hash: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash should be 64 hex chars, got %d", len(h1))
	}

	if fairness.GameHash(serverSeed, clientSeed, 8) == h1 {
		t.Error("changing the nonce must change the hash")
	}
	if fairness.GameHash("other-secret", clientSeed, 7) == h1 {
		t.Error("changing the server seed must change the hash")
	}
}

func TestOutcomeRangeAndRounding(t *testing.T) {
	for nonce := int64(0); nonce < 500; nonce++ {
		hash := fairness.GameHash("range-secret", "range-client", nonce)
		out := fairness.Outcome(hash, 0, 100)

		if out < 0 || out > 100 {
			t.Fatalf("outcome %.4f outside [0,100] for nonce %d", out, nonce)
		}
		if math.Round(out*100)/100 != out {
			t.Fatalf("outcome %v not rounded to 2 decimals", out)
		}
	}
}

func TestOutcomeScaling(t *testing.T) {
	hash := fairness.GameHash("scale-secret", "scale-client", 1)

	lo := fairness.Outcome(hash, 0, 1)
	hi := fairness.Outcome(hash, 10, 20)

	if lo < 0 || lo > 1 {
		t.Errorf("outcome %.4f outside [0,1]", lo)
	}
	if hi < 10 || hi > 20 {
		t.Errorf("outcome %.4f outside [10,20]", hi)
	}
}

// Verify must reproduce the originally derived outcome exactly. This is the
// contract exposed to players after the server seed is revealed.
func TestVerifyRoundTrip(t *testing.T) {
	for nonce := int64(0); nonce < 100; nonce++ {
		server := fairness.NewServerSeed()
		client := fairness.NewClientSeed()

		hash := fairness.GameHash(server, client, nonce)
		original := fairness.Outcome(hash, 0, 100)

		if got := fairness.Verify(server, client, nonce, 0, 100); got != original {
			t.Fatalf("verify mismatch at nonce %d: derived %.2f, verified %.2f", nonce, original, got)
		}
	}
}

func TestServerSeedHashCommitment(t *testing.T) {
	seed := fairness.NewServerSeed()

	h1 := fairness.ServerSeedHash(seed)
	h2 := fairness.ServerSeedHash(seed)

	if h1 != h2 {
		t.Error("commitment must be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("commitment should be 64 hex chars, got %d", len(h1))
	}
	if h1 == seed {
		t.Error("commitment must not equal the seed")
	}
}
