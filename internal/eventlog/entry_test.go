package eventlog_test

import (
	"testing"

	"github.com/rentledger/rentledger/internal/eventlog"
)

func buildChain(t *testing.T, n int) []*eventlog.Entry {
	t.Helper()
	var chain []*eventlog.Entry
	var prev *eventlog.Entry
	for i := 0; i < n; i++ {
		e, err := eventlog.Seal(prev, int64(1000+i), "rent.paid", uint64(i), map[string]int{"amount": 100})
		if err != nil {
			t.Fatal(err)
		}
		chain = append(chain, e)
		prev = e
	}
	return chain
}

func TestSeal_firstEntryChainsFromGenesis(t *testing.T) {
	e, err := eventlog.Seal(nil, 1, "agreement.created", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Seq != 0 {
		t.Errorf("first seq: got %d, want 0", e.Seq)
	}
	if e.PrevHash != eventlog.GenesisHash {
		t.Errorf("first PrevHash: got %q, want GenesisHash", e.PrevHash)
	}
}

func TestSeal_chainsCorrectly(t *testing.T) {
	chain := buildChain(t, 2)
	if chain[1].PrevHash != chain[0].Hash {
		t.Errorf("chain broken: e1.PrevHash=%q, want e0.Hash=%q", chain[1].PrevHash, chain[0].Hash)
	}
	if chain[1].Seq != 1 {
		t.Errorf("second seq: got %d, want 1", chain[1].Seq)
	}
}

func TestVerify_valid(t *testing.T) {
	if err := eventlog.Verify(buildChain(t, 5)); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestVerify_empty(t *testing.T) {
	if err := eventlog.Verify(nil); err != nil {
		t.Errorf("Verify() on empty chain should pass: %v", err)
	}
	if root := eventlog.Root(nil); root != eventlog.GenesisHash {
		t.Errorf("Root() on empty chain: got %q, want GenesisHash", root)
	}
}

func TestVerify_detectsTamperedPayload(t *testing.T) {
	chain := buildChain(t, 3)
	chain[1].Payload = []byte(`{"amount":1}`)
	if err := eventlog.Verify(chain); err == nil {
		t.Error("expected Verify() to detect a tampered payload")
	}
}

func TestVerify_detectsReorder(t *testing.T) {
	chain := buildChain(t, 3)
	chain[1], chain[2] = chain[2], chain[1]
	if err := eventlog.Verify(chain); err == nil {
		t.Error("expected Verify() to detect reordered entries")
	}
}

func TestRoot_returnsLastHash(t *testing.T) {
	chain := buildChain(t, 3)
	if got := eventlog.Root(chain); got != chain[2].Hash {
		t.Errorf("Root(): got %q, want %q", got, chain[2].Hash)
	}
}
