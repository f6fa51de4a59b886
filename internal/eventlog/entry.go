package eventlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GenesisHash is the PrevHash of the first entry in every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single committed event.
type Entry struct {
	Seq         uint64          `json:"seq"`
	Time        int64           `json:"time"`
	Type        string          `json:"type"`
	AgreementID uint64          `json:"agreement_id"`
	Payload     json.RawMessage `json:"payload"`
	PrevHash    string          `json:"prev_hash"`
	Hash        string          `json:"hash"`
}

// Seal builds the entry that follows prev. prev is nil for the first entry.
// payload is JSON-marshalled and stored verbatim.
func Seal(prev *Entry, t int64, typ string, agreementID uint64, payload any) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	e := &Entry{
		Time:        t,
		Type:        typ,
		AgreementID: agreementID,
		Payload:     raw,
		PrevHash:    GenesisHash,
	}
	if prev != nil {
		e.Seq = prev.Seq + 1
		e.PrevHash = prev.Hash
	}
	e.Hash = hashEntry(e)
	return e, nil
}

// hashEntry computes a deterministic SHA-256 over an entry's fields.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%d|%s|%s",
		e.Seq, e.Time, e.Type, e.AgreementID, e.Payload, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Verifier checks a chain one entry at a time, in sequence order.
type Verifier struct {
	prev *Entry
}

// Next checks e against the previously seen entry.
func (v *Verifier) Next(e *Entry) error {
	wantSeq, wantPrev := uint64(0), GenesisHash
	if v.prev != nil {
		wantSeq, wantPrev = v.prev.Seq+1, v.prev.Hash
	}
	if e.Seq != wantSeq {
		return fmt.Errorf("sequence gap: got %d, want %d", e.Seq, wantSeq)
	}
	if e.PrevHash != wantPrev {
		return fmt.Errorf("hash chain broken at seq %d", e.Seq)
	}
	if e.Hash != hashEntry(e) {
		return fmt.Errorf("entry %d has invalid hash", e.Seq)
	}
	v.prev = e
	return nil
}

// Verify walks entries from the start of the chain. An empty chain is valid.
func Verify(entries []*Entry) error {
	var v Verifier
	for _, e := range entries {
		if err := v.Next(e); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the hash of the last entry, or GenesisHash for an empty chain.
func Root(entries []*Entry) string {
	if len(entries) == 0 {
		return GenesisHash
	}
	return entries[len(entries)-1].Hash
}
