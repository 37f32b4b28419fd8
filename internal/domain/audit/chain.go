package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// hashPayload is the canonical subset of an Entry covered by the hash.
// Field order is fixed; changing it invalidates existing chains.
type hashPayload struct {
	Seq        uint64         `json:"seq"`
	Timestamp  int64          `json:"timestamp_unix_nano"`
	CallID     string         `json:"call_id"`
	Tool       string         `json:"tool"`
	Transition string         `json:"transition"`
	Actor      Actor          `json:"actor"`
	Summary    string         `json:"summary"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	SnapshotID string         `json:"snapshot_id"`
	Result     string         `json:"result"`
	PrevHash   string         `json:"prev_hash"`
}

// ComputeHash returns the hex SHA-256 over the previous entry's hash plus
// this entry's content. The entry's own Hash field is not an input.
func ComputeHash(e Entry) (string, error) {
	payload := hashPayload{
		Seq:        e.Seq,
		Timestamp:  e.Timestamp.UnixNano(),
		CallID:     e.CallID,
		Tool:       e.Tool,
		Transition: e.Transition,
		Actor:      e.Actor,
		Summary:    e.Summary,
		Arguments:  e.Arguments,
		SnapshotID: e.SnapshotID,
		Result:     e.Result,
		PrevHash:   e.PrevHash,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal hash payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain checks an ordered slice of entries for sequence gaps, broken
// links, and content tampering. It returns the sequence number of the first
// bad entry, or 0 and nil when the chain is intact.
func VerifyChain(entries []Entry) (uint64, error) {
	prevHash := ""
	var prevSeq uint64
	for i, e := range entries {
		if i > 0 && e.Seq != prevSeq+1 {
			return e.Seq, fmt.Errorf("sequence gap: %d follows %d", e.Seq, prevSeq)
		}
		if e.PrevHash != prevHash {
			return e.Seq, fmt.Errorf("entry %d: prev_hash mismatch", e.Seq)
		}
		want, err := ComputeHash(e)
		if err != nil {
			return e.Seq, err
		}
		if e.Hash != want {
			return e.Seq, fmt.Errorf("entry %d: content hash mismatch", e.Seq)
		}
		prevHash = e.Hash
		prevSeq = e.Seq
	}
	return 0, nil
}
