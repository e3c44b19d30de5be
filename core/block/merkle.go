package block

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"srishti/core/event"
	"srishti/core/hashing"
)

// ErrInvalidIndex is returned when a proof is requested for a transaction
// index outside the body.
var ErrInvalidIndex = errors.New("merkle: transaction index out of range")

// Proof positions: whether the sibling hash sits left or right of the path
// toward the target leaf.
const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// ProofStep is one level of an inclusion proof.
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"`
}

// Proof is a Merkle inclusion proof for a single transaction.
type Proof struct {
	TransactionHash string      `json:"transactionHash"`
	Path            []ProofStep `json:"path"`
	Root            string      `json:"root"`
}

// leafHashes maps each transaction to its canonical hash.
func leafHashes(txs []event.Event) ([]string, error) {
	leaves := make([]string, len(txs))
	for i, tx := range txs {
		h, err := tx.Hash()
		if err != nil {
			return nil, fmt.Errorf("merkle: hashing transaction %d: %w", i, err)
		}
		leaves[i] = h
	}
	return leaves, nil
}

func hashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left))
	h.Write([]byte(right))
	return hex.EncodeToString(h.Sum(nil))
}

// MerkleRoot computes the root hash of a transaction list. Empty list hashes
// the empty string (a defined sentinel, not an error); a single transaction is
// its own root. Odd-length levels duplicate the last hash — reproduce this
// tie-break exactly or roots mismatch across nodes.
func MerkleRoot(txs []event.Event) (string, error) {
	if len(txs) == 0 {
		return hashing.HashString(""), nil
	}
	level, err := leafHashes(txs)
	if err != nil {
		return "", err
	}
	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0], nil
}

// GenerateProof builds the inclusion proof for the transaction at index,
// recording at every tree level the sibling hash and which side it sits on.
func GenerateProof(txs []event.Event, index int) (*Proof, error) {
	if index < 0 || index >= len(txs) {
		return nil, ErrInvalidIndex
	}
	level, err := leafHashes(txs)
	if err != nil {
		return nil, err
	}
	target := index
	proof := &Proof{TransactionHash: level[index]}
	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // odd node pairs with itself
			if i+1 < len(level) {
				right = level[i+1]
			}
			if i == target || i+1 == target {
				if target == i {
					proof.Path = append(proof.Path, ProofStep{Hash: right, Position: PositionRight})
				} else {
					proof.Path = append(proof.Path, ProofStep{Hash: left, Position: PositionLeft})
				}
				target = len(next)
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}
	proof.Root = level[0]
	return proof, nil
}

// VerifyProof recomputes the leaf hash from tx, folds the proof path in order
// and compares the result to expectedRoot. Inputs are never mutated.
func VerifyProof(tx event.Event, proof *Proof, expectedRoot string) (bool, error) {
	if proof == nil {
		return false, errors.New("merkle: nil proof")
	}
	current, err := tx.Hash()
	if err != nil {
		return false, err
	}
	if current != proof.TransactionHash {
		return false, nil
	}
	for _, step := range proof.Path {
		switch step.Position {
		case PositionLeft:
			current = hashPair(step.Hash, current)
		case PositionRight:
			current = hashPair(current, step.Hash)
		default:
			return false, fmt.Errorf("merkle: unknown proof position %q", step.Position)
		}
	}
	return current == expectedRoot, nil
}
