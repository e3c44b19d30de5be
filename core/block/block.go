package block

import (
	"encoding/json"
	"errors"
	"fmt"

	"srishti/core/event"
	"srishti/core/hashing"
)

// Header carries a block's metadata. PreviousHash is nil if and only if the
// block is genesis; its own canonical hash becomes the next block's
// PreviousHash, which is the ledger's tamper-evidence mechanism.
type Header struct {
	PreviousHash *string `json:"previousHash"`
	Timestamp    int64   `json:"timestamp"` // epoch millis
	Nonce        int64   `json:"nonce"`
	MerkleRoot   string  `json:"merkleRoot"`
}

// Hash computes the deterministic digest over all four header fields.
func (h *Header) Hash() (string, error) {
	return hashing.Hash(h)
}

// IsGenesis reports whether the header claims the genesis position.
func (h *Header) IsGenesis() bool {
	return h.PreviousHash == nil
}

// ValidateShape checks structural soundness without chain context.
func (h *Header) ValidateShape() error {
	if h.Timestamp <= 0 {
		return errors.New("header: missing or invalid timestamp")
	}
	if h.MerkleRoot == "" {
		return errors.New("header: missing merkle root")
	}
	if h.PreviousHash != nil && *h.PreviousHash == "" {
		return errors.New("header: previousHash set but empty")
	}
	return nil
}

// Body is the ordered, non-empty transaction list of a block. Genesis carries
// exactly one synthetic GENESIS event rather than an empty body.
type Body struct {
	Transactions []event.Event `json:"transactions"`
}

// Validate rejects empty bodies.
func (b *Body) Validate() error {
	if len(b.Transactions) == 0 {
		return errors.New("body: must contain at least one transaction")
	}
	return nil
}

// FindTransaction looks up a transaction by its canonical hash, returning its
// index in the body.
func (b *Body) FindTransaction(txHash string) (event.Event, int, bool) {
	for i, tx := range b.Transactions {
		h, err := tx.Hash()
		if err != nil {
			continue
		}
		if h == txHash {
			return tx, i, true
		}
	}
	return event.Event{}, -1, false
}

// ParticipationProof is the consensus eligibility evidence embedded in each
// non-genesis block by its proposer.
type ParticipationProof struct {
	NodeID     string  `json:"nodeId"`
	Score      float64 `json:"score"`
	ChildCount int     `json:"childCount"`
	Timestamp  int64   `json:"timestamp"`
	NetworkAge int64   `json:"networkAge"` // millis since the proposer joined
}

// Block is a header plus body plus the proposer's identity and eligibility
// evidence. Blocks are immutable once appended; only wholesale chain
// replacement ever removes one.
type Block struct {
	Header             Header              `json:"header"`
	Body               Body                `json:"body"`
	Proposer           string              `json:"proposer,omitempty"`
	ParticipationProof *ParticipationProof `json:"participationProof,omitempty"`
	// Hash caches the header hash; recomputable at any time.
	Hash string `json:"hash,omitempty"`
}

// ComputeHash recomputes and caches the block's identity (its header hash).
func (b *Block) ComputeHash() (string, error) {
	h, err := b.Header.Hash()
	if err != nil {
		return "", err
	}
	b.Hash = h
	return h, nil
}

// VerifyMerkleRoot recomputes the body's Merkle root and compares it to the
// header's claim.
func (b *Block) VerifyMerkleRoot() error {
	root, err := MerkleRoot(b.Body.Transactions)
	if err != nil {
		return err
	}
	if root != b.Header.MerkleRoot {
		return fmt.Errorf("merkle root mismatch: body %s, header %s", root, b.Header.MerkleRoot)
	}
	return nil
}

// Serialize encodes the block as JSON.
func (b *Block) Serialize() ([]byte, error) {
	return json.Marshal(b)
}

// Deserialize decodes JSON into a Block.
func Deserialize(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// PrevHashValue returns the previous hash or "" for genesis.
func (b *Block) PrevHashValue() string {
	if b.Header.PreviousHash == nil {
		return ""
	}
	return *b.Header.PreviousHash
}
