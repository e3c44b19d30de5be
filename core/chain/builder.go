package chain

import (
	"errors"
	"time"

	"srishti/core/block"
	"srishti/core/event"
)

// BuildBlock assembles a proposal on top of the chain's current tip: Merkle
// root over the bundled events, header chained to the tip's hash, proposer
// identity and eligibility evidence attached. The result still goes through
// the full Append pipeline; building does not imply acceptance.
func BuildBlock(c *Chain, proposer string, proof *block.ParticipationProof, events []event.Event) (*block.Block, error) {
	if len(events) == 0 {
		return nil, errors.New("chain: cannot build an empty block")
	}
	tip, ok := c.Tip()
	if !ok {
		return nil, errors.New("chain: no genesis block to build on")
	}
	prevHash, err := tip.Header.Hash()
	if err != nil {
		return nil, err
	}
	body := block.Body{Transactions: events}
	root, err := block.MerkleRoot(body.Transactions)
	if err != nil {
		return nil, err
	}
	blk := &block.Block{
		Header: block.Header{
			PreviousHash: &prevHash,
			Timestamp:    time.Now().UnixMilli(),
			Nonce:        0,
			MerkleRoot:   root,
		},
		Body:               body,
		Proposer:           proposer,
		ParticipationProof: proof,
	}
	if _, err := blk.ComputeHash(); err != nil {
		return nil, err
	}
	return blk, nil
}
