package chain

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"srishti/core/block"
)

// PeerTip is a peer's advertised chain tip.
type PeerTip struct {
	Address string
	Height  int
	TipHash string
}

// Fetcher pulls chain data from a peer. The HTTP implementation lives in
// core/p2p; the transport underneath is opaque.
type Fetcher interface {
	FetchBlocks(ctx context.Context, peerAddr string, from int) ([]block.Block, error)
}

// ForkChoice watches peer tips and switches to a longer valid chain when one
// appears. Call CheckAndSync on a schedule or after receiving new peer info.
type ForkChoice struct {
	chain *Chain
	fetch Fetcher
	log   *logrus.Logger
}

// NewForkChoice wires fork resolution to a chain and a block fetcher.
func NewForkChoice(c *Chain, fetch Fetcher, log *logrus.Logger) *ForkChoice {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ForkChoice{chain: c, fetch: fetch, log: log}
}

// CheckAndSync compares the local height to every peer tip and, when a peer
// claims a longer chain, fetches the candidate wholesale and hands it to
// Chain.Replace, which enforces the longer-or-heavier rule and rebuilds
// derived state. A rejected candidate leaves the local chain untouched.
func (fc *ForkChoice) CheckAndSync(ctx context.Context, peers []PeerTip) error {
	localHeight := fc.chain.Height()
	var best *PeerTip
	for i, p := range peers {
		if p.Height > localHeight && (best == nil || p.Height > best.Height) {
			best = &peers[i]
		}
	}
	if best == nil {
		return nil
	}
	fc.log.WithFields(logrus.Fields{
		"peer":         best.Address,
		"peer_height":  best.Height,
		"local_height": localHeight,
	}).Info("[FORKCHOICE] longer chain advertised; fetching candidate")

	candidate, err := fc.fetch.FetchBlocks(ctx, best.Address, 0)
	if err != nil {
		return fmt.Errorf("forkchoice: fetch from %s: %w", best.Address, err)
	}
	if err := fc.chain.Replace(candidate); err != nil {
		return fmt.Errorf("forkchoice: candidate from %s rejected: %w", best.Address, err)
	}
	fc.log.WithField("height", fc.chain.Height()).Info("[FORKCHOICE] reorg complete")
	return nil
}
