package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"srishti/core/block"
	"srishti/core/event"
)

// GenesisConfig seeds a new network: the moment of genesis and the node ids
// granted the ROOT role.
type GenesisConfig struct {
	NetworkName string    `json:"networkName"`
	GenesisTime time.Time `json:"genesisTime"`
	RootNodes   []string  `json:"rootNodes"`
}

// LoadGenesisConfig reads genesis.json-style config from disk.
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read genesis config: %w", err)
	}
	var cfg GenesisConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse genesis config: %w", err)
	}
	if cfg.GenesisTime.IsZero() {
		return nil, fmt.Errorf("genesis config missing genesisTime")
	}
	return &cfg, nil
}

// NewGenesisBlock builds block 0. The body carries exactly one synthetic
// GENESIS event — an empty body would fail body validation, so the sentinel
// convention keeps genesis on the same validation path as every other block.
func NewGenesisBlock(genesisTime time.Time) (*block.Block, error) {
	genesisEvent, err := event.NewGenesis(genesisTime.UnixMilli())
	if err != nil {
		return nil, err
	}
	body := block.Body{Transactions: []event.Event{genesisEvent}}
	root, err := block.MerkleRoot(body.Transactions)
	if err != nil {
		return nil, err
	}
	blk := &block.Block{
		Header: block.Header{
			PreviousHash: nil, // genesis and only genesis
			Timestamp:    genesisTime.UnixMilli(),
			Nonce:        0,
			MerkleRoot:   root,
		},
		Body: body,
	}
	if _, err := blk.ComputeHash(); err != nil {
		return nil, err
	}
	return blk, nil
}

// Bootstrap appends the genesis block to an empty chain.
func (c *Chain) Bootstrap(cfg *GenesisConfig) error {
	if c.Height() != 0 {
		return fmt.Errorf("chain already has %d blocks", c.Height())
	}
	blk, err := NewGenesisBlock(cfg.GenesisTime)
	if err != nil {
		return err
	}
	receipt := c.Append(blk)
	if !receipt.Valid {
		return fmt.Errorf("genesis append rejected: %s", receipt.Error)
	}
	return nil
}
