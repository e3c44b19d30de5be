package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"srishti/core/audit"
	"srishti/core/block"
	"srishti/core/consensus"
	"srishti/core/event"
)

// Rejection reason classes (spec'd taxonomy: callers distinguish eligibility
// failures, which legitimately recur, from structural ones, which never
// should).
const (
	ReasonStructural  = "structural"
	ReasonLinkage     = "linkage"
	ReasonMerkle      = "merkle_mismatch"
	ReasonAuthority   = "authority"
	ReasonEligibility = "eligibility"
)

// Receipt is the structured outcome of a validation attempt. Failures carry a
// reason class plus detail; never a silent drop.
type Receipt struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	BlockHash string `json:"blockHash,omitempty"`
	Height    int    `json:"height"`
}

// RejectionError carries the reason class for programmatic handling.
type RejectionError struct {
	Reason string
	Err    error
}

func (r *RejectionError) Error() string { return fmt.Sprintf("%s: %v", r.Reason, r.Err) }
func (r *RejectionError) Unwrap() error { return r.Err }

func reject(reason string, err error) error {
	return &RejectionError{Reason: reason, Err: err}
}

// Storage is the persistence collaborator the chain writes through. The
// LevelDB implementation lives in core/storage.
type Storage interface {
	SaveBlock(index int, blk *block.Block) error
	GetBlockByIndex(index int) (*block.Block, error)
	Truncate(fromIndex int) error
}

// ProofValidator validates a block's embedded eligibility evidence.
// Implemented by consensus.Engine; nil disables the check (bootstrap and
// light tooling). The chain passes the proposer's derived state itself (nil
// when unknown): the validator must never read back into the chain, which
// holds its mutex across the whole pipeline.
type ProofValidator interface {
	ValidateParticipationProof(proof *block.ParticipationProof, proposer string, state *consensus.NodeState) error
}

// Config bounds the chain's derived-state behavior.
type Config struct {
	// MinBalance floors every KARMA balance (default 0; never negative).
	MinBalance float64
	// RootNodes are granted the ROOT role on join (from genesis config).
	RootNodes []string
	// CacheSize bounds the block LRU.
	CacheSize int
}

// DefaultConfig returns production chain limits.
func DefaultConfig() Config {
	return Config{MinBalance: 0, CacheSize: 128}
}

// Chain is the append-only ledger: block sequence, validation pipeline and
// derived state. All mutating entry points (Append, Replace, HandleKarmaEarn)
// serialize through one mutex so two blocks can never validate against the
// same tip concurrently.
type Chain struct {
	mu sync.Mutex

	cfg       Config
	blocks    []block.Block
	cache     *Cache
	store     Storage
	validator ProofValidator
	auditor   audit.Logger

	state *derivedState
}

// New creates an empty chain. store and auditor may be nil (tests, light
// tooling); validator nil skips eligibility validation.
func New(cfg Config, store Storage, validator ProofValidator, auditor audit.Logger) *Chain {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	return &Chain{
		cfg:       cfg,
		cache:     NewCache(cfg.CacheSize),
		store:     store,
		validator: validator,
		auditor:   auditor,
		state:     newDerivedState(cfg.MinBalance, cfg.RootNodes),
	}
}

// SetValidator wires the consensus engine after construction (the engine
// reads node state back from this chain, so the two are built in sequence).
func (c *Chain) SetValidator(v ProofValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validator = v
}

// Height returns the number of blocks in the chain.
func (c *Chain) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Tip returns the newest block, or false on an empty chain.
func (c *Chain) Tip() (block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return block.Block{}, false
	}
	return c.blocks[len(c.blocks)-1], true
}

// GetBlock returns the block at index, consulting the LRU before the
// in-memory sequence.
func (c *Chain) GetBlock(index int) (*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getBlockLocked(index)
}

func (c *Chain) getBlockLocked(index int) (*block.Block, error) {
	if blk, ok := c.cache.Get(index); ok {
		return blk, nil
	}
	if index < 0 || index >= len(c.blocks) {
		return nil, fmt.Errorf("chain: block index %d out of range", index)
	}
	blk := c.blocks[index]
	c.cache.Put(index, &blk)
	return &blk, nil
}

// Headers returns a copy of every header, in order.
func (c *Chain) Headers() []block.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]block.Header, len(c.blocks))
	for i, b := range c.blocks {
		out[i] = b.Header
	}
	return out
}

// Blocks returns a copy of the full sequence (peer sync responses).
func (c *Chain) Blocks() []block.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]block.Block(nil), c.blocks...)
}

// Append runs the full validation pipeline on one block and commits it:
// linkage against the current tip, Merkle root recomputation, per-event
// structural validity plus sender authority, participation proof, then
// in-memory append, cache write-through, persistence, and an incremental
// derived-state update.
func (c *Chain) Append(blk *block.Block) Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tip *block.Block
	if len(c.blocks) > 0 {
		tip = &c.blocks[len(c.blocks)-1]
	}
	if err := c.validateBlockLocked(blk, tip, len(c.blocks)); err != nil {
		return c.rejectionReceipt(blk, err)
	}
	return c.commitLocked(blk)
}

func (c *Chain) rejectionReceipt(blk *block.Block, err error) Receipt {
	reason := ReasonStructural
	var rej *RejectionError
	if errors.As(err, &rej) {
		reason = rej.Reason
	}
	receipt := Receipt{
		Valid:  false,
		Reason: reason,
		Error:  err.Error(),
		Height: len(c.blocks),
	}
	actor := ""
	if blk != nil {
		receipt.BlockHash = blk.Hash
		actor = blk.Proposer
	}
	if c.auditor != nil {
		c.auditor.Log(audit.Entry{
			Category: "block_rejected",
			Actor:    actor,
			Outcome:  reason,
			Reason:   err.Error(),
		})
	}
	return receipt
}

// validateBlockLocked checks one block against its predecessor. expectedIndex
// is the position the block would occupy.
func (c *Chain) validateBlockLocked(blk *block.Block, prev *block.Block, expectedIndex int) error {
	if blk == nil {
		return reject(ReasonStructural, errors.New("nil block"))
	}
	if err := blk.Header.ValidateShape(); err != nil {
		return reject(ReasonStructural, err)
	}
	if err := blk.Body.Validate(); err != nil {
		return reject(ReasonStructural, err)
	}

	// Hash-chain linkage. Genesis must claim a nil previous hash; every later
	// block must name the computed hash of the block before it. Mismatches are
	// fatal for the block, never locally patched.
	if expectedIndex == 0 {
		if !blk.Header.IsGenesis() {
			return reject(ReasonLinkage, errors.New("first block must have null previousHash"))
		}
	} else {
		if blk.Header.IsGenesis() {
			return reject(ReasonLinkage, errors.New("non-genesis block with null previousHash"))
		}
		prevHash, err := prev.Header.Hash()
		if err != nil {
			return reject(ReasonStructural, err)
		}
		if *blk.Header.PreviousHash != prevHash {
			return reject(ReasonLinkage, fmt.Errorf("previousHash %s does not match tip %s",
				*blk.Header.PreviousHash, prevHash))
		}
	}

	if err := blk.VerifyMerkleRoot(); err != nil {
		return reject(ReasonMerkle, err)
	}

	for i, tx := range blk.Body.Transactions {
		if err := event.Validate(tx); err != nil {
			return reject(ReasonStructural, fmt.Errorf("transaction %d: %w", i, err))
		}
		if tx.Sender != "" {
			role := c.state.roleOf(tx.Sender)
			if !event.HasAuthority(role, tx.Type) {
				return reject(ReasonAuthority, fmt.Errorf(
					"transaction %d: sender %s (role %s) lacks authority for %s", i, tx.Sender, role, tx.Type))
			}
		}
	}

	// Genesis carries no proof; everything after does. The proposer's state is
	// snapshotted from this chain's own fold (for a scratch chain, that is the
	// candidate's history) so the validator never re-enters the chain lock.
	if expectedIndex > 0 && c.validator != nil {
		var state *consensus.NodeState
		if n := c.state.node(blk.Proposer); n != nil {
			s := participationView(n)
			state = &s
		}
		if err := c.validator.ValidateParticipationProof(blk.ParticipationProof, blk.Proposer, state); err != nil {
			return reject(ReasonEligibility, err)
		}
	}
	return nil
}

func (c *Chain) commitLocked(blk *block.Block) Receipt {
	if _, err := blk.ComputeHash(); err != nil {
		return c.rejectionReceipt(blk, reject(ReasonStructural, err))
	}
	index := len(c.blocks)
	c.blocks = append(c.blocks, *blk)
	c.cache.Put(index, blk)
	if c.store != nil {
		if err := c.store.SaveBlock(index, blk); err != nil {
			// The in-memory sequence is authoritative; persistence failures
			// surface in the receipt but do not roll back the append.
			return Receipt{Valid: true, BlockHash: blk.Hash, Height: len(c.blocks),
				Error: fmt.Sprintf("persist: %v", err)}
		}
	}
	for _, tx := range blk.Body.Transactions {
		c.state.applyEvent(tx)
	}
	return Receipt{Valid: true, BlockHash: blk.Hash, Height: len(c.blocks)}
}

// Replace adopts an alternative chain wholesale: it must validate end to end
// and be strictly longer than the local sequence, or equal in length with a
// higher aggregate participation weight. Derived state is rebuilt from scratch
// afterwards — this is the single place chain replacement happens.
func (c *Chain) Replace(candidate []block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(candidate) < len(c.blocks) {
		return reject(ReasonLinkage, fmt.Errorf("candidate length %d shorter than local %d",
			len(candidate), len(c.blocks)))
	}
	if len(candidate) == len(c.blocks) &&
		aggregateParticipation(candidate) <= aggregateParticipation(c.blocks) {
		return reject(ReasonLinkage, errors.New("candidate no heavier than local chain"))
	}

	// Validate the candidate against a scratch state so authority checks see
	// the candidate's own history, not ours.
	scratch := &Chain{
		cfg:       c.cfg,
		cache:     NewCache(1),
		validator: c.validator,
		state:     newDerivedState(c.cfg.MinBalance, c.cfg.RootNodes),
	}
	for i := range candidate {
		blk := candidate[i]
		var prev *block.Block
		if i > 0 {
			prev = &candidate[i-1]
		}
		if err := scratch.validateBlockLocked(&blk, prev, i); err != nil {
			return fmt.Errorf("candidate block %d: %w", i, err)
		}
		if _, err := blk.ComputeHash(); err != nil {
			return fmt.Errorf("candidate block %d: %w", i, err)
		}
		scratch.blocks = append(scratch.blocks, blk)
		for _, tx := range blk.Body.Transactions {
			scratch.state.applyEvent(tx)
		}
	}

	c.blocks = scratch.blocks
	c.cache.Purge()
	c.rebuildStateLocked()
	if c.store != nil {
		if err := c.store.Truncate(0); err != nil {
			return fmt.Errorf("chain replace: truncate: %w", err)
		}
		for i := range c.blocks {
			if err := c.store.SaveBlock(i, &c.blocks[i]); err != nil {
				return fmt.Errorf("chain replace: persist block %d: %w", i, err)
			}
		}
	}
	if c.auditor != nil {
		c.auditor.Log(audit.Entry{
			Category: "chain_replaced",
			Outcome:  "committed",
			Reason:   fmt.Sprintf("adopted chain of height %d", len(c.blocks)),
		})
	}
	return nil
}

func aggregateParticipation(blocks []block.Block) float64 {
	total := 0.0
	for _, b := range blocks {
		if b.ParticipationProof != nil {
			total += b.ParticipationProof.Score
		}
	}
	return total
}

// rebuildStateLocked re-derives the node map and balances by full replay.
// Must produce bit-identical output to the incremental path for the same log;
// passive accruals applied through HandleKarmaEarn are NOT replayed (they
// never entered the log) and are recomputed by the karma layer over time.
func (c *Chain) rebuildStateLocked() {
	c.state = newDerivedState(c.cfg.MinBalance, c.cfg.RootNodes)
	for i := range c.blocks {
		for _, tx := range c.blocks[i].Body.Transactions {
			c.state.applyEvent(tx)
		}
	}
}

// Load restores the in-memory sequence from storage at startup, replaying
// derived state as it goes. Blocks must already form a valid chain.
func (c *Chain) Load(getHeight func() (int, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		return errors.New("chain: no storage to load from")
	}
	height, err := getHeight()
	if err != nil {
		return err
	}
	c.blocks = nil
	for i := 0; i < height; i++ {
		blk, err := c.store.GetBlockByIndex(i)
		if err != nil {
			return fmt.Errorf("chain: loading block %d: %w", i, err)
		}
		c.blocks = append(c.blocks, *blk)
	}
	c.cache.Purge()
	c.rebuildStateLocked()
	return nil
}

// BuildNodeMap re-derives the identity/relationship graph. Deterministic: the
// same log always yields the same map.
func (c *Chain) BuildNodeMap() map[string]NodeView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.snapshotNodes()
}

// Balances returns a copy of every derived KARMA balance.
func (c *Chain) Balances() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.snapshotBalances()
}

// GetBalance reads one balance; never negative.
func (c *Chain) GetBalance(nodeID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.balances[nodeID]
}

// HandleKarmaEarn applies a system-issued KARMA_EARN directly to derived
// state WITHOUT appending a block. This is the trusted-local shortcut for
// passive accrual: it is not part of the replayable log, and a full replay
// reconstructs balances without it. Known design tension, kept deliberately
// visible rather than hidden.
func (c *Chain) HandleKarmaEarn(tx event.Event) error {
	if tx.Type != event.TypeKarmaEarn {
		return fmt.Errorf("chain: HandleKarmaEarn got %s", tx.Type)
	}
	if err := event.Validate(tx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.applyEvent(tx)
	return nil
}

// GenerateMerkleProof bundles an inclusion proof with the owning block's
// header for hand-off to a light client.
func (c *Chain) GenerateMerkleProof(blockIndex, txIndex int) (*block.Proof, block.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blk, err := c.getBlockLocked(blockIndex)
	if err != nil {
		return nil, block.Header{}, err
	}
	proof, err := block.GenerateProof(blk.Body.Transactions, txIndex)
	if err != nil {
		return nil, block.Header{}, err
	}
	return proof, blk.Header, nil
}

func participationView(n *NodeView) consensus.NodeState {
	return consensus.NodeState{
		ID:         n.ID,
		Online:     n.IsOnline,
		LastSeen:   n.LastSeen,
		CreatedAt:  n.CreatedAt,
		ChildCount: n.ChildCount,
	}
}

// ParticipationState implements consensus.NodeSource: the score inputs for
// one node, straight from derived state.
func (c *Chain) ParticipationState(nodeID string) (consensus.NodeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.state.node(nodeID)
	if n == nil {
		return consensus.NodeState{}, false
	}
	return participationView(n), true
}

// AllNodeIDs lists every known node, sorted (karma UBI sweep).
func (c *Chain) AllNodeIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.sortedNodeIDs()
}

// OnlineNodes lists nodes considered online: explicit flag, or seen within
// window of now.
func (c *Chain) OnlineNodes(window time.Duration, now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.UnixMilli() - window.Milliseconds()
	var out []string
	for _, id := range c.state.sortedNodeIDs() {
		n := c.state.nodes[id]
		if n.IsOnline || n.LastSeen >= cutoff {
			out = append(out, id)
		}
	}
	return out
}
