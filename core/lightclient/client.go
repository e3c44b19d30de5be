package lightclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"srishti/core/block"
	"srishti/core/event"
)

// HeaderStore persists the header sequence between runs. The LevelDB Storage
// in core/storage satisfies it.
type HeaderStore interface {
	GetAllHeaders() ([]block.Header, error)
	SaveHeader(index int, h block.Header) error
}

// RequestFunc fetches a batch of headers starting at from. An empty batch
// means the peer has nothing newer.
type RequestFunc func(ctx context.Context, from int) ([]block.Header, error)

// Defect is one structural problem found by a header-chain self-audit.
type Defect struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Client is an SPV light client: it holds headers only, never bodies, and
// verifies individual transactions through Merkle proofs against a header's
// root.
type Client struct {
	mu      sync.Mutex
	headers []block.Header
	store   HeaderStore
}

// New creates a light client over an optional header store.
func New(store HeaderStore) *Client {
	return &Client{store: store}
}

// Init loads any persisted headers. Called once before use.
func (c *Client) Init() error {
	if c.store == nil {
		return nil
	}
	headers, err := c.store.GetAllHeaders()
	if err != nil {
		return fmt.Errorf("lightclient: loading headers: %w", err)
	}
	c.mu.Lock()
	c.headers = headers
	c.mu.Unlock()
	return nil
}

// Height returns the number of known headers.
func (c *Client) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.headers)
}

// Header returns the header at index.
func (c *Client) Header(index int) (block.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.headers) {
		return block.Header{}, fmt.Errorf("lightclient: header index %d out of range", index)
	}
	return c.headers[index], nil
}

// AddHeader validates linkage exactly the way the full chain does for blocks
// — genesis must carry a nil previousHash, later headers must name the hash
// of the one before — then appends and persists.
func (c *Client) AddHeader(h block.Header) error {
	if err := h.ValidateShape(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.headers) == 0 {
		if !h.IsGenesis() {
			return errors.New("lightclient: first header must have null previousHash")
		}
	} else {
		if h.IsGenesis() {
			return errors.New("lightclient: non-genesis header with null previousHash")
		}
		prevHash, err := c.headers[len(c.headers)-1].Hash()
		if err != nil {
			return err
		}
		if *h.PreviousHash != prevHash {
			return fmt.Errorf("lightclient: previousHash %s does not chain to %s", *h.PreviousHash, prevHash)
		}
	}
	index := len(c.headers)
	c.headers = append(c.headers, h)
	if c.store != nil {
		if err := c.store.SaveHeader(index, h); err != nil {
			return fmt.Errorf("lightclient: persisting header %d: %w", index, err)
		}
	}
	return nil
}

// VerifyTransaction checks a transaction's inclusion under a header: header
// structural soundness first, then the Merkle proof against the header's
// root. Neither the proof nor the transaction is mutated.
func (c *Client) VerifyTransaction(tx event.Event, proof *block.Proof, h block.Header) (bool, error) {
	if err := h.ValidateShape(); err != nil {
		return false, err
	}
	if proof != nil && proof.Root != "" && proof.Root != h.MerkleRoot {
		return false, nil
	}
	return block.VerifyProof(tx, proof, h.MerkleRoot)
}

// SyncHeaders pulls headers from a peer-supplied fetch function starting at
// fromIndex, stopping at the first header that fails AddHeader. Partial
// progress is kept, not rolled back; the count of headers successfully synced
// is returned alongside the terminating error, if any.
func (c *Client) SyncHeaders(ctx context.Context, request RequestFunc, fromIndex int) (int, error) {
	synced := 0
	next := fromIndex
	for {
		select {
		case <-ctx.Done():
			return synced, ctx.Err()
		default:
		}
		batch, err := request(ctx, next)
		if err != nil {
			return synced, fmt.Errorf("lightclient: header request at %d: %w", next, err)
		}
		if len(batch) == 0 {
			return synced, nil
		}
		for _, h := range batch {
			if err := c.AddHeader(h); err != nil {
				return synced, err
			}
			synced++
			next++
		}
	}
}

// ValidateHeaderChain audits the whole header sequence and reports every
// structural defect found. It never fails: an empty report means a sound
// chain.
func (c *Client) ValidateHeaderChain() []Defect {
	c.mu.Lock()
	defer c.mu.Unlock()
	var defects []Defect
	for i, h := range c.headers {
		if err := h.ValidateShape(); err != nil {
			defects = append(defects, Defect{Index: i, Reason: err.Error()})
			continue
		}
		if i == 0 {
			if !h.IsGenesis() {
				defects = append(defects, Defect{Index: i, Reason: "genesis header has non-null previousHash"})
			}
			continue
		}
		if h.IsGenesis() {
			defects = append(defects, Defect{Index: i, Reason: "non-genesis header with null previousHash"})
			continue
		}
		prevHash, err := c.headers[i-1].Hash()
		if err != nil {
			defects = append(defects, Defect{Index: i - 1, Reason: fmt.Sprintf("unhashable header: %v", err)})
			continue
		}
		if *h.PreviousHash != prevHash {
			defects = append(defects, Defect{Index: i, Reason: "previousHash does not match preceding header"})
		}
	}
	return defects
}
