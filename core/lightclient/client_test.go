package lightclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srishti/core/block"
	"srishti/core/event"
)

// memHeaderStore is an in-memory HeaderStore.
type memHeaderStore struct {
	headers []block.Header
	saveErr error
}

func (m *memHeaderStore) GetAllHeaders() ([]block.Header, error) {
	return append([]block.Header(nil), m.headers...), nil
}

func (m *memHeaderStore) SaveHeader(index int, h block.Header) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if index == len(m.headers) {
		m.headers = append(m.headers, h)
	} else if index < len(m.headers) {
		m.headers[index] = h
	}
	return nil
}

// headerChain builds n chained headers, genesis first.
func headerChain(t *testing.T, n int) ([]block.Header, [][]event.Event) {
	t.Helper()
	headers := make([]block.Header, 0, n)
	bodies := make([][]event.Event, 0, n)
	var prevHash *string
	for i := 0; i < n; i++ {
		ev, err := event.NewNodeJoin("node", "name", "", "", 1700000000000+int64(i))
		require.NoError(t, err)
		txs := []event.Event{ev}
		root, err := block.MerkleRoot(txs)
		require.NoError(t, err)
		h := block.Header{
			PreviousHash: prevHash,
			Timestamp:    1700000000000 + int64(i),
			Nonce:        int64(i),
			MerkleRoot:   root,
		}
		headers = append(headers, h)
		bodies = append(bodies, txs)
		hash, err := h.Hash()
		require.NoError(t, err)
		prevHash = &hash
	}
	return headers, bodies
}

func TestAddHeaderLinkage(t *testing.T) {
	c := New(nil)
	headers, _ := headerChain(t, 3)

	require.NoError(t, c.AddHeader(headers[0]))
	require.NoError(t, c.AddHeader(headers[1]))
	require.NoError(t, c.AddHeader(headers[2]))
	assert.Equal(t, 3, c.Height())

	got, err := c.Header(1)
	require.NoError(t, err)
	assert.Equal(t, headers[1].MerkleRoot, got.MerkleRoot)
	_, err = c.Header(5)
	assert.Error(t, err)
}

func TestAddHeaderRejectsNonGenesisFirst(t *testing.T) {
	c := New(nil)
	headers, _ := headerChain(t, 2)
	err := c.AddHeader(headers[1])
	assert.Error(t, err)
	assert.Equal(t, 0, c.Height())
}

func TestAddHeaderRejectsBrokenLink(t *testing.T) {
	c := New(nil)
	headers, _ := headerChain(t, 2)
	require.NoError(t, c.AddHeader(headers[0]))

	bogus := "0000000000000000000000000000000000000000000000000000000000000000"
	broken := headers[1]
	broken.PreviousHash = &bogus
	assert.Error(t, c.AddHeader(broken))

	// a second genesis claim mid-chain is also refused
	assert.Error(t, c.AddHeader(headers[0]))
	assert.Equal(t, 1, c.Height())
}

func TestInitRestoresPersistedHeaders(t *testing.T) {
	headers, _ := headerChain(t, 3)
	store := &memHeaderStore{}
	c := New(store)
	require.NoError(t, c.Init())
	for _, h := range headers {
		require.NoError(t, c.AddHeader(h))
	}

	fresh := New(store)
	require.NoError(t, fresh.Init())
	assert.Equal(t, 3, fresh.Height())
	assert.Empty(t, fresh.ValidateHeaderChain())
}

func TestVerifyTransaction(t *testing.T) {
	c := New(nil)
	headers, bodies := headerChain(t, 2)
	for _, h := range headers {
		require.NoError(t, c.AddHeader(h))
	}

	proof, err := block.GenerateProof(bodies[1], 0)
	require.NoError(t, err)

	ok, err := c.VerifyTransaction(bodies[1][0], proof, headers[1])
	require.NoError(t, err)
	assert.True(t, ok)

	// a proof rooted in a different block fails fast against this header
	otherProof, err := block.GenerateProof(bodies[0], 0)
	require.NoError(t, err)
	ok, err = c.VerifyTransaction(bodies[0][0], otherProof, headers[1])
	require.NoError(t, err)
	assert.False(t, ok)

	// tampering with the transaction breaks the leaf hash
	tampered := bodies[1][0]
	tampered.Name = "forged"
	ok, err = c.VerifyTransaction(tampered, proof, headers[1])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncHeaders(t *testing.T) {
	c := New(nil)
	headers, _ := headerChain(t, 5)
	fetch := func(ctx context.Context, from int) ([]block.Header, error) {
		if from >= len(headers) {
			return nil, nil
		}
		end := from + 2
		if end > len(headers) {
			end = len(headers)
		}
		return headers[from:end], nil
	}

	synced, err := c.SyncHeaders(context.Background(), fetch, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, synced)
	assert.Equal(t, 5, c.Height())
}

func TestSyncHeadersKeepsPartialProgress(t *testing.T) {
	c := New(nil)
	headers, _ := headerChain(t, 4)
	bogus := "ffff000000000000000000000000000000000000000000000000000000000000"
	headers[2].PreviousHash = &bogus // breaks the chain at index 2

	fetch := func(ctx context.Context, from int) ([]block.Header, error) {
		if from >= len(headers) {
			return nil, nil
		}
		return headers[from : from+1], nil
	}
	synced, err := c.SyncHeaders(context.Background(), fetch, 0)
	assert.Error(t, err)
	assert.Equal(t, 2, synced)
	assert.Equal(t, 2, c.Height(), "headers accepted before the break must be kept")
}

func TestSyncHeadersRequestFailure(t *testing.T) {
	c := New(nil)
	fetch := func(ctx context.Context, from int) ([]block.Header, error) {
		return nil, errors.New("peer gone")
	}
	synced, err := c.SyncHeaders(context.Background(), fetch, 0)
	assert.Error(t, err)
	assert.Equal(t, 0, synced)
}

func TestSyncHeadersHonorsContext(t *testing.T) {
	c := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.SyncHeaders(ctx, func(ctx context.Context, from int) ([]block.Header, error) {
		return nil, nil
	}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateHeaderChainReportsDefects(t *testing.T) {
	headers, _ := headerChain(t, 3)
	store := &memHeaderStore{headers: headers}
	// corrupt the stored copy after the fact; Init trusts the store
	bogus := "1111000000000000000000000000000000000000000000000000000000000000"
	store.headers[2].PreviousHash = &bogus

	c := New(store)
	require.NoError(t, c.Init())
	defects := c.ValidateHeaderChain()
	require.Len(t, defects, 1)
	assert.Equal(t, 2, defects[0].Index)
	assert.Contains(t, defects[0].Reason, "previousHash")
}

func TestValidateHeaderChainEmptyIsSound(t *testing.T) {
	c := New(nil)
	assert.Empty(t, c.ValidateHeaderChain())
}
