package storage

import (
	"path/filepath"
	"testing"

	"srishti/core/block"
	"srishti/core/event"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "leveldb"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func storedBlock(t *testing.T, prev *string, nonce int64) *block.Block {
	t.Helper()
	ev, err := event.NewNodeJoin("n1", "alice", "", "", 1700000000000)
	if err != nil {
		t.Fatal(err)
	}
	body := block.Body{Transactions: []event.Event{ev}}
	root, err := block.MerkleRoot(body.Transactions)
	if err != nil {
		t.Fatal(err)
	}
	blk := &block.Block{
		Header: block.Header{PreviousHash: prev, Timestamp: 1700000000000, Nonce: nonce, MerkleRoot: root},
		Body:   body,
	}
	if _, err := blk.ComputeHash(); err != nil {
		t.Fatal(err)
	}
	return blk
}

func TestSaveAndLoadBlock(t *testing.T) {
	s := openTestStorage(t)
	blk := storedBlock(t, nil, 0)
	if err := s.SaveBlock(0, blk); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.GetBlockByIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Hash != blk.Hash {
		t.Fatalf("hash mismatch: %s vs %s", loaded.Hash, blk.Hash)
	}
	if len(loaded.Body.Transactions) != 1 {
		t.Fatal("body lost")
	}
}

func TestChainHeightAdvances(t *testing.T) {
	s := openTestStorage(t)
	h, err := s.ChainHeight()
	if err != nil || h != 0 {
		t.Fatalf("fresh height = %d err = %v", h, err)
	}
	if err := s.SaveBlock(0, storedBlock(t, nil, 0)); err != nil {
		t.Fatal(err)
	}
	prev := "p"
	if err := s.SaveBlock(1, storedBlock(t, &prev, 1)); err != nil {
		t.Fatal(err)
	}
	h, err = s.ChainHeight()
	if err != nil || h != 2 {
		t.Fatalf("height = %d err = %v", h, err)
	}
	// re-saving an old index does not rewind the height
	if err := s.SaveBlock(0, storedBlock(t, nil, 0)); err != nil {
		t.Fatal(err)
	}
	h, _ = s.ChainHeight()
	if h != 2 {
		t.Fatalf("height rewound to %d", h)
	}
}

func TestHasGenesisBlock(t *testing.T) {
	s := openTestStorage(t)
	ok, err := s.HasGenesisBlock()
	if err != nil || ok {
		t.Fatalf("empty store reported genesis: %v %v", ok, err)
	}
	if err := s.SaveBlock(0, storedBlock(t, nil, 0)); err != nil {
		t.Fatal(err)
	}
	ok, err = s.HasGenesisBlock()
	if err != nil || !ok {
		t.Fatalf("genesis not found: %v %v", ok, err)
	}
}

func TestGetBlockNotFound(t *testing.T) {
	s := openTestStorage(t)
	_, err := s.GetBlockByIndex(7)
	if err == nil {
		t.Fatal("missing block returned without error")
	}
	if !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	s := openTestStorage(t)
	prev := "p"
	blocks := []*block.Block{storedBlock(t, nil, 0), storedBlock(t, &prev, 1), storedBlock(t, &prev, 2)}
	for i, blk := range blocks {
		if err := s.SaveBlock(i, blk); err != nil {
			t.Fatal(err)
		}
	}
	headers, err := s.GetAllHeaders()
	if err != nil {
		t.Fatal(err)
	}
	if len(headers) != 3 {
		t.Fatalf("header count = %d", len(headers))
	}
	for i, h := range headers {
		if h.Nonce != int64(i) {
			t.Fatalf("headers out of order: index %d carries nonce %d", i, h.Nonce)
		}
	}
}

func TestSaveHeaderStandalone(t *testing.T) {
	s := openTestStorage(t)
	h := block.Header{Timestamp: 1, MerkleRoot: "r", Nonce: 42}
	if err := s.SaveHeader(0, h); err != nil {
		t.Fatal(err)
	}
	headers, err := s.GetAllHeaders()
	if err != nil || len(headers) != 1 || headers[0].Nonce != 42 {
		t.Fatalf("headers = %v err = %v", headers, err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	s := openTestStorage(t)
	got, err := s.GetMetadata("absent")
	if err != nil || got != nil {
		t.Fatalf("absent key: %v %v", got, err)
	}
	if err := s.SaveMetadata("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetMetadata("k")
	if err != nil || string(got) != "v" {
		t.Fatalf("metadata = %q err = %v", got, err)
	}
}

func TestTruncate(t *testing.T) {
	s := openTestStorage(t)
	prev := "p"
	for i := 0; i < 4; i++ {
		var p *string
		if i > 0 {
			p = &prev
		}
		if err := s.SaveBlock(i, storedBlock(t, p, int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Truncate(2); err != nil {
		t.Fatal(err)
	}
	h, _ := s.ChainHeight()
	if h != 2 {
		t.Fatalf("height after truncate = %d", h)
	}
	if _, err := s.GetBlockByIndex(1); err != nil {
		t.Fatal("block below the cut removed")
	}
	if _, err := s.GetBlockByIndex(2); !IsNotFound(err) {
		t.Fatalf("block above the cut survived: %v", err)
	}
	headers, err := s.GetAllHeaders()
	if err != nil || len(headers) != 2 {
		t.Fatalf("headers after truncate = %d err = %v", len(headers), err)
	}
}
