package chain

import (
	"path/filepath"
	"testing"

	"srishti/core/storage"
)

// Integration across chain and the LevelDB layer: append, reopen, reload.
func TestChainPersistAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "leveldb")
	store, err := storage.NewStorage(dir)
	if err != nil {
		t.Fatal(err)
	}

	c := New(Config{}, store, nil, nil)
	if err := c.Bootstrap(&GenesisConfig{GenesisTime: genesisTime}); err != nil {
		t.Fatal(err)
	}
	ts := genesisTime.UnixMilli()
	appendEvents(t, c, joinEvent(t, "A", "alice", "", ts+1000))
	appendEvents(t, c, joinEvent(t, "B", "bob", "A", ts+2000))
	wantNodes := c.BuildNodeMap()
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := storage.NewStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	restored := New(Config{}, reopened, nil, nil)
	if err := restored.Load(reopened.ChainHeight); err != nil {
		t.Fatal(err)
	}
	if restored.Height() != 3 {
		t.Fatalf("restored height = %d", restored.Height())
	}
	gotNodes := restored.BuildNodeMap()
	if len(gotNodes) != len(wantNodes) {
		t.Fatalf("node counts differ after reload: %d vs %d", len(gotNodes), len(wantNodes))
	}
	for id, want := range wantNodes {
		got := gotNodes[id]
		if got.Name != want.Name || got.ChildCount != want.ChildCount || got.CreatedAt != want.CreatedAt {
			t.Fatalf("node %s diverged after reload: %+v vs %+v", id, got, want)
		}
	}
	tip, ok := restored.Tip()
	if !ok {
		t.Fatal("no tip after reload")
	}
	origTip, _ := c.Tip()
	if tip.Hash != origTip.Hash {
		t.Fatalf("tip hash changed across reload: %s vs %s", tip.Hash, origTip.Hash)
	}
}
