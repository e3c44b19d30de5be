package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsRunnable(t *testing.T) {
	cfg := Default()
	if cfg.Node.APIPort == 0 || cfg.Node.DataDir == "" {
		t.Fatalf("defaults incomplete: %+v", cfg.Node)
	}
	if cfg.Consensus.MinScore <= 0 || cfg.Karma.UbiDailyAmount <= 0 {
		t.Fatal("nested defaults missing")
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
node:
  id: node-42
  apiPort: 9090
  blockInterval: 5s
chain:
  cacheSize: 16
consensus:
  minScore: 0.6
  minNodeAge: 2h
karma:
  presenceCheckInterval: 30s
  ubiDailyAmount: 5
peers:
  - peer1:8080
  - peer2:8080
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Node.ID != "node-42" || cfg.Node.APIPort != 9090 {
		t.Fatalf("node section: %+v", cfg.Node)
	}
	if cfg.Node.BlockInterval != 5*time.Second {
		t.Fatalf("blockInterval = %v", cfg.Node.BlockInterval)
	}
	if cfg.Chain.CacheSize != 16 {
		t.Fatalf("cacheSize = %d", cfg.Chain.CacheSize)
	}
	if cfg.Consensus.MinScore != 0.6 {
		t.Fatalf("minScore = %v", cfg.Consensus.MinScore)
	}
	if cfg.Consensus.MinNodeAge != 2*time.Hour {
		t.Fatalf("minNodeAge = %v", cfg.Consensus.MinNodeAge)
	}
	if cfg.Karma.PresenceCheckInterval != 30*time.Second {
		t.Fatalf("presenceCheckInterval = %v", cfg.Karma.PresenceCheckInterval)
	}
	if cfg.Karma.UbiDailyAmount != 5 {
		t.Fatalf("ubiDailyAmount = %v", cfg.Karma.UbiDailyAmount)
	}
	// untouched keys keep their defaults
	if cfg.Consensus.ProposalCooldown != 60*time.Second {
		t.Fatalf("cooldown default lost: %v", cfg.Consensus.ProposalCooldown)
	}
	if cfg.Karma.MinFlushAmount != 0.1 {
		t.Fatalf("minFlushAmount default lost: %v", cfg.Karma.MinFlushAmount)
	}
	if len(cfg.Peers) != 2 {
		t.Fatalf("peers = %v", cfg.Peers)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("node:\n  id: from-file\n  apiPort: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SRISHTI_NODE_ID", "from-env")
	t.Setenv("SRISHTI_API_PORT", "7070")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Node.ID != "from-env" {
		t.Fatalf("id = %s", cfg.Node.ID)
	}
	if cfg.Node.APIPort != 7070 {
		t.Fatalf("apiPort = %d", cfg.Node.APIPort)
	}
}

func TestLoadBadPortEnv(t *testing.T) {
	t.Setenv("SRISHTI_API_PORT", "not-a-port")
	if _, err := Load(""); err == nil {
		t.Fatal("bad port accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
