package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"srishti/core/consensus"
	"srishti/core/karma"
)

// Config is the full node configuration, loaded from a YAML file with
// environment overrides on top (a .env file is honored when present).
type Config struct {
	Node      NodeConfig       `yaml:"node"`
	Chain     ChainConfig      `yaml:"chain"`
	Consensus consensus.Config `yaml:"consensus"`
	Karma     karma.Config     `yaml:"karma"`
	Peers     []string         `yaml:"peers"`
}

type NodeConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	DataDir     string `yaml:"dataDir"`
	APIPort     int    `yaml:"apiPort"`
	LogLevel    string `yaml:"logLevel"`
	GenesisPath string `yaml:"genesisPath"`
	// GovPubKeyPath points at the PEM key that verifies governance tokens.
	GovPubKeyPath string `yaml:"govPubKeyPath"`
	// BlockInterval paces the proposer loop.
	BlockInterval time.Duration `yaml:"blockInterval"`
	// SyncInterval paces fork-choice polling.
	SyncInterval time.Duration `yaml:"syncInterval"`
}

// UnmarshalYAML accepts the interval fields as duration strings ("3s").
// Absent keys keep the values already present.
func (n *NodeConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawNode struct {
		ID            string `yaml:"id"`
		Name          string `yaml:"name"`
		DataDir       string `yaml:"dataDir"`
		APIPort       int    `yaml:"apiPort"`
		LogLevel      string `yaml:"logLevel"`
		GenesisPath   string `yaml:"genesisPath"`
		GovPubKeyPath string `yaml:"govPubKeyPath"`
		BlockInterval string `yaml:"blockInterval"`
		SyncInterval  string `yaml:"syncInterval"`
	}
	raw := rawNode{
		ID:            n.ID,
		Name:          n.Name,
		DataDir:       n.DataDir,
		APIPort:       n.APIPort,
		LogLevel:      n.LogLevel,
		GenesisPath:   n.GenesisPath,
		GovPubKeyPath: n.GovPubKeyPath,
		BlockInterval: n.BlockInterval.String(),
		SyncInterval:  n.SyncInterval.String(),
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	blockInterval, err := time.ParseDuration(raw.BlockInterval)
	if err != nil {
		return fmt.Errorf("node config: blockInterval: %w", err)
	}
	syncInterval, err := time.ParseDuration(raw.SyncInterval)
	if err != nil {
		return fmt.Errorf("node config: syncInterval: %w", err)
	}
	n.ID = raw.ID
	n.Name = raw.Name
	n.DataDir = raw.DataDir
	n.APIPort = raw.APIPort
	n.LogLevel = raw.LogLevel
	n.GenesisPath = raw.GenesisPath
	n.GovPubKeyPath = raw.GovPubKeyPath
	n.BlockInterval = blockInterval
	n.SyncInterval = syncInterval
	return nil
}

type ChainConfig struct {
	MinBalance float64 `yaml:"minBalance"`
	CacheSize  int     `yaml:"cacheSize"`
}

// Default returns a runnable single-node configuration.
func Default() Config {
	return Config{
		Node: NodeConfig{
			Name:          "srishti-node",
			DataDir:       "data",
			APIPort:       8080,
			LogLevel:      "info",
			GenesisPath:   "genesis.json",
			BlockInterval: 3 * time.Second,
			SyncInterval:  15 * time.Second,
		},
		Chain:     ChainConfig{MinBalance: 0, CacheSize: 128},
		Consensus: consensus.DefaultConfig(),
		Karma:     karma.DefaultConfig(),
	}
}

// Load reads path (optional; "" keeps defaults) and applies environment
// overrides. SRISHTI_NODE_ID, SRISHTI_API_PORT, SRISHTI_DATA_DIR and
// SRISHTI_LOG_LEVEL win over the file.
func Load(path string) (Config, error) {
	// .env is a convenience for local runs; absence is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if v := os.Getenv("SRISHTI_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("SRISHTI_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("SRISHTI_LOG_LEVEL"); v != "" {
		cfg.Node.LogLevel = v
	}
	if v := os.Getenv("SRISHTI_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: SRISHTI_API_PORT: %w", err)
		}
		cfg.Node.APIPort = port
	}
	return cfg, nil
}
