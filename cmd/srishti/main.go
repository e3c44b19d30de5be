package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"srishti/api/server"
	"srishti/core/audit"
	"srishti/core/auth"
	"srishti/core/chain"
	"srishti/core/config"
	"srishti/core/consensus"
	"srishti/core/crypto"
	"srishti/core/event"
	"srishti/core/karma"
	"srishti/core/mempool"
	"srishti/core/p2p"
	"srishti/core/storage"
)

const maxBlockEvents = 100

func main() {
	configPath := flag.String("config", "", "path to node config YAML")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Node.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.Info("starting srishti node")

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}

	// Node identity: keypair on disk, node id derived from the public key
	// unless configured explicitly.
	pubKey, _, err := crypto.GenerateAndSaveKeypair(cfg.Node.DataDir)
	if err != nil {
		log.Fatalf("loading node keypair: %v", err)
	}
	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = hex.EncodeToString(pubKey)[:16]
	}
	log.WithField("node_id", nodeID).Info("node identity loaded")

	store, err := storage.NewStorage(filepath.Join(cfg.Node.DataDir, "chaindb"))
	if err != nil {
		log.Fatalf("opening storage: %v", err)
	}
	defer store.Close()

	auditor := audit.NewLogrusAuditLogger(log)

	var genesisCfg *chain.GenesisConfig
	if cfg.Node.GenesisPath != "" {
		if genesisCfg, err = chain.LoadGenesisConfig(cfg.Node.GenesisPath); err != nil {
			log.Fatalf("loading genesis config: %v", err)
		}
	} else {
		genesisCfg = &chain.GenesisConfig{GenesisTime: time.Now().UTC()}
	}

	ledger := chain.New(chain.Config{
		MinBalance: cfg.Chain.MinBalance,
		RootNodes:  genesisCfg.RootNodes,
		CacheSize:  cfg.Chain.CacheSize,
	}, store, nil, auditor)

	hasGenesis, err := store.HasGenesisBlock()
	if err != nil {
		log.Fatalf("inspecting storage: %v", err)
	}
	if hasGenesis {
		if err := ledger.Load(store.ChainHeight); err != nil {
			log.Fatalf("loading chain: %v", err)
		}
		log.WithField("height", ledger.Height()).Info("chain loaded from storage")
	} else {
		if err := ledger.Bootstrap(genesisCfg); err != nil {
			log.Fatalf("bootstrapping genesis: %v", err)
		}
		log.Info("genesis block created")
	}

	engine := consensus.NewEngine(cfg.Consensus, ledger)
	ledger.SetValidator(engine)

	karmaMgr := karma.NewManager(cfg.Karma, ledger, store, auditor, nodeID, log)
	karmaMgr.Start()
	defer karmaMgr.Stop()

	var verifier *auth.Verifier
	if cfg.Node.GovPubKeyPath != "" {
		pub, err := auth.LoadRSAPublicKeyFromFile(cfg.Node.GovPubKeyPath)
		if err != nil {
			log.Fatalf("loading governance key: %v", err)
		}
		verifier = &auth.Verifier{KeyProvider: &auth.StaticKeyProvider{PublicKey: pub}}
	}

	pool := mempool.NewMempool(10000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Proposer loop: bundle pending events into a block when this node is
	// eligible. Ineligibility is normal (nil proof = not our turn).
	go runProposer(ctx, cfg.Node.BlockInterval, nodeID, ledger, engine, pool, log)

	// Fork-choice loop: poll peer tips and adopt longer valid chains.
	if len(cfg.Peers) > 0 {
		go runForkSync(ctx, cfg.Node.SyncInterval, cfg.Peers, ledger, log)
	}

	api := server.New(nodeID, ledger, pool, karmaMgr, verifier, auditor, log)
	go func() {
		if err := api.Start(cfg.Node.APIPort); err != nil {
			log.WithError(err).Error("api server stopped")
			cancel()
		}
	}()
	defer api.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case <-ctx.Done():
	}
}

func runProposer(ctx context.Context, interval time.Duration, nodeID string,
	ledger *chain.Chain, engine *consensus.Engine, pool *mempool.Mempool, log *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Heartbeat: each round carries at least this node's own presence
		// update, which keeps the proposer's recency fresh in derived state
		// once the block lands.
		if hb, err := event.NewPresenceUpdate(nodeID, true, time.Now().UnixMilli()); err == nil {
			pool.Add(hb)
		}
		proof := engine.CreateParticipationProof(nodeID)
		if proof == nil {
			continue // not our turn
		}
		events := pool.Take(maxBlockEvents)
		blk, err := chain.BuildBlock(ledger, nodeID, proof, events)
		if err != nil {
			log.WithError(err).Warn("[PROPOSER] building block")
			continue
		}
		receipt := ledger.Append(blk)
		if !receipt.Valid {
			log.WithFields(logrus.Fields{
				"reason": receipt.Reason,
				"error":  receipt.Error,
			}).Warn("[PROPOSER] own block rejected")
			continue
		}
		log.WithFields(logrus.Fields{
			"height": receipt.Height,
			"hash":   receipt.BlockHash,
			"events": len(events),
		}).Info("[PROPOSER] block appended")
	}
}

func runForkSync(ctx context.Context, interval time.Duration, peers []string,
	ledger *chain.Chain, log *logrus.Logger) {
	fetcher := p2p.NewHTTPFetcher()
	fc := chain.NewForkChoice(ledger, fetcher, log)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var tips []chain.PeerTip
		for _, addr := range peers {
			tip, err := fetcher.FetchTip(ctx, addr)
			if err != nil {
				log.WithError(err).WithField("peer", addr).Debug("[SYNC] tip fetch failed")
				continue
			}
			tips = append(tips, chain.PeerTip{Address: addr, Height: tip.Height, TipHash: tip.TipHash})
		}
		if err := fc.CheckAndSync(ctx, tips); err != nil {
			log.WithError(err).Warn("[SYNC] fork sync failed")
		}
	}
}
