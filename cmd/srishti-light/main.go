package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"srishti/core/block"
	"srishti/core/lightclient"
	"srishti/core/p2p"
	"srishti/core/storage"
)

// srishti-light is the SPV companion binary: it syncs headers only, audits
// the header chain, and can verify a single transaction's inclusion against
// a full node's Merkle proof without ever downloading block bodies.
func main() {
	peer := flag.String("peer", "localhost:8080", "full node API address (host:port)")
	dataDir := flag.String("data", "light-data", "directory for the header store")
	verifyBlock := flag.Int("verify-block", -1, "block index to verify a transaction in")
	verifyTx := flag.Int("verify-tx", 0, "transaction index within the block")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*peer, *dataDir, *verifyBlock, *verifyTx, log); err != nil {
		log.WithError(err).Fatal("[LIGHT] exiting")
	}
}

func run(peer, dataDir string, verifyBlock, verifyTx int, log *logrus.Logger) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	store, err := storage.NewStorage(filepath.Join(dataDir, "headers"))
	if err != nil {
		return err
	}
	defer store.Close()

	client := lightclient.New(store)
	if err := client.Init(); err != nil {
		return err
	}
	log.WithField("height", client.Height()).Info("[LIGHT] header store loaded")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fetcher := p2p.NewHTTPFetcher()
	request := func(ctx context.Context, from int) ([]block.Header, error) {
		return fetcher.FetchHeaders(ctx, peer, from)
	}
	synced, err := client.SyncHeaders(ctx, request, client.Height())
	if err != nil {
		return fmt.Errorf("header sync stalled after %d headers: %w", synced, err)
	}
	log.WithFields(logrus.Fields{"synced": synced, "height": client.Height()}).Info("[LIGHT] headers in sync")

	if defects := client.ValidateHeaderChain(); len(defects) > 0 {
		for _, d := range defects {
			log.WithFields(logrus.Fields{"index": d.Index, "reason": d.Reason}).Warn("[LIGHT] header defect")
		}
		return fmt.Errorf("header chain audit found %d defect(s)", len(defects))
	}

	if verifyBlock >= 0 {
		return verifyInclusion(ctx, client, peer, verifyBlock, verifyTx, log)
	}
	return nil
}

// verifyInclusion asks the full node for the transaction and its proof, then
// checks both against the locally synced header.
func verifyInclusion(ctx context.Context, client *lightclient.Client, peer string,
	blockIndex, txIndex int, log *logrus.Logger) error {
	header, err := client.Header(blockIndex)
	if err != nil {
		return err
	}
	proofResp, err := fetchJSON(ctx, fmt.Sprintf("http://%s/proof?block=%d&tx=%d", peer, blockIndex, txIndex))
	if err != nil {
		return fmt.Errorf("fetching proof: %w", err)
	}
	var bundle struct {
		Proof *block.Proof `json:"proof"`
	}
	if err := json.Unmarshal(proofResp, &bundle); err != nil {
		return err
	}
	blockResp, err := fetchJSON(ctx, fmt.Sprintf("http://%s/block/%d", peer, blockIndex))
	if err != nil {
		return fmt.Errorf("fetching block: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(blockResp, &blk); err != nil {
		return err
	}
	if txIndex < 0 || txIndex >= len(blk.Body.Transactions) {
		return fmt.Errorf("transaction index %d out of range", txIndex)
	}

	ok, err := client.VerifyTransaction(blk.Body.Transactions[txIndex], bundle.Proof, header)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("transaction %d in block %d failed inclusion verification", txIndex, blockIndex)
	}
	log.WithFields(logrus.Fields{"block": blockIndex, "tx": txIndex}).Info("[LIGHT] inclusion verified")
	return nil
}

func fetchJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node returned %s", resp.Status)
	}
	var buf json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&buf); err != nil {
		return nil, err
	}
	return buf, nil
}
