package karma

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"srishti/core/audit"
	"srishti/core/event"
)

// Metadata keys for restart-safe bookkeeping.
const (
	ubiMetadataKey      = "karma_ubi_distribution"
	presenceMetadataKey = "karma_presence_checks"
)

// Ledger is the chain surface the karma layer reads and mutates. Satisfied by
// chain.Chain.
type Ledger interface {
	AllNodeIDs() []string
	OnlineNodes(window time.Duration, now time.Time) []string
	GetBalance(nodeID string) float64
	// HandleKarmaEarn is the trusted-local, non-consensus balance mutation:
	// accruals applied through it never enter the block log.
	HandleKarmaEarn(ev event.Event) error
}

// MetaStore persists bookkeeping maps so restarts do not double-pay.
type MetaStore interface {
	GetMetadata(key string) ([]byte, error)
	SaveMetadata(key string, value []byte) error
}

// Config tunes the accrual loops.
type Config struct {
	PresenceCheckInterval time.Duration `yaml:"presenceCheckInterval"`
	UbiCheckInterval      time.Duration `yaml:"ubiCheckInterval"`

	// KARMA per online minute, split between being present and relaying for
	// the network.
	OnlinePresenceRate  float64 `yaml:"onlinePresenceRate"`
	NetworkWatchingRate float64 `yaml:"networkWatchingRate"`

	// A pending bucket flushes once it holds MinFlushAmount or has been
	// pending MaxPendingAge.
	MinFlushAmount float64       `yaml:"minFlushAmount"`
	MaxPendingAge  time.Duration `yaml:"maxPendingAge"`

	UbiDailyAmount float64 `yaml:"ubiDailyAmount"`
	// UbiDistributionHour is the UTC hour after which today's UBI is due.
	UbiDistributionHour int `yaml:"ubiDistributionHour"`

	// OnlineWindow: nodes seen this recently count as online even without an
	// explicit flag.
	OnlineWindow time.Duration `yaml:"onlineWindow"`
}

// DefaultConfig returns production accrual rates.
func DefaultConfig() Config {
	return Config{
		PresenceCheckInterval: 60 * time.Second,
		UbiCheckInterval:      time.Hour,
		OnlinePresenceRate:    0.01,
		NetworkWatchingRate:   0.005,
		MinFlushAmount:        0.1,
		MaxPendingAge:         60 * time.Second,
		UbiDailyAmount:        10,
		UbiDistributionHour:   0,
		OnlineWindow:          5 * time.Minute,
	}
}

// UnmarshalYAML accepts duration fields as strings ("60s", "1h"). Absent keys
// keep the values already present, so overrides layer on DefaultConfig.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig struct {
		PresenceCheckInterval string  `yaml:"presenceCheckInterval"`
		UbiCheckInterval      string  `yaml:"ubiCheckInterval"`
		OnlinePresenceRate    float64 `yaml:"onlinePresenceRate"`
		NetworkWatchingRate   float64 `yaml:"networkWatchingRate"`
		MinFlushAmount        float64 `yaml:"minFlushAmount"`
		MaxPendingAge         string  `yaml:"maxPendingAge"`
		UbiDailyAmount        float64 `yaml:"ubiDailyAmount"`
		UbiDistributionHour   int     `yaml:"ubiDistributionHour"`
		OnlineWindow          string  `yaml:"onlineWindow"`
	}
	raw := rawConfig{
		PresenceCheckInterval: c.PresenceCheckInterval.String(),
		UbiCheckInterval:      c.UbiCheckInterval.String(),
		OnlinePresenceRate:    c.OnlinePresenceRate,
		NetworkWatchingRate:   c.NetworkWatchingRate,
		MinFlushAmount:        c.MinFlushAmount,
		MaxPendingAge:         c.MaxPendingAge.String(),
		UbiDailyAmount:        c.UbiDailyAmount,
		UbiDistributionHour:   c.UbiDistributionHour,
		OnlineWindow:          c.OnlineWindow.String(),
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	presence, err := time.ParseDuration(raw.PresenceCheckInterval)
	if err != nil {
		return fmt.Errorf("karma config: presenceCheckInterval: %w", err)
	}
	ubi, err := time.ParseDuration(raw.UbiCheckInterval)
	if err != nil {
		return fmt.Errorf("karma config: ubiCheckInterval: %w", err)
	}
	pendingAge, err := time.ParseDuration(raw.MaxPendingAge)
	if err != nil {
		return fmt.Errorf("karma config: maxPendingAge: %w", err)
	}
	onlineWindow, err := time.ParseDuration(raw.OnlineWindow)
	if err != nil {
		return fmt.Errorf("karma config: onlineWindow: %w", err)
	}
	c.PresenceCheckInterval = presence
	c.UbiCheckInterval = ubi
	c.OnlinePresenceRate = raw.OnlinePresenceRate
	c.NetworkWatchingRate = raw.NetworkWatchingRate
	c.MinFlushAmount = raw.MinFlushAmount
	c.MaxPendingAge = pendingAge
	c.UbiDailyAmount = raw.UbiDailyAmount
	c.UbiDistributionHour = raw.UbiDistributionHour
	c.OnlineWindow = onlineWindow
	return nil
}

type pendingBucket struct {
	amount float64
	since  int64 // millis of first unflushed accrual
}

// Manager runs the two background accrual loops: presence earning and the
// daily UBI grant. Both are idempotent-by-accumulation and persist their
// bookkeeping through the MetaStore.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	ledger  Ledger
	store   MetaStore
	auditor audit.Logger
	log     *logrus.Logger

	// localNode is always treated as online: it is the node running us.
	localNode string

	pending           map[string]*pendingBucket
	lastPresenceCheck map[string]int64 // nodeID -> millis
	lastUbi           map[string]int64 // nodeID -> millis

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	wg       sync.WaitGroup

	now func() time.Time
}

// NewManager wires the karma layer. store may be nil (tests); bookkeeping is
// then memory-only.
func NewManager(cfg Config, ledger Ledger, store MetaStore, auditor audit.Logger, localNode string, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	m := &Manager{
		cfg:               cfg,
		ledger:            ledger,
		store:             store,
		auditor:           auditor,
		log:               log,
		localNode:         localNode,
		pending:           map[string]*pendingBucket{},
		lastPresenceCheck: map[string]int64{},
		lastUbi:           map[string]int64{},
		stopCh:            make(chan struct{}),
		now:               time.Now,
	}
	m.restoreBookkeeping()
	return m
}

// SetClock overrides the manager clock. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Start launches the presence and UBI timers.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(2)
	go m.runLoop(m.cfg.PresenceCheckInterval, func(now time.Time) {
		m.RunPresenceCheck(now)
		m.FlushPending(now)
	})
	go m.runLoop(m.cfg.UbiCheckInterval, func(now time.Time) {
		m.CheckUbiDistribution(now)
	})
}

// Stop cancels future timer firings without waiting for in-flight work.
// Calling it twice is safe.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *Manager) runLoop(interval time.Duration, tick func(now time.Time)) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case t := <-ticker.C:
			tick(t)
		}
	}
}

// RunPresenceCheck accrues presence earnings for every node currently
// considered online into per-node pending buckets. Exported so tests and the
// daemon can drive it with an explicit clock.
func (m *Manager) RunPresenceCheck(now time.Time) {
	online := m.ledger.OnlineNodes(m.cfg.OnlineWindow, now)
	seen := map[string]bool{}
	for _, id := range online {
		seen[id] = true
	}
	if m.localNode != "" {
		seen[m.localNode] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	nowMs := now.UnixMilli()
	rate := m.cfg.OnlinePresenceRate + m.cfg.NetworkWatchingRate
	for id := range seen {
		last, ok := m.lastPresenceCheck[id]
		m.lastPresenceCheck[id] = nowMs
		if !ok {
			continue // first sighting starts the meter
		}
		minutes := float64(nowMs-last) / float64(time.Minute.Milliseconds())
		if minutes <= 0 {
			continue
		}
		bucket := m.pending[id]
		if bucket == nil {
			bucket = &pendingBucket{since: nowMs}
			m.pending[id] = bucket
		}
		bucket.amount += minutes * rate
	}
	m.persistPresenceLocked()
}

// FlushPending converts any bucket holding at least MinFlushAmount, or
// pending longer than MaxPendingAge, into a direct balance mutation via the
// ledger's non-consensus path.
func (m *Manager) FlushPending(now time.Time) {
	m.mu.Lock()
	nowMs := now.UnixMilli()
	type flush struct {
		nodeID string
		amount float64
	}
	var due []flush
	for id, bucket := range m.pending {
		if bucket.amount <= 0 {
			continue
		}
		if bucket.amount >= m.cfg.MinFlushAmount || nowMs-bucket.since >= m.cfg.MaxPendingAge.Milliseconds() {
			due = append(due, flush{id, bucket.amount})
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()

	for _, f := range due {
		ev, err := event.NewKarmaEarn(f.nodeID, f.amount, "presence", now.UnixMilli())
		if err != nil {
			m.log.WithError(err).Warn("[KARMA] building presence earn event")
			continue
		}
		if err := m.ledger.HandleKarmaEarn(ev); err != nil {
			m.log.WithError(err).WithField("node", f.nodeID).Warn("[KARMA] presence flush failed")
			continue
		}
		m.auditor.Log(audit.Entry{
			Category: "karma_flush",
			Actor:    f.nodeID,
			Outcome:  "committed",
			Reason:   fmt.Sprintf("presence accrual %.4f", f.amount),
		})
	}
}

// CheckUbiDistribution grants the flat daily UBI to every node whose last
// grant predates today's distribution hour (UTC). Idempotent within a day:
// running it twice awards once.
func (m *Manager) CheckUbiDistribution(now time.Time) {
	due := m.dueForUbi(now)
	for _, id := range due {
		ev, err := event.NewKarmaEarn(id, m.cfg.UbiDailyAmount, "ubi", now.UnixMilli())
		if err != nil {
			m.log.WithError(err).Warn("[KARMA] building ubi event")
			continue
		}
		if err := m.ledger.HandleKarmaEarn(ev); err != nil {
			m.log.WithError(err).WithField("node", id).Warn("[KARMA] ubi grant failed")
			continue
		}
		m.mu.Lock()
		m.lastUbi[id] = now.UnixMilli()
		m.persistUbiLocked()
		m.mu.Unlock()
		m.auditor.Log(audit.Entry{
			Category: "karma_ubi",
			Actor:    id,
			Outcome:  "committed",
			Reason:   fmt.Sprintf("daily ubi %.2f", m.cfg.UbiDailyAmount),
		})
	}
}

// dueForUbi lists nodes owed today's grant.
func (m *Manager) dueForUbi(now time.Time) []string {
	distribution := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(),
		m.cfg.UbiDistributionHour, 0, 0, 0, time.UTC)
	if now.Before(distribution) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []string
	for _, id := range m.ledger.AllNodeIDs() {
		if m.lastUbi[id] < distribution.UnixMilli() {
			due = append(due, id)
		}
	}
	return due
}

// GetBalance reads the derived balance; the floor is enforced at mutation
// time, so this is never negative.
func (m *Manager) GetBalance(nodeID string) float64 {
	return m.ledger.GetBalance(nodeID)
}

// PendingAmount exposes a node's unflushed accrual (status API).
func (m *Manager) PendingAmount(nodeID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bucket := m.pending[nodeID]; bucket != nil {
		return bucket.amount
	}
	return 0
}

func (m *Manager) restoreBookkeeping() {
	if m.store == nil {
		return
	}
	if data, err := m.store.GetMetadata(ubiMetadataKey); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &m.lastUbi); err != nil {
			m.log.WithError(err).Warn("[KARMA] corrupt ubi bookkeeping; starting fresh")
			m.lastUbi = map[string]int64{}
		}
	}
	if data, err := m.store.GetMetadata(presenceMetadataKey); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &m.lastPresenceCheck); err != nil {
			m.log.WithError(err).Warn("[KARMA] corrupt presence bookkeeping; starting fresh")
			m.lastPresenceCheck = map[string]int64{}
		}
	}
}

func (m *Manager) persistUbiLocked() {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(m.lastUbi)
	if err == nil {
		err = m.store.SaveMetadata(ubiMetadataKey, data)
	}
	if err != nil {
		m.log.WithError(err).Warn("[KARMA] persisting ubi bookkeeping")
	}
}

func (m *Manager) persistPresenceLocked() {
	if m.store == nil {
		return
	}
	data, err := json.Marshal(m.lastPresenceCheck)
	if err == nil {
		err = m.store.SaveMetadata(presenceMetadataKey, data)
	}
	if err != nil {
		m.log.WithError(err).Warn("[KARMA] persisting presence bookkeeping")
	}
}
