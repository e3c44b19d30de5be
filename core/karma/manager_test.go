package karma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srishti/core/event"
)

// fakeLedger records every earn the manager applies.
type fakeLedger struct {
	nodeIDs  []string
	online   []string
	balances map[string]float64
	earns    []event.Event
}

func newFakeLedger(nodeIDs ...string) *fakeLedger {
	return &fakeLedger{nodeIDs: nodeIDs, balances: map[string]float64{}}
}

func (f *fakeLedger) AllNodeIDs() []string { return f.nodeIDs }

func (f *fakeLedger) OnlineNodes(window time.Duration, now time.Time) []string {
	return f.online
}

func (f *fakeLedger) GetBalance(nodeID string) float64 { return f.balances[nodeID] }

func (f *fakeLedger) HandleKarmaEarn(ev event.Event) error {
	amount, _ := ev.PayloadFloat("amount")
	f.balances[ev.Recipient] += amount
	f.earns = append(f.earns, ev)
	return nil
}

// memMetaStore is an in-memory MetaStore.
type memMetaStore struct {
	data map[string][]byte
}

func newMemMetaStore() *memMetaStore { return &memMetaStore{data: map[string][]byte{}} }

func (m *memMetaStore) GetMetadata(key string) ([]byte, error) { return m.data[key], nil }

func (m *memMetaStore) SaveMetadata(key string, value []byte) error {
	m.data[key] = value
	return nil
}

var karmaNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(ledger Ledger, store MetaStore) *Manager {
	m := NewManager(DefaultConfig(), ledger, store, nil, "local", nil)
	m.SetClock(func() time.Time { return karmaNow })
	return m
}

func TestPresenceAccrual(t *testing.T) {
	ledger := newFakeLedger("a", "b")
	ledger.online = []string{"a"}
	m := newTestManager(ledger, nil)

	// first sighting only starts the meter
	m.RunPresenceCheck(karmaNow)
	assert.Zero(t, m.PendingAmount("a"))

	// two minutes later: 2 * (0.01 + 0.005) per minute
	m.RunPresenceCheck(karmaNow.Add(2 * time.Minute))
	assert.InDelta(t, 0.03, m.PendingAmount("a"), 1e-9)
	assert.Zero(t, m.PendingAmount("b"), "offline node must not accrue")
}

func TestLocalNodeAlwaysCountsAsOnline(t *testing.T) {
	ledger := newFakeLedger("local")
	m := newTestManager(ledger, nil)

	m.RunPresenceCheck(karmaNow)
	m.RunPresenceCheck(karmaNow.Add(time.Minute))
	assert.InDelta(t, 0.015, m.PendingAmount("local"), 1e-9)
}

func TestFlushPendingThreshold(t *testing.T) {
	ledger := newFakeLedger("a")
	ledger.online = []string{"a"}
	m := newTestManager(ledger, nil)

	m.RunPresenceCheck(karmaNow)
	m.RunPresenceCheck(karmaNow.Add(2 * time.Minute))
	require.InDelta(t, 0.03, m.PendingAmount("a"), 1e-9)

	// below MinFlushAmount and younger than MaxPendingAge: stays pending
	m.FlushPending(karmaNow.Add(2*time.Minute + time.Second))
	assert.InDelta(t, 0.03, m.PendingAmount("a"), 1e-9)
	assert.Empty(t, ledger.earns)

	// bucket age passes MaxPendingAge: flushed despite the small amount
	m.FlushPending(karmaNow.Add(5 * time.Minute))
	assert.Zero(t, m.PendingAmount("a"))
	require.Len(t, ledger.earns, 1)
	assert.Equal(t, event.TypeKarmaEarn, ledger.earns[0].Type)
	assert.Equal(t, "presence", ledger.earns[0].PayloadString("reason"))
	assert.InDelta(t, 0.03, ledger.balances["a"], 1e-9)
}

func TestFlushPendingLargeBucketFlushesImmediately(t *testing.T) {
	ledger := newFakeLedger("a")
	ledger.online = []string{"a"}
	m := newTestManager(ledger, nil)

	m.RunPresenceCheck(karmaNow)
	m.RunPresenceCheck(karmaNow.Add(10 * time.Minute)) // 0.15 >= MinFlushAmount
	m.FlushPending(karmaNow.Add(10*time.Minute + time.Second))
	assert.Zero(t, m.PendingAmount("a"))
	assert.InDelta(t, 0.15, ledger.balances["a"], 1e-9)
}

func TestUbiDistributionIdempotentWithinDay(t *testing.T) {
	ledger := newFakeLedger("a", "b")
	m := newTestManager(ledger, nil)

	m.CheckUbiDistribution(karmaNow)
	assert.InDelta(t, 10, ledger.balances["a"], 1e-9)
	assert.InDelta(t, 10, ledger.balances["b"], 1e-9)

	// same day: running again awards nothing
	m.CheckUbiDistribution(karmaNow.Add(3 * time.Hour))
	assert.InDelta(t, 10, ledger.balances["a"], 1e-9)

	// next day past the distribution hour: due again
	m.CheckUbiDistribution(karmaNow.Add(24 * time.Hour))
	assert.InDelta(t, 20, ledger.balances["a"], 1e-9)
}

func TestUbiNotDueBeforeDistributionHour(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UbiDistributionHour = 18
	ledger := newFakeLedger("a")
	m := NewManager(cfg, ledger, nil, nil, "local", nil)
	m.SetClock(func() time.Time { return karmaNow }) // 12:00 UTC

	m.CheckUbiDistribution(karmaNow)
	assert.Zero(t, ledger.balances["a"])

	m.CheckUbiDistribution(karmaNow.Add(7 * time.Hour)) // 19:00 UTC
	assert.InDelta(t, 10, ledger.balances["a"], 1e-9)
}

func TestUbiBookkeepingSurvivesRestart(t *testing.T) {
	ledger := newFakeLedger("a")
	store := newMemMetaStore()
	m := newTestManager(ledger, store)
	m.CheckUbiDistribution(karmaNow)
	require.InDelta(t, 10, ledger.balances["a"], 1e-9)

	// a fresh manager over the same store must not double-pay today
	restarted := newTestManager(ledger, store)
	restarted.CheckUbiDistribution(karmaNow.Add(time.Hour))
	assert.InDelta(t, 10, ledger.balances["a"], 1e-9)
}

func TestStartStopIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	m := newTestManager(ledger, nil)
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}

func TestGetBalancePassthrough(t *testing.T) {
	ledger := newFakeLedger("a")
	ledger.balances["a"] = 3.5
	m := newTestManager(ledger, nil)
	assert.Equal(t, 3.5, m.GetBalance("a"))
	assert.Zero(t, m.PendingAmount("nobody"))
}
