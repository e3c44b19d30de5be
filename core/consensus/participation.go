package consensus

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"srishti/core/block"
)

// NodeState is the slice of a node's derived attributes the score formula
// reads. The chain supplies it; the engine never walks the ledger itself.
type NodeState struct {
	ID         string
	Online     bool
	LastSeen   int64 // epoch millis
	CreatedAt  int64 // epoch millis
	ChildCount int
}

// NodeSource supplies derived node state per consensus round.
type NodeSource interface {
	ParticipationState(nodeID string) (NodeState, bool)
}

// Config carries the hardened 4-factor weight scheme plus the Sybil limits.
// An earlier 3-factor scheme (0.40/0.30/0.30, no age factor) existed before the
// age floor was added; it is superseded and intentionally not merged in here.
type Config struct {
	WeightOnline   float64 `yaml:"weightOnline"`
	WeightRecency  float64 `yaml:"weightRecency"`
	WeightChildren float64 `yaml:"weightChildren"`
	WeightAge      float64 `yaml:"weightAge"`

	MinScore float64 `yaml:"minScore"`
	// ScoreTolerance is the allowed drift between a proof's recorded score and
	// the validator's recomputation. Scores are time-varying, so bit-for-bit
	// re-derivation is impossible; how tight this can be is still under review.
	ScoreTolerance float64 `yaml:"scoreTolerance"`

	MinNodeAge       time.Duration `yaml:"minNodeAge"`
	ProposalCooldown time.Duration `yaml:"proposalCooldown"`

	// Child-creation throttle: at most MaxChildrenPerWindow recorded child
	// creations per node within ChildWindow, independent of proposer checks.
	MaxChildrenPerWindow int           `yaml:"maxChildrenPerWindow"`
	ChildWindow          time.Duration `yaml:"childWindow"`
}

// DefaultConfig returns the production weight scheme and limits.
func DefaultConfig() Config {
	return Config{
		WeightOnline:         0.30,
		WeightRecency:        0.25,
		WeightChildren:       0.20,
		WeightAge:            0.25,
		MinScore:             0.5,
		ScoreTolerance:       0.1,
		MinNodeAge:           time.Hour,
		ProposalCooldown:     60 * time.Second,
		MaxChildrenPerWindow: 10,
		ChildWindow:          time.Hour,
	}
}

// UnmarshalYAML accepts duration fields as strings ("60s", "1h"). Absent keys
// keep whatever value the config already holds, so overrides layer cleanly on
// DefaultConfig.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig struct {
		WeightOnline   float64 `yaml:"weightOnline"`
		WeightRecency  float64 `yaml:"weightRecency"`
		WeightChildren float64 `yaml:"weightChildren"`
		WeightAge      float64 `yaml:"weightAge"`
		MinScore       float64 `yaml:"minScore"`
		ScoreTolerance float64 `yaml:"scoreTolerance"`

		MinNodeAge       string `yaml:"minNodeAge"`
		ProposalCooldown string `yaml:"proposalCooldown"`

		MaxChildrenPerWindow int    `yaml:"maxChildrenPerWindow"`
		ChildWindow          string `yaml:"childWindow"`
	}
	raw := rawConfig{
		WeightOnline:         c.WeightOnline,
		WeightRecency:        c.WeightRecency,
		WeightChildren:       c.WeightChildren,
		WeightAge:            c.WeightAge,
		MinScore:             c.MinScore,
		ScoreTolerance:       c.ScoreTolerance,
		MinNodeAge:           c.MinNodeAge.String(),
		ProposalCooldown:     c.ProposalCooldown.String(),
		MaxChildrenPerWindow: c.MaxChildrenPerWindow,
		ChildWindow:          c.ChildWindow.String(),
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	minAge, err := time.ParseDuration(raw.MinNodeAge)
	if err != nil {
		return fmt.Errorf("consensus config: minNodeAge: %w", err)
	}
	cooldown, err := time.ParseDuration(raw.ProposalCooldown)
	if err != nil {
		return fmt.Errorf("consensus config: proposalCooldown: %w", err)
	}
	childWindow, err := time.ParseDuration(raw.ChildWindow)
	if err != nil {
		return fmt.Errorf("consensus config: childWindow: %w", err)
	}
	c.WeightOnline = raw.WeightOnline
	c.WeightRecency = raw.WeightRecency
	c.WeightChildren = raw.WeightChildren
	c.WeightAge = raw.WeightAge
	c.MinScore = raw.MinScore
	c.ScoreTolerance = raw.ScoreTolerance
	c.MinNodeAge = minAge
	c.ProposalCooldown = cooldown
	c.MaxChildrenPerWindow = raw.MaxChildrenPerWindow
	c.ChildWindow = childWindow
	return nil
}

const (
	recencyFullWindow = 60 * time.Second
	recencyDecayTau   = 8 * time.Hour // 24h / 3
	childrenSoftCap   = 10
	maxCreditedAge    = 30 * 24 * time.Hour
	proposalWindow    = time.Hour

	// driftRecomputeWindow bounds how long after a proof's timestamp its score
	// is re-derived. Scores are time-varying, so recomputing a proof from deep
	// history against present-day state would reject every honest old block;
	// past this window only the structural checks apply.
	driftRecomputeWindow = 5 * time.Minute
)

// Engine decides proposer eligibility and produces/validates the evidence
// embedded in each block.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	src NodeSource

	lastProposal   map[string]int64   // nodeID -> last proof millis
	proposalTimes  map[string][]int64 // rolling 1h window per node
	childCreations map[string][]int64 // rolling ChildWindow per node

	now func() time.Time
}

// NewEngine wires the engine to a node-state source.
func NewEngine(cfg Config, src NodeSource) *Engine {
	return &Engine{
		cfg:            cfg,
		src:            src,
		lastProposal:   map[string]int64{},
		proposalTimes:  map[string][]int64{},
		childCreations: map[string][]int64{},
		now:            time.Now,
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Score computes the participation score in [0,1] from derived attributes.
// Weights sum to 1.0.
func (e *Engine) Score(state NodeState, now time.Time) float64 {
	nowMs := now.UnixMilli()

	onlineScore := 0.0
	if state.Online {
		onlineScore = 1.0
	}

	recencyScore := 0.0
	if state.LastSeen > 0 {
		sinceSeen := time.Duration(nowMs-state.LastSeen) * time.Millisecond
		if sinceSeen <= recencyFullWindow {
			recencyScore = 1.0
		} else {
			recencyScore = clamp01(math.Exp(-sinceSeen.Seconds() / recencyDecayTau.Seconds()))
		}
	}

	childrenScore := math.Min(1, math.Log10(float64(state.ChildCount)+1)/math.Log10(childrenSoftCap+1))

	// Hard floor: nodes younger than MinNodeAge earn zero age credit, then
	// linear growth out to thirty days.
	ageScore := 0.0
	age := time.Duration(nowMs-state.CreatedAt) * time.Millisecond
	if state.CreatedAt > 0 && age >= e.cfg.MinNodeAge {
		ageScore = clamp01(float64(age-e.cfg.MinNodeAge) / float64(maxCreditedAge-e.cfg.MinNodeAge))
	}

	return e.cfg.WeightOnline*onlineScore +
		e.cfg.WeightRecency*recencyScore +
		e.cfg.WeightChildren*childrenScore +
		e.cfg.WeightAge*ageScore
}

// CanPropose reports whether the node currently meets every eligibility gate:
// score at or above the minimum, age at or above the floor, and the per-node
// cooldown since its last proposal elapsed.
func (e *Engine) CanPropose(nodeID string) (bool, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canProposeLocked(nodeID, e.now())
}

func (e *Engine) canProposeLocked(nodeID string, now time.Time) (bool, string) {
	state, ok := e.src.ParticipationState(nodeID)
	if !ok {
		return false, "unknown node"
	}
	age := time.Duration(now.UnixMilli()-state.CreatedAt) * time.Millisecond
	if state.CreatedAt <= 0 || age < e.cfg.MinNodeAge {
		return false, "node younger than minimum age"
	}
	if score := e.Score(state, now); score < e.cfg.MinScore {
		return false, fmt.Sprintf("score %.3f below minimum %.3f", score, e.cfg.MinScore)
	}
	if last, seen := e.lastProposal[nodeID]; seen {
		if time.Duration(now.UnixMilli()-last)*time.Millisecond < e.cfg.ProposalCooldown {
			return false, "proposal cooldown active"
		}
	}
	return true, ""
}

// CreateParticipationProof returns eligibility evidence for a block about to
// be proposed, or nil if the node is not currently eligible. nil means "not
// this node's turn", not an error. The proposal timestamp is recorded into a
// rolling one-hour window for rate analysis.
func (e *Engine) CreateParticipationProof(nodeID string) *block.ParticipationProof {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if ok, _ := e.canProposeLocked(nodeID, now); !ok {
		return nil
	}
	state, _ := e.src.ParticipationState(nodeID)
	nowMs := now.UnixMilli()

	e.lastProposal[nodeID] = nowMs
	cutoff := nowMs - proposalWindow.Milliseconds()
	window := e.proposalTimes[nodeID]
	kept := window[:0]
	for _, ts := range window {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	e.proposalTimes[nodeID] = append(kept, nowMs)

	return &block.ParticipationProof{
		NodeID:     nodeID,
		Score:      e.Score(state, now),
		ChildCount: state.ChildCount,
		Timestamp:  nowMs,
		NetworkAge: nowMs - state.CreatedAt,
	}
}

// ValidateParticipationProof checks a block's evidence: the proof must name
// the block's proposer, claim a sufficient score, and name a proposer the
// validating chain knows. state is the proposer's derived state as seen by the
// chain doing the validation (nil when the proposer is unknown to it) — the
// caller snapshots it so the engine never reads the chain back mid-append.
// Recent proofs must additionally survive score recomputation within the
// configured drift tolerance; proofs older than driftRecomputeWindow are
// historical and keep only the structural checks.
func (e *Engine) ValidateParticipationProof(proof *block.ParticipationProof, proposer string, state *NodeState) error {
	if proof == nil {
		return fmt.Errorf("participation proof missing")
	}
	if proof.NodeID != proposer {
		return fmt.Errorf("proof node %s does not match proposer %s", proof.NodeID, proposer)
	}
	if proof.Score < e.cfg.MinScore {
		return fmt.Errorf("proof score %.3f below minimum %.3f", proof.Score, e.cfg.MinScore)
	}
	if state == nil {
		return fmt.Errorf("proposer %s not known to the chain", proof.NodeID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	if age := time.Duration(now.UnixMilli()-proof.Timestamp) * time.Millisecond; age <= driftRecomputeWindow {
		recomputed := e.Score(*state, now)
		if math.Abs(recomputed-proof.Score) > e.cfg.ScoreTolerance {
			return fmt.Errorf("proof score %.3f drifts more than %.2f from recomputed %.3f",
				proof.Score, e.cfg.ScoreTolerance, recomputed)
		}
	}
	return nil
}

// CanCreateChild reports whether the node has child-creation capacity left in
// the trailing window. This throttle limits fan-out abuse regardless of
// whether the abusive node ever proposes blocks.
func (e *Engine) CanCreateChild(nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.recentChildrenLocked(nodeID, e.now())) < e.cfg.MaxChildrenPerWindow
}

// RecordChildCreation logs one child-creation for the node.
func (e *Engine) RecordChildCreation(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	kept := e.recentChildrenLocked(nodeID, now)
	e.childCreations[nodeID] = append(kept, now.UnixMilli())
}

func (e *Engine) recentChildrenLocked(nodeID string, now time.Time) []int64 {
	cutoff := now.UnixMilli() - e.cfg.ChildWindow.Milliseconds()
	var kept []int64
	for _, ts := range e.childCreations[nodeID] {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	e.childCreations[nodeID] = kept
	return kept
}
