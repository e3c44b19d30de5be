package chain

import (
	"sort"

	"srishti/core/event"
)

// NodeView is a node's identity and relationship state as derived from the
// event log. It is never stored: fold the log from genesis and you get the
// same map every time.
type NodeView struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	ParentIDs         []string   `json:"parentIds"`
	PublicKey         string     `json:"publicKey,omitempty"`
	IsOnline          bool       `json:"isOnline"`
	LastSeen          int64      `json:"lastSeen"`
	CreatedAt         int64      `json:"createdAt"`
	ChildCount        int        `json:"childCount"`
	Role              event.Role `json:"role"`
	Achievements      []string   `json:"achievements,omitempty"`
	Guardians         []string   `json:"guardians,omitempty"`
	RecoveryThreshold int        `json:"recoveryThreshold,omitempty"`
}

func (n *NodeView) hasParent(id string) bool {
	for _, p := range n.ParentIDs {
		if p == id {
			return true
		}
	}
	return false
}

// derivedState is the full fold of the event log: identity graph plus KARMA
// balances. Both incremental append and full replay funnel through applyEvent,
// which is what keeps the two paths bit-identical.
type derivedState struct {
	nodes    map[string]*NodeView
	balances map[string]float64

	minBalance float64
	rootNodes  map[string]bool
}

func newDerivedState(minBalance float64, rootNodes []string) *derivedState {
	roots := map[string]bool{}
	for _, id := range rootNodes {
		roots[id] = true
	}
	return &derivedState{
		nodes:      map[string]*NodeView{},
		balances:   map[string]float64{},
		minBalance: minBalance,
		rootNodes:  roots,
	}
}

func (s *derivedState) node(id string) *NodeView {
	return s.nodes[id]
}

// credit mutates a balance, floor-bounded at the configured minimum.
func (s *derivedState) credit(id string, amount float64) {
	next := s.balances[id] + amount
	if next < s.minBalance {
		next = s.minBalance
	}
	s.balances[id] = next
}

func (s *derivedState) addParent(child *NodeView, parentID string) {
	if parentID == "" || child.hasParent(parentID) || parentID == child.ID {
		return
	}
	child.ParentIDs = append(child.ParentIDs, parentID)
	if parent, ok := s.nodes[parentID]; ok {
		parent.ChildCount++
	}
}

func (s *derivedState) removeParent(child *NodeView, parentID string) {
	for i, p := range child.ParentIDs {
		if p == parentID {
			child.ParentIDs = append(child.ParentIDs[:i], child.ParentIDs[i+1:]...)
			if parent, ok := s.nodes[parentID]; ok && parent.ChildCount > 0 {
				parent.ChildCount--
			}
			return
		}
	}
}

// applyEvent folds one event into the derived state. Events already validated
// by the append pipeline; unknown types fall through untouched.
func (s *derivedState) applyEvent(e event.Event) {
	switch e.Type {
	case event.TypeGenesis:
		// Root nodes exist from the first block: without a seed there is no
		// node old enough to ever propose block 1, and a network that starts
		// from genesis can never grow. Seeded roots are online as of genesis.
		for id := range s.rootNodes {
			if _, exists := s.nodes[id]; exists {
				continue
			}
			s.nodes[id] = &NodeView{
				ID:        id,
				Name:      id,
				ParentIDs: []string{},
				IsOnline:  true,
				LastSeen:  e.Timestamp,
				CreatedAt: e.Timestamp,
				Role:      event.RoleRoot,
			}
		}

	case event.TypeNodeJoin:
		if _, exists := s.nodes[e.NodeID]; exists {
			return // first join wins
		}
		role := event.RoleUser
		if s.rootNodes[e.NodeID] {
			role = event.RoleRoot
		}
		n := &NodeView{
			ID:        e.NodeID,
			Name:      e.Name,
			ParentIDs: []string{},
			PublicKey: e.PayloadString("publicKey"),
			IsOnline:  true,
			LastSeen:  e.Timestamp,
			CreatedAt: e.Timestamp,
			Role:      role,
		}
		s.nodes[e.NodeID] = n
		parentID := e.ParentID
		if parentID == "" {
			parentID = e.PayloadString("parentId")
		}
		s.addParent(n, parentID)
		// Children may have joined earlier naming this node as parent;
		// pick up those back-references so childCount matches parentIds.
		for _, other := range s.nodes {
			if other != n && other.hasParent(n.ID) {
				n.ChildCount++
			}
		}

	case event.TypePresenceUpdate:
		n := s.node(e.NodeID)
		if n == nil {
			return
		}
		n.LastSeen = e.Timestamp
		if online, ok := e.Payload["online"].(bool); ok {
			n.IsOnline = online
		} else {
			n.IsOnline = true
		}

	case event.TypeNodeParentUpdate:
		n := s.node(e.PayloadString("nodeId"))
		if n == nil {
			return
		}
		parentID := e.PayloadString("parentId")
		if parentID == "" {
			parentID = e.PayloadString("newParentId")
		}
		if e.PayloadString("action") == event.ParentActionRemove {
			s.removeParent(n, parentID)
		} else {
			s.addParent(n, parentID)
		}

	case event.TypeInstitutionVerify:
		if n := s.node(e.PayloadString("targetNodeId")); n != nil {
			n.Role = event.RoleInstitution
		}

	case event.TypeInstitutionRevoke:
		if n := s.node(e.PayloadString("targetNodeId")); n != nil && n.Role == event.RoleInstitution {
			n.Role = event.RoleUser
		}

	case event.TypeSoulboundMint:
		if n := s.node(e.Recipient); n != nil {
			n.Achievements = append(n.Achievements, e.PayloadString("achievementId"))
		}

	case event.TypeSocialRecoveryUpdate:
		n := s.node(e.Sender)
		if n == nil {
			return
		}
		if guardians := e.PayloadStrings("guardians"); guardians != nil {
			n.Guardians = guardians
		}
		if threshold, ok := e.PayloadFloat("recoveryThreshold"); ok {
			n.RecoveryThreshold = int(threshold)
		}

	case event.TypeKarmaEarn:
		if amount, ok := e.PayloadFloat("amount"); ok {
			s.credit(e.Recipient, amount)
		}

	case event.TypeKarmaTransfer:
		if amount, ok := e.PayloadFloat("amount"); ok {
			// An overdraft moves only what the sender actually holds above the
			// floor; the recipient is never credited more than was debited.
			if available := s.balances[e.Sender] - s.minBalance; amount > available {
				amount = available
			}
			if amount <= 0 {
				return
			}
			s.credit(e.Sender, -amount)
			s.credit(e.Recipient, amount)
		}
	}
}

// roleOf resolves a sender's current role for authority checks. Unknown
// senders default to USER; the node's trusted-local issuer is SYSTEM.
func (s *derivedState) roleOf(sender string) event.Role {
	if sender == "SYSTEM" {
		return event.RoleSystem
	}
	if s.rootNodes[sender] {
		return event.RoleRoot
	}
	if n := s.node(sender); n != nil {
		return n.Role
	}
	return event.RoleUser
}

// snapshotNodes deep-copies the node map with deterministic slice ordering.
func (s *derivedState) snapshotNodes() map[string]NodeView {
	out := make(map[string]NodeView, len(s.nodes))
	for id, n := range s.nodes {
		cp := *n
		cp.ParentIDs = append([]string(nil), n.ParentIDs...)
		cp.Achievements = append([]string(nil), n.Achievements...)
		cp.Guardians = append([]string(nil), n.Guardians...)
		out[id] = cp
	}
	return out
}

func (s *derivedState) snapshotBalances() map[string]float64 {
	out := make(map[string]float64, len(s.balances))
	for id, bal := range s.balances {
		out[id] = bal
	}
	return out
}

// sortedNodeIDs gives a stable iteration order for callers that report state.
func (s *derivedState) sortedNodeIDs() []string {
	out := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
