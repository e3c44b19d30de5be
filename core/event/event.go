package event

import (
	"encoding/json"
	"fmt"

	"srishti/core/hashing"
)

// Type tags every transaction the chain accepts.
type Type string

const (
	TypeGenesis              Type = "GENESIS"
	TypeNodeJoin             Type = "NODE_JOIN"
	TypeNodeAttest           Type = "NODE_ATTEST"
	TypePresenceUpdate       Type = "PRESENCE_UPDATE"
	TypeInstitutionRegister  Type = "INSTITUTION_REGISTER"
	TypeInstitutionVerify    Type = "INSTITUTION_VERIFY"
	TypeInstitutionRevoke    Type = "INSTITUTION_REVOKE"
	TypeSoulboundMint        Type = "SOULBOUND_MINT"
	TypeGovProposal          Type = "GOV_PROPOSAL"
	TypeVoteCast             Type = "VOTE_CAST"
	TypeSocialRecoveryUpdate Type = "SOCIAL_RECOVERY_UPDATE"
	TypeNodeParentRequest    Type = "NODE_PARENT_REQUEST"
	TypeNodeParentUpdate     Type = "NODE_PARENT_UPDATE"
	TypeKarmaEarn            Type = "KARMA_EARN"
	TypeKarmaTransfer        Type = "KARMA_TRANSFER"
)

// Vote choices accepted in VOTE_CAST payloads.
const (
	VoteYes     = "YES"
	VoteNo      = "NO"
	VoteAbstain = "ABSTAIN"
)

// Parent update actions accepted in NODE_PARENT_UPDATE payloads.
const (
	ParentActionAdd    = "ADD"
	ParentActionRemove = "REMOVE"
)

// Event is one typed record in a block body. Type and Timestamp are always set;
// the rest of the shape depends on Type. Events are immutable once embedded in
// a block.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp int64                  `json:"timestamp"` // epoch millis
	Sender    string                 `json:"sender,omitempty"`
	Recipient string                 `json:"recipient,omitempty"`
	NodeID    string                 `json:"nodeId,omitempty"`
	Name      string                 `json:"name,omitempty"`
	ParentID  string                 `json:"parentId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Hash returns the canonical hash of the event, used as its Merkle leaf.
func (e Event) Hash() (string, error) {
	return hashing.Hash(e)
}

// Serialize encodes the event as JSON.
func (e Event) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Deserialize decodes JSON into an Event.
func Deserialize(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// PayloadString reads a string field out of the payload, "" if absent.
func (e Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// PayloadFloat reads a numeric field out of the payload. JSON numbers decode as
// float64, so int-valued payload fields land here too.
func (e Event) PayloadFloat(key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch n := e.Payload[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// PayloadStrings reads a string-list field out of the payload.
func (e Event) PayloadStrings(key string) []string {
	if e.Payload == nil {
		return nil
	}
	switch v := e.Payload[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	return nil
}

func requireFields(e Event, checks map[string]bool) error {
	for field, ok := range checks {
		if !ok {
			return fmt.Errorf("%s: missing required field %s", e.Type, field)
		}
	}
	return nil
}

// Validate performs the structural, type-specific required-field check. It does
// NOT check sender authority; that happens at block validation against the
// sender's derived role. Unrecognized types are accepted as long as they carry a
// timestamp: the protocol deliberately lets newer event types flow through older
// nodes.
func Validate(e Event) error {
	if e.Timestamp <= 0 {
		return fmt.Errorf("%s: missing or invalid timestamp", e.Type)
	}
	switch e.Type {
	case TypeGenesis:
		return nil
	case TypeNodeJoin:
		return requireFields(e, map[string]bool{
			"nodeId": e.NodeID != "",
			"name":   e.Name != "",
		})
	case TypeNodeAttest:
		return requireFields(e, map[string]bool{
			"nodeId":  e.NodeID != "",
			"content": e.PayloadString("content") != "",
		})
	case TypePresenceUpdate:
		return requireFields(e, map[string]bool{
			"nodeId": e.NodeID != "",
		})
	case TypeInstitutionRegister:
		return requireFields(e, map[string]bool{
			"sender":           e.Sender != "",
			"payload.name":     e.PayloadString("name") != "",
			"payload.category": e.PayloadString("category") != "",
		})
	case TypeInstitutionVerify, TypeInstitutionRevoke:
		return requireFields(e, map[string]bool{
			"sender":               e.Sender != "",
			"payload.targetNodeId": e.PayloadString("targetNodeId") != "",
		})
	case TypeSoulboundMint:
		return requireFields(e, map[string]bool{
			"sender":                e.Sender != "",
			"recipient":             e.Recipient != "",
			"payload.achievementId": e.PayloadString("achievementId") != "",
		})
	case TypeGovProposal:
		return requireFields(e, map[string]bool{
			"sender":              e.Sender != "",
			"payload.proposalId":  e.PayloadString("proposalId") != "",
			"payload.description": e.PayloadString("description") != "",
		})
	case TypeVoteCast:
		if err := requireFields(e, map[string]bool{
			"sender":             e.Sender != "",
			"payload.proposalId": e.PayloadString("proposalId") != "",
		}); err != nil {
			return err
		}
		switch e.PayloadString("vote") {
		case VoteYes, VoteNo, VoteAbstain:
			return nil
		}
		return fmt.Errorf("%s: vote must be YES, NO or ABSTAIN", e.Type)
	case TypeSocialRecoveryUpdate:
		if e.Sender == "" {
			return fmt.Errorf("%s: missing required field sender", e.Type)
		}
		guardians := e.PayloadStrings("guardians")
		if len(guardians) == 0 {
			return fmt.Errorf("%s: payload.guardians must be non-empty", e.Type)
		}
		threshold, ok := e.PayloadFloat("recoveryThreshold")
		if !ok || threshold < 1 || int(threshold) > len(guardians) {
			return fmt.Errorf("%s: payload.recoveryThreshold must be in [1, %d]", e.Type, len(guardians))
		}
		return nil
	case TypeNodeParentRequest:
		return requireFields(e, map[string]bool{
			"sender":           e.Sender != "",
			"payload.parentId": e.PayloadString("parentId") != "",
		})
	case TypeNodeParentUpdate:
		if err := requireFields(e, map[string]bool{
			"sender":         e.Sender != "",
			"payload.nodeId": e.PayloadString("nodeId") != "",
		}); err != nil {
			return err
		}
		action := e.PayloadString("action")
		if e.PayloadString("parentId") != "" || e.PayloadString("newParentId") != "" ||
			action == ParentActionAdd || action == ParentActionRemove {
			return nil
		}
		return fmt.Errorf("%s: needs payload.parentId, payload.newParentId or action ADD/REMOVE", e.Type)
	case TypeKarmaEarn:
		if err := requireFields(e, map[string]bool{
			"recipient": e.Recipient != "",
		}); err != nil {
			return err
		}
		amount, ok := e.PayloadFloat("amount")
		if !ok || amount <= 0 {
			return fmt.Errorf("%s: payload.amount must be positive", e.Type)
		}
		return nil
	case TypeKarmaTransfer:
		if err := requireFields(e, map[string]bool{
			"sender":    e.Sender != "",
			"recipient": e.Recipient != "",
		}); err != nil {
			return err
		}
		amount, ok := e.PayloadFloat("amount")
		if !ok || amount <= 0 {
			return fmt.Errorf("%s: payload.amount must be positive", e.Type)
		}
		return nil
	}
	// Forward compatibility: unknown types with a timestamp pass structural
	// validation. The authority table still gates what they can do.
	return nil
}

// IsValid is the boolean form of Validate.
func IsValid(e Event) bool {
	return Validate(e) == nil
}
