package event

import "fmt"

// Factories build well-formed events and fail fast on missing fields. The
// chain re-checks everything at block validation, so a hand-rolled event that
// skips the factories is still caught.

func newChecked(e Event) (Event, error) {
	if err := Validate(e); err != nil {
		return Event{}, fmt.Errorf("event factory: %w", err)
	}
	return e, nil
}

// NewGenesis builds the single synthetic event carried by the genesis block.
func NewGenesis(timestamp int64) (Event, error) {
	return newChecked(Event{Type: TypeGenesis, Timestamp: timestamp})
}

// NewNodeJoin announces a new node. parentID and publicKey may be empty for
// root-of-network joins.
func NewNodeJoin(nodeID, name, parentID, publicKey string, timestamp int64) (Event, error) {
	e := Event{
		Type:      TypeNodeJoin,
		Timestamp: timestamp,
		NodeID:    nodeID,
		Name:      name,
		ParentID:  parentID,
	}
	if publicKey != "" {
		e.Payload = map[string]interface{}{"publicKey": publicKey}
	}
	return newChecked(e)
}

func NewNodeAttest(nodeID, content string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeNodeAttest,
		Timestamp: timestamp,
		NodeID:    nodeID,
		Payload:   map[string]interface{}{"content": content},
	})
}

func NewPresenceUpdate(nodeID string, online bool, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypePresenceUpdate,
		Timestamp: timestamp,
		NodeID:    nodeID,
		Payload:   map[string]interface{}{"online": online},
	})
}

func NewInstitutionRegister(sender, name, category string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeInstitutionRegister,
		Timestamp: timestamp,
		Sender:    sender,
		Payload:   map[string]interface{}{"name": name, "category": category},
	})
}

func NewInstitutionVerify(sender, targetNodeID string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeInstitutionVerify,
		Timestamp: timestamp,
		Sender:    sender,
		Payload:   map[string]interface{}{"targetNodeId": targetNodeID},
	})
}

func NewInstitutionRevoke(sender, targetNodeID string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeInstitutionRevoke,
		Timestamp: timestamp,
		Sender:    sender,
		Payload:   map[string]interface{}{"targetNodeId": targetNodeID},
	})
}

func NewSoulboundMint(sender, recipient, achievementID string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeSoulboundMint,
		Timestamp: timestamp,
		Sender:    sender,
		Recipient: recipient,
		Payload:   map[string]interface{}{"achievementId": achievementID},
	})
}

func NewGovProposal(sender, proposalID, description string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeGovProposal,
		Timestamp: timestamp,
		Sender:    sender,
		Payload:   map[string]interface{}{"proposalId": proposalID, "description": description},
	})
}

func NewVoteCast(sender, proposalID, vote string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeVoteCast,
		Timestamp: timestamp,
		Sender:    sender,
		Payload:   map[string]interface{}{"proposalId": proposalID, "vote": vote},
	})
}

func NewSocialRecoveryUpdate(sender string, guardians []string, recoveryThreshold int, timestamp int64) (Event, error) {
	list := make([]interface{}, len(guardians))
	for i, g := range guardians {
		list[i] = g
	}
	return newChecked(Event{
		Type:      TypeSocialRecoveryUpdate,
		Timestamp: timestamp,
		Sender:    sender,
		Payload: map[string]interface{}{
			"guardians":         list,
			"recoveryThreshold": float64(recoveryThreshold),
		},
	})
}

func NewNodeParentRequest(sender, parentID string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeNodeParentRequest,
		Timestamp: timestamp,
		Sender:    sender,
		Payload:   map[string]interface{}{"parentId": parentID},
	})
}

// NewNodeParentUpdate records an approved parent change. action is ADD or
// REMOVE; parentID names the parent being added or removed.
func NewNodeParentUpdate(sender, nodeID, parentID, action string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeNodeParentUpdate,
		Timestamp: timestamp,
		Sender:    sender,
		Payload: map[string]interface{}{
			"nodeId":   nodeID,
			"parentId": parentID,
			"action":   action,
		},
	})
}

// NewKarmaEarn is a system-issued balance grant. reason is free-form
// ("presence", "ubi", ...) and kept for audit.
func NewKarmaEarn(recipient string, amount float64, reason string, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeKarmaEarn,
		Timestamp: timestamp,
		Sender:    "SYSTEM",
		Recipient: recipient,
		Payload:   map[string]interface{}{"amount": amount, "reason": reason},
	})
}

func NewKarmaTransfer(sender, recipient string, amount float64, timestamp int64) (Event, error) {
	return newChecked(Event{
		Type:      TypeKarmaTransfer,
		Timestamp: timestamp,
		Sender:    sender,
		Recipient: recipient,
		Payload:   map[string]interface{}{"amount": amount},
	})
}
