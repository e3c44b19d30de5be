package event

// Role is a node's derived permission level. Roles are never stored; they are
// folded out of the event log (INSTITUTION_VERIFY grants, INSTITUTION_REVOKE
// revokes, the genesis config names the roots).
type Role string

const (
	RoleUser            Role = "USER"
	RoleInstitution     Role = "INSTITUTION"
	RoleGovernanceAdmin Role = "GOVERNANCE_ADMIN"
	RoleRoot            Role = "ROOT"
	// RoleSystem marks the node's own trusted-local issuer (karma accrual).
	RoleSystem Role = "SYSTEM"
)

// authorityTable maps authority-gated event types to the roles allowed to send
// them. Types absent from the table carry no authority requirement.
var authorityTable = map[Type][]Role{
	TypeInstitutionRegister: {RoleUser, RoleInstitution, RoleGovernanceAdmin, RoleRoot},
	TypeInstitutionVerify:   {RoleRoot, RoleGovernanceAdmin},
	TypeInstitutionRevoke:   {RoleRoot},
	TypeSoulboundMint:       {RoleInstitution},
	TypeGovProposal:         {RoleRoot, RoleGovernanceAdmin, RoleInstitution},
	TypeKarmaEarn:           {RoleSystem},
}

// HasAuthority reports whether a sender with the given role may issue an event
// of the given type. Checked during block validation, not at construction:
// construction is permissive, the chain rejects unauthorized events at append
// time.
func HasAuthority(role Role, t Type) bool {
	allowed, gated := authorityTable[t]
	if !gated {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	// ROOT passes every gate except the SYSTEM-only karma grant.
	if role == RoleRoot && t != TypeKarmaEarn {
		return true
	}
	return false
}
