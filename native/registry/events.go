package registry

import (
	"encoding/hex"

	"github.com/8001800/charta/core/types"
)

const (
	EventTypeAgentAuthorized      = "registry.agent_authorized"
	EventTypeAgentRevoked         = "registry.agent_revoked"
	EventTypeOwnershipTransferred = "registry.ownership_transferred"
)

// NewAgentAuthorizedEvent returns the audit payload emitted when the owner
// grants an agent a role.
func NewAgentAuthorizedEvent(role Role, agent [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeAgentAuthorized,
		Attributes: map[string]string{
			"role":  string(role),
			"agent": hex.EncodeToString(agent[:]),
		},
	}
}

// NewAgentRevokedEvent returns the audit payload emitted when the owner
// revokes an agent's role.
func NewAgentRevokedEvent(role Role, agent [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeAgentRevoked,
		Attributes: map[string]string{
			"role":  string(role),
			"agent": hex.EncodeToString(agent[:]),
		},
	}
}

// NewOwnershipTransferredEvent returns the audit payload emitted when registry
// ownership moves to a new address.
func NewOwnershipTransferredEvent(oldOwner, newOwner [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeOwnershipTransferred,
		Attributes: map[string]string{
			"oldOwner": hex.EncodeToString(oldOwner[:]),
			"newOwner": hex.EncodeToString(newOwner[:]),
		},
	}
}
