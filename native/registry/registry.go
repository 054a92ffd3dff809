package registry

import (
	"encoding/hex"
	"fmt"

	"github.com/8001800/charta/core/events"
	"github.com/8001800/charta/core/types"
)

// Role identifies which agent set a grant applies to.
type Role string

const (
	RoleInsert Role = "insert"
	RoleEdit   Role = "edit"
)

const (
	ownerKey        = "registry/owner"
	insertAgentsKey = "registry/agents/insert"
	editAgentsKey   = "registry/agents/edit"
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// Registry maintains the owner-controlled sets of addresses authorized to
// insert or edit ledger entries. Membership order is insertion order and every
// mutation re-checks ownership against current state, so a revocation takes
// effect on the very next call.
type Registry struct {
	st      registryState
	emitter events.Emitter
}

// New creates a registry backed by the provided state store.
func New(st registryState) *Registry {
	return &Registry{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(event *types.Event) {
	if r == nil || r.emitter == nil || event == nil {
		return
	}
	r.emitter.Emit(registryEvent{evt: event})
}

// Bootstrap records the initial owner. It fails once an owner exists.
func (r *Registry) Bootstrap(owner [20]byte) error {
	if r == nil || r.st == nil {
		return ErrNilState
	}
	if owner == ([20]byte{}) {
		return fmt.Errorf("%w: zero owner address", ErrInvalidArgument)
	}
	var existing string
	ok, err := r.st.KVGet([]byte(ownerKey), &existing)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: owner already set", ErrInvalidArgument)
	}
	return r.st.KVPut([]byte(ownerKey), hex.EncodeToString(owner[:]))
}

// Owner returns the current registry owner.
func (r *Registry) Owner() ([20]byte, error) {
	if r == nil || r.st == nil {
		return [20]byte{}, ErrNilState
	}
	var stored string
	ok, err := r.st.KVGet([]byte(ownerKey), &stored)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, ErrNotBootstrapped
	}
	return decodeAddress(stored)
}

// TransferOwnership hands the registry to a new owner. Only the current owner
// may call it and the zero address is rejected.
func (r *Registry) TransferOwnership(caller, newOwner [20]byte) error {
	owner, err := r.Owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrUnauthorized
	}
	if newOwner == ([20]byte{}) {
		return fmt.Errorf("%w: zero owner address", ErrInvalidArgument)
	}
	if err := r.st.KVPut([]byte(ownerKey), hex.EncodeToString(newOwner[:])); err != nil {
		return err
	}
	r.emit(NewOwnershipTransferredEvent(owner, newOwner))
	return nil
}

// AddAuthorizedInsertAgent grants the insert role. Re-adding an existing
// member is a no-op.
func (r *Registry) AddAuthorizedInsertAgent(caller, agent [20]byte) error {
	return r.addAgent(caller, agent, RoleInsert, insertAgentsKey)
}

// AddAuthorizedEditAgent grants the edit role. Re-adding an existing member is
// a no-op.
func (r *Registry) AddAuthorizedEditAgent(caller, agent [20]byte) error {
	return r.addAgent(caller, agent, RoleEdit, editAgentsKey)
}

// RevokeInsertAgentAuthorization removes the insert role. Revoking a
// non-member is a no-op.
func (r *Registry) RevokeInsertAgentAuthorization(caller, agent [20]byte) error {
	return r.revokeAgent(caller, agent, RoleInsert, insertAgentsKey)
}

// RevokeEditAgentAuthorization removes the edit role. Revoking a non-member is
// a no-op.
func (r *Registry) RevokeEditAgentAuthorization(caller, agent [20]byte) error {
	return r.revokeAgent(caller, agent, RoleEdit, editAgentsKey)
}

// IsAuthorizedInsertAgent reports insert-set membership.
func (r *Registry) IsAuthorizedInsertAgent(agent [20]byte) (bool, error) {
	return r.isMember(agent, insertAgentsKey)
}

// IsAuthorizedEditAgent reports edit-set membership.
func (r *Registry) IsAuthorizedEditAgent(agent [20]byte) (bool, error) {
	return r.isMember(agent, editAgentsKey)
}

// GetAuthorizedInsertAgents returns the insert agents in insertion order.
func (r *Registry) GetAuthorizedInsertAgents() ([][20]byte, error) {
	return r.members(insertAgentsKey)
}

// GetAuthorizedEditAgents returns the edit agents in insertion order.
func (r *Registry) GetAuthorizedEditAgents() ([][20]byte, error) {
	return r.members(editAgentsKey)
}

func (r *Registry) addAgent(caller, agent [20]byte, role Role, key string) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	if agent == ([20]byte{}) {
		return fmt.Errorf("%w: zero agent address", ErrInvalidArgument)
	}
	list, err := r.memberStrings(key)
	if err != nil {
		return err
	}
	encoded := hex.EncodeToString(agent[:])
	for _, member := range list {
		if member == encoded {
			return nil
		}
	}
	list = append(list, encoded)
	if err := r.st.KVPut([]byte(key), list); err != nil {
		return err
	}
	r.emit(NewAgentAuthorizedEvent(role, agent))
	return nil
}

func (r *Registry) revokeAgent(caller, agent [20]byte, role Role, key string) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	list, err := r.memberStrings(key)
	if err != nil {
		return err
	}
	encoded := hex.EncodeToString(agent[:])
	filtered := make([]string, 0, len(list))
	found := false
	for _, member := range list {
		if member == encoded {
			found = true
			continue
		}
		filtered = append(filtered, member)
	}
	if !found {
		return nil
	}
	if err := r.st.KVPut([]byte(key), filtered); err != nil {
		return err
	}
	r.emit(NewAgentRevokedEvent(role, agent))
	return nil
}

func (r *Registry) requireOwner(caller [20]byte) error {
	owner, err := r.Owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrUnauthorized
	}
	return nil
}

func (r *Registry) isMember(agent [20]byte, key string) (bool, error) {
	list, err := r.memberStrings(key)
	if err != nil {
		return false, err
	}
	encoded := hex.EncodeToString(agent[:])
	for _, member := range list {
		if member == encoded {
			return true, nil
		}
	}
	return false, nil
}

func (r *Registry) members(key string) ([][20]byte, error) {
	list, err := r.memberStrings(key)
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(list))
	for _, member := range list {
		addr, err := decodeAddress(member)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (r *Registry) memberStrings(key string) ([]string, error) {
	if r == nil || r.st == nil {
		return nil, ErrNilState
	}
	var list []string
	if _, err := r.st.KVGet([]byte(key), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func decodeAddress(encoded string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("registry: corrupt stored address: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("registry: corrupt stored address length %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
