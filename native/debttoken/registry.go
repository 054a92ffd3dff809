package debttoken

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/8001800/charta/core/events"
	"github.com/8001800/charta/core/types"
)

var (
	ErrNilState      = errors.New("debttoken: state not configured")
	ErrAlreadyMinted = errors.New("debttoken: token already minted")
	ErrNotFound      = errors.New("debttoken: token not found")
	ErrUnauthorized  = errors.New("debttoken: unauthorized")
	ErrInvalidOwner  = errors.New("debttoken: zero owner address")
)

const (
	EventTypeMinted      = "debttoken.minted"
	EventTypeTransferred = "debttoken.transferred"
)

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type debtTokenEvent struct {
	evt *types.Event
}

func (e debtTokenEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e debtTokenEvent) Event() *types.Event { return e.evt }

// Registry tracks ownership of the non-fungible debt tokens minted for filled
// agreements. Each agreement id maps to exactly one token which exists from
// the moment the fill commits.
type Registry struct {
	st      registryState
	emitter events.Emitter
}

// New creates a debt token registry backed by the given state store.
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
	r.emitter.Emit(debtTokenEvent{evt: event})
}

// Mint creates the token for agreementID owned by owner. Minting the same
// agreement twice fails.
func (r *Registry) Mint(agreementID [32]byte, owner [20]byte) error {
	if r == nil || r.st == nil {
		return ErrNilState
	}
	if owner == ([20]byte{}) {
		return ErrInvalidOwner
	}
	exists, err := r.st.KVGet(ownerKey(agreementID), nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %x", ErrAlreadyMinted, agreementID)
	}
	if err := r.st.KVPut(ownerKey(agreementID), hex.EncodeToString(owner[:])); err != nil {
		return err
	}
	r.emit(&types.Event{
		Type: EventTypeMinted,
		Attributes: map[string]string{
			"agreementId": hex.EncodeToString(agreementID[:]),
			"owner":       hex.EncodeToString(owner[:]),
		},
	})
	return nil
}

// OwnerOf returns the current owner of the token for agreementID.
func (r *Registry) OwnerOf(agreementID [32]byte) ([20]byte, error) {
	if r == nil || r.st == nil {
		return [20]byte{}, ErrNilState
	}
	var stored string
	ok, err := r.st.KVGet(ownerKey(agreementID), &stored)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, fmt.Errorf("%w: %x", ErrNotFound, agreementID)
	}
	raw, err := hex.DecodeString(stored)
	if err != nil || len(raw) != 20 {
		return [20]byte{}, fmt.Errorf("debttoken: corrupt stored owner %q", stored)
	}
	var out [20]byte
	copy(out[:], raw)
	return out, nil
}

// Transfer moves the token for agreementID from the caller to a new owner.
func (r *Registry) Transfer(caller, to [20]byte, agreementID [32]byte) error {
	if to == ([20]byte{}) {
		return ErrInvalidOwner
	}
	owner, err := r.OwnerOf(agreementID)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrUnauthorized
	}
	if err := r.st.KVPut(ownerKey(agreementID), hex.EncodeToString(to[:])); err != nil {
		return err
	}
	r.emit(&types.Event{
		Type: EventTypeTransferred,
		Attributes: map[string]string{
			"agreementId": hex.EncodeToString(agreementID[:]),
			"from":        hex.EncodeToString(owner[:]),
			"to":          hex.EncodeToString(to[:]),
		},
	})
	return nil
}

func ownerKey(agreementID [32]byte) []byte {
	return []byte("debttoken/owner/" + hex.EncodeToString(agreementID[:]))
}
