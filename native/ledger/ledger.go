package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/8001800/charta/core/events"
	"github.com/8001800/charta/core/types"
)

const (
	entryKeyPrefix = "ledger/entry/"
	entryIndexKey  = "ledger/entries"
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out *[][]byte) error
}

// Authorizer answers the role checks performed before every write. The agent
// registry satisfies it; membership is consulted synchronously on each call so
// revocations are never stale.
type Authorizer interface {
	IsAuthorizedInsertAgent(agent [20]byte) (bool, error)
	IsAuthorizedEditAgent(agent [20]byte) (bool, error)
}

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

// Ledger is the append-mostly store of debt entries. Entries are keyed by
// their derived hash, inserted by authorized insert agents and edited (the
// creditor field only) by authorized edit agents.
type Ledger struct {
	st      ledgerState
	auth    Authorizer
	emitter events.Emitter
	nowFn   func() int64
}

// New creates a ledger backed by the given state store and authorizer.
func New(st ledgerState, auth Authorizer) *Ledger {
	return &Ledger{
		st:      st,
		auth:    auth,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(ledgerEvent{evt: event})
}

// Insert records a new debt entry and returns its hash. The caller must be an
// authorized insert agent, the creditor must be non-zero and the derived hash
// must be unused.
func (l *Ledger) Insert(caller, version, creditor, termsContract [20]byte, termsContractParameters []byte, salt *big.Int) ([32]byte, error) {
	if l == nil || l.st == nil {
		return [32]byte{}, ErrNilState
	}
	if l.auth == nil {
		return [32]byte{}, ErrNilAuthorizer
	}
	authorized, err := l.auth.IsAuthorizedInsertAgent(caller)
	if err != nil {
		return [32]byte{}, err
	}
	if !authorized {
		return [32]byte{}, ErrUnauthorized
	}
	if creditor == ([20]byte{}) {
		return [32]byte{}, fmt.Errorf("%w: zero creditor address", ErrInvalidArgument)
	}
	hash := ComputeEntryHash(termsContract, termsContractParameters, salt)
	exists, err := l.st.KVGet(entryKey(hash), nil)
	if err != nil {
		return [32]byte{}, err
	}
	if exists {
		return [32]byte{}, fmt.Errorf("%w: %x", ErrCollision, hash)
	}
	entry := &Entry{
		EntryHash:               hash,
		Version:                 version,
		Creditor:                creditor,
		TermsContract:           termsContract,
		TermsContractParameters: append([]byte(nil), termsContractParameters...),
		Salt:                    cloneBigInt(salt),
		InsertedAt:              l.nowFn(),
	}
	if err := l.st.KVPut(entryKey(hash), newStoredEntry(entry)); err != nil {
		return [32]byte{}, err
	}
	if err := l.st.KVAppend([]byte(entryIndexKey), hash[:]); err != nil {
		return [32]byte{}, err
	}
	l.emit(NewInsertEntryEvent(entry))
	return hash, nil
}

// EntryHashes enumerates every recorded entry hash in insertion order.
func (l *Ledger) EntryHashes() ([][32]byte, error) {
	if l == nil || l.st == nil {
		return nil, ErrNilState
	}
	var raw [][]byte
	if err := l.st.KVGetList([]byte(entryIndexKey), &raw); err != nil {
		return nil, err
	}
	hashes := make([][32]byte, 0, len(raw))
	for _, item := range raw {
		if len(item) != 32 {
			return nil, fmt.Errorf("ledger: corrupt index entry length %d", len(item))
		}
		var hash [32]byte
		copy(hash[:], item)
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// ModifyCreditor overwrites the creditor field of an existing entry. The
// caller must be an authorized edit agent.
func (l *Ledger) ModifyCreditor(caller [20]byte, entryHash [32]byte, newCreditor [20]byte) error {
	if l == nil || l.st == nil {
		return ErrNilState
	}
	if l.auth == nil {
		return ErrNilAuthorizer
	}
	authorized, err := l.auth.IsAuthorizedEditAgent(caller)
	if err != nil {
		return err
	}
	if !authorized {
		return ErrUnauthorized
	}
	if newCreditor == ([20]byte{}) {
		return fmt.Errorf("%w: zero creditor address", ErrInvalidArgument)
	}
	entry, err := l.Get(entryHash)
	if err != nil {
		return err
	}
	oldCreditor := entry.Creditor
	entry.Creditor = newCreditor
	if err := l.st.KVPut(entryKey(entryHash), newStoredEntry(entry)); err != nil {
		return err
	}
	l.emit(NewModifyCreditorEvent(entryHash, oldCreditor, newCreditor))
	return nil
}

// Get returns the entry stored under entryHash.
func (l *Ledger) Get(entryHash [32]byte) (*Entry, error) {
	if l == nil || l.st == nil {
		return nil, ErrNilState
	}
	var stored storedEntry
	ok, err := l.st.KVGet(entryKey(entryHash), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNotFound, entryHash)
	}
	return stored.toEntry(entryHash)
}

// TermsContractParametersHash returns the keccak256 digest of the stored
// parameter blob for entryHash.
func (l *Ledger) TermsContractParametersHash(entryHash [32]byte) ([32]byte, error) {
	entry, err := l.Get(entryHash)
	if err != nil {
		return [32]byte{}, err
	}
	return entry.ParametersHash(), nil
}

func entryKey(hash [32]byte) []byte {
	return []byte(entryKeyPrefix + hex.EncodeToString(hash[:]))
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
