package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/8001800/charta/core/events"
	"github.com/8001800/charta/core/types"
)

var (
	ErrNilState              = errors.New("token: state not configured")
	ErrUnauthorized          = errors.New("token: unauthorized")
	ErrInvalidArgument       = errors.New("token: invalid argument")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

const (
	EventTypeTransfer = "token.transfer"
	EventTypeApproval = "token.approval"
)

type tokenState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type tokenEvent struct {
	evt *types.Event
}

func (e tokenEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e tokenEvent) Event() *types.Event { return e.evt }

// Module keeps fungible token balances and allowances in the shared state
// store, one namespace per token address. It implements the transfer
// collaborator consumed by the fill coordinator; SetBalance is the
// test-and-bootstrap hook for seeding balances and is gated to the module
// owner.
type Module struct {
	st      tokenState
	owner   [20]byte
	emitter events.Emitter
}

// NewModule creates a token module whose SetBalance hook is gated to owner.
func NewModule(st tokenState, owner [20]byte) *Module {
	return &Module{st: st, owner: owner, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (m *Module) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

func (m *Module) emit(event *types.Event) {
	if m == nil || m.emitter == nil || event == nil {
		return
	}
	m.emitter.Emit(tokenEvent{evt: event})
}

// BalanceOf returns holder's balance of the given token.
func (m *Module) BalanceOf(token, holder [20]byte) (*big.Int, error) {
	return m.loadAmount(balanceKey(token, holder))
}

// Allowance returns how much spender may move out of holder's balance.
func (m *Module) Allowance(token, holder, spender [20]byte) (*big.Int, error) {
	return m.loadAmount(allowanceKey(token, holder, spender))
}

// SetBalance overwrites holder's balance. Owner-only seeding hook.
func (m *Module) SetBalance(caller, token, holder [20]byte, amount *big.Int) error {
	if m == nil || m.st == nil {
		return ErrNilState
	}
	if caller != m.owner {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative balance", ErrInvalidArgument)
	}
	return m.storeAmount(balanceKey(token, holder), amount)
}

// Approve grants spender permission to move up to amount from caller's
// balance.
func (m *Module) Approve(caller, token, spender [20]byte, amount *big.Int) error {
	if m == nil || m.st == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative allowance", ErrInvalidArgument)
	}
	if err := m.storeAmount(allowanceKey(token, caller, spender), amount); err != nil {
		return err
	}
	m.emit(&types.Event{
		Type: EventTypeApproval,
		Attributes: map[string]string{
			"token":   hex.EncodeToString(token[:]),
			"owner":   hex.EncodeToString(caller[:]),
			"spender": hex.EncodeToString(spender[:]),
			"amount":  amount.String(),
		},
	})
	return nil
}

// Transfer moves amount from caller to the recipient.
func (m *Module) Transfer(caller, token, to [20]byte, amount *big.Int) error {
	return m.move(token, caller, to, amount)
}

// TransferFrom moves amount from holder to the recipient on behalf of
// spender, consuming allowance.
func (m *Module) TransferFrom(spender, token, from, to [20]byte, amount *big.Int) error {
	if m == nil || m.st == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidArgument)
	}
	allowance, err := m.Allowance(token, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := m.move(token, from, to, amount); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(allowance, amount)
	return m.storeAmount(allowanceKey(token, from, spender), remaining)
}

func (m *Module) move(token, from, to [20]byte, amount *big.Int) error {
	if m == nil || m.st == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidArgument)
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := m.loadAmount(balanceKey(token, from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := m.loadAmount(balanceKey(token, to))
	if err != nil {
		return err
	}
	if err := m.storeAmount(balanceKey(token, from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := m.storeAmount(balanceKey(token, to), new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	m.emit(&types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"token":  hex.EncodeToString(token[:]),
			"from":   hex.EncodeToString(from[:]),
			"to":     hex.EncodeToString(to[:]),
			"amount": amount.String(),
		},
	})
	return nil
}

func (m *Module) loadAmount(key []byte) (*big.Int, error) {
	if m == nil || m.st == nil {
		return nil, ErrNilState
	}
	var stored string
	ok, err := m.st.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	amount, valid := new(big.Int).SetString(stored, 10)
	if !valid {
		return nil, fmt.Errorf("token: corrupt stored amount %q", stored)
	}
	return amount, nil
}

func (m *Module) storeAmount(key []byte, amount *big.Int) error {
	return m.st.KVPut(key, amount.String())
}

func balanceKey(token, holder [20]byte) []byte {
	return []byte("token/" + hex.EncodeToString(token[:]) + "/balance/" + hex.EncodeToString(holder[:]))
}

func allowanceKey(token, holder, spender [20]byte) []byte {
	return []byte("token/" + hex.EncodeToString(token[:]) + "/allowance/" + hex.EncodeToString(holder[:]) + "/" + hex.EncodeToString(spender[:]))
}
