package ltv

import (
	"github.com/holiman/uint256"

	"github.com/8001800/charta/core/events"
	"github.com/8001800/charta/core/types"
)

type ltvEvent struct {
	evt *types.Event
}

func (e ltvEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ltvEvent) Event() *types.Event { return e.evt }

// Engine decides whether an offer's loan-to-value ratio clears a
// caller-supplied ceiling. Rejections are signalled by a false return plus a
// LogError event; the engine never aborts the caller's transition for a
// business-rule failure.
type Engine struct {
	emitter events.Emitter
}

// NewEngine creates a decision engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(ltvEvent{evt: event})
}

// ComputeLTV evaluates ((collateralTokenPrice * collateralAmount) /
// principalTokenPrice) * principalAmount. The division happens before the
// final multiplication; already-signed offers depend on this exact order, so
// it is preserved even though it does not yield a true ratio. All arithmetic
// is 256-bit checked: nil operands, overflow and division by zero fail with
// ErrArithmetic.
func ComputeLTV(principalTokenPrice, collateralTokenPrice, principalAmount, collateralAmount *uint256.Int) (*uint256.Int, error) {
	if collateralTokenPrice == nil || principalAmount == nil || collateralAmount == nil {
		return nil, ErrArithmetic
	}
	if principalTokenPrice == nil || principalTokenPrice.IsZero() {
		return nil, ErrArithmetic
	}
	collateralValue, overflow := new(uint256.Int).MulOverflow(collateralTokenPrice, collateralAmount)
	if overflow {
		return nil, ErrArithmetic
	}
	quotient := new(uint256.Int).Div(collateralValue, principalTokenPrice)
	result, overflow := new(uint256.Int).MulOverflow(quotient, principalAmount)
	if overflow {
		return nil, ErrArithmetic
	}
	return result, nil
}

// Evaluate authorizes an offer against maxLTV. The error taxonomy names
// price-feed signature, creditor signature and expiration checks, but only
// the threshold comparison is performed today; the remaining parameters are
// accepted so the call contract stays stable while those checks are unwired.
func (e *Engine) Evaluate(
	priceFeedOperator, creditor [20]byte,
	principalTokenPrice, collateralTokenPrice *uint256.Int,
	principalAmount, collateralAmount *uint256.Int,
	maxLTV *uint256.Int,
	creditorSignature []byte,
	expirationTimestamp int64,
) (bool, error) {
	computed, err := ComputeLTV(principalTokenPrice, collateralTokenPrice, principalAmount, collateralAmount)
	if err != nil {
		return false, err
	}
	if maxLTV == nil {
		maxLTV = uint256.NewInt(0)
	}
	if computed.Gt(maxLTV) {
		e.emit(NewLogErrorEvent(LTVExceedsMax))
		return false, nil
	}
	return true, nil
}
