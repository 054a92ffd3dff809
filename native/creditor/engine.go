package creditor

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/8001800/charta/core/events"
	"github.com/8001800/charta/core/types"
	"github.com/8001800/charta/native/offer"
)

const (
	pausedKey       = "creditor/paused"
	fillKeyPrefix   = "creditor/offer/"
	statusFilled    = "filled"
	statusCancelled = "cancelled"
)

type coordinatorState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Snapshot() int
	RevertToSnapshot(id int) error
}

// LedgerWriter is the slice of the debt ledger the coordinator mutates. The
// coordinator itself must hold insert-agent authorization.
type LedgerWriter interface {
	Insert(caller, version, creditorAddr, termsContract [20]byte, termsContractParameters []byte, salt *big.Int) ([32]byte, error)
}

// TokenTransfers is the fungible-token collaborator used for balance checks
// and fund movement.
type TokenTransfers interface {
	BalanceOf(token, holder [20]byte) (*big.Int, error)
	Allowance(token, holder, spender [20]byte) (*big.Int, error)
	Transfer(caller, token, to [20]byte, amount *big.Int) error
	TransferFrom(spender, token, from, to [20]byte, amount *big.Int) error
}

// DebtTokenMinter is the debt-token collaborator that records agreement
// ownership for the creditor once a fill commits.
type DebtTokenMinter interface {
	Mint(agreementID [32]byte, owner [20]byte) error
}

// DecisionEngine authorizes risk for offers carrying price-attested
// collateral terms.
type DecisionEngine interface {
	Evaluate(
		priceFeedOperator, creditorAddr [20]byte,
		principalTokenPrice, collateralTokenPrice *uint256.Int,
		principalAmount, collateralAmount *uint256.Int,
		maxLTV *uint256.Int,
		creditorSignature []byte,
		expirationTimestamp int64,
	) (bool, error)
}

type creditorEvent struct {
	evt *types.Event
}

func (e creditorEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e creditorEvent) Event() *types.Event { return e.evt }

// Engine orchestrates the end-to-end fill of a signed debt offer: consent
// verification, balance checks, fund movement, ledger insertion and debt
// token issuance commit as one unit or not at all. Fills on the same
// commitment hash serialize; the first writer wins and replays observe a
// terminal fill record.
type Engine struct {
	mu sync.Mutex

	st         coordinatorState
	emitter    events.Emitter
	journal    *events.Journal
	ledger     LedgerWriter
	tokens     TokenTransfers
	debtTokens DebtTokenMinter
	decision   DecisionEngine

	address           [20]byte
	owner             [20]byte
	priceFeedOperator [20]byte
	nowFn             func() int64
}

// NewEngine creates a fill coordinator identified by address and governed by
// owner. The decision engine and price feed operator are optional until an
// offer carries collateral terms.
func NewEngine(address, owner [20]byte, st coordinatorState, ledger LedgerWriter, tokens TokenTransfers, debtTokens DebtTokenMinter) *Engine {
	return &Engine{
		st:         st,
		emitter:    events.NoopEmitter{},
		journal:    events.NewJournal(nil),
		ledger:     ledger,
		tokens:     tokens,
		debtTokens: debtTokens,
		address:    address,
		owner:      owner,
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
// The collaborator journal is retargeted at the same sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		e.journal.SetTarget(nil)
		return
	}
	e.emitter = emitter
	e.journal.SetTarget(emitter)
}

// CollaboratorEmitter returns the emitter collaborators (ledger, token
// module, debt token registry) must emit through. Events emitted inside a
// fill are held until the fill commits; a reverted fill discards them so the
// audit trail never shows mutations that did not survive.
func (e *Engine) CollaboratorEmitter() events.Emitter { return e.journal }

// SetDecisionEngine wires the LTV decision engine and the trusted price feed
// operator for collateralized offers.
func (e *Engine) SetDecisionEngine(decision DecisionEngine, priceFeedOperator [20]byte) {
	e.decision = decision
	e.priceFeedOperator = priceFeedOperator
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Address returns the coordinator's own account, the conduit funds pass
// through and the identity holding insert-agent authorization.
func (e *Engine) Address() [20]byte { return e.address }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(creditorEvent{evt: event})
}

// Paused reports whether fills are currently suspended.
func (e *Engine) Paused() (bool, error) {
	if e == nil || e.st == nil {
		return false, ErrNilState
	}
	var paused bool
	if _, err := e.st.KVGet([]byte(pausedKey), &paused); err != nil {
		return false, err
	}
	return paused, nil
}

// Pause suspends fills and cancellations. Owner-gated; governance (e.g. a
// multisig with timelock) owns the calling address.
func (e *Engine) Pause(caller [20]byte) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	if err := e.st.KVPut([]byte(pausedKey), true); err != nil {
		return err
	}
	e.emit(NewPausedEvent(e.address))
	return nil
}

// Unpause resumes fills. Owner-gated.
func (e *Engine) Unpause(caller [20]byte) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	if err := e.st.KVPut([]byte(pausedKey), false); err != nil {
		return err
	}
	e.emit(NewUnpausedEvent(e.address))
	return nil
}

// FillDebtOffer performs the atomic state transition that turns a signed
// offer into a ledger entry, a debt token and the corresponding fund
// movement. Exactly one fill per commitment hash can ever succeed; every
// failure leaves balances, ledger and fill records untouched.
func (e *Engine) FillDebtOffer(caller [20]byte, signed *offer.SignedDebtOffer) ([32]byte, error) {
	if e == nil || e.st == nil {
		return [32]byte{}, ErrNilState
	}
	if e.ledger == nil || e.tokens == nil || e.debtTokens == nil {
		return [32]byte{}, ErrNilCollaborator
	}
	if signed == nil {
		return [32]byte{}, fmt.Errorf("%w: nil offer", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	paused, err := e.Paused()
	if err != nil {
		return [32]byte{}, err
	}
	if paused {
		return [32]byte{}, ErrPaused
	}
	if err := validateAmounts(&signed.DebtOffer); err != nil {
		return [32]byte{}, err
	}

	commitment := signed.CreditorCommitment()
	o := &signed.DebtOffer

	if e.nowFn() >= o.ExpirationTimestamp {
		e.emit(NewLogErrorEvent(e.address, CodeOfferExpired, o.Creditor, commitment))
		return [32]byte{}, ErrExpired
	}
	status, err := e.fillStatus(commitment)
	if err != nil {
		return [32]byte{}, err
	}
	switch status {
	case statusCancelled:
		e.emit(NewLogErrorEvent(e.address, CodeOfferCancelled, o.Creditor, commitment))
		return [32]byte{}, ErrCancelled
	case statusFilled:
		e.emit(NewLogErrorEvent(e.address, CodeOfferAlreadyFilled, o.Creditor, commitment))
		return [32]byte{}, ErrAlreadyFilled
	}
	if !e.offerConsented(caller, signed, commitment) {
		e.emit(NewLogErrorEvent(e.address, CodeOfferNonConsensual, o.Creditor, commitment))
		return [32]byte{}, ErrNonConsensual
	}

	required := new(big.Int).Add(cloneBigInt(o.PrincipalAmount), cloneBigInt(o.CreditorFee))
	balance, err := e.tokens.BalanceOf(o.PrincipalToken, o.Creditor)
	if err != nil {
		return [32]byte{}, err
	}
	allowance, err := e.tokens.Allowance(o.PrincipalToken, o.Creditor, e.address)
	if err != nil {
		return [32]byte{}, err
	}
	if balance.Cmp(required) < 0 || allowance.Cmp(required) < 0 {
		e.emit(NewLogErrorEvent(e.address, CodeCreditorBalanceOrAllowanceInsufficient, o.Creditor, commitment))
		return [32]byte{}, ErrInsufficientBalance
	}

	if signed.Collateral != nil {
		ok, err := e.evaluateCollateral(signed)
		if err != nil {
			return [32]byte{}, err
		}
		if !ok {
			return [32]byte{}, ErrDecisionRejected
		}
	}

	snapshot := e.st.Snapshot()
	e.journal.Begin()
	agreementID, err := e.settle(signed, required)
	if err != nil {
		e.journal.Rollback()
		if revertErr := e.st.RevertToSnapshot(snapshot); revertErr != nil {
			return [32]byte{}, fmt.Errorf("creditor: revert after %v: %w", err, revertErr)
		}
		return [32]byte{}, err
	}
	e.journal.Commit()
	e.emit(NewDebtOfferFilledEvent(e.address, o.Creditor, commitment, agreementID))
	return agreementID, nil
}

// settle performs every mutation of the fill pipeline. Callers wrap it in a
// state snapshot and an event journal boundary so a failure at any step
// retracts both the writes and the collaborator events of prior steps.
func (e *Engine) settle(signed *offer.SignedDebtOffer, required *big.Int) ([32]byte, error) {
	o := &signed.DebtOffer
	if err := e.tokens.TransferFrom(e.address, o.PrincipalToken, o.Creditor, e.address, required); err != nil {
		return [32]byte{}, err
	}
	disbursement := new(big.Int).Sub(cloneBigInt(o.PrincipalAmount), cloneBigInt(o.DebtorFee))
	if disbursement.Sign() > 0 {
		if err := e.tokens.Transfer(e.address, o.PrincipalToken, o.Debtor, disbursement); err != nil {
			return [32]byte{}, err
		}
	}
	if o.HasUnderwriter() && cloneBigInt(o.UnderwriterFee).Sign() > 0 {
		if err := e.tokens.Transfer(e.address, o.PrincipalToken, o.Underwriter, o.UnderwriterFee); err != nil {
			return [32]byte{}, err
		}
	}
	if o.HasRelayer() && cloneBigInt(o.RelayerFee).Sign() > 0 {
		if err := e.tokens.Transfer(e.address, o.PrincipalToken, o.Relayer, o.RelayerFee); err != nil {
			return [32]byte{}, err
		}
	}
	agreementID, err := e.ledger.Insert(e.address, o.Version, o.Creditor, o.TermsContract, o.TermsContractParameters, o.Salt)
	if err != nil {
		return [32]byte{}, err
	}
	if err := e.debtTokens.Mint(agreementID, o.Creditor); err != nil {
		return [32]byte{}, err
	}
	if err := e.st.KVPut(fillKey(signed.CreditorCommitment()), statusFilled); err != nil {
		return [32]byte{}, err
	}
	return agreementID, nil
}

// CancelDebtOffer permanently blocks an unfilled offer's commitment hash.
// Only the offer's creditor may cancel; cancelling twice is a no-op.
func (e *Engine) CancelDebtOffer(caller [20]byte, o *offer.DebtOffer) error {
	if e == nil || e.st == nil {
		return ErrNilState
	}
	if o == nil {
		return fmt.Errorf("%w: nil offer", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	paused, err := e.Paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	if caller != o.Creditor {
		return ErrUnauthorized
	}
	commitment := o.CreditorCommitment()
	status, err := e.fillStatus(commitment)
	if err != nil {
		return err
	}
	switch status {
	case statusFilled:
		e.emit(NewLogErrorEvent(e.address, CodeOfferAlreadyFilled, o.Creditor, commitment))
		return ErrAlreadyFilled
	case statusCancelled:
		return nil
	}
	if err := e.st.KVPut(fillKey(commitment), statusCancelled); err != nil {
		return err
	}
	e.emit(NewDebtOfferCancelledEvent(e.address, o.Creditor, commitment))
	return nil
}

// offerConsented verifies every required signature. The caller filling the
// offer needs no creditor signature when the caller is the creditor; absent
// optional roles skip their check.
func (e *Engine) offerConsented(caller [20]byte, signed *offer.SignedDebtOffer, commitment [32]byte) bool {
	o := &signed.DebtOffer
	if !offer.VerifySignature(o.Debtor, o.DebtorCommitment(), signed.DebtorSignature) {
		return false
	}
	if caller != o.Creditor {
		if !offer.VerifySignature(o.Creditor, commitment, signed.CreditorSignature) {
			return false
		}
	}
	if o.HasUnderwriter() {
		if !offer.VerifySignature(o.Underwriter, o.UnderwriterCommitment(), signed.UnderwriterSignature) {
			return false
		}
	}
	return true
}

func (e *Engine) evaluateCollateral(signed *offer.SignedDebtOffer) (bool, error) {
	if e.decision == nil {
		return false, ErrNilCollaborator
	}
	terms := signed.Collateral
	if terms.PrincipalPrice == nil || terms.CollateralPrice == nil {
		return false, fmt.Errorf("%w: collateral terms missing price attestations", ErrInvalidArgument)
	}
	principalPrice := terms.PrincipalPrice.Price
	if principalPrice == nil {
		principalPrice = uint256.NewInt(0)
	}
	collateralPrice := terms.CollateralPrice.Price
	if collateralPrice == nil {
		collateralPrice = uint256.NewInt(0)
	}
	principalAmount, err := toUint256(signed.PrincipalAmount)
	if err != nil {
		return false, err
	}
	collateralAmount, err := toUint256(terms.CollateralAmount)
	if err != nil {
		return false, err
	}
	maxLTV, err := toUint256(terms.MaxLTV)
	if err != nil {
		return false, err
	}
	return e.decision.Evaluate(
		e.priceFeedOperator,
		signed.Creditor,
		principalPrice,
		collateralPrice,
		principalAmount,
		collateralAmount,
		maxLTV,
		signed.CreditorSignature,
		signed.ExpirationTimestamp,
	)
}

func (e *Engine) fillStatus(commitment [32]byte) (string, error) {
	var status string
	if _, err := e.st.KVGet(fillKey(commitment), &status); err != nil {
		return "", err
	}
	return status, nil
}

// validateAmounts rejects offers whose fee structure can never settle:
// negative values, a debtor fee exceeding the principal, or distributed fees
// exceeding collected fees.
func validateAmounts(o *offer.DebtOffer) error {
	for name, v := range map[string]*big.Int{
		"principalAmount": o.PrincipalAmount,
		"creditorFee":     o.CreditorFee,
		"debtorFee":       o.DebtorFee,
		"underwriterFee":  o.UnderwriterFee,
		"relayerFee":      o.RelayerFee,
	} {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("%w: negative %s", ErrInvalidArgument, name)
		}
	}
	if cloneBigInt(o.DebtorFee).Cmp(cloneBigInt(o.PrincipalAmount)) > 0 {
		return fmt.Errorf("%w: debtor fee exceeds principal", ErrInvalidArgument)
	}
	collected := new(big.Int).Add(cloneBigInt(o.CreditorFee), cloneBigInt(o.DebtorFee))
	distributed := new(big.Int).Add(cloneBigInt(o.UnderwriterFee), cloneBigInt(o.RelayerFee))
	if distributed.Cmp(collected) > 0 {
		return fmt.Errorf("%w: distributed fees exceed collected fees", ErrInvalidArgument)
	}
	if !o.HasUnderwriter() && cloneBigInt(o.UnderwriterFee).Sign() > 0 {
		return fmt.Errorf("%w: underwriter fee without underwriter", ErrInvalidArgument)
	}
	if !o.HasRelayer() && cloneBigInt(o.RelayerFee).Sign() > 0 {
		return fmt.Errorf("%w: relayer fee without relayer", ErrInvalidArgument)
	}
	return nil
}

func fillKey(commitment [32]byte) []byte {
	return []byte(fillKeyPrefix + hex.EncodeToString(commitment[:]))
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: amount exceeds 256 bits", ErrInvalidArgument)
	}
	return out, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
