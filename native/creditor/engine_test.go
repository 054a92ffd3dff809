package creditor

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/8001800/charta/core/events"
	"github.com/8001800/charta/core/state"
	"github.com/8001800/charta/native/debttoken"
	"github.com/8001800/charta/native/ledger"
	"github.com/8001800/charta/native/ltv"
	"github.com/8001800/charta/native/offer"
	"github.com/8001800/charta/native/registry"
	"github.com/8001800/charta/native/token"
	"github.com/8001800/charta/storage"
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

func (c *capturingEmitter) countType(eventType string) int {
	n := 0
	for _, e := range c.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func (c *capturingEmitter) lastLogErrorCode(t *testing.T) string {
	t.Helper()
	for i := len(c.events) - 1; i >= 0; i-- {
		evt, ok := c.events[i].(creditorEvent)
		if !ok {
			continue
		}
		if evt.EventType() == EventTypeLogError {
			return evt.Event().Attributes["errorCode"]
		}
	}
	t.Fatalf("no log error event captured")
	return ""
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestKey(t *testing.T, fill byte) (*ecdsa.PrivateKey, [20]byte) {
	t.Helper()
	key, err := ethcrypto.ToECDSA(bytes.Repeat([]byte{fill}, 32))
	if err != nil {
		t.Fatalf("test key: %v", err)
	}
	return key, [20]byte(ethcrypto.PubkeyToAddress(key.PublicKey))
}

type fixture struct {
	st         *state.State
	engine     *Engine
	emitter    *capturingEmitter
	ledger     *ledger.Ledger
	tokens     *token.Module
	debtTokens *debttoken.Registry

	owner       [20]byte
	engineAddr  [20]byte
	creditorKey *ecdsa.PrivateKey
	creditor    [20]byte
	debtorKey   *ecdsa.PrivateKey
	debtor      [20]byte
	underKey    *ecdsa.PrivateKey
	underwriter [20]byte
	relayer     [20]byte

	principalToken [20]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewState(storage.NewMemDB())
	fx := &fixture{
		st:             st,
		owner:          newTestAddress(0x01),
		engineAddr:     newTestAddress(0xEE),
		relayer:        newTestAddress(0x04),
		principalToken: newTestAddress(0x10),
	}
	fx.creditorKey, fx.creditor = newTestKey(t, 0x21)
	fx.debtorKey, fx.debtor = newTestKey(t, 0x22)
	fx.underKey, fx.underwriter = newTestKey(t, 0x23)

	reg := registry.New(st)
	if err := reg.Bootstrap(fx.owner); err != nil {
		t.Fatalf("bootstrap registry: %v", err)
	}
	if err := reg.AddAuthorizedInsertAgent(fx.owner, fx.engineAddr); err != nil {
		t.Fatalf("grant insert: %v", err)
	}

	fx.ledger = ledger.New(st, reg)
	fx.ledger.SetNowFunc(func() int64 { return 1700000000 })
	fx.tokens = token.NewModule(st, fx.owner)
	fx.debtTokens = debttoken.New(st)

	fx.engine = NewEngine(fx.engineAddr, fx.owner, st, fx.ledger, fx.tokens, fx.debtTokens)
	fx.engine.SetNowFunc(func() int64 { return 1700000000 })
	fx.emitter = &capturingEmitter{}
	fx.engine.SetEmitter(fx.emitter)
	fx.ledger.SetEmitter(fx.engine.CollaboratorEmitter())
	fx.tokens.SetEmitter(fx.engine.CollaboratorEmitter())
	fx.debtTokens.SetEmitter(fx.engine.CollaboratorEmitter())
	return fx
}

func (fx *fixture) seedCreditor(t *testing.T, balance, allowance int64) {
	t.Helper()
	if err := fx.tokens.SetBalance(fx.owner, fx.principalToken, fx.creditor, big.NewInt(balance)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	if err := fx.tokens.Approve(fx.creditor, fx.principalToken, fx.engineAddr, big.NewInt(allowance)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (fx *fixture) newOffer() *offer.DebtOffer {
	return &offer.DebtOffer{
		Creditor:                fx.creditor,
		Debtor:                  fx.debtor,
		Underwriter:             fx.underwriter,
		Relayer:                 fx.relayer,
		Version:                 newTestAddress(0x05),
		TermsContract:           newTestAddress(0x06),
		TermsContractParameters: []byte{0xAA, 0xBB},
		PrincipalToken:          fx.principalToken,
		PrincipalAmount:         big.NewInt(1000),
		UnderwriterRiskRating:   big.NewInt(250),
		UnderwriterFee:          big.NewInt(10),
		RelayerFee:              big.NewInt(5),
		CreditorFee:             big.NewInt(20),
		DebtorFee:               big.NewInt(5),
		ExpirationTimestamp:     1800000000,
		Salt:                    big.NewInt(12345),
	}
}

func (fx *fixture) sign(t *testing.T, o *offer.DebtOffer) *offer.SignedDebtOffer {
	t.Helper()
	signed := &offer.SignedDebtOffer{DebtOffer: *o}
	debtorHash := o.DebtorCommitment()
	creditorHash := o.CreditorCommitment()
	underwriterHash := o.UnderwriterCommitment()

	var err error
	if signed.DebtorSignature, err = ethcrypto.Sign(debtorHash[:], fx.debtorKey); err != nil {
		t.Fatalf("debtor sign: %v", err)
	}
	if signed.CreditorSignature, err = ethcrypto.Sign(creditorHash[:], fx.creditorKey); err != nil {
		t.Fatalf("creditor sign: %v", err)
	}
	if o.HasUnderwriter() {
		if signed.UnderwriterSignature, err = ethcrypto.Sign(underwriterHash[:], fx.underKey); err != nil {
			t.Fatalf("underwriter sign: %v", err)
		}
	}
	return signed
}

func (fx *fixture) balance(t *testing.T, holder [20]byte) int64 {
	t.Helper()
	balance, err := fx.tokens.BalanceOf(fx.principalToken, holder)
	if err != nil {
		t.Fatalf("balance of %x: %v", holder, err)
	}
	return balance.Int64()
}

func TestFillDebtOffer(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 2000, 1500)
	signed := fx.sign(t, fx.newOffer())

	agreementID, err := fx.engine.FillDebtOffer(fx.relayer, signed)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if agreementID != signed.AgreementID() {
		t.Fatalf("agreement id mismatch")
	}

	// Creditor pays principal plus creditor fee; the debtor receives the
	// principal net of the debtor fee; underwriter and relayer collect their
	// fees; the remainder stays with the coordinator.
	if got := fx.balance(t, fx.creditor); got != 980 {
		t.Fatalf("creditor balance = %d, want 980", got)
	}
	if got := fx.balance(t, fx.debtor); got != 995 {
		t.Fatalf("debtor balance = %d, want 995", got)
	}
	if got := fx.balance(t, fx.underwriter); got != 10 {
		t.Fatalf("underwriter balance = %d, want 10", got)
	}
	if got := fx.balance(t, fx.relayer); got != 5 {
		t.Fatalf("relayer balance = %d, want 5", got)
	}
	if got := fx.balance(t, fx.engineAddr); got != 10 {
		t.Fatalf("coordinator balance = %d, want 10", got)
	}

	entry, err := fx.ledger.Get(agreementID)
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if entry.Creditor != fx.creditor {
		t.Fatalf("ledger creditor = %x, want %x", entry.Creditor, fx.creditor)
	}
	tokenOwner, err := fx.debtTokens.OwnerOf(agreementID)
	if err != nil || tokenOwner != fx.creditor {
		t.Fatalf("debt token owner = %x, %v", tokenOwner, err)
	}

	last := fx.emitter.events[len(fx.emitter.events)-1].(creditorEvent)
	if last.EventType() != EventTypeDebtOfferFilled {
		t.Fatalf("unexpected last event: %s", last.EventType())
	}
	if got := fx.emitter.countType(token.EventTypeTransfer); got != 4 {
		t.Fatalf("transfer events = %d, want 4", got)
	}
	if got := fx.emitter.countType(ledger.EventTypeInsertEntry); got != 1 {
		t.Fatalf("insert entry events = %d, want 1", got)
	}
	if got := fx.emitter.countType(debttoken.EventTypeMinted); got != 1 {
		t.Fatalf("minted events = %d, want 1", got)
	}
}

func TestFillReplayRejected(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)
	signed := fx.sign(t, fx.newOffer())

	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	creditorAfterFirst := fx.balance(t, fx.creditor)

	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrAlreadyFilled) {
		t.Fatalf("expected ErrAlreadyFilled, got %v", err)
	}
	if code := fx.emitter.lastLogErrorCode(t); code != "1" {
		t.Fatalf("errorCode = %s, want 1", code)
	}
	if got := fx.balance(t, fx.creditor); got != creditorAfterFirst {
		t.Fatalf("replay moved funds: %d != %d", got, creditorAfterFirst)
	}
}

func TestFillCancelledOffer(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)
	o := fx.newOffer()

	if err := fx.engine.CancelDebtOffer(fx.creditor, o); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	signed := fx.sign(t, o)
	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if code := fx.emitter.lastLogErrorCode(t); code != "0" {
		t.Fatalf("errorCode = %s, want 0", code)
	}
}

func TestFillExpiredOffer(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)
	o := fx.newOffer()
	o.ExpirationTimestamp = 1700000000
	signed := fx.sign(t, o)

	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if code := fx.emitter.lastLogErrorCode(t); code != "4" {
		t.Fatalf("errorCode = %s, want 4", code)
	}
}

func TestFillNonConsensual(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)

	t.Run("tampered debtor signature", func(t *testing.T) {
		signed := fx.sign(t, fx.newOffer())
		signed.DebtorSignature[10] ^= 0xFF
		if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrNonConsensual) {
			t.Fatalf("expected ErrNonConsensual, got %v", err)
		}
		if code := fx.emitter.lastLogErrorCode(t); code != "2" {
			t.Fatalf("errorCode = %s, want 2", code)
		}
	})

	t.Run("missing creditor signature", func(t *testing.T) {
		signed := fx.sign(t, fx.newOffer())
		signed.CreditorSignature = nil
		if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrNonConsensual) {
			t.Fatalf("expected ErrNonConsensual, got %v", err)
		}
	})

	t.Run("missing underwriter signature", func(t *testing.T) {
		signed := fx.sign(t, fx.newOffer())
		signed.UnderwriterSignature = nil
		if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrNonConsensual) {
			t.Fatalf("expected ErrNonConsensual, got %v", err)
		}
	})
}

func TestFillByCreditorSkipsCreditorSignature(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)
	signed := fx.sign(t, fx.newOffer())
	signed.CreditorSignature = nil

	if _, err := fx.engine.FillDebtOffer(fx.creditor, signed); err != nil {
		t.Fatalf("fill by creditor: %v", err)
	}
}

func TestFillWithoutOptionalRoles(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)
	o := fx.newOffer()
	o.Underwriter = [20]byte{}
	o.Relayer = [20]byte{}
	o.UnderwriterFee = big.NewInt(0)
	o.RelayerFee = big.NewInt(0)
	signed := fx.sign(t, o)

	if _, err := fx.engine.FillDebtOffer(fx.creditor, signed); err != nil {
		t.Fatalf("fill without roles: %v", err)
	}
	// Collected fees that have nowhere to go stay with the coordinator.
	if got := fx.balance(t, fx.engineAddr); got != 25 {
		t.Fatalf("coordinator balance = %d, want 25", got)
	}
}

func TestFillInsufficientBalance(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 100, 5000)
	signed := fx.sign(t, fx.newOffer())

	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if code := fx.emitter.lastLogErrorCode(t); code != "3" {
		t.Fatalf("errorCode = %s, want 3", code)
	}
	// A rejected offer stays fillable once the creditor is funded.
	if err := fx.tokens.SetBalance(fx.owner, fx.principalToken, fx.creditor, big.NewInt(5000)); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); err != nil {
		t.Fatalf("refill after funding: %v", err)
	}
}

func TestFillInsufficientAllowance(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 100)
	signed := fx.sign(t, fx.newOffer())

	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestFillRevertsAtomically(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)
	signed := fx.sign(t, fx.newOffer())

	// Pre-minting the debt token makes the last settlement step fail after
	// every transfer and the ledger insert already happened.
	if err := fx.debtTokens.Mint(signed.AgreementID(), newTestAddress(0x77)); err != nil {
		t.Fatalf("pre-mint: %v", err)
	}
	fx.emitter.events = nil
	_, err := fx.engine.FillDebtOffer(fx.relayer, signed)
	if !errors.Is(err, debttoken.ErrAlreadyMinted) {
		t.Fatalf("expected ErrAlreadyMinted, got %v", err)
	}

	if got := fx.balance(t, fx.creditor); got != 5000 {
		t.Fatalf("creditor balance after revert = %d, want 5000", got)
	}
	if got := fx.balance(t, fx.debtor); got != 0 {
		t.Fatalf("debtor balance after revert = %d, want 0", got)
	}
	if _, err := fx.ledger.Get(signed.AgreementID()); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("ledger entry survived revert: %v", err)
	}
	allowance, _ := fx.tokens.Allowance(fx.principalToken, fx.creditor, fx.engineAddr)
	if allowance.Int64() != 5000 {
		t.Fatalf("allowance after revert = %d, want 5000", allowance.Int64())
	}

	// The transfers and ledger insert that ran before the failing step must
	// not surface on the event stream either.
	if got := fx.emitter.countType(token.EventTypeTransfer); got != 0 {
		t.Fatalf("reverted fill leaked %d transfer events", got)
	}
	if got := fx.emitter.countType(ledger.EventTypeInsertEntry); got != 0 {
		t.Fatalf("reverted fill leaked %d insert entry events", got)
	}
	if got := fx.emitter.countType(debttoken.EventTypeMinted); got != 0 {
		t.Fatalf("reverted fill leaked %d minted events", got)
	}
}

func TestFillValidatesFeeStructure(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)

	cases := map[string]func(o *offer.DebtOffer){
		"debtor fee exceeds principal":  func(o *offer.DebtOffer) { o.DebtorFee = big.NewInt(1001) },
		"distributed exceeds collected": func(o *offer.DebtOffer) { o.RelayerFee = big.NewInt(100) },
		"underwriter fee without role": func(o *offer.DebtOffer) {
			o.Underwriter = [20]byte{}
		},
		"relayer fee without role": func(o *offer.DebtOffer) {
			o.Relayer = [20]byte{}
		},
		"negative principal": func(o *offer.DebtOffer) { o.PrincipalAmount = big.NewInt(-1) },
	}
	for name, mutate := range cases {
		o := fx.newOffer()
		mutate(o)
		signed := fx.sign(t, o)
		if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v", name, err)
		}
	}
}

func TestFillWithCollateral(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)

	decision := ltv.NewEngine()
	fx.engine.SetDecisionEngine(decision, newTestAddress(0x0F))

	newCollateral := func(maxLTV uint64) *offer.CollateralTerms {
		return &offer.CollateralTerms{
			CollateralToken:  newTestAddress(0x11),
			CollateralAmount: big.NewInt(20),
			MaxLTV:           big.NewInt(int64(maxLTV)),
			PrincipalPrice:   &ltv.PriceAttestation{Price: uint256.NewInt(100)},
			CollateralPrice:  &ltv.PriceAttestation{Price: uint256.NewInt(50)},
		}
	}

	t.Run("rejected above limit", func(t *testing.T) {
		o := fx.newOffer()
		signed := fx.sign(t, o)
		// principal 1000 against ((50*20)/100)*1000 = 10000 computed LTV.
		signed.Collateral = newCollateral(50)
		if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrDecisionRejected) {
			t.Fatalf("expected ErrDecisionRejected, got %v", err)
		}
	})

	t.Run("accepted within limit", func(t *testing.T) {
		o := fx.newOffer()
		o.Salt = big.NewInt(54321)
		signed := fx.sign(t, o)
		signed.Collateral = newCollateral(20000)
		if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); err != nil {
			t.Fatalf("fill with collateral: %v", err)
		}
	})

	t.Run("collateral without decision engine", func(t *testing.T) {
		bare := newFixture(t)
		bare.seedCreditor(t, 5000, 5000)
		signed := bare.sign(t, bare.newOffer())
		signed.Collateral = newCollateral(20000)
		if _, err := bare.engine.FillDebtOffer(bare.relayer, signed); !errors.Is(err, ErrNilCollaborator) {
			t.Fatalf("expected ErrNilCollaborator, got %v", err)
		}
	})
}

func TestCancelDebtOffer(t *testing.T) {
	fx := newFixture(t)
	o := fx.newOffer()

	if err := fx.engine.CancelDebtOffer(fx.relayer, o); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := fx.engine.CancelDebtOffer(fx.creditor, o); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	last := fx.emitter.events[len(fx.emitter.events)-1].(creditorEvent)
	if last.EventType() != EventTypeDebtOfferCancelled {
		t.Fatalf("unexpected last event: %s", last.EventType())
	}

	// Cancelling again is a silent no-op.
	before := len(fx.emitter.events)
	if err := fx.engine.CancelDebtOffer(fx.creditor, o); err != nil {
		t.Fatalf("re-cancel: %v", err)
	}
	if len(fx.emitter.events) != before {
		t.Fatalf("re-cancel emitted events")
	}
}

func TestCancelFilledOffer(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)
	o := fx.newOffer()
	signed := fx.sign(t, o)

	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if err := fx.engine.CancelDebtOffer(fx.creditor, o); !errors.Is(err, ErrAlreadyFilled) {
		t.Fatalf("expected ErrAlreadyFilled, got %v", err)
	}
}

func TestPause(t *testing.T) {
	fx := newFixture(t)
	fx.seedCreditor(t, 5000, 5000)
	signed := fx.sign(t, fx.newOffer())

	if err := fx.engine.Pause(fx.relayer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := fx.engine.Pause(fx.owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused, err := fx.engine.Paused()
	if err != nil || !paused {
		t.Fatalf("paused = %v, %v", paused, err)
	}
	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on fill, got %v", err)
	}
	if err := fx.engine.CancelDebtOffer(fx.creditor, &signed.DebtOffer); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused on cancel, got %v", err)
	}

	if err := fx.engine.Unpause(fx.owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := fx.engine.FillDebtOffer(fx.relayer, signed); err != nil {
		t.Fatalf("fill after unpause: %v", err)
	}
}
