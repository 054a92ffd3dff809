package offer

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/8001800/charta/native/ledger"
)

// DebtOffer aggregates the counterparties and economic terms of a proposed
// debt agreement. Underwriter and Relayer are optional; the zero address marks
// an absent role. Offers are ephemeral and never persisted, only their
// commitment hashes reach state.
type DebtOffer struct {
	Creditor                [20]byte
	Debtor                  [20]byte
	Underwriter             [20]byte
	Relayer                 [20]byte
	Version                 [20]byte
	TermsContract           [20]byte
	TermsContractParameters []byte
	PrincipalToken          [20]byte
	PrincipalAmount         *big.Int
	UnderwriterRiskRating   *big.Int
	UnderwriterFee          *big.Int
	RelayerFee              *big.Int
	CreditorFee             *big.Int
	DebtorFee               *big.Int
	ExpirationTimestamp     int64
	Salt                    *big.Int
}

// SignedDebtOffer carries a DebtOffer together with the per-role signatures
// over the role's commitment hash. Signatures for absent optional roles are
// left empty.
type SignedDebtOffer struct {
	DebtOffer
	Collateral           *CollateralTerms
	DebtorSignature      []byte
	CreditorSignature    []byte
	UnderwriterSignature []byte
}

// HasUnderwriter reports whether the offer names an underwriter.
func (o *DebtOffer) HasUnderwriter() bool {
	return o.Underwriter != ([20]byte{})
}

// HasRelayer reports whether the offer names a relayer.
func (o *DebtOffer) HasRelayer() bool {
	return o.Relayer != ([20]byte{})
}

// AgreementID is the identity of the debt agreement the offer would create,
// identical to the ledger entry hash derived from the same immutable fields.
func (o *DebtOffer) AgreementID() [32]byte {
	return ledger.ComputeEntryHash(o.TermsContract, o.TermsContractParameters, o.Salt)
}

// CreditorCommitment builds the canonical hash the creditor signs. The field
// set and order below are fixed; any offer field outside it is not protected
// against tampering from the creditor's perspective, so every economically
// relevant field is included.
func (o *DebtOffer) CreditorCommitment() [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(
		o.Creditor[:],
		o.Version[:],
		word(o.CreditorFee),
		o.Underwriter[:],
		word(o.UnderwriterRiskRating),
		o.TermsContract[:],
		o.TermsContractParameters,
		o.PrincipalToken[:],
		word(o.PrincipalAmount),
		timestampWord(o.ExpirationTimestamp),
		word(o.Salt),
	))
	return out
}

// DebtorCommitment builds the canonical hash the debtor signs. It commits to
// the agreement identity plus every fee and the expiration.
func (o *DebtOffer) DebtorCommitment() [32]byte {
	agreementID := o.AgreementID()
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(
		agreementID[:],
		word(o.UnderwriterFee),
		word(o.PrincipalAmount),
		o.PrincipalToken[:],
		word(o.DebtorFee),
		word(o.CreditorFee),
		o.Relayer[:],
		word(o.RelayerFee),
		timestampWord(o.ExpirationTimestamp),
	))
	return out
}

// UnderwriterCommitment builds the canonical hash the underwriter signs.
func (o *DebtOffer) UnderwriterCommitment() [32]byte {
	agreementID := o.AgreementID()
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(
		agreementID[:],
		word(o.UnderwriterFee),
		word(o.PrincipalAmount),
		o.PrincipalToken[:],
		timestampWord(o.ExpirationTimestamp),
	))
	return out
}

// word encodes an amount as a fixed 32-byte big-endian value so hashes are
// insensitive to leading-zero representation.
func word(v *big.Int) []byte {
	out := make([]byte, 32)
	if v == nil || v.Sign() <= 0 {
		return out
	}
	v.FillBytes(out)
	return out
}

func timestampWord(ts int64) []byte {
	out := make([]byte, 32)
	if ts <= 0 {
		return out
	}
	big.NewInt(ts).FillBytes(out)
	return out
}
