package ltv

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// PriceAttestationDomainV1 is the domain separator for signed price
// attestations.
const PriceAttestationDomainV1 = "CHARTA_PRICE_V1"

// PriceAttestation is a price-feed operator's signed statement of a token's
// price, with its own freshness bound. Attestations are ephemeral inputs to
// the decision engine and are never persisted.
type PriceAttestation struct {
	Token      [20]byte
	Price      *uint256.Int
	Timestamp  time.Time
	Expiration time.Time
	Signature  []byte
}

// Expired reports whether the attestation's freshness bound has elapsed at
// now.
func (p *PriceAttestation) Expired(now time.Time) bool {
	if p == nil || p.Expiration.IsZero() {
		return false
	}
	return !now.Before(p.Expiration)
}

// CanonicalMessage renders the string the price-feed operator signs.
func (p *PriceAttestation) CanonicalMessage() (string, error) {
	if p == nil {
		return "", fmt.Errorf("ltv: attestation not initialised")
	}
	if p.Price == nil {
		return "", fmt.Errorf("ltv: attestation price required")
	}
	if p.Timestamp.IsZero() {
		return "", fmt.Errorf("ltv: attestation timestamp required")
	}
	builder := strings.Builder{}
	builder.WriteString(PriceAttestationDomainV1)
	builder.WriteString("|token=")
	builder.WriteString(hex.EncodeToString(p.Token[:]))
	builder.WriteString("|price=")
	builder.WriteString(p.Price.Dec())
	builder.WriteString("|ts=")
	builder.WriteString(fmt.Sprintf("%d", p.Timestamp.UTC().Unix()))
	return builder.String(), nil
}

// Hash computes the keccak256 digest of the canonical message.
func (p *PriceAttestation) Hash() ([32]byte, error) {
	message, err := p.CanonicalMessage()
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256([]byte(message)))
	return out, nil
}

// VerifySigner recovers the attestation signer and compares it against the
// expected price-feed operator.
func (p *PriceAttestation) VerifySigner(operator [20]byte) (bool, error) {
	if p == nil || len(p.Signature) != 65 {
		return false, nil
	}
	hash, err := p.Hash()
	if err != nil {
		return false, err
	}
	pubKey, err := ethcrypto.SigToPub(hash[:], p.Signature)
	if err != nil {
		return false, nil
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	var recoveredBytes [20]byte
	copy(recoveredBytes[:], recovered[:])
	return recoveredBytes == operator, nil
}
