package offer

import (
	"math/big"

	"github.com/8001800/charta/native/ltv"
)

// CollateralTerms carries the price-attested collateral data an offer may
// optionally include. When present, the fill coordinator consults the LTV
// decision engine before moving any funds.
type CollateralTerms struct {
	CollateralToken  [20]byte
	CollateralAmount *big.Int
	MaxLTV           *big.Int
	PrincipalPrice   *ltv.PriceAttestation
	CollateralPrice  *ltv.PriceAttestation
}
