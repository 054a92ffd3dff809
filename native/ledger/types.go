package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Entry is a single debt agreement in the ledger. The entry hash is the
// immutable identity derived from the terms contract reference, the opaque
// parameter blob and the salt; every field except Creditor is write-once.
type Entry struct {
	EntryHash               [32]byte
	Version                 [20]byte
	Creditor                [20]byte
	TermsContract           [20]byte
	TermsContractParameters []byte
	Salt                    *big.Int
	InsertedAt              int64
}

// ParametersHash returns the keccak256 digest of the stored parameter blob,
// letting downstream terms evaluators verify integrity without the full blob.
func (e *Entry) ParametersHash() [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(e.TermsContractParameters))
	return out
}

// ComputeEntryHash derives the ledger identity for an agreement. Callers must
// choose salts with enough entropy to make collisions negligible.
func ComputeEntryHash(termsContract [20]byte, termsContractParameters []byte, salt *big.Int) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(
		termsContract[:],
		termsContractParameters,
		bigToWord(salt),
	))
	return out
}

func bigToWord(v *big.Int) []byte {
	word := make([]byte, 32)
	if v == nil || v.Sign() == 0 {
		return word
	}
	v.FillBytes(word)
	return word
}

type storedEntry struct {
	Version       string `json:"version"`
	Creditor      string `json:"creditor"`
	TermsContract string `json:"termsContract"`
	Parameters    string `json:"parameters"`
	Salt          string `json:"salt"`
	InsertedAt    int64  `json:"insertedAt"`
}

func newStoredEntry(e *Entry) storedEntry {
	salt := "0"
	if e.Salt != nil {
		salt = e.Salt.String()
	}
	return storedEntry{
		Version:       hex.EncodeToString(e.Version[:]),
		Creditor:      hex.EncodeToString(e.Creditor[:]),
		TermsContract: hex.EncodeToString(e.TermsContract[:]),
		Parameters:    hex.EncodeToString(e.TermsContractParameters),
		Salt:          salt,
		InsertedAt:    e.InsertedAt,
	}
}

func (s storedEntry) toEntry(hash [32]byte) (*Entry, error) {
	entry := &Entry{EntryHash: hash, InsertedAt: s.InsertedAt}
	if err := decodeAddress(s.Version, &entry.Version); err != nil {
		return nil, err
	}
	if err := decodeAddress(s.Creditor, &entry.Creditor); err != nil {
		return nil, err
	}
	if err := decodeAddress(s.TermsContract, &entry.TermsContract); err != nil {
		return nil, err
	}
	params, err := hex.DecodeString(s.Parameters)
	if err != nil {
		return nil, fmt.Errorf("ledger: corrupt stored parameters: %w", err)
	}
	entry.TermsContractParameters = params
	salt, ok := new(big.Int).SetString(s.Salt, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: corrupt stored salt %q", s.Salt)
	}
	entry.Salt = salt
	return entry, nil
}

func decodeAddress(encoded string, out *[20]byte) error {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("ledger: corrupt stored address: %w", err)
	}
	if len(raw) != len(out) {
		return fmt.Errorf("ledger: corrupt stored address length %d", len(raw))
	}
	copy(out[:], raw)
	return nil
}
