package offer

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// VerifySignature recovers the signer of sig over hash and reports whether it
// matches the expected address. Malformed or unrecoverable signatures are a
// verification failure, never a fault.
func VerifySignature(expectedSigner [20]byte, hash [32]byte, sig []byte) bool {
	if len(sig) != 65 {
		return false
	}
	pubKey, err := ethcrypto.SigToPub(hash[:], sig)
	if err != nil {
		return false
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	var recoveredBytes [20]byte
	copy(recoveredBytes[:], recovered[:])
	return recoveredBytes == expectedSigner
}
