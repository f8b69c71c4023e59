// Package signature provides helper functions for handling the blockchain
// signature and hashing needs.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
	"golang.org/x/crypto/sha3"
)

// recoveryOffset is added to the recovery id of a signature before it is
// stored in a transaction. Signatures with a v of 27 or 28 are the only
// ones accepted.
const recoveryOffset = 27

// Set of errors returned by the signature checks.
var (
	ErrInvalidRecoveryID = errors.New("invalid recovery id")
	ErrInvalidSignature  = errors.New("invalid signature values")
)

// =============================================================================

// Sha3 returns the keccak-256 hash of the concatenated data.
func Sha3(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// Sha256 returns the sha256 hash of the concatenated data.
func Sha256(data ...[]byte) []byte {
	h := sha256.New()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// HeaderHash returns ripemd160(sha256(data)), the 20 byte identity used to
// link blocks together.
func HeaderHash(data []byte) []byte {
	h := ripemd160.New()
	h.Write(Sha256(data))
	return h.Sum(nil)
}

// =============================================================================

// Sign uses the specified private key to sign the 32 byte hash and returns
// the signature in its [V|R|S] parts.
func Sign(hash []byte, privateKey *ecdsa.PrivateKey) (v uint8, r, s *big.Int, err error) {
	sig, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return 0, nil, nil, err
	}

	// Check the public key extracted from the hash and signature.
	publicKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return 0, nil, nil, err
	}

	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), hash, rs) {
		return 0, nil, nil, errors.New("invalid signature")
	}

	r = new(big.Int).SetBytes(sig[:32])
	s = new(big.Int).SetBytes(sig[32:64])
	v = sig[64] + recoveryOffset

	return v, r, s, nil
}

// VerifySignature verifies the signature values conform to our standards.
func VerifySignature(v uint8, r, s *big.Int) error {
	if r == nil || s == nil {
		return ErrInvalidSignature
	}

	recID := v - recoveryOffset
	if v < recoveryOffset || (recID != 0 && recID != 1) {
		return ErrInvalidRecoveryID
	}

	if !crypto.ValidateSignatureValues(recID, r, s, false) {
		return ErrInvalidSignature
	}

	return nil
}

// RecoverAddress extracts the address for the account that signed the hash.
func RecoverAddress(hash []byte, v uint8, r, s *big.Int) (common.Address, error) {
	if err := VerifySignature(v, r, s); err != nil {
		return common.Address{}, err
	}

	publicKey, err := crypto.SigToPub(hash, ToSignatureBytes(v, r, s))
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}

// ToSignatureBytes converts the v, r, s values into the original 65 bytes
// with the recovery offset removed.
func ToSignatureBytes(v uint8, r, s *big.Int) []byte {
	sig := make([]byte, crypto.SignatureLength)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])
	sig[64] = v - recoveryOffset

	return sig
}

// =============================================================================

// PublicKeyBytes returns the compressed 33 byte form of the public key. This
// is the generator key carried in a block header.
func PublicKeyBytes(privateKey *ecdsa.PrivateKey) []byte {
	return crypto.CompressPubkey(&privateKey.PublicKey)
}

// PublicKeyToAddress converts a compressed or uncompressed public key into
// the account address it owns.
func PublicKeyToAddress(pub []byte) (common.Address, error) {
	publicKey, err := parsePublicKey(pub)
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}

// SignWithKey signs the hash and returns only the r and s values. Blocks
// carry the generator public key so the recovery id is not needed.
func SignWithKey(hash []byte, privateKey *ecdsa.PrivateKey) (r, s *big.Int, err error) {
	sig, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return nil, nil, err
	}

	return new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64]), nil
}

// VerifyWithKey checks the r and s values were produced over the hash by
// the owner of the public key.
func VerifyWithKey(pub []byte, hash []byte, r, s *big.Int) bool {
	if r == nil || s == nil || r.Sign() <= 0 || s.Sign() <= 0 {
		return false
	}
	if r.BitLen() > 256 || s.BitLen() > 256 {
		return false
	}

	publicKey, err := parsePublicKey(pub)
	if err != nil {
		return false
	}

	rs := make([]byte, 64)
	r.FillBytes(rs[:32])
	s.FillBytes(rs[32:])

	return crypto.VerifySignature(crypto.FromECDSAPub(publicKey), hash, rs)
}

// parsePublicKey accepts both the 33 byte and the 65 byte encodings.
func parsePublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	switch len(pub) {
	case 33:
		return crypto.DecompressPubkey(pub)
	case 65:
		return crypto.UnmarshalPubkey(pub)
	}

	return nil, fmt.Errorf("invalid public key length %d", len(pub))
}
