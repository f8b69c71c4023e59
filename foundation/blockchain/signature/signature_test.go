package signature_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/taucoin/blockchain/foundation/blockchain/signature"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	hash := signature.Sha3([]byte("taucoin"))

	v, r, s, err := signature.Sign(hash, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if err := signature.VerifySignature(v, r, s); err != nil {
		t.Fatalf("Should be able to verify the signature: %s", err)
	}

	addr, err := signature.RecoverAddress(hash, v, r, s)
	if err != nil {
		t.Fatalf("Should be able to recover the from address: %s", err)
	}

	if from != addr.Hex() {
		t.Logf("got: %s", addr.Hex())
		t.Logf("exp: %s", from)
		t.Fatalf("Should get back the right address.")
	}

	other := signature.Sha3([]byte("other"))
	addr, err = signature.RecoverAddress(other, v, r, s)
	if err == nil && from == addr.Hex() {
		t.Fatalf("Should not recover the same address for different data.")
	}
}

func Test_BadRecoveryID(t *testing.T) {
	r := big.NewInt(10)
	s := big.NewInt(10)

	for _, v := range []uint8{0, 1, 26, 29, 255} {
		if err := signature.VerifySignature(v, r, s); err == nil {
			t.Fatalf("Should reject recovery id %d.", v)
		}
	}
}

func Test_SignWithKey(t *testing.T) {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	hash := signature.Sha3([]byte("block"))
	r, s, err := signature.SignWithKey(hash, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	pub := signature.PublicKeyBytes(pk)
	if len(pub) != 33 {
		t.Fatalf("Should get a compressed public key, got %d bytes.", len(pub))
	}

	if !signature.VerifyWithKey(pub, hash, r, s) {
		t.Fatalf("Should be able to verify with the public key.")
	}

	if signature.VerifyWithKey(pub, signature.Sha3([]byte("other")), r, s) {
		t.Fatalf("Should not verify a signature over different data.")
	}

	addr, err := signature.PublicKeyToAddress(pub)
	if err != nil {
		t.Fatalf("Should be able to convert the public key: %s", err)
	}

	if addr.Hex() != from {
		t.Logf("got: %s", addr.Hex())
		t.Logf("exp: %s", from)
		t.Fatalf("Should get back the right address.")
	}
}

func Test_Hash(t *testing.T) {
	empty := "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if got := hex.EncodeToString(signature.Sha3()); got != empty {
		t.Logf("got: %s", got)
		t.Logf("exp: %s", empty)
		t.Fatalf("Should get back the keccak hash of empty data.")
	}

	data := []byte("header")
	sum := sha256.Sum256(data)
	if !bytes.Equal(signature.Sha256(data), sum[:]) {
		t.Fatalf("Should get back the sha256 hash.")
	}

	h := signature.HeaderHash(data)
	if len(h) != 20 {
		t.Fatalf("Should get back a 20 byte header hash, got %d.", len(h))
	}

	if !bytes.Equal(h, signature.HeaderHash(data)) {
		t.Fatalf("Should get back the same hash twice.")
	}
}
