package database

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the number of bytes in an account address.
const AddressLength = common.AddressLength

// BurnAddress receives coins that leave circulation. Credits to it are not
// recorded.
var BurnAddress = common.Address{}

// ErrInvalidAddress is returned when an address is not 20 bytes.
var ErrInvalidAddress = errors.New("invalid address")

// ToAddress converts a hex-encoded string to an address and validates the
// hex-encoded string is formatted correctly.
func ToAddress(hex string) (common.Address, error) {
	if !common.IsHexAddress(hex) {
		return common.Address{}, ErrInvalidAddress
	}

	return common.HexToAddress(hex), nil
}

// PublicKeyToAddress converts the public key to an address value.
func PublicKeyToAddress(pk ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(pk)
}

// IsBurn reports whether coins sent to the address are destroyed.
func IsBurn(addr common.Address) bool {
	return addr == BurnAddress
}
