// internal/types/types.go
package types

import (
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

// Address identifies an actor: a buyer, seller, beneficiary, admin or a
// custody account owned by a sale.
type Address = solana.PublicKey

// ZeroAddress is the "no address" sentinel.
var ZeroAddress = solana.PublicKey{}

// NewAddress returns a fresh random address.
func NewAddress() Address {
	return solana.NewWallet().PublicKey()
}

// Zero returns a new zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Copy returns a copy of v, treating nil as zero.
func Copy(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
