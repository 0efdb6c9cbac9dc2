// Package mediator implements the deciders that are allowed to pick a bet's
// winner. A manual bet's authority is simply the creator's address. An
// oracle bet's authority is a synthetic address owned by the OptionMediator,
// which decides from a price feed; no external caller can ever present that
// identity, so the mediator exclusively controls the privileged operation on
// the escrow it created.
package mediator

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// addressSalt namespaces derived mediator identities.
const addressSalt = "betme/option-mediator/v1/"

// DeriveAddress computes the mediator identity for an oracle bet. The
// derivation is deterministic in the bet ID, so the address can be recomputed
// after a restart without storing key material.
func DeriveAddress(betID string) common.Address {
	digest := ethcrypto.Keccak256([]byte(addressSalt + betID))
	return common.BytesToAddress(digest[12:])
}
