package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OperatorAddress derives the Ethereum address for a hex-encoded private key
// resolved by LoadKey.
func OperatorAddress(privateKeyHex string) (common.Address, error) {
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: parse operator key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}
