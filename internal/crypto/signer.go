package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs contract transactions for a single wallet.
type TxSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewTxSigner creates a TxSigner from a hex-encoded secp256k1 private key,
// with or without the 0x prefix.
func NewTxSigner(privateKeyHex string) (*TxSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &TxSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// SignerFromConfig resolves the wallet key through LoadKey and wraps it.
func SignerFromConfig(cfg KeyConfig) (*TxSigner, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewTxSigner(keyHex)
}

// Address returns the wallet address.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// SignTx signs tx for chainID using the latest signer scheme the chain
// supports.
func (s *TxSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}
