package signin

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs sign-in messages for one wallet.
type Signer interface {
	Address() string
	SignMessage(msg []byte) (string, error)
}

// EthSigner produces EIP-191 personal_sign signatures.
type EthSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewEthSigner parses a hex private key, with or without 0x.
func NewEthSigner(hexKey string) (*EthSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &EthSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}, nil
}

func (s *EthSigner) Address() string { return s.address }

func (s *EthSigner) SignMessage(msg []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
