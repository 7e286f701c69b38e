package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/forecasthq/marketd/internal/domain"
)

// Signer signs resolution attestations with the operator's secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignResolution produces the hex-encoded EIP-191 attestation for resolving
// marketID to outcome. The attestation is stored alongside the market so
// clients can verify the resolution came from the operator.
func (s *Signer) SignResolution(marketID string, outcome domain.Outcome) (string, error) {
	return s.SignMessage(ResolutionMessage(marketID, outcome))
}

// SignMessage signs the EIP-191 personal_sign digest of message and returns
// the 65-byte r || s || v signature as 0x-prefixed hex with v in {27,28}.
func (s *Signer) SignMessage(message string) (string, error) {
	sig, err := ethcrypto.Sign(personalSignHash(message), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}
