// Package crypto provides trade signature verification, operator attestation
// signing, and encrypted key storage for the operator signing key.
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/forecasthq/marketd/internal/domain"
)

// TradeMessage returns the canonical text a wallet must sign to authorize a
// trade. The nonce is the client-supplied transaction hash, which the
// settlement store also uses as the idempotency key, so a captured signature
// cannot be replayed as a second trade.
func TradeMessage(t domain.Trade) string {
	return fmt.Sprintf(
		"marketd trade v1\nmarket: %s\noutcome: %s\nside: %s\nquantity: %.8f\nnonce: %s",
		t.MarketID, t.Outcome, t.Side, t.Quantity, t.TxHash,
	)
}

// ResolutionMessage returns the canonical text the operator signs to attest a
// market resolution.
func ResolutionMessage(marketID string, outcome domain.Outcome) string {
	return fmt.Sprintf("marketd resolution v1\nmarket: %s\noutcome: %s", marketID, outcome)
}

// VerifyPersonalSign checks that sigHex is a valid EIP-191 personal_sign
// signature over message by the given wallet address. It returns
// domain.ErrInvalidSignature when the signature is malformed or was produced
// by a different key.
func VerifyPersonalSign(wallet, message, sigHex string) error {
	if !common.IsHexAddress(wallet) {
		return fmt.Errorf("crypto: invalid wallet address %q: %w", wallet, domain.ErrInvalidSignature)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return fmt.Errorf("crypto: signature is not valid hex: %w", domain.ErrInvalidSignature)
	}
	if len(sig) != 65 {
		return fmt.Errorf("crypto: signature must be 65 bytes, got %d: %w", len(sig), domain.ErrInvalidSignature)
	}

	// Wallets emit v in {27,28}; Ecrecover wants {0,1}.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(personalSignHash(message), recSig)
	if err != nil {
		return fmt.Errorf("crypto: recovering signer: %w", domain.ErrInvalidSignature)
	}

	recovered := ethcrypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(wallet) {
		return fmt.Errorf("crypto: signature from %s, expected %s: %w",
			recovered.Hex(), common.HexToAddress(wallet).Hex(), domain.ErrInvalidSignature)
	}
	return nil
}

// personalSignHash computes the EIP-191 digest:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(message) || message)
func personalSignHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return ethcrypto.Keccak256([]byte(prefixed))
}
