package payment

import (
	"encoding/hex"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// signingDomain separates payment signatures from every other signed payload
// in the deployment.
const signingDomain = "loyalchain/payment/v1"

// OpenPaymentHash returns the canonical digest a payer (or their registered
// payment agent) signs to open a payment. The digest commits to the full
// request, the chain identity and the signer's current nonce, which makes
// every signature single-use.
func OpenPaymentHash(chainID int64, paymentID [32]byte, purchaseID string, amount *big.Int, currency string, shopID [32]byte, signer [20]byte, nonce uint64) []byte {
	amt := "0"
	if amount != nil {
		amt = amount.String()
	}
	payload := fmt.Sprintf("%s|chain=%d|payment=%s|purchase=%s|amount=%s|currency=%s|shop=%s|signer=%s|nonce=%d",
		signingDomain,
		chainID,
		hex.EncodeToString(paymentID[:]),
		purchaseID,
		amt,
		currency,
		hex.EncodeToString(shopID[:]),
		hex.EncodeToString(signer[:]),
		nonce,
	)
	return ethcrypto.Keccak256([]byte(payload))
}

// CancelPaymentHash returns the canonical digest a shop account (or its
// delegate) signs to open a cancellation. Amount and currency are omitted;
// they are already fixed by the settled record.
func CancelPaymentHash(chainID int64, paymentID [32]byte, purchaseID string, shopID [32]byte, signer [20]byte, nonce uint64) []byte {
	payload := fmt.Sprintf("%s|chain=%d|payment=%s|purchase=%s|shop=%s|signer=%s|nonce=%d",
		signingDomain,
		chainID,
		hex.EncodeToString(paymentID[:]),
		purchaseID,
		hex.EncodeToString(shopID[:]),
		hex.EncodeToString(signer[:]),
		nonce,
	)
	return ethcrypto.Keccak256([]byte(payload))
}

// SecretHash computes the commitment published as a record's secret lock. The
// matching secret must hash to this value before any close is honoured.
func SecretHash(secret []byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(secret))
	return out
}

// recoverSigner recovers the address that produced sig over digest.
func recoverSigner(digest, sig []byte) ([20]byte, error) {
	var out [20]byte
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	copy(out[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}
