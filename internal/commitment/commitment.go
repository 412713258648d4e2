// Package commitment implements the liquidity commitment/nullifier helper
// consumed by the application façade (§4.4). It is a small, self-contained
// collaborator: the negotiation and settlement core never inspect its
// internals, only its public contract, matching how
// original_source/src/crypto/commitment.rs is consumed by
// original_source/src/cli/app.rs's create_order.
package commitment

import (
	"crypto/rand"
	"time"

	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
)

// SaltSize is the length in bytes of a commitment salt.
const SaltSize = 32

// Nullifier prevents reuse of the same liquidity proof. Deterministic in
// (viewingKey, orderID) per §3 and §8 invariant 3.
type Nullifier ids.Hash

// Hex returns the lowercase hex encoding of the nullifier.
func (n Nullifier) Hex() string {
	return ids.Hash(n).Hex()
}

// LiquidityCommitment proves possession of funds without revealing the
// amount, per §4.4.
type LiquidityCommitment struct {
	CommitmentHash ids.Hash
	Nullifier      Nullifier
	MinAmount      uint64
	Timestamp      int64
}

// Opening reveals the values committed to by a LiquidityCommitment.
type Opening struct {
	Amount uint64
	Salt   [SaltSize]byte
}

// Generate builds a LiquidityCommitment the way
// original_source/src/crypto/commitment.rs's generate_commitment does:
// commitment_hash = H(amount_be_bytes || salt), nullifier = H(viewing_key ||
// order_id). Fails with errs.KindInsufficientBalance when amount < minAmount.
func Generate(amount uint64, salt [SaltSize]byte, minAmount uint64, viewingKey []byte, orderID ids.OrderID) (LiquidityCommitment, error) {
	if amount < minAmount {
		return LiquidityCommitment{}, errs.NewInsufficientBalance(minAmount, amount)
	}

	return LiquidityCommitment{
		CommitmentHash: computeCommitmentHash(amount, salt),
		Nullifier:      GenerateNullifier(viewingKey, orderID),
		MinAmount:      minAmount,
		Timestamp:      time.Now().Unix(),
	}, nil
}

// computeCommitmentHash computes Hash(amount_be_bytes || salt).
func computeCommitmentHash(amount uint64, salt [SaltSize]byte) ids.Hash {
	var amountBE [8]byte
	for i := 0; i < 8; i++ {
		amountBE[7-i] = byte(amount >> (8 * i))
	}
	return ids.HashBytes(amountBE[:], salt[:])
}

// GenerateNullifier computes Hash(viewing_key || order_id), deterministic
// in its inputs per §8 invariant 3.
func GenerateNullifier(viewingKey []byte, orderID ids.OrderID) Nullifier {
	return Nullifier(ids.HashBytes(viewingKey, []byte(orderID)))
}

// Verify recomputes the commitment hash from opening and checks it matches,
// and that the opened amount still meets the commitment's minimum, per §8
// invariant 4.
func Verify(c LiquidityCommitment, opening Opening) bool {
	computed := computeCommitmentHash(opening.Amount, opening.Salt)
	if computed != c.CommitmentHash {
		return false
	}
	return opening.Amount >= c.MinAmount
}

// RandomSalt draws a fresh random salt from a CSPRNG.
func RandomSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, err
	}
	return salt, nil
}
