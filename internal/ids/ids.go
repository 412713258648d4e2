// Package ids defines the identifiers and cryptographic primitives shared
// across BlackTrace: order and peer identifiers, the 32-byte hash type, the
// 20-byte HASH160 hashlock, and the secret preimage. Grounded on
// original_source/src/types.rs, ported to the teacher's idiom of small
// value types with Encode/Decode-style helpers (see lnwire's wire types).
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/ripemd160" //lint:ignore SA1019 bit-compatible with Bitcoin/Zcash HASH160 scripts, see §3
)

// unquoteJSONString decodes a JSON string literal into its Go string value,
// shared by the Hash/HashLock/SecretPreimage UnmarshalJSON methods below.
func unquoteJSONString(data []byte) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return s, nil
}

// OrderID is an opaque, globally unique identifier for an order. Unlike the
// Rust prototype (original_source/src/types.rs), which derives an OrderID
// purely from a millisecond timestamp and is therefore subject to
// collisions under concurrent creation, NewOrderID mixes in a random
// suffix, resolving the weak spot flagged in spec.md §9.
type OrderID string

// NewOrderID generates a fresh, collision-resistant order ID.
func NewOrderID() OrderID {
	return OrderID(fmt.Sprintf("order_%s", uuid.New().String()))
}

// String implements fmt.Stringer.
func (o OrderID) String() string {
	return string(o)
}

// PeerID is a peer's stable identifier, derived from its public key.
type PeerID string

// PeerIDFromPubKey derives a PeerID from a secp256k1 public key the way
// original_source/src/types.rs's PeerID::from_pubkey does: hash the
// serialized public key and take a hex prefix.
func PeerIDFromPubKey(pub *btcec.PublicKey) PeerID {
	return PeerIDFromBytes(pub.SerializeCompressed())
}

// PeerIDFromBytes derives a PeerID from arbitrary public-key bytes.
func PeerIDFromBytes(pubKeyBytes []byte) PeerID {
	sum := blake2b.Sum512(pubKeyBytes)
	return PeerID(hex.EncodeToString(sum[:16]))
}

// String implements fmt.Stringer.
func (p PeerID) String() string {
	return string(p)
}

// HashSize is the length in bytes of a Hash.
const HashSize = 32

// Hash is a 32-byte BLAKE2b-256 digest, collision-resistant per §3.
type Hash [HashSize]byte

// HashBytes computes the Hash of data using BLAKE2b-256 (BLAKE2b with a
// 32-byte digest size), in the role of original_source/src/types.rs's Hash::from_bytes.
func HashBytes(data ...[]byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key, and we pass none.
		panic(err)
	}
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// MarshalJSON encodes the hash as a lowercase hex string on the wire,
// matching original_source/src/types.rs's Hash's serde representation via
// its Display/FromStr hex helpers.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.Hex() + `"`), nil
}

// UnmarshalJSON decodes a lowercase hex string into the hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	s, err := unquoteJSONString(data)
	if err != nil {
		return err
	}
	parsed, err := HashFromHex(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HashFromHex parses a lowercase hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("invalid hash length: got %d bytes, want %d", len(b), HashSize)
	}
	var out Hash
	copy(out[:], b)
	return out, nil
}

// HashLockSize is the length in bytes of a HashLock (HASH160).
const HashLockSize = 20

// HashLock is the 20-byte RIPEMD160(SHA256(secret)) digest used to index
// HTLC escrow accounts, chosen for bit-compatibility with script-based
// chains per §3.
type HashLock [HashLockSize]byte

// Hash160 computes RIPEMD160(SHA256(data)), the HASH160 construction used
// throughout Bitcoin/Zcash-style scripts and by
// original_source/connectors/solana/htlc-contract/src/lib.rs's hash160().
func Hash160(data []byte) HashLock {
	sha := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sha[:])
	var out HashLock
	copy(out[:], r.Sum(nil))
	return out
}

// Hex returns the lowercase hex encoding of the hashlock.
func (h HashLock) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h HashLock) String() string {
	return h.Hex()
}

// HashLockFromHex parses a lowercase hex string into a HashLock.
func HashLockFromHex(s string) (HashLock, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return HashLock{}, err
	}
	if len(b) != HashLockSize {
		return HashLock{}, fmt.Errorf("invalid hashlock length: got %d bytes, want %d", len(b), HashLockSize)
	}
	var out HashLock
	copy(out[:], b)
	return out, nil
}

// MarshalJSON encodes the hashlock as a lowercase hex string.
func (h HashLock) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.Hex() + `"`), nil
}

// UnmarshalJSON decodes a lowercase hex string into the hashlock.
func (h *HashLock) UnmarshalJSON(data []byte) error {
	s, err := unquoteJSONString(data)
	if err != nil {
		return err
	}
	parsed, err := HashLockFromHex(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// SecretPreimageSize is the length in bytes of a SecretPreimage.
const SecretPreimageSize = 32

// SecretPreimage is the 32 random bytes whose HASH160 is an HTLC's
// hashlock. Invariant (§3): never logged or transmitted before both chains
// hold locked funds — enforced by the settlement coordinator, not by this
// type.
type SecretPreimage [SecretPreimageSize]byte

// NewSecretPreimage draws 32 random bytes from a CSPRNG.
func NewSecretPreimage() (SecretPreimage, error) {
	var s SecretPreimage
	if _, err := rand.Read(s[:]); err != nil {
		return SecretPreimage{}, err
	}
	return s, nil
}

// HashLock returns the HASH160 of the preimage.
func (s SecretPreimage) HashLock() HashLock {
	return Hash160(s[:])
}

// Hex returns the lowercase hex encoding of the preimage.
func (s SecretPreimage) Hex() string {
	return hex.EncodeToString(s[:])
}

// String implements fmt.Stringer.
func (s SecretPreimage) String() string {
	return s.Hex()
}

// SecretPreimageFromHex parses a lowercase hex string into a SecretPreimage.
func SecretPreimageFromHex(s string) (SecretPreimage, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return SecretPreimage{}, err
	}
	if len(b) != SecretPreimageSize {
		return SecretPreimage{}, fmt.Errorf("invalid secret length: got %d bytes, want %d", len(b), SecretPreimageSize)
	}
	var out SecretPreimage
	copy(out[:], b)
	return out, nil
}

// MarshalJSON encodes the preimage as a lowercase hex string. Callers in the
// settlement coordinator must not serialize a SecretPreimage before both
// legs are locked (§3); this method only controls encoding, not when it is
// called.
func (s SecretPreimage) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.Hex() + `"`), nil
}

// UnmarshalJSON decodes a lowercase hex string into the preimage.
func (s *SecretPreimage) UnmarshalJSON(data []byte) error {
	str, err := unquoteJSONString(data)
	if err != nil {
		return err
	}
	parsed, err := SecretPreimageFromHex(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
