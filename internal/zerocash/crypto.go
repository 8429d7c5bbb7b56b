// crypto.go - Hash primitives, digests and public-signal bit packing for the zerocash ledger.
//
// Commitments are SHA-256 over a 512-bit preimage (sn || r). The proof system exposes its
// public inputs as a bit vector, one entry per bit, big-endian within each 256-bit field.

package zerocash

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// DigestSize is the size in bytes of every commitment, nullifier and randomness value.
	DigestSize = 32
	// DigestBits is the number of bits in a Digest.
	DigestBits = DigestSize * 8
	// SignalBits is the length of a spend proof's public-signal vector: cm1 | cm2 | sn.
	SignalBits = 3 * DigestBits
)

// Digest is a 256-bit value: a commitment, a nullifier, randomness, or an id.
// Digests compare by value and are usable as map keys.
type Digest [DigestSize]byte

// ZeroDigest is the all-zero digest. Genesis blocks use it as their parent hash.
var ZeroDigest Digest

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 8 hex characters, for log lines.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:4])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

// MarshalText encodes the digest as hex so it can be used in JSON and as a map key.
func (d Digest) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(DigestSize))
	hex.Encode(out, d[:])
	return out, nil
}

// UnmarshalText decodes a hex-encoded digest.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(DigestSize) {
		return fmt.Errorf("%w: digest must be %d hex characters, got %d", ErrDeserialization, hex.EncodedLen(DigestSize), len(text))
	}
	if _, err := hex.Decode(d[:], text); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return nil
}

// ParseDigest decodes a hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	err := d.UnmarshalText([]byte(s))
	return d, err
}

// HashCommitment computes cm = SHA256(sn || r).
func HashCommitment(sn, r Digest) Digest {
	var preimage [2 * DigestSize]byte
	copy(preimage[:DigestSize], sn[:])
	copy(preimage[DigestSize:], r[:])
	return sha256.Sum256(preimage[:])
}

// HashBytes returns SHA256(data) as a Digest.
func HashBytes(data ...[]byte) Digest {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// RandomDigest returns a uniformly random 256-bit value from crypto/rand.
func RandomDigest() Digest {
	var d Digest
	if _, err := rand.Read(d[:]); err != nil {
		panic(fmt.Sprintf("zerocash: system randomness unavailable: %v", err))
	}
	return d
}

// DigestToBits expands a digest into 256 entries of 0 or 1, most significant bit first.
func DigestToBits(d Digest) []byte {
	bits := make([]byte, 0, DigestBits)
	for _, b := range d {
		for j := 7; j >= 0; j-- {
			bits = append(bits, (b>>uint(j))&1)
		}
	}
	return bits
}

// BitsToDigest packs 256 big-endian bits back into a digest.
func BitsToDigest(bits []byte) (Digest, error) {
	var d Digest
	if len(bits) != DigestBits {
		return d, fmt.Errorf("%w: expected %d bits, got %d", ErrMalformedSignals, DigestBits, len(bits))
	}
	for i := 0; i < DigestSize; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			bit := bits[i*8+j]
			if bit > 1 {
				return d, fmt.Errorf("%w: signal %d is not a bit", ErrMalformedSignals, i*8+j)
			}
			b |= bit << uint(7-j)
		}
		d[i] = b
	}
	return d, nil
}

// PackPublicSignals lays out the spend public signals as [cm1 | cm2 | sn].
func PackPublicSignals(cm1, cm2, sn Digest) []byte {
	signals := make([]byte, 0, SignalBits)
	signals = append(signals, DigestToBits(cm1)...)
	signals = append(signals, DigestToBits(cm2)...)
	signals = append(signals, DigestToBits(sn)...)
	return signals
}

// ParsePublicSignals splits a 768-bit signal vector into (cm1, cm2, sn).
func ParsePublicSignals(signals []byte) (cm1, cm2, sn Digest, err error) {
	if len(signals) != SignalBits {
		return cm1, cm2, sn, fmt.Errorf("%w: expected %d signals, got %d", ErrMalformedSignals, SignalBits, len(signals))
	}
	if cm1, err = BitsToDigest(signals[:DigestBits]); err != nil {
		return
	}
	if cm2, err = BitsToDigest(signals[DigestBits : 2*DigestBits]); err != nil {
		return
	}
	sn, err = BitsToDigest(signals[2*DigestBits:])
	return
}
