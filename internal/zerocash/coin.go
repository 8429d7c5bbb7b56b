// coin.go - Coin type for the zerocash ledger.
//
// A Coin is the private record a holder needs to later spend an asset.
// Only the commitment is ever published; r and sn stay with the holder until the spend
// reveals sn.

package zerocash

import (
	"encoding/json"
	"fmt"
)

// Coin is a unit of value held privately by a wallet.
type Coin struct {
	Cm Digest `json:"cm"` // Commitment, SHA256(Sn || R)
	R  Digest `json:"r"`  // Commitment randomness
	Sn Digest `json:"sn"` // Serial number, revealed when spent
}

// NewCoin mints a coin with fresh randomness and serial number.
func NewCoin() *Coin {
	sn := RandomDigest()
	r := RandomDigest()
	return &Coin{
		Cm: HashCommitment(sn, r),
		R:  r,
		Sn: sn,
	}
}

// Valid reports whether the coin's commitment opens to its (sn, r).
func (c *Coin) Valid() bool {
	return HashCommitment(c.Sn, c.R) == c.Cm
}

// Serialize encodes the coin as JSON.
func (c *Coin) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// DeserializeCoin decodes a coin and checks that its commitment opens.
func DeserializeCoin(data []byte) (*Coin, error) {
	var c Coin
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: coin: %v", ErrDeserialization, err)
	}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: coin commitment does not open", ErrDeserialization)
	}
	return &c, nil
}
