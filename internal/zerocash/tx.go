// tx.go - Proof-carrying spend transactions.
//
// A Transaction retires one coin (identified only by the serial number in its proof's public
// signals) and mints another (Cm). Its validity is always relative to a ledger snapshot.

package zerocash

import (
	"encoding/json"
	"fmt"
)

// Transaction is a spend proof together with the commitment of the freshly minted coin.
type Transaction struct {
	Proof *Proof `json:"proof"`
	Cm    Digest `json:"cm"`
}

// NewTransaction builds a transaction from a spend proof and the new coin's commitment.
func NewTransaction(proof *Proof, cm Digest) *Transaction {
	return &Transaction{Proof: proof, Cm: cm}
}

// ID returns SHA256("TX" || JSON(tx)).
func (tx *Transaction) ID() Digest {
	data, err := json.Marshal(tx)
	if err != nil {
		// Only []byte and Digest fields; encoding cannot fail.
		panic(fmt.Sprintf("zerocash: transaction encoding: %v", err))
	}
	return HashBytes([]byte("TX"), data)
}

// SerialNumber extracts the serial number this transaction reveals.
func (tx *Transaction) SerialNumber() (Digest, error) {
	if tx.Proof == nil {
		return Digest{}, fmt.Errorf("%w: missing proof", ErrMalformedSignals)
	}
	_, _, sn, err := tx.Proof.Signals()
	return sn, err
}

// Serialize encodes the transaction as JSON.
func (tx *Transaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// DeserializeTransaction decodes a transaction.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: transaction: %v", ErrDeserialization, err)
	}
	if tx.Proof == nil {
		return nil, fmt.Errorf("%w: transaction without proof", ErrDeserialization)
	}
	return &tx, nil
}
