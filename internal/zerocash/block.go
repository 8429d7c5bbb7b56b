// block.go - Blocks: ordered batches of coinbase mints and spend transactions.
//
// A block carries the ledger snapshot obtained by applying its coinbase and its
// transactions, in that order, to its parent's snapshot. Commitments a transaction may spend
// are those of the parent snapshot plus this block's coinbase; outputs of transactions in the
// same block are not spendable until the next block.

package zerocash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/bits"
	"slices"
	"time"
)

// Block is a node of the chain.
type Block struct {
	prevBlockHash Digest
	chainLength   uint64
	timestamp     int64 // unix milliseconds
	proof         uint64

	txOrder  []Digest
	txs      map[Digest]*Transaction
	coinbase []Digest

	ledger    *Ledger
	spendable int // cmlist prefix visible to this block's spenders

	powPrefix []byte
	id        *Digest
}

// NewGenesisBlock creates a chain root whose cmlist holds the initial allocation.
func NewGenesisBlock(cms []Digest, ts time.Time) *Block {
	l := NewLedger()
	for _, cm := range cms {
		l.AppendCommitment(cm)
	}
	return &Block{
		timestamp: ts.UnixMilli(),
		txs:       make(map[Digest]*Transaction),
		coinbase:  make([]Digest, 0),
		ledger:    l,
		spendable: l.NumCommitments(),
	}
}

// NewBlock creates an empty candidate on top of parent with proof = 0.
func NewBlock(parent *Block, ts time.Time) *Block {
	l := parent.ledger.Clone()
	return &Block{
		prevBlockHash: parent.ID(),
		chainLength:   parent.chainLength + 1,
		timestamp:     ts.UnixMilli(),
		txs:           make(map[Digest]*Transaction),
		coinbase:      make([]Digest, 0),
		ledger:        l,
		spendable:     l.NumCommitments(),
	}
}

func (b *Block) PrevBlockHash() Digest { return b.prevBlockHash }
func (b *Block) ChainLength() uint64   { return b.chainLength }
func (b *Block) Timestamp() time.Time  { return time.UnixMilli(b.timestamp) }
func (b *Block) Proof() uint64         { return b.proof }
func (b *Block) IsGenesis() bool       { return b.chainLength == 0 }

// Ledger returns the block's snapshot. Callers must treat it as read-only.
func (b *Block) Ledger() *Ledger { return b.ledger }

// CoinbaseTransactions returns the commitments minted by this block's coinbase.
func (b *Block) CoinbaseTransactions() []Digest {
	return slices.Clone(b.coinbase)
}

// Transactions returns the block's transactions in insertion order.
func (b *Block) Transactions() []*Transaction {
	out := make([]*Transaction, 0, len(b.txOrder))
	for _, id := range b.txOrder {
		out = append(out, b.txs[id])
	}
	return out
}

// TransactionIDs returns the ids of the block's transactions in insertion order.
func (b *Block) TransactionIDs() []Digest {
	return slices.Clone(b.txOrder)
}

// HasTransaction reports whether a transaction with the given id is in the block.
func (b *Block) HasTransaction(id Digest) bool {
	_, ok := b.txs[id]
	return ok
}

// NumTransactions returns the number of ordinary (non-coinbase) transactions.
func (b *Block) NumTransactions() int {
	return len(b.txOrder)
}

// SetProof sets the proof-of-work nonce.
func (b *Block) SetProof(p uint64) {
	b.proof = p
	b.id = nil
}

// IncrementProof advances the proof-of-work nonce by one.
func (b *Block) IncrementProof() {
	b.SetProof(b.proof + 1)
}

// AddCoinbase mints cm into the block without a proof.
func (b *Block) AddCoinbase(cm Digest) error {
	if len(b.txOrder) > 0 {
		return ErrCoinbaseAfterTransactions
	}
	b.coinbase = append(b.coinbase, cm)
	b.ledger.AppendCommitment(cm)
	b.spendable = b.ledger.NumCommitments()
	b.invalidate()
	return nil
}

// VerifyTransaction checks tx against the block's current snapshot and returns the serial
// number it would reveal. The block is not modified.
func (b *Block) VerifyTransaction(oracle ProofOracle, tx *Transaction) (Digest, error) {
	var sn Digest
	if tx == nil || tx.Proof == nil {
		return sn, fmt.Errorf("%w: missing proof", ErrInvalidProof)
	}
	id := tx.ID()
	if b.HasTransaction(id) {
		return sn, fmt.Errorf("%w: %s", ErrDuplicateTransaction, id.Short())
	}
	if !oracle.Verify(tx.Proof) {
		return sn, fmt.Errorf("%w: transaction %s", ErrInvalidProof, id.Short())
	}
	cm1, cm2, sn, err := tx.Proof.Signals()
	if err != nil {
		return sn, err
	}
	if !b.isSpendable(cm1) && !b.isSpendable(cm2) {
		return sn, fmt.Errorf("%w: neither %s nor %s", ErrUnknownCommitment, cm1.Short(), cm2.Short())
	}
	if b.ledger.HasSerialNumber(sn) {
		return sn, fmt.Errorf("%w: %s", ErrDoubleSpend, sn.Short())
	}
	return sn, nil
}

// AddTransaction records tx and extends the snapshot with tx.Cm and sn.
// sn must come from VerifyTransaction against this same snapshot.
func (b *Block) AddTransaction(tx *Transaction, sn Digest) {
	id := tx.ID()
	b.txOrder = append(b.txOrder, id)
	b.txs[id] = tx
	b.ledger.AppendCommitment(tx.Cm)
	b.ledger.AppendSerialNumber(sn)
	b.invalidate()
}

// Admit verifies tx and, if valid, adds it to the block.
func (b *Block) Admit(oracle ProofOracle, tx *Transaction) error {
	sn, err := b.VerifyTransaction(oracle, tx)
	if err != nil {
		return err
	}
	b.AddTransaction(tx, sn)
	return nil
}

func (b *Block) isSpendable(cm Digest) bool {
	i, ok := b.ledger.CommitmentIndex(cm)
	return ok && i < b.spendable
}

func (b *Block) invalidate() {
	b.powPrefix = nil
	b.id = nil
}

// PowHash returns the proof-of-work digest over
// (prevBlockHash, chainLength, transactions, coinbaseTransactions, proof).
func (b *Block) PowHash() Digest {
	if b.powPrefix == nil {
		buf := make([]byte, 0, DigestSize+8+8+DigestSize*(len(b.txOrder)+len(b.coinbase))+8)
		buf = append(buf, b.prevBlockHash[:]...)
		buf = binary.BigEndian.AppendUint64(buf, b.chainLength)
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(b.txOrder)))
		for _, id := range b.txOrder {
			buf = append(buf, id[:]...)
		}
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(b.coinbase)))
		for _, cm := range b.coinbase {
			buf = append(buf, cm[:]...)
		}
		b.powPrefix = buf
	}
	h := sha256.New()
	h.Write(b.powPrefix)
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], b.proof)
	h.Write(nonce[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// HasValidProof reports whether PowHash has at least leadingZeroes leading zero bits.
// Genesis blocks always pass.
func (b *Block) HasValidProof(leadingZeroes uint) bool {
	if b.IsGenesis() {
		return true
	}
	return LeadingZeroBits(b.PowHash()) >= int(leadingZeroes)
}

// LeadingZeroBits counts the leading zero bits of d.
func LeadingZeroBits(d Digest) int {
	n := 0
	for _, x := range d {
		if x != 0 {
			return n + bits.LeadingZeros8(x)
		}
		n += 8
	}
	return n
}

// ID returns SHA256 of the block's serialization.
func (b *Block) ID() Digest {
	if b.id == nil {
		data, err := b.Serialize()
		if err != nil {
			panic(fmt.Sprintf("zerocash: block encoding: %v", err))
		}
		id := HashBytes(data)
		b.id = &id
	}
	return *b.id
}

// txEntry encodes as the pair [id, tx].
type txEntry struct {
	ID Digest
	Tx *Transaction
}

func (e txEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.ID, e.Tx})
}

func (e *txEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: transaction entry must be [id, tx]", ErrDeserialization)
	}
	if err := json.Unmarshal(pair[0], &e.ID); err != nil {
		return err
	}
	e.Tx = new(Transaction)
	return json.Unmarshal(pair[1], e.Tx)
}

type blockJSON struct {
	ChainLength          uint64    `json:"chainLength"`
	Timestamp            int64     `json:"timestamp"`
	Transactions         []txEntry `json:"transactions,omitempty"`
	CoinbaseTransactions []Digest  `json:"coinbaseTransactions"`
	PrevBlockHash        *Digest   `json:"prevBlockHash,omitempty"`
	Proof                *uint64   `json:"proof,omitempty"`
	CmList               []Digest  `json:"cmlist"`
	SnList               []Digest  `json:"snlist"`
}

// MarshalJSON encodes the block. Genesis blocks omit transactions, prevBlockHash and proof.
func (b *Block) MarshalJSON() ([]byte, error) {
	out := blockJSON{
		ChainLength:          b.chainLength,
		Timestamp:            b.timestamp,
		CoinbaseTransactions: b.coinbase,
		CmList:               b.ledger.cmList,
		SnList:               b.ledger.snList,
	}
	if !b.IsGenesis() {
		prev, proof := b.prevBlockHash, b.proof
		out.PrevBlockHash = &prev
		out.Proof = &proof
		out.Transactions = make([]txEntry, 0, len(b.txOrder))
		for _, id := range b.txOrder {
			out.Transactions = append(out.Transactions, txEntry{ID: id, Tx: b.txs[id]})
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a block and rebuilds its indices.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l, err := NewLedgerFromLists(raw.CmList, raw.SnList)
	if err != nil {
		return err
	}
	nb := Block{
		chainLength: raw.ChainLength,
		timestamp:   raw.Timestamp,
		txs:         make(map[Digest]*Transaction, len(raw.Transactions)),
		coinbase:    raw.CoinbaseTransactions,
		ledger:      l,
	}
	if nb.coinbase == nil {
		nb.coinbase = make([]Digest, 0)
	}
	if raw.ChainLength == 0 {
		if len(raw.Transactions) > 0 || raw.PrevBlockHash != nil || raw.Proof != nil {
			return fmt.Errorf("%w: genesis block carries transactions or parent", ErrDeserialization)
		}
		nb.spendable = l.NumCommitments()
		*b = nb
		return nil
	}
	if raw.PrevBlockHash == nil || raw.Proof == nil {
		return fmt.Errorf("%w: block at height %d lacks prevBlockHash or proof", ErrDeserialization, raw.ChainLength)
	}
	nb.prevBlockHash = *raw.PrevBlockHash
	nb.proof = *raw.Proof
	for _, e := range raw.Transactions {
		if e.Tx == nil || e.Tx.Proof == nil {
			return fmt.Errorf("%w: transaction %s without proof", ErrDeserialization, e.ID.Short())
		}
		if e.Tx.ID() != e.ID {
			return fmt.Errorf("%w: transaction id %s does not match contents", ErrDeserialization, e.ID.Short())
		}
		if _, dup := nb.txs[e.ID]; dup {
			return fmt.Errorf("%w: transaction %s listed twice", ErrDeserialization, e.ID.Short())
		}
		nb.txOrder = append(nb.txOrder, e.ID)
		nb.txs[e.ID] = e.Tx
	}
	nb.spendable = l.NumCommitments() - len(nb.txOrder)
	if nb.spendable < len(nb.coinbase) || l.NumSerialNumbers() < len(nb.txOrder) {
		return fmt.Errorf("%w: ledger snapshot shorter than block contents", ErrDeserialization)
	}
	*b = nb
	return nil
}

// Serialize encodes the block as JSON.
func (b *Block) Serialize() ([]byte, error) {
	return json.Marshal(b)
}

// DeserializeBlock decodes a block received from the network.
func DeserializeBlock(data []byte) (*Block, error) {
	b := new(Block)
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("%w: block: %v", ErrDeserialization, err)
	}
	return b, nil
}

// ReplayBlock rebuilds b on top of parent, re-verifying every transaction, and checks that the
// result matches the ledger snapshot b claims.
func ReplayBlock(parent, b *Block, oracle ProofOracle) error {
	if b.prevBlockHash != parent.ID() {
		return fmt.Errorf("%w: block %s does not reference %s", ErrUnknownParent, b.ID().Short(), parent.ID().Short())
	}
	if b.chainLength != parent.chainLength+1 {
		return fmt.Errorf("%w: %d after %d", ErrBadChainLength, b.chainLength, parent.chainLength)
	}
	replay := NewBlock(parent, b.Timestamp())
	for _, cm := range b.coinbase {
		if err := replay.AddCoinbase(cm); err != nil {
			return err
		}
	}
	for _, id := range b.txOrder {
		if err := replay.Admit(oracle, b.txs[id]); err != nil {
			return fmt.Errorf("transaction %s: %w", id.Short(), err)
		}
	}
	if !replay.ledger.Equal(b.ledger) {
		return fmt.Errorf("%w: block %s", ErrLedgerMismatch, b.ID().Short())
	}
	return nil
}
