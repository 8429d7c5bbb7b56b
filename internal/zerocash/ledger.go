// ledger.go - Append-only commitment/serial-number accumulator for the zerocash protocol.
//
// The Ledger records every commitment minted (cmlist) and every serial number revealed
// (snlist) on a chain prefix. Both lists keep insertion order for serialization and hashing,
// and are backed by value-keyed indices so membership is O(1).
//
// NOTE: Ledger is not thread-safe by itself. A block owns its ledger exclusively while it is
// being mined; accepted blocks are treated as read-only.

package zerocash

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// Ledger is one snapshot of the commitment and serial-number lists.
type Ledger struct {
	cmList  []Digest
	snList  []Digest
	cmIndex map[Digest]int
	snIndex map[Digest]struct{}
}

// NewLedger creates a new, empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		cmList:  make([]Digest, 0),
		snList:  make([]Digest, 0),
		cmIndex: make(map[Digest]int),
		snIndex: make(map[Digest]struct{}),
	}
}

// NewLedgerFromLists builds a snapshot from ordered lists. Duplicate serial numbers are rejected.
func NewLedgerFromLists(cms, sns []Digest) (*Ledger, error) {
	l := NewLedger()
	for _, cm := range cms {
		l.AppendCommitment(cm)
	}
	for _, sn := range sns {
		if l.HasSerialNumber(sn) {
			return nil, fmt.Errorf("%w: %s", ErrDoubleSpend, sn.Short())
		}
		l.AppendSerialNumber(sn)
	}
	return l, nil
}

// HasCommitment returns true if the commitment is in the ledger.
func (l *Ledger) HasCommitment(cm Digest) bool {
	_, ok := l.cmIndex[cm]
	return ok
}

// CommitmentIndex returns the position of the first occurrence of cm in cmlist.
func (l *Ledger) CommitmentIndex(cm Digest) (int, bool) {
	i, ok := l.cmIndex[cm]
	return i, ok
}

// HasSerialNumber returns true if the serial number has already been revealed.
func (l *Ledger) HasSerialNumber(sn Digest) bool {
	_, ok := l.snIndex[sn]
	return ok
}

// Commitments returns a copy of cmlist in insertion order.
func (l *Ledger) Commitments() []Digest {
	return slices.Clone(l.cmList)
}

// SerialNumbers returns a copy of snlist in insertion order.
func (l *Ledger) SerialNumbers() []Digest {
	return slices.Clone(l.snList)
}

// CommitmentAt returns the i-th commitment of cmlist.
func (l *Ledger) CommitmentAt(i int) Digest {
	return l.cmList[i]
}

// NumCommitments returns len(cmlist).
func (l *Ledger) NumCommitments() int {
	return len(l.cmList)
}

// NumSerialNumbers returns len(snlist).
func (l *Ledger) NumSerialNumbers() int {
	return len(l.snList)
}

// AppendCommitment mutates the snapshot by appending cm to cmlist.
func (l *Ledger) AppendCommitment(cm Digest) {
	if l.cmIndex == nil {
		l.cmIndex = make(map[Digest]int)
	}
	if _, ok := l.cmIndex[cm]; !ok {
		l.cmIndex[cm] = len(l.cmList)
	}
	l.cmList = append(l.cmList, cm)
}

// AppendSerialNumber mutates the snapshot by appending sn to snlist.
// Callers must check HasSerialNumber first.
func (l *Ledger) AppendSerialNumber(sn Digest) {
	if l.snIndex == nil {
		l.snIndex = make(map[Digest]struct{})
	}
	l.snIndex[sn] = struct{}{}
	l.snList = append(l.snList, sn)
}

// Clone returns an independent copy of the snapshot.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		cmList:  slices.Clone(l.cmList),
		snList:  slices.Clone(l.snList),
		cmIndex: make(map[Digest]int, len(l.cmIndex)),
		snIndex: make(map[Digest]struct{}, len(l.snIndex)),
	}
	for k, v := range l.cmIndex {
		c.cmIndex[k] = v
	}
	for k := range l.snIndex {
		c.snIndex[k] = struct{}{}
	}
	return c
}

// Apply returns a new snapshot with cm appended to cmlist and sn appended to snlist.
// The receiver is left untouched.
func (l *Ledger) Apply(cm, sn Digest) (*Ledger, error) {
	if l.HasSerialNumber(sn) {
		return nil, fmt.Errorf("%w: %s", ErrDoubleSpend, sn.Short())
	}
	next := l.Clone()
	next.AppendCommitment(cm)
	next.AppendSerialNumber(sn)
	return next, nil
}

// Equal reports whether both snapshots hold the same lists in the same order.
func (l *Ledger) Equal(other *Ledger) bool {
	return slices.Equal(l.cmList, other.cmList) && slices.Equal(l.snList, other.snList)
}

type ledgerJSON struct {
	CmList []Digest `json:"cmlist"`
	SnList []Digest `json:"snlist"`
}

// MarshalJSON encodes the ordered lists.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(ledgerJSON{CmList: l.cmList, SnList: l.snList})
}

// UnmarshalJSON decodes the ordered lists and rebuilds the indices.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var raw ledgerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := NewLedgerFromLists(raw.CmList, raw.SnList)
	if err != nil {
		return err
	}
	*l = *decoded
	return nil
}

// SaveToFile saves the ledger to a JSON file.
// Overwrites the file if it exists.
func (l *Ledger) SaveToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(l)
}

// LoadLedgerFromFile loads a ledger from a JSON file.
// Returns an error if the file is invalid or cannot be read.
func LoadLedgerFromFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l := NewLedger()
	if err := json.NewDecoder(f).Decode(l); err != nil {
		return nil, fmt.Errorf("%w: ledger: %v", ErrDeserialization, err)
	}
	return l, nil
}
