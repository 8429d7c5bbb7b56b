package zerocash

// Witness is the private input of a spend proof.
// The coin being spent opens at position Index of (Cm1, Cm2); the other entry is a decoy.
type Witness struct {
	Sn    Digest
	R     Digest
	Cm1   Digest
	Cm2   Digest
	Index int
}

// NewSpendWitness places the coin's commitment at index (0 or 1) and the decoy in the other slot.
func NewSpendWitness(coin *Coin, decoy Digest, index int) *Witness {
	w := &Witness{Sn: coin.Sn, R: coin.R, Index: index}
	if index == 0 {
		w.Cm1, w.Cm2 = coin.Cm, decoy
	} else {
		w.Cm1, w.Cm2 = decoy, coin.Cm
	}
	return w
}

// Proof is an opaque spend proof plus its public signals.
// PublicSignals holds SignalBits entries of 0 or 1 laid out as [cm1 | cm2 | sn].
type Proof struct {
	Proof         []byte `json:"proof"`
	PublicSignals []byte `json:"publicSignals"`
}

// Signals parses the public signals into (cm1, cm2, sn).
func (p *Proof) Signals() (cm1, cm2, sn Digest, err error) {
	return ParsePublicSignals(p.PublicSignals)
}

// ProofOracle constructs and checks spend proofs.
//
// Prove fails with ErrProofGeneration when the witness does not satisfy the statement.
// Verify never fails; any malformed or unsound proof yields false. Both calls block until the
// verdict is known and are never retried by callers.
type ProofOracle interface {
	Prove(w *Witness) (*Proof, error)
	Verify(p *Proof) bool
}
