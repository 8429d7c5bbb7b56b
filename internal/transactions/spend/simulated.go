package spend

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

// SimulatedOracle checks the same statement as Circuit natively and attests the public
// signals with HMAC-SHA256. Any holder of the key can forge proofs, so it only stands in for
// Groth16 among participants that share a key.
type SimulatedOracle struct {
	key []byte
}

// NewSimulatedOracle returns an oracle keyed with key. An empty key draws a random one.
func NewSimulatedOracle(key []byte) *SimulatedOracle {
	if len(key) == 0 {
		k := zerocash.RandomDigest()
		key = k[:]
	}
	return &SimulatedOracle{key: append([]byte(nil), key...)}
}

// Prove attests the witness if SHA256(sn || r) equals the commitment at Index.
func (o *SimulatedOracle) Prove(w *zerocash.Witness) (*zerocash.Proof, error) {
	var want zerocash.Digest
	switch w.Index {
	case 0:
		want = w.Cm1
	case 1:
		want = w.Cm2
	default:
		return nil, fmt.Errorf("%w: index %d", zerocash.ErrProofGeneration, w.Index)
	}
	if zerocash.HashCommitment(w.Sn, w.R) != want {
		return nil, fmt.Errorf("%w: commitment at index %d does not open", zerocash.ErrProofGeneration, w.Index)
	}
	signals := zerocash.PackPublicSignals(w.Cm1, w.Cm2, w.Sn)
	return &zerocash.Proof{Proof: o.tag(signals), PublicSignals: signals}, nil
}

// Verify checks the attestation over the public signals.
func (o *SimulatedOracle) Verify(p *zerocash.Proof) bool {
	if _, _, _, err := p.Signals(); err != nil {
		return false
	}
	return hmac.Equal(p.Proof, o.tag(p.PublicSignals))
}

func (o *SimulatedOracle) tag(signals []byte) []byte {
	mac := hmac.New(sha256.New, o.key)
	mac.Write(signals)
	return mac.Sum(nil)
}
