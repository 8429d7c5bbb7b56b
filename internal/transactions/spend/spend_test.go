package spend

import (
	"errors"
	"testing"

	"github.com/consensys/gnark/test"
	"github.com/rs/zerolog"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

func swapped(p *zerocash.Proof) *zerocash.Proof {
	cm1, cm2, sn, _ := p.Signals()
	return &zerocash.Proof{Proof: p.Proof, PublicSignals: zerocash.PackPublicSignals(cm2, cm1, sn)}
}

func TestCircuitSolved(t *testing.T) {
	coin := zerocash.NewCoin()
	decoy := zerocash.RandomDigest()

	for _, index := range []int{0, 1} {
		w := zerocash.NewSpendWitness(coin, decoy, index)
		if err := test.IsSolved(&Circuit{}, Assignment(w), Curve.ScalarField()); err != nil {
			t.Errorf("index %d: valid witness not solved: %v", index, err)
		}
	}

	t.Run("wrong index", func(t *testing.T) {
		w := zerocash.NewSpendWitness(coin, decoy, 0)
		w.Index = 1
		if err := test.IsSolved(&Circuit{}, Assignment(w), Curve.ScalarField()); err == nil {
			t.Errorf("expected unsatisfied constraints")
		}
	})

	t.Run("wrong randomness", func(t *testing.T) {
		w := zerocash.NewSpendWitness(coin, decoy, 0)
		w.R[31] ^= 1
		if err := test.IsSolved(&Circuit{}, Assignment(w), Curve.ScalarField()); err == nil {
			t.Errorf("expected unsatisfied constraints")
		}
	})
}

func TestSimulatedOracle(t *testing.T) {
	oracle := NewSimulatedOracle([]byte("shared-secret"))
	coin := zerocash.NewCoin()
	w := zerocash.NewSpendWitness(coin, zerocash.RandomDigest(), 0)

	proof, err := oracle.Prove(w)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if !oracle.Verify(proof) {
		t.Fatalf("valid proof rejected")
	}
	if oracle.Verify(swapped(proof)) {
		t.Errorf("swapped commitments must not verify")
	}

	w.Index = 1
	if _, err := oracle.Prove(w); !errors.Is(err, zerocash.ErrProofGeneration) {
		t.Errorf("expected ErrProofGeneration for inconsistent index, got %v", err)
	}
	w.Index = 2
	if _, err := oracle.Prove(w); !errors.Is(err, zerocash.ErrProofGeneration) {
		t.Errorf("expected ErrProofGeneration for out of range index, got %v", err)
	}

	if NewSimulatedOracle([]byte("other")).Verify(proof) {
		t.Errorf("proof must not verify under another key")
	}
	if oracle.Verify(&zerocash.Proof{Proof: proof.Proof, PublicSignals: proof.PublicSignals[:10]}) {
		t.Errorf("short signals must not verify")
	}
}

func TestGroth16Scenario(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}
	oracle, err := NewGroth16Oracle(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}

	coin := zerocash.NewCoin()
	w := zerocash.NewSpendWitness(coin, zerocash.RandomDigest(), 0)
	proof, err := oracle.Prove(w)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if !oracle.Verify(proof) {
		t.Fatalf("valid proof rejected")
	}
	if oracle.Verify(swapped(proof)) {
		t.Errorf("swapped commitments must not verify")
	}

	w.Index = 1
	if _, err := oracle.Prove(w); !errors.Is(err, zerocash.ErrProofGeneration) {
		t.Errorf("expected ErrProofGeneration for inconsistent index, got %v", err)
	}

	tampered := &zerocash.Proof{Proof: append([]byte(nil), proof.Proof...), PublicSignals: proof.PublicSignals}
	tampered.Proof[len(tampered.Proof)-1] ^= 0xff
	if oracle.Verify(tampered) {
		t.Errorf("tampered proof must not verify")
	}
}
