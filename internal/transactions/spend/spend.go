// Package spend holds the spend statement of the chain and the proof oracles that prove and
// check it: a Groth16 oracle over BN254 and a keyed simulated oracle for fast runs.
package spend

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

const (
	provingKeyFile   = "spend.pk"
	verifyingKeyFile = "spend.vk"
)

// Curve is the pairing curve the spend circuit is compiled for.
var Curve = ecc.BN254

// Compile builds the R1CS of the spend circuit.
func Compile() (constraint.ConstraintSystem, error) {
	var circuit Circuit
	ccs, err := frontend.Compile(Curve.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}

// Assignment builds a full circuit assignment from a witness.
func Assignment(w *zerocash.Witness) *Circuit {
	c := &Circuit{Index: w.Index}
	fillBits(&c.Cm1, w.Cm1)
	fillBits(&c.Cm2, w.Cm2)
	fillBits(&c.Sn, w.Sn)
	fillBits(&c.R, w.R)
	return c
}

func fillBits(dst *[Bits]frontend.Variable, d zerocash.Digest) {
	for i, b := range zerocash.DigestToBits(d) {
		dst[i] = int(b)
	}
}

// Groth16Oracle proves and verifies spends with Groth16.
type Groth16Oracle struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
	log zerolog.Logger
}

// NewGroth16Oracle compiles the circuit and loads keys from keyDir, running the setup and
// saving fresh keys when none are found.
func NewGroth16Oracle(keyDir string, log zerolog.Logger) (*Groth16Oracle, error) {
	start := time.Now()
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	log.Info().Int("constraints", ccs.GetNbConstraints()).Dur("took", time.Since(start)).Msg("spend circuit compiled")

	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		return nil, fmt.Errorf("key directory: %w", err)
	}
	start = time.Now()
	pk, vk, err := SetupOrLoadKeys(ccs, filepath.Join(keyDir, provingKeyFile), filepath.Join(keyDir, verifyingKeyFile))
	if err != nil {
		return nil, err
	}
	log.Info().Str("dir", keyDir).Dur("took", time.Since(start)).Msg("groth16 keys ready")
	return &Groth16Oracle{ccs: ccs, pk: pk, vk: vk, log: log}, nil
}

// Prove builds a Groth16 proof for the witness.
func (o *Groth16Oracle) Prove(w *zerocash.Witness) (*zerocash.Proof, error) {
	if w.Index != 0 && w.Index != 1 {
		return nil, fmt.Errorf("%w: index %d", zerocash.ErrProofGeneration, w.Index)
	}
	full, err := frontend.NewWitness(Assignment(w), Curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: witness creation: %v", zerocash.ErrProofGeneration, err)
	}
	start := time.Now()
	proof, err := groth16.Prove(o.ccs, o.pk, full)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zerocash.ErrProofGeneration, err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: proof marshaling: %v", zerocash.ErrProofGeneration, err)
	}
	o.log.Debug().Dur("took", time.Since(start)).Msg("spend proof generated")
	return &zerocash.Proof{
		Proof:         buf.Bytes(),
		PublicSignals: zerocash.PackPublicSignals(w.Cm1, w.Cm2, w.Sn),
	}, nil
}

// Verify checks a proof against its public signals.
func (o *Groth16Oracle) Verify(p *zerocash.Proof) bool {
	cm1, cm2, sn, err := p.Signals()
	if err != nil {
		o.log.Debug().Err(err).Msg("rejecting proof")
		return false
	}
	public := &Circuit{}
	fillBits(&public.Cm1, cm1)
	fillBits(&public.Cm2, cm2)
	fillBits(&public.Sn, sn)
	w, err := frontend.NewWitness(public, Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		o.log.Debug().Err(err).Msg("public witness creation failed")
		return false
	}
	proof := groth16.NewProof(Curve)
	if _, err := proof.ReadFrom(bytes.NewReader(p.Proof)); err != nil {
		o.log.Debug().Err(err).Msg("proof unmarshaling failed")
		return false
	}
	return groth16.Verify(proof, o.vk, w) == nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk groth16.VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(Curve)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(Curve)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// SetupOrLoadKeys generates or loads Groth16 keys for the circuit.
// If keys exist on disk, loads them; otherwise, generates and saves new keys.
func SetupOrLoadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, pkErr := LoadProvingKey(pkPath)
	vk, vkErr := LoadVerifyingKey(vkPath)
	if pkErr == nil && vkErr == nil {
		return pk, vk, nil
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	return pk, vk, nil
}
