package spend

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/sha2"
	"github.com/consensys/gnark/std/math/uints"
)

// Bits is the width of every committed value in the circuit.
const Bits = 256

// Circuit proves knowledge of (sn, r) such that SHA256(sn || r) equals one of two public
// commitments, without revealing which.
// Every 256-bit value is carried as one variable per bit, most significant bit first, so the
// public witness is exactly the [cm1 | cm2 | sn] signal vector.
type Circuit struct {
	// ====== PUBLIC VARIABLES ======
	Cm1 [Bits]frontend.Variable `gnark:",public"`
	Cm2 [Bits]frontend.Variable `gnark:",public"`
	Sn  [Bits]frontend.Variable `gnark:",public"`

	// ====== PRIVATE VARIABLES ======
	R     [Bits]frontend.Variable
	Index frontend.Variable // 0 if Cm1 is the spent coin, 1 if Cm2
}

// Define implements the circuit constraints for a spend.
func (c *Circuit) Define(api frontend.API) error {
	bf, err := uints.New[uints.U32](api)
	if err != nil {
		return err
	}
	hasher, err := sha2.New(api)
	if err != nil {
		return err
	}
	api.AssertIsBoolean(c.Index)

	// 1) cm = SHA256(sn || r)
	preimage := make([]uints.U8, 0, 2*Bits/8)
	for _, v := range packBytes(api, c.Sn[:]) {
		preimage = append(preimage, bf.ByteValueOf(v))
	}
	for _, v := range packBytes(api, c.R[:]) {
		preimage = append(preimage, bf.ByteValueOf(v))
	}
	hasher.Write(preimage)
	digest := hasher.Sum()

	// 2) cm must be the public commitment selected by Index
	cm1 := packBytes(api, c.Cm1[:])
	cm2 := packBytes(api, c.Cm2[:])
	for i := range digest {
		want := api.Select(c.Index, cm2[i], cm1[i])
		api.AssertIsEqual(digest[i].Val, want)
	}
	return nil
}

// packBytes groups big-endian bits into byte-valued variables.
// FromBinary constrains every input to be boolean.
func packBytes(api frontend.API, bits []frontend.Variable) []frontend.Variable {
	out := make([]frontend.Variable, len(bits)/8)
	for i := range out {
		le := make([]frontend.Variable, 8)
		for j := 0; j < 8; j++ {
			le[j] = bits[i*8+7-j]
		}
		out[i] = api.FromBinary(le...)
	}
	return out
}
