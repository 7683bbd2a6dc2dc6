package zerocash

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// CircuitSpend proves that a transaction consumes records the prover owns and creates
// well-formed output commitments without changing the total value. Slices are sized by the
// arity before compilation.
type CircuitSpend struct {
	// Public inputs
	Nullifiers []frontend.Variable `gnark:",public"`
	Outputs    []frontend.Variable `gnark:",public"`
	Fee        frontend.Variable   `gnark:",public"`

	// Private inputs
	InSk      []frontend.Variable
	InRho     []frontend.Variable
	InAmount  []frontend.Variable
	OutAmount []frontend.Variable
	OutOwner  []frontend.Variable
	OutRho    []frontend.Variable
	OutRand   []frontend.Variable
}

// NewCircuitSpend allocates an unassigned circuit of the given arity.
func NewCircuitSpend(arity Arity) *CircuitSpend {
	return &CircuitSpend{
		Nullifiers: make([]frontend.Variable, arity.Inputs),
		Outputs:    make([]frontend.Variable, arity.Outputs),
		InSk:       make([]frontend.Variable, arity.Inputs),
		InRho:      make([]frontend.Variable, arity.Inputs),
		InAmount:   make([]frontend.Variable, arity.Inputs),
		OutAmount:  make([]frontend.Variable, arity.Outputs),
		OutOwner:   make([]frontend.Variable, arity.Outputs),
		OutRho:     make([]frontend.Variable, arity.Outputs),
		OutRand:    make([]frontend.Variable, arity.Outputs),
	}
}

func (c *CircuitSpend) Define(api frontend.API) error {
	// Step 1: nullifiers (nf = PRF(sk, rho))
	var totalIn frontend.Variable = 0
	for i := range c.Nullifiers {
		api.AssertIsEqual(c.Nullifiers[i], PRF(api, c.InSk[i], c.InRho[i]))
		totalIn = api.Add(totalIn, c.InAmount[i])
	}

	// Step 2: output commitments (cm = H(amount, owner, rho, rand))
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	var totalOut frontend.Variable = 0
	for j := range c.Outputs {
		hasher.Reset()
		hasher.Write(c.OutAmount[j], c.OutOwner[j], c.OutRho[j], c.OutRand[j])
		api.AssertIsEqual(c.Outputs[j], hasher.Sum())
		totalOut = api.Add(totalOut, c.OutAmount[j])
	}

	// Step 3: value conservation
	api.AssertIsEqual(totalIn, api.Add(totalOut, c.Fee))
	return nil
}

// PRF implements the nullifier pseudo-random function using MiMC hash in the circuit
func PRF(api frontend.API, sk, rho frontend.Variable) frontend.Variable {
	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(sk)
	hasher.Write(rho)
	return hasher.Sum()
}
