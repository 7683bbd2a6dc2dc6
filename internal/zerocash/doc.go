// Package zerocash implements the ledger domain of a Zerocash-style confidential payment system.
//
// Overview:
//   - Records are MiMC commitments to (amount, owner, nonce, blinding); spending one reveals its
//     nullifier PRF(sk, nonce)
//   - Transactions carry nullifiers, output commitments and an opaque validity proof; an
//     ElaboratedTransaction adds one nullifier non-membership proof per nullifier
//   - ValidatorState summarizes the ledger after each block; its commitment binds block height,
//     previous block hash, both tree roots and the verifier key set
//   - ApplyBlock is the one state transition, used by validators and syncing wallets alike
//   - CircuitSpend is the arity-parameterized spend circuit preprocessed with Groth16
//
// Security Model:
//   - MiMC over the BN254 scalar field for every digest, so native and in-circuit values agree
//   - Memos are authorized by EdDSA signatures on the BN254 twisted Edwards curve
//   - Nullifiers prevent double-spending; commitments keep amounts and owners confidential
//
// References:
//   - Zerocash: Decentralized Anonymous Payments from Bitcoin (Ben-Sasson et al., 2014)
package zerocash
