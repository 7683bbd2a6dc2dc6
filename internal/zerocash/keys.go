// keys.go - Circuit preprocessing and Groth16 key management.
//
// Preprocessing compiles the spend circuit for one arity and runs the Groth16 setup on BN254.
// Keys are cached on disk per kind and arity, so repeated bootstraps reuse them.

package zerocash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"
)

// Preprocessor turns a verifier key description into a proving key of the same arity.
type Preprocessor interface {
	Preprocess(ctx context.Context, vk VerifierKey) (ProvingKey, error)
}

// Groth16Preprocessor compiles CircuitSpend and runs groth16.Setup, caching keys under KeyDir.
// An empty KeyDir disables caching.
type Groth16Preprocessor struct {
	KeyDir string
	Log    zerolog.Logger
}

// Preprocess implements Preprocessor.
func (p *Groth16Preprocessor) Preprocess(ctx context.Context, vk VerifierKey) (ProvingKey, error) {
	if err := ctx.Err(); err != nil {
		return ProvingKey{}, err
	}
	pk, _, err := p.Setup(vk.Kind, vk.Arity)
	if err != nil {
		return ProvingKey{}, err
	}
	var buf bytes.Buffer
	if _, err := pk.WriteTo(&buf); err != nil {
		return ProvingKey{}, fmt.Errorf("proving key marshaling failed: %w", err)
	}
	return ProvingKey{Kind: vk.Kind, Arity: vk.Arity, Data: buf.Bytes()}, nil
}

// Setup compiles the circuit of the given arity and runs the Groth16 setup. With a KeyDir, the
// keys of an earlier run are read back; a missing or unreadable pair is generated again.
func (p *Groth16Preprocessor) Setup(kind TransactionKind, arity Arity) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	if arity.Inputs < 0 || arity.Outputs < 0 {
		return nil, nil, fmt.Errorf("invalid arity %s", arity)
	}
	ccs, err := CompileSpend(arity)
	if err != nil {
		return nil, nil, err
	}
	if p.KeyDir == "" {
		return groth16.Setup(ccs)
	}
	log := p.Log.With().Str("kind", kind.String()).Str("arity", arity.String()).Logger()
	base := filepath.Join(p.KeyDir, fmt.Sprintf("%s_%s", kind, arity))
	paths := [2]string{base + "_pk.bin", base + "_vk.bin"}

	pk, vk := groth16.NewProvingKey(ecc.BN254), groth16.NewVerifyingKey(ecc.BN254)
	err = readKeys(paths, pk, vk)
	if err == nil {
		log.Debug().Msg("loaded cached keys")
		return pk, vk, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("discarding unreadable cached keys")
	}

	log.Debug().Int("constraints", ccs.GetNbConstraints()).Msg("preprocessing circuit")
	pk, vk, err = groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	if err := os.MkdirAll(p.KeyDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := writeKeys(paths, pk, vk); err != nil {
		return nil, nil, fmt.Errorf("cache keys: %w", err)
	}
	return pk, vk, nil
}

func readKeys(paths [2]string, keys ...io.ReaderFrom) error {
	for i, k := range keys {
		b, err := os.ReadFile(paths[i])
		if err != nil {
			return err
		}
		if _, err := k.ReadFrom(bytes.NewReader(b)); err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
	}
	return nil
}

func writeKeys(paths [2]string, keys ...io.WriterTo) error {
	for i, k := range keys {
		var buf bytes.Buffer
		if _, err := k.WriteTo(&buf); err != nil {
			return err
		}
		// A half-written key is never visible under its final name.
		tmp := paths[i] + ".tmp"
		if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
			return err
		}
		if err := os.Rename(tmp, paths[i]); err != nil {
			return err
		}
	}
	return nil
}

// CompileSpend compiles CircuitSpend for one arity over BN254.
func CompileSpend(arity Arity) (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, NewCircuitSpend(arity))
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	return ccs, nil
}
