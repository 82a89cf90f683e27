package prover

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/bitsnark/charms/internal/charms"
)

const mockDomain = "charms-mock-prover"

// MockBackend stands in for a real proof system. The key pair is derived
// from the program, and a proof is a BIP-340 signature over
// SHA-256(committed). Anyone can produce these proofs, so they only mean
// something for mock spells.
type MockBackend struct{}

var (
	_ Backend       = MockBackend{}
	_ ProofVerifier = MockBackend{}
)

func (MockBackend) Setup(_ context.Context, program []byte) (ProvingKey, charms.B32, error) {
	h := sha256.New()
	h.Write([]byte(mockDomain))
	h.Write(program)
	seed := h.Sum(nil)

	_, pub := btcec.PrivKeyFromBytes(seed)
	var vk charms.B32
	copy(vk[:], schnorr.SerializePubKey(pub))
	return ProvingKey(seed), vk, nil
}

func (MockBackend) Prove(_ context.Context, pk ProvingKey, committed []byte) ([]byte, error) {
	if len(pk) != 32 {
		return nil, fmt.Errorf("mock prove: proving key must be 32 bytes, got %d", len(pk))
	}
	priv, _ := btcec.PrivKeyFromBytes(pk)
	digest := sha256.Sum256(committed)
	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("mock prove: %w", err)
	}
	return sig.Serialize(), nil
}

func (MockBackend) VerifyProof(_ context.Context, vk charms.B32, committed, proof []byte) error {
	pub, err := schnorr.ParsePubKey(vk[:])
	if err != nil {
		return fmt.Errorf("%w: verification key: %v", ErrInvalidProof, err)
	}
	sig, err := schnorr.ParseSignature(proof)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	digest := sha256.Sum256(committed)
	if !sig.Verify(digest[:], pub) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidProof)
	}
	return nil
}
