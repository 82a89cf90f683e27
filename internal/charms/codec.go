package charms

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is RFC 8949 core deterministic encoding. Map keys are sorted by
// their encoded bytes and integers use the shortest form, so identical
// logical values always produce identical bytes.
var encMode = mustEncMode()

var decMode = mustDecMode()

func mustEncMode() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.NilContainers = cbor.NilContainerAsEmpty
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("charms: invalid CBOR encoding options: %v", err))
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("charms: invalid CBOR decoding options: %v", err))
	}
	return dm
}

// Marshal encodes v as canonical CBOR.
//
// This is the ONLY serialization that may be used for bytes that are
// hashed, committed to a proof, embedded on chain or fed to a contract.
func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return b, nil
}

// Unmarshal decodes CBOR into v. Duplicate map keys and indefinite-length
// items are rejected.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("canonical decode: %w", err)
	}
	return nil
}
