package core

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// stateEncMode uses CBOR core deterministic encoding.
var stateEncMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("core: building cbor encoder: %v", err))
	}
	return em
}

// EncodeState serializes the five persisted fields for storage between invocations.
func EncodeState(st State) ([]byte, error) {
	b, err := stateEncMode.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return b, nil
}

// DecodeState restores state written by EncodeState and checks its invariants.
func DecodeState(b []byte) (State, error) {
	var st State
	if err := cbor.Unmarshal(b, &st); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return State{}, err
	}
	return st, nil
}
