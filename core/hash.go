package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeStateHash commits to an auction state for inclusion in receipts.
// This is used by both the host (to sign receipts) and validation (to verify them).
//
// Formula: SHA256(hex(EncodeState(state)) + "|" + nonce)
func ComputeStateHash(st State, nonce string) (string, error) {
	encoded, err := EncodeState(st)
	if err != nil {
		return "", err
	}
	data := fmt.Sprintf("%s|%s", hex.EncodeToString(encoded), nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash), nil
}

// ComputeTransfersHash commits to the ordered transfers issued by one call.
//
// Formula: SHA256(nonce + "|from>to:amount|from>to:amount|...")
func ComputeTransfersHash(transfers []Transfer, nonce string) string {
	data := nonce
	for _, t := range transfers {
		data += fmt.Sprintf("|%s>%s:%s", t.From, t.To, t.Amount)
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
