package hostapi

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// NitroAttestationDocument is the raw CBOR payload produced by the Nitro Secure Module.
type NitroAttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// AttestationDoc is the decoded attestation with binary fields rendered for display.
type AttestationDoc struct {
	ModuleID        string            `json:"module_id"`
	Timestamp       time.Time         `json:"timestamp"`
	DigestAlgorithm string            `json:"digest"`
	PCRs            map[uint64]string `json:"pcrs"`        // hex
	Certificate     string            `json:"certificate"` // base64 DER
	CABundle        []string          `json:"cabundle"`    // base64 DER
	Nonce           string            `json:"nonce"`
}

// ExtractCOSEPayload returns the payload of an untagged COSE_Sign1 array:
// [protected, unprotected, payload, signature].
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return nil, fmt.Errorf("parse COSE array: %w", err)
	}
	if len(coseArray) != 4 {
		return nil, fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}
	payload, ok := coseArray[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}
	return payload, nil
}

// ParseAttestationDoc decodes the attestation and returns it with its raw user data.
func (a AttestationCOSE) ParseAttestationDoc() (*AttestationDoc, []byte, error) {
	payload, err := ExtractCOSEPayload(a)
	if err != nil {
		return nil, nil, err
	}

	var raw NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	doc := &AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs:            make(map[uint64]string, len(raw.PCRs)),
		Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:        make([]string, len(raw.CABundle)),
		Nonce:           string(raw.Nonce),
	}
	for idx, value := range raw.PCRs {
		doc.PCRs[idx] = fmt.Sprintf("%x", value)
	}
	for i, cert := range raw.CABundle {
		doc.CABundle[i] = base64.StdEncoding.EncodeToString(cert)
	}
	return doc, raw.UserData, nil
}
