package hostapi

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/adslot/core"
)

// ReceiptPayload is the signed statement of one committed call.
type ReceiptPayload struct {
	ID            string          `cbor:"1,keyasint" json:"id"`
	InstanceID    string          `cbor:"2,keyasint" json:"instance_id"`
	Method        string          `cbor:"3,keyasint" json:"method"`
	Caller        string          `cbor:"4,keyasint" json:"caller"`
	Accepted      bool            `cbor:"5,keyasint" json:"accepted"`
	Transfers     []core.Transfer `cbor:"6,keyasint" json:"transfers"`
	TransfersHash string          `cbor:"7,keyasint" json:"transfers_hash"`
	StateHash     string          `cbor:"8,keyasint" json:"state_hash"`
	Nonce         string          `cbor:"9,keyasint" json:"nonce"`
	Timestamp     int64           `cbor:"10,keyasint" json:"timestamp"` // Unix milliseconds
}

// ReceiptCOSE holds raw COSE_Sign1 bytes whose payload is a CBOR ReceiptPayload.
type ReceiptCOSE []byte

// ReceiptCOSEBase64 is the base64 transport form of ReceiptCOSE.
type ReceiptCOSEBase64 string

// EncodeBase64 encodes the receipt with standard base64.
func (r ReceiptCOSE) EncodeBase64() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(r))
}

// EncodeURLSafe encodes the receipt with unpadded URL-safe base64.
func (r ReceiptCOSE) EncodeURLSafe() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.RawURLEncoding.EncodeToString(r))
}

// Message parses the COSE_Sign1 envelope without verifying its signature.
func (r ReceiptCOSE) Message() (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(r); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	return &msg, nil
}

// Payload extracts the receipt payload without verifying the signature.
func (r ReceiptCOSE) Payload() (*ReceiptPayload, error) {
	msg, err := r.Message()
	if err != nil {
		return nil, err
	}
	return DecodeReceiptPayload(msg.Payload)
}

// DecodeReceiptPayload decodes CBOR payload bytes.
func DecodeReceiptPayload(b []byte) (*ReceiptPayload, error) {
	var payload ReceiptPayload
	if err := cbor.Unmarshal(b, &payload); err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}
	return &payload, nil
}

// Decode accepts both standard and URL-safe encodings.
func (r ReceiptCOSEBase64) Decode() (ReceiptCOSE, error) {
	b, err := decodeBase64(string(r))
	if err != nil {
		return nil, err
	}
	return ReceiptCOSE(b), nil
}

func (r ReceiptCOSEBase64) String() string { return string(r) }

// AttestationCOSE holds raw attestation bytes produced by the Nitro Secure Module.
type AttestationCOSE []byte

// AttestationCOSEBase64 is the base64 transport form of AttestationCOSE.
type AttestationCOSEBase64 string

func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

func (a AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	b, err := decodeBase64(string(a))
	if err != nil {
		return nil, err
	}
	return AttestationCOSE(b), nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return b, nil
}
