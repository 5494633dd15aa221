package validation

import "github.com/cloudx-io/adslot/hostapi"

// BaseValidationResult contains results common to receipts and key attestations
type BaseValidationResult struct {
	SignatureValid    bool
	ValidationDetails []string
}

// ReceiptValidationResult contains validation results for a call receipt
type ReceiptValidationResult struct {
	BaseValidationResult
	TransfersHashValid bool
	StateChecked       bool // false when no expected state was supplied
	StateHashMatch     bool
	Payload            *hostapi.ReceiptPayload
}

// IsValid returns true if all receipt validation checks passed
func (r *ReceiptValidationResult) IsValid() bool {
	return r.SignatureValid && r.TransfersHashValid && (!r.StateChecked || r.StateHashMatch)
}

// KeyValidationResult contains validation results specific to key attestations
type KeyValidationResult struct {
	BaseValidationResult
	CertificateValid bool
	PublicKeyMatch   bool
	Attestation      *hostapi.AttestationDoc
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.CertificateValid && r.SignatureValid && r.PublicKeyMatch
}
