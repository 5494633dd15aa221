package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudx-io/adslot/hostapi"
)

// ValidateKeyAttestation validates the Nitro attestation over the receipt key
//
// Parameters:
//   - attestationCOSEBase64: Base64-encoded COSE_Sign1 bytes from KeyResponse.AttestationCOSEBase64
//   - expectedPublicKey: PEM-encoded public key to validate (from KeyResponse.PublicKey)
//
// Returns:
//   - KeyValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input)
func ValidateKeyAttestation(attestationCOSEBase64 hostapi.AttestationCOSEBase64, expectedPublicKey string) (*KeyValidationResult, error) {
	coseBytes, err := attestationCOSEBase64.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	attestationDoc, userDataBytes, err := coseBytes.ParseAttestationDoc()
	if err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}

	var userData hostapi.KeyAttestationUserData
	if len(userDataBytes) > 0 {
		if err := json.Unmarshal(userDataBytes, &userData); err != nil {
			return nil, fmt.Errorf("parse user data: %w", err)
		}
	}

	result := &KeyValidationResult{
		BaseValidationResult: BaseValidationResult{ValidationDetails: []string{}},
		Attestation:          attestationDoc,
	}

	switch {
	case attestationDoc.Certificate == "":
		result.ValidationDetails = append(result.ValidationDetails, "Missing certificate")
	case len(attestationDoc.CABundle) == 0:
		result.ValidationDetails = append(result.ValidationDetails, "Missing CA bundle")
	default:
		err := ValidateCertificateChain(attestationDoc.Certificate, attestationDoc.CABundle, attestationDoc.Timestamp)
		if err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain validation failed: %v", err))
		} else {
			result.CertificateValid = true
			result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified")
		}
	}

	if err := VerifyCOSESignature(coseBytes, attestationDoc.Certificate); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("COSE signature verification failed: %v", err))
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
	}

	// Trim whitespace from both keys (handles trailing newlines from PEM encoding)
	attestedKey := strings.TrimSpace(userData.PublicKey)
	switch {
	case attestedKey == "":
		result.ValidationDetails = append(result.ValidationDetails, "Public key missing from attestation")
	case attestedKey == strings.TrimSpace(expectedPublicKey):
		result.PublicKeyMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Public key matches attestation")
	default:
		result.ValidationDetails = append(result.ValidationDetails, "Public key mismatch: provided key does not match attested key")
	}

	for _, idx := range []uint64{0, 1, 2} {
		if pcr, ok := attestationDoc.PCRs[idx]; ok {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR%d: %s", idx, pcr))
		}
	}

	return result, nil
}
