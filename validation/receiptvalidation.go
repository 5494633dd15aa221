package validation

import (
	"fmt"

	"github.com/cloudx-io/adslot/core"
	"github.com/cloudx-io/adslot/hostapi"
)

// ValidateReceipt validates a signed call receipt
//
// Parameters:
//   - receipt: Base64-encoded COSE_Sign1 bytes from CallResponse.Receipt
//   - publicKeyPEM: PEM-encoded receipt key (from KeyResponse.PublicKey)
//   - expectedState: post-call state to check against the receipt's state hash, or nil to skip
//
// Returns:
//   - ReceiptValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input)
func ValidateReceipt(receipt hostapi.ReceiptCOSEBase64, publicKeyPEM string, expectedState *core.State) (*ReceiptValidationResult, error) {
	receiptBytes, err := receipt.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	publicKey, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	payload, err := receiptBytes.Payload()
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt: %w", err)
	}

	result := &ReceiptValidationResult{
		BaseValidationResult: BaseValidationResult{ValidationDetails: []string{}},
		Payload:              payload,
	}

	if err := VerifyReceiptSignature(receiptBytes, publicKey); err != nil {
		result.SignatureValid = false
		result.ValidationDetails = append(result.ValidationDetails, err.Error())
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
	}

	if core.ComputeTransfersHash(payload.Transfers, payload.Nonce) == payload.TransfersHash {
		result.TransfersHashValid = true
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Transfers hash matches %d transfer(s)", len(payload.Transfers)))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Transfers hash mismatch")
	}

	if expectedState == nil {
		result.ValidationDetails = append(result.ValidationDetails, "No expected state provided, state hash not checked")
		return result, nil
	}

	result.StateChecked = true
	stateHash, err := core.ComputeStateHash(*expectedState, payload.Nonce)
	if err != nil {
		return nil, fmt.Errorf("hash expected state: %w", err)
	}
	if stateHash == payload.StateHash {
		result.StateHashMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "State hash matches expected state")
	} else {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("State hash mismatch: expected %s, receipt has %s", stateHash, payload.StateHash))
	}

	return result, nil
}
