package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"

	"github.com/cloudx-io/adslot/hostapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// getEnclaveAttester attempts to get the NSM attester, returns error if not available
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32) // 256 bits of entropy
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// GenerateKeyAttestation binds the receipt verification key to the enclave measurements
func GenerateKeyAttestation(attester EnclaveAttester, publicKeyPEM string) (hostapi.AttestationCOSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	userData, err := json.Marshal(&hostapi.KeyAttestationUserData{
		KeyAlgorithm: receiptKeyAlgorithm.String(),
		PublicKey:    publicKeyPEM,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userData,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		log.Errorf("NSM key attestation failed: %v", err)
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}

	log.Infof("key attestation generated: %d bytes", len(attestationCBOR))
	return hostapi.AttestationCOSE(attestationCBOR), nil
}
