package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/adslot/hostapi"
)

// receiptKeyAlgorithm is the COSE algorithm receipts are signed with.
const receiptKeyAlgorithm = cose.AlgorithmES256

// KeyManager holds the host's receipt signing key
type KeyManager struct {
	PublicKey *ecdsa.PublicKey
	signer    cose.Signer
}

// NewKeyManager creates a new KeyManager and generates a fresh P-256 key pair
func NewKeyManager() (*KeyManager, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return newKeyManager(privateKey)
}

// newKeyManager wraps privateKey. The private key is only reachable through the signer.
func newKeyManager(privateKey *ecdsa.PrivateKey) (*KeyManager, error) {
	signer, err := cose.NewSigner(receiptKeyAlgorithm, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}

	return &KeyManager{
		PublicKey: &privateKey.PublicKey,
		signer:    signer,
	}, nil
}

// PublicKeyPEM returns the public key in PEM format
func (km *KeyManager) PublicKeyPEM() (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(km.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	pemBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: derBytes,
	}

	return string(pem.EncodeToMemory(pemBlock)), nil
}

// HandleKeyRequest returns the receipt verification key. The attestation over it
// is included only when an attester is available.
func HandleKeyRequest(attester EnclaveAttester, keyManager *KeyManager) (*hostapi.KeyResponse, error) {
	publicKeyPEM, err := keyManager.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}

	resp := &hostapi.KeyResponse{
		Type:         hostapi.TypeKeyResponse,
		KeyAlgorithm: receiptKeyAlgorithm.String(),
		PublicKey:    publicKeyPEM,
	}
	if attester == nil {
		return resp, nil
	}

	attestation, err := GenerateKeyAttestation(attester, publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key attestation: %w", err)
	}
	resp.AttestationCOSEBase64 = attestation.EncodeBase64()
	return resp, nil
}
