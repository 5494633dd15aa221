package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/adslot/hostapi"
)

// ParsePublicKeyPEM parses a PEM-encoded PKIX ECDSA public key
func ParsePublicKeyPEM(publicKeyPEM string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("no PEM block found in public key")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ECDSA", key)
	}
	return ecdsaKey, nil
}

// VerifyReceiptSignature verifies a tagged COSE_Sign1 receipt with the host's public key.
// The algorithm is taken from the protected header.
func VerifyReceiptSignature(receipt hostapi.ReceiptCOSE, publicKey *ecdsa.PublicKey) error {
	msg, err := receipt.Message()
	if err != nil {
		return err
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return fmt.Errorf("read algorithm header: %w", err)
	}

	verifier, err := cose.NewVerifier(alg, publicKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}

// VerifyCOSESignature verifies an attestation COSE_Sign1 signature with the leaf certificate
func VerifyCOSESignature(coseBytes hostapi.AttestationCOSE, certB64 string) error {
	cert, err := parseCertificateB64(certB64)
	if err != nil {
		return fmt.Errorf("signing certificate: %w", err)
	}

	// AWS Nitro returns untagged COSE_Sign1 (4-element array)
	// [protected, unprotected, payload, signature]
	var coseArray []any
	if err := cbor.Unmarshal(coseBytes, &coseArray); err != nil {
		return fmt.Errorf("parse COSE array: %w", err)
	}

	if len(coseArray) != 4 {
		return fmt.Errorf("invalid COSE_Sign1 structure: expected 4 elements, got %d", len(coseArray))
	}

	protectedBytes, ok := coseArray[0].([]byte)
	if !ok {
		return fmt.Errorf("invalid protected headers")
	}

	payload, ok := coseArray[2].([]byte)
	if !ok {
		return fmt.Errorf("invalid payload")
	}

	signature, ok := coseArray[3].([]byte)
	if !ok {
		return fmt.Errorf("invalid signature")
	}

	// AWS Nitro uses ES384 (ECDSA P-384 with SHA-384)
	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	// Sig_structure for COSE_Sign1: ["Signature1", protected, external_aad, payload]
	sigStructureBytes, err := cbor.Marshal([]any{
		"Signature1",
		protectedBytes,
		[]byte{},
		payload,
	})
	if err != nil {
		return fmt.Errorf("marshal Sig_structure: %w", err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES384, ecdsaKey)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	if err := verifier.Verify(sigStructureBytes, signature); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}

	return nil
}
