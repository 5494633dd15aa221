package main

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/adslot/core"
	"github.com/cloudx-io/adslot/hostapi"
	"github.com/cloudx-io/adslot/instance"
)

var receiptEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// NewReceiptPayload describes a committed call. State and transfers are hashed
// under a fresh nonce.
func NewReceiptPayload(out *instance.Outcome, now time.Time) (*hostapi.ReceiptPayload, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}
	stateHash, err := core.ComputeStateHash(out.State, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to hash state: %w", err)
	}

	transfers := out.Transfers
	if transfers == nil {
		transfers = []core.Transfer{}
	}

	return &hostapi.ReceiptPayload{
		ID:            uuid.NewString(),
		InstanceID:    out.InstanceID,
		Method:        out.Method,
		Caller:        out.Caller,
		Accepted:      out.Accepted,
		Transfers:     transfers,
		TransfersHash: core.ComputeTransfersHash(transfers, nonce),
		StateHash:     stateHash,
		Nonce:         nonce,
		Timestamp:     now.UnixMilli(),
	}, nil
}

// SignReceipt wraps the CBOR payload in a COSE_Sign1 envelope
func (km *KeyManager) SignReceipt(payload *hostapi.ReceiptPayload) (hostapi.ReceiptCOSE, error) {
	body, err := receiptEncMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(receiptKeyAlgorithm)
	msg.Headers.Protected[cose.HeaderLabelContentType] = "application/cbor"
	msg.Payload = body

	if err := msg.Sign(rand.Reader, nil, km.signer); err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}

	raw, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}
	return hostapi.ReceiptCOSE(raw), nil
}

// IssueReceipt builds and signs the receipt for out.
func (km *KeyManager) IssueReceipt(out *instance.Outcome) (hostapi.ReceiptCOSE, error) {
	payload, err := NewReceiptPayload(out, time.Now())
	if err != nil {
		return nil, err
	}
	return km.SignReceipt(payload)
}
