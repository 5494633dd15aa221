package hostapi

import (
	"encoding/json"
	"time"

	"github.com/cloudx-io/adslot/core"
)

// Request types understood by the host.
const (
	TypePing          = "ping"
	TypeKeyRequest    = "key_request"
	TypeDeploy        = "deploy"
	TypeCall          = "call"
	TypeView          = "view"
	TypeDeposit       = "deposit"
	TypeBalance       = "balance"
	TypeListInstances = "list_instances"
)

// Response types written by the host.
const (
	TypePong              = "pong"
	TypeError             = "error"
	TypeKeyResponse       = "key_response"
	TypeDeployResponse    = "deploy_response"
	TypeCallResponse      = "call_response"
	TypeViewResponse      = "view_response"
	TypeBalanceResponse   = "balance_response"
	TypeInstancesResponse = "instances_response"
)

// BaseRequest carries the discriminator shared by every request.
type BaseRequest struct {
	Type string `json:"type"`
}

// DeployRequest creates a new auction instance.
type DeployRequest struct {
	Type            string `json:"type"`
	InstanceID      string `json:"instance_id,omitempty"` // Optional: generated when empty
	OwnerID         string `json:"owner_id"`
	EscrowAccountID string `json:"escrow_account_id"`
}

// CallRequest invokes a mutating contract method on behalf of Caller.
type CallRequest struct {
	Type       string          `json:"type"`
	InstanceID string          `json:"instance_id"`
	Caller     string          `json:"caller"`
	Method     string          `json:"method"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// ViewRequest invokes a read-only accessor.
type ViewRequest struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	Method     string `json:"method"`
}

// DepositRequest credits funds to an account on the host ledger. Exactly one of
// Amount (base units) and AmountUnits (decimal whole units, e.g. "1.5") is set.
type DepositRequest struct {
	Type        string      `json:"type"`
	AccountID   string      `json:"account_id"`
	Amount      core.Amount `json:"amount"`
	AmountUnits string      `json:"amount_units,omitempty"`
}

// BalanceRequest reads an account balance.
type BalanceRequest struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
}

// ErrorResponse reports a rejected request. Nothing was changed by the request.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorResponse builds an ErrorResponse.
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Type: TypeError, Message: message}
}

// PongResponse answers a ping.
type PongResponse struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// DeployResponse returns the id and initial state of a deployed instance.
type DeployResponse struct {
	Type       string     `json:"type"`
	InstanceID string     `json:"instance_id"`
	State      core.State `json:"state"`
}

// CallResponse reports a committed call together with its signed receipt.
type CallResponse struct {
	Type           string            `json:"type"`
	Success        bool              `json:"success"`
	Message        string            `json:"message"`
	Accepted       bool              `json:"accepted"` // false for bids that did not exceed the highest bid
	Transfers      []core.Transfer   `json:"transfers"`
	State          core.State        `json:"state"`
	Receipt        ReceiptCOSEBase64 `json:"receipt,omitempty"`
	ProcessingTime int64             `json:"processing_time_ms"`
}

// ViewResponse carries the JSON result of an accessor.
type ViewResponse struct {
	Type       string          `json:"type"`
	InstanceID string          `json:"instance_id"`
	Method     string          `json:"method"`
	Result     json.RawMessage `json:"result"`
}

// BalanceResponse reports an account balance.
type BalanceResponse struct {
	Type         string      `json:"type"`
	AccountID    string      `json:"account_id"`
	Balance      core.Amount `json:"balance"`
	BalanceUnits string      `json:"balance_units"`
}

// InstancesResponse lists deployed instance ids.
type InstancesResponse struct {
	Type        string   `json:"type"`
	InstanceIDs []string `json:"instance_ids"`
}

// KeyResponse returns the key receipts are signed with.
type KeyResponse struct {
	Type                  string                `json:"type"`
	KeyAlgorithm          string                `json:"key_algorithm"` // e.g., "ES256"
	PublicKey             string                `json:"public_key"`    // PEM format
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// KeyAttestationUserData is embedded in the attestation over the receipt key.
type KeyAttestationUserData struct {
	KeyAlgorithm string    `json:"key_algorithm"`
	PublicKey    string    `json:"public_key"`
	Timestamp    time.Time `json:"timestamp"`
}
