package core

import "context"

// State is the persisted form of an AdSlot: exactly the five fields the host
// stores between invocations.
type State struct {
	OwnerID         string `json:"owner_id" cbor:"1,keyasint"`
	EscrowAccountID string `json:"escrow_account_id" cbor:"2,keyasint"`
	HighestBidderID string `json:"highest_bidder_id" cbor:"3,keyasint"`
	HighestBid      Amount `json:"highest_bid" cbor:"4,keyasint"`
	EscrowAmount    Amount `json:"escrow_amount" cbor:"5,keyasint"`
}

// Phase is the auction phase derived from State.
type Phase string

const (
	PhaseNoBids    Phase = "no_bids"
	PhaseHasLeader Phase = "has_leader"
	PhaseSettled   Phase = "settled"
)

// Transfer moves Amount from one account to another.
type Transfer struct {
	From   string `json:"from" cbor:"1,keyasint"`
	To     string `json:"to" cbor:"2,keyasint"`
	Amount Amount `json:"amount" cbor:"3,keyasint"`
}

// Env is the host environment an AdSlot runs in.
type Env interface {
	// Predecessor returns the identity of the account invoking the current call.
	Predecessor() string

	// Transfer executes all transfers or none of them.
	Transfer(ctx context.Context, transfers ...Transfer) error
}

// BidResult describes the effect of a Bid call.
type BidResult struct {
	// Accepted is false when the bid did not exceed the current highest bid.
	// A rejected bid is not an error and changes nothing.
	Accepted bool `json:"accepted"`

	// Transfers lists the transfers issued by the call, in execution order.
	Transfers []Transfer `json:"transfers,omitempty"`

	// Refunded is the amount returned to the superseded leader, zero if none.
	Refunded Amount `json:"refunded"`
}

// ReleaseResult describes the effect of a ReleaseFunds call.
type ReleaseResult struct {
	Recipient string    `json:"recipient"`
	Amount    Amount    `json:"amount"`
	Transfer  *Transfer `json:"transfer,omitempty"`
}
