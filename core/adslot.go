package core

import (
	"context"
	"fmt"
)

// AdSlot is the auction/escrow state machine for a single advertising slot.
//
// An AdSlot is not safe for concurrent use. The host serializes calls per
// instance, and every call either completes fully or leaves the state unchanged.
//
// State transitions:
//   - NoBids --Bid(amount > 0)--> HasLeader
//   - HasLeader --Bid(amount > highest)--> HasLeader (new leader, previous leader refunded)
//   - HasLeader --ReleaseFunds--> Settled
//   - Settled --Bid(amount > highest)--> HasLeader (a settled slot reopens)
type AdSlot struct {
	state State
}

// New creates an AdSlot with no bids and an empty escrow.
func New(ownerID, escrowAccountID string) (*AdSlot, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is empty", ErrInvalidAccountID)
	}
	if escrowAccountID == "" {
		return nil, fmt.Errorf("%w: escrow account id is empty", ErrInvalidAccountID)
	}
	return &AdSlot{
		state: State{
			OwnerID:         ownerID,
			EscrowAccountID: escrowAccountID,
		},
	}, nil
}

// Restore rebuilds an AdSlot from persisted state.
func Restore(st State) (*AdSlot, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return &AdSlot{state: st}, nil
}

// Validate checks the auction invariants.
func (st State) Validate() error {
	if st.OwnerID == "" || st.EscrowAccountID == "" {
		return fmt.Errorf("%w: owner and escrow account ids must be set", ErrCorruptState)
	}
	if st.HighestBid.IsZero() != (st.HighestBidderID == "") {
		return fmt.Errorf("%w: highest bid %s with bidder %q", ErrCorruptState, st.HighestBid, st.HighestBidderID)
	}
	if !st.EscrowAmount.IsZero() && !st.EscrowAmount.Equal(st.HighestBid) {
		return fmt.Errorf("%w: escrow amount %s differs from highest bid %s", ErrCorruptState, st.EscrowAmount, st.HighestBid)
	}
	return nil
}

// Bid places a bid of amount on behalf of bidderID, who must be the caller.
//
// A bid that does not exceed the current highest bid is a successful no-op.
// An accepted bid moves amount from the bidder to the escrow account and, in the
// same atomic batch, refunds the escrowed funds of the superseded leader. That
// refund is a second transfer, so superseding a funded leader issues two
// transfers in one invocation: the bid in and the refund out.
func (s *AdSlot) Bid(ctx context.Context, env Env, bidderID string, amount Amount) (BidResult, error) {
	if bidderID == "" {
		return BidResult{}, fmt.Errorf("%w: bidder id is empty", ErrInvalidAccountID)
	}
	if caller := env.Predecessor(); caller != bidderID {
		return BidResult{}, fmt.Errorf("%w: %q cannot bid on behalf of %q", ErrUnauthorized, caller, bidderID)
	}
	if bidderID == s.state.OwnerID {
		return BidResult{}, ErrSelfBid
	}

	if !amount.GreaterThan(s.state.HighestBid) {
		return BidResult{Accepted: false}, nil
	}

	transfers := []Transfer{{From: bidderID, To: s.state.EscrowAccountID, Amount: amount}}
	refunded := ZeroAmount
	if !s.state.EscrowAmount.IsZero() {
		refunded = s.state.EscrowAmount
		transfers = append(transfers, Transfer{
			From:   s.state.EscrowAccountID,
			To:     s.state.HighestBidderID,
			Amount: refunded,
		})
	}

	if err := env.Transfer(ctx, transfers...); err != nil {
		return BidResult{}, fmt.Errorf("%w: escrow bid of %s from %s: %w", ErrTransferFailed, amount, bidderID, err)
	}

	s.state.HighestBid = amount
	s.state.HighestBidderID = bidderID
	s.state.EscrowAmount = amount

	return BidResult{
		Accepted:  true,
		Transfers: transfers,
		Refunded:  refunded,
	}, nil
}

// ReleaseFunds settles the escrow to the current leading bidder. Only the owner
// may call it. With nothing in escrow it issues no transfer and reports zero.
func (s *AdSlot) ReleaseFunds(ctx context.Context, env Env) (ReleaseResult, error) {
	if caller := env.Predecessor(); caller != s.state.OwnerID {
		return ReleaseResult{}, fmt.Errorf("%w: only the owner may release funds, got %q", ErrUnauthorized, caller)
	}

	result := ReleaseResult{Recipient: s.state.HighestBidderID, Amount: s.state.EscrowAmount}
	if s.state.EscrowAmount.IsZero() {
		return result, nil
	}

	transfer := Transfer{
		From:   s.state.EscrowAccountID,
		To:     s.state.HighestBidderID,
		Amount: s.state.EscrowAmount,
	}
	if err := env.Transfer(ctx, transfer); err != nil {
		return ReleaseResult{}, fmt.Errorf("%w: release %s to %s: %w", ErrTransferFailed, transfer.Amount, transfer.To, err)
	}

	s.state.EscrowAmount = ZeroAmount
	result.Transfer = &transfer
	return result, nil
}

// HighestBid returns the leading bid, zero before any bid is accepted.
func (s *AdSlot) HighestBid() Amount { return s.state.HighestBid }

// HighestBidderID returns the leading bidder, empty before any bid is accepted.
func (s *AdSlot) HighestBidderID() string { return s.state.HighestBidderID }

// EscrowAmount returns the funds currently held in escrow for the leader.
func (s *AdSlot) EscrowAmount() Amount { return s.state.EscrowAmount }

// OwnerID returns the account allowed to release funds.
func (s *AdSlot) OwnerID() string { return s.state.OwnerID }

// EscrowAccountID returns the account holding escrowed bids.
func (s *AdSlot) EscrowAccountID() string { return s.state.EscrowAccountID }

// State returns a copy of the persisted fields.
func (s *AdSlot) State() State { return s.state }

// Phase reports where the auction is in its lifecycle.
func (s *AdSlot) Phase() Phase {
	switch {
	case s.state.HighestBid.IsZero():
		return PhaseNoBids
	case !s.state.EscrowAmount.IsZero():
		return PhaseHasLeader
	default:
		return PhaseSettled
	}
}
