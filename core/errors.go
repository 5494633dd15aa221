package core

import "errors"

var (
	// ErrInvalidAccountID is returned when an identity string is empty.
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrUnauthorized is returned when the calling identity may not perform the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSelfBid is returned when the slot owner bids on their own slot.
	ErrSelfBid = errors.New("owner cannot bid on own slot")

	// ErrTransferFailed wraps failures of the host transfer primitive.
	// The call that returned it left the auction state untouched.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrCorruptState is returned when persisted state violates the auction invariants.
	ErrCorruptState = errors.New("corrupt auction state")

	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAmountOverflow  = errors.New("amount overflow")
	ErrAmountUnderflow = errors.New("amount underflow")
)
