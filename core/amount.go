package core

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"
)

// amountWidth is the fixed encoded width of an Amount in bytes.
const amountWidth = 16

// Amount is an unsigned 128-bit quantity of the smallest monetary unit.
// Arithmetic on Amount is checked: it never wraps and never panics.
type Amount struct {
	v uint128.Uint128
}

// ZeroAmount is the zero value, spelled out for readability at call sites.
var ZeroAmount = Amount{}

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) Amount {
	return Amount{v: uint128.From64(v)}
}

// AmountFromBig converts a non-negative big.Int that fits in 128 bits.
func AmountFromBig(i *big.Int) (Amount, error) {
	if i == nil || i.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative or nil value", ErrInvalidAmount)
	}
	if i.BitLen() > 128 {
		return Amount{}, fmt.Errorf("%w: %s exceeds 128 bits", ErrAmountOverflow, i.String())
	}
	return Amount{v: uint128.FromBig(i)}, nil
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	i, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q is not a base-10 integer", ErrInvalidAmount, s)
	}
	return AmountFromBig(i)
}

// ParseUnits parses a decimal string expressed in whole units with the given
// number of fractional decimals, e.g. ParseUnits("1.5", 24) for NEAR.
// Inputs finer than the smallest unit are rejected rather than rounded.
func ParseUnits(s string, decimals int32) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if d.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative value %s", ErrInvalidAmount, s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	return AmountFromBig(scaled.BigInt())
}

// FormatUnits renders the amount in whole units with the given number of decimals.
func (a Amount) FormatUnits(decimals int32) string {
	return decimal.NewFromBigInt(a.Big(), -decimals).String()
}

func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp returns -1, 0 or +1 depending on whether a is less than, equal to or greater than b.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(b.v) }

func (a Amount) Equal(b Amount) bool { return a.v.Equals(b.v) }

func (a Amount) GreaterThan(b Amount) bool { return a.v.Cmp(b.v) > 0 }

// CheckedAdd returns a+b, or ErrAmountOverflow when the sum exceeds 128 bits.
func (a Amount) CheckedAdd(b Amount) (Amount, error) {
	sum := a.v.AddWrap(b.v)
	if sum.Cmp(a.v) < 0 {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrAmountOverflow, a, b)
	}
	return Amount{v: sum}, nil
}

// CheckedSub returns a-b, or ErrAmountUnderflow when b > a.
func (a Amount) CheckedSub(b Amount) (Amount, error) {
	if a.v.Cmp(b.v) < 0 {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrAmountUnderflow, a, b)
	}
	return Amount{v: a.v.SubWrap(b.v)}, nil
}

func (a Amount) Big() *big.Int { return a.v.Big() }

func (a Amount) String() string { return a.v.String() }

// Bytes returns the fixed-width little-endian encoding.
func (a Amount) Bytes() []byte {
	b := make([]byte, amountWidth)
	a.v.PutBytes(b)
	return b
}

// AmountFromBytes decodes the fixed-width little-endian encoding.
func AmountFromBytes(b []byte) (Amount, error) {
	if len(b) != amountWidth {
		return Amount{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAmount, amountWidth, len(b))
	}
	return Amount{v: uint128.FromBytes(b)}, nil
}

// MarshalJSON encodes the amount as a decimal string so values above 2^53 survive
// JSON clients that parse numbers as doubles.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, string(data))
		}
		s = n.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(a.Bytes())
}

func (a *Amount) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	parsed, err := AmountFromBytes(b)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
