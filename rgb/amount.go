package rgb

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxPrecision is the largest number of decimal places of an asset.
const MaxPrecision = 18

var (
	// ErrInvalidAmount is returned for amounts that are negative, carry
	// more decimals than the precision allows or overflow 64 bits.
	ErrInvalidAmount = errors.New("rgb: invalid amount")
)

// ContractAmount is an asset amount split into its integer and fractional
// parts at a given precision.
type ContractAmount struct {
	Int       uint64
	Fract     uint64
	Precision uint8
}

func pow10(p uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < p; i++ {
		v *= 10
	}

	return v
}

// FromValue splits an atomic value at the given precision.
func FromValue(value uint64, precision uint8) ContractAmount {
	if precision > MaxPrecision {
		precision = MaxPrecision
	}
	unit := pow10(precision)

	return ContractAmount{
		Int:       value / unit,
		Fract:     value % unit,
		Precision: precision,
	}
}

// FromDecimalString parses a decimal string such as "12.5" at the given
// precision.
func FromDecimalString(s string, precision uint8) (ContractAmount, error) {
	if precision > MaxPrecision {
		return ContractAmount{}, fmt.Errorf("%w: precision %d",
			ErrInvalidAmount, precision)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return ContractAmount{}, fmt.Errorf("%w: %v", ErrInvalidAmount,
			err)
	}
	if d.IsNegative() {
		return ContractAmount{}, fmt.Errorf("%w: negative amount %v",
			ErrInvalidAmount, s)
	}

	atomic := d.Shift(int32(precision))
	if !atomic.Equal(atomic.Truncate(0)) {
		return ContractAmount{}, fmt.Errorf("%w: %v has more than %d "+
			"decimals", ErrInvalidAmount, s, precision)
	}

	bi := atomic.BigInt()
	if !bi.IsUint64() {
		return ContractAmount{}, fmt.Errorf("%w: %v overflows",
			ErrInvalidAmount, s)
	}

	return FromValue(bi.Uint64(), precision), nil
}

// Value returns the atomic value.
func (a ContractAmount) Value() uint64 {
	return a.Int*pow10(a.Precision) + a.Fract
}

// Decimal returns the amount as a decimal.
func (a ContractAmount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(
		new(big.Int).SetUint64(a.Value()), -int32(a.Precision),
	)
}

// String renders the amount with exactly Precision decimals.
func (a ContractAmount) String() string {
	return a.Decimal().StringFixed(int32(a.Precision))
}
