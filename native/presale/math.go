package presale

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"

	custodyerrors "vestvault/core/errors"
	"vestvault/native/oracle"
)

// maxPow10 is the largest power of ten representable in 128 bits.
const maxPow10 = 38

func pow10(exp uint64) (*uint256.Int, error) {
	if exp > maxPow10 {
		return nil, fmt.Errorf("%w: 10^%d exceeds 128 bits", custodyerrors.ErrOverflow, exp)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(exp)), nil
}

func mul128(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow || out.BitLen() > 128 {
		return nil, custodyerrors.ErrOverflow
	}
	return out, nil
}

func absMagnitude(v int64) uint64 {
	if v == math.MinInt64 {
		return uint64(math.MaxInt64) + 1
	}
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// WholeUnits truncates a raw token amount to whole tokens.
func WholeUnits(amount uint64, decimals uint8) (uint64, error) {
	scale, err := pow10(uint64(decimals))
	if err != nil {
		return 0, err
	}
	return new(uint256.Int).Div(uint256.NewInt(amount), scale).Uint64(), nil
}

// PaymentAmount converts a raw token amount into the native payment owed:
//
//	whole      = amount / 10^decimals
//	numerator  = whole × pricePerToken × 10^PaymentDecimals, scaled by 10^-expo
//	payment    = numerator / (|price| × 10^QuoteDecimals)
//
// Every intermediate must fit in 128 bits and the result in 64 bits.
func PaymentAmount(amount uint64, decimals uint8, pricePerToken uint64, reading oracle.Reading) (uint64, error) {
	whole, err := WholeUnits(amount, decimals)
	if err != nil {
		return 0, err
	}
	totalPrice, err := mul128(uint256.NewInt(whole), uint256.NewInt(pricePerToken))
	if err != nil {
		return 0, err
	}

	quoteScale, err := pow10(QuoteDecimals)
	if err != nil {
		return 0, err
	}
	denominator, err := mul128(uint256.NewInt(absMagnitude(reading.Magnitude)), quoteScale)
	if err != nil {
		return 0, err
	}

	paymentScale, err := pow10(PaymentDecimals)
	if err != nil {
		return 0, err
	}
	numerator, err := mul128(totalPrice, paymentScale)
	if err != nil {
		return 0, err
	}

	if reading.Exponent < 0 {
		scale, err := pow10(uint64(-int64(reading.Exponent)))
		if err != nil {
			return 0, err
		}
		if numerator, err = mul128(numerator, scale); err != nil {
			return 0, err
		}
	} else if reading.Exponent > maxPow10 {
		// numerator fits in 128 bits, so it is below 10^39
		numerator = new(uint256.Int)
	} else {
		scale, err := pow10(uint64(reading.Exponent))
		if err != nil {
			return 0, err
		}
		numerator = new(uint256.Int).Div(numerator, scale)
	}

	if denominator.IsZero() {
		return 0, fmt.Errorf("%w: zero oracle price", custodyerrors.ErrOverflow)
	}
	payment := new(uint256.Int).Div(numerator, denominator)
	if !payment.IsUint64() {
		return 0, fmt.Errorf("%w: payment exceeds 64 bits", custodyerrors.ErrOverflow)
	}
	return payment.Uint64(), nil
}
