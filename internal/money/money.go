// Package money parses the decimal-string monetary amounts used throughout
// the task/escrow/wallet model (spec §9 "Decimal money as strings") into
// exact fixed-point arithmetic, avoiding binary-float rounding.
package money

import (
	"fmt"
	"math/big"
)

// Scale is the number of decimal places amounts are carried at internally.
// Reward amounts are user-facing decimal strings (e.g. "10.50"); Minor
// converts them to integer minor units (e.g. cents/points) at this scale.
const Scale = 6

var scaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(Scale), nil)

// Amount is an exact fixed-point monetary value at Scale decimal places.
type Amount struct {
	minor *big.Int
}

// Zero is the additive identity.
func Zero() Amount { return Amount{minor: big.NewInt(0)} }

// Parse converts a decimal string ("10", "10.5", "0.000001") into an Amount.
// Empty string parses as zero.
func Parse(s string) (Amount, error) {
	if s == "" {
		return Zero(), nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Amount{}, fmt.Errorf("money: invalid decimal %q", s)
	}
	if r.Sign() < 0 {
		return Amount{}, fmt.Errorf("money: negative amount %q", s)
	}
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scaleFactor))
	if !scaled.IsInt() {
		// Truncate to Scale decimal places rather than reject finer input.
		num := new(big.Int).Quo(scaled.Num(), scaled.Denom())
		return Amount{minor: num}, nil
	}
	return Amount{minor: scaled.Num()}, nil
}

// MustParse parses s, panicking on error. Intended for constants/tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the Amount back into a decimal string with exactly six
// decimal places (e.g. "10.500000"); trailing zeroes are kept.
func (a Amount) String() string {
	if a.minor == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(a.minor, scaleFactor)
	return r.FloatString(Scale)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{minor: new(big.Int).Add(a.minorOrZero(), b.minorOrZero())}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{minor: new(big.Int).Sub(a.minorOrZero(), b.minorOrZero())}
}

// MulInt returns a * n.
func (a Amount) MulInt(n int) Amount {
	return Amount{minor: new(big.Int).Mul(a.minorOrZero(), big.NewInt(int64(n)))}
}

// Cmp compares a to b: -1, 0, or 1.
func (a Amount) Cmp(b Amount) int {
	return a.minorOrZero().Cmp(b.minorOrZero())
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.minorOrZero().Sign() == 0 }

// IsNegative reports whether the amount is negative.
func (a Amount) IsNegative() bool { return a.minorOrZero().Sign() < 0 }

func (a Amount) minorOrZero() *big.Int {
	if a.minor == nil {
		return big.NewInt(0)
	}
	return a.minor
}

// Split divides total between an agent and its owner according to
// ownerShare (0..1, the owner's cut). Remainders from inexact division are
// given to the agent, matching the wallet collaborator's add_earnings
// contract (spec §6) where the agent is always made whole first.
func Split(total Amount, ownerShare float64) (agentAmount, ownerAmount Amount) {
	if ownerShare <= 0 {
		return total, Zero()
	}
	if ownerShare >= 1 {
		return Zero(), total
	}
	share := new(big.Rat).SetFloat64(ownerShare)
	if share == nil {
		return total, Zero()
	}
	totalRat := new(big.Rat).SetInt(total.minorOrZero())
	ownerRat := new(big.Rat).Mul(totalRat, share)
	ownerMinor := new(big.Int).Quo(ownerRat.Num(), ownerRat.Denom())
	agentMinor := new(big.Int).Sub(total.minorOrZero(), ownerMinor)
	return Amount{minor: agentMinor}, Amount{minor: ownerMinor}
}
