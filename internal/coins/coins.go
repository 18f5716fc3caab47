// Package coins implements the fixed-point credit ledger. One credit unit is
// 10^-3 of the reference currency.
//
// A Coins value carries only its held amount on the wire. The max is a
// construction-time parameter, so a decoder must build each ledger with the same
// max the encoder used; every max in this repository is derived from an entity
// kind constant for that reason.
package coins

import (
	"errors"
	"fmt"

	"goldprime.ai/internal/wire"
)

// Int is an amount of credit.
type Int uint64

const (
	CreditPerDollarExponent = 3  // credit = dollar * 10^3
	WeiPerDollarExponent    = 18 // wei = dollar * 10^18
)

// MaxCoins bounds the credit held by any single ledger and, outside fiat
// operations, the sum across all ledgers of a game.
const MaxCoins Int = 1_000_000_000_000

var ErrExceedsMax = errors.New("coins: held amount exceeds max")

type Coins struct {
	held Int
	max  Int
}

// New returns a ledger holding min(amount, max).
func New(amount, max Int) Coins {
	if amount > max {
		amount = max
	}
	return Coins{held: amount, max: max}
}

// Empty returns a ledger holding nothing.
func Empty(max Int) Coins { return Coins{max: max} }

func (c *Coins) Held() Int      { return c.held }
func (c *Coins) Max() Int       { return c.max }
func (c *Coins) SpaceLeft() Int { return c.max - c.held }
func (c *Coins) IsFull() bool   { return c.held == c.max }

func (c *Coins) deductUpTo(n Int) Int {
	if n > c.held {
		n = c.held
	}
	c.held -= n
	return n
}

func (c *Coins) addUpTo(n Int) Int {
	if space := c.SpaceLeft(); n > space {
		n = space
	}
	c.held += n
	return n
}

func (c *Coins) tryDeduct(n Int) bool {
	if n > c.held {
		return false
	}
	c.held -= n
	return true
}

func (c *Coins) tryAdd(n Int) bool {
	if n > c.SpaceLeft() {
		return false
	}
	c.held += n
	return true
}

// CreateMoreByFiat adds n out of nothing. It breaks supply conservation on
// purpose; callers must audit every use.
func (c *Coins) CreateMoreByFiat(n Int) bool { return c.tryAdd(n) }

// DestroySomeByFiat removes n into nothing. Same audit rule as CreateMoreByFiat.
func (c *Coins) DestroySomeByFiat(n Int) bool { return c.tryDeduct(n) }

// TransferUpTo moves min(n, held, dst.SpaceLeft()) from c to dst and returns
// the amount moved.
func (c *Coins) TransferUpTo(n Int, dst *Coins) Int {
	if dst == nil || dst == c {
		return 0
	}
	if n > c.held {
		n = c.held
	}
	if space := dst.SpaceLeft(); n > space {
		n = space
	}
	c.held -= n
	dst.held += n
	return n
}

// TryTransfer moves exactly n from c to dst, or nothing.
func (c *Coins) TryTransfer(n Int, dst *Coins) bool {
	if dst == nil || dst == c {
		return false
	}
	if n > c.held || n > dst.SpaceLeft() {
		return false
	}
	c.held -= n
	dst.held += n
	return true
}

func (c *Coins) Pack(w *wire.Writer) { w.U64(uint64(c.held)) }

// Unpack replaces the held amount, keeping the max this ledger was built with.
func (c *Coins) Unpack(r *wire.Reader) {
	v := Int(r.U64())
	if r.Err() != nil {
		return
	}
	if v > c.max {
		r.Fail(fmt.Errorf("%w: %d > %d", ErrExceedsMax, v, c.max))
		return
	}
	c.held = v
}

// DollarString renders an amount as dollars with three decimals, e.g. "$1.250".
func DollarString(n Int) string {
	return fmt.Sprintf("$%d.%03d", n/1000, n%1000)
}
