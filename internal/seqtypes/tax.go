// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package seqtypes

import (
	"github.com/holiman/uint256"
)

// TaxAmount is the accumulated per-bundle tax accounting. Total must always
// equal the sum of the other five fields; NewTaxAmount and Add enforce this.
type TaxAmount struct {
	Total       *uint256.Int
	Liquidity   *uint256.Int
	Marketing   *uint256.Int
	Development *uint256.Int
	Burn        *uint256.Int
	Buyback     *uint256.Int
}

// ZeroTaxAmount returns a TaxAmount with every field at zero.
func ZeroTaxAmount() TaxAmount {
	return TaxAmount{
		Total:       uint256.NewInt(0),
		Liquidity:   uint256.NewInt(0),
		Marketing:   uint256.NewInt(0),
		Development: uint256.NewInt(0),
		Burn:        uint256.NewInt(0),
		Buyback:     uint256.NewInt(0),
	}
}

// NewTaxAmount builds a TaxAmount from its five components, computing Total.
func NewTaxAmount(liquidity, marketing, development, burn, buyback *uint256.Int) TaxAmount {
	total := new(uint256.Int).Add(liquidity, marketing)
	total = total.Add(total, development)
	total = total.Add(total, burn)
	total = total.Add(total, buyback)
	return TaxAmount{
		Total:       total,
		Liquidity:   liquidity,
		Marketing:   marketing,
		Development: development,
		Burn:        burn,
		Buyback:     buyback,
	}
}

// Add accumulates other into t, returning the updated receiver.
func (t TaxAmount) Add(other TaxAmount) TaxAmount {
	return TaxAmount{
		Total:       new(uint256.Int).Add(t.Total, other.Total),
		Liquidity:   new(uint256.Int).Add(t.Liquidity, other.Liquidity),
		Marketing:   new(uint256.Int).Add(t.Marketing, other.Marketing),
		Development: new(uint256.Int).Add(t.Development, other.Development),
		Burn:        new(uint256.Int).Add(t.Burn, other.Burn),
		Buyback:     new(uint256.Int).Add(t.Buyback, other.Buyback),
	}
}

// Valid reports whether Total equals the sum of the five components.
func (t TaxAmount) Valid() bool {
	sum := new(uint256.Int).Add(t.Liquidity, t.Marketing)
	sum = sum.Add(sum, t.Development)
	sum = sum.Add(sum, t.Burn)
	sum = sum.Add(sum, t.Buyback)
	return sum.Eq(t.Total)
}
