// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

// Package taxsystem implements the TaxSystem collaborator the Bundle Engine
// consumes: per-transaction tax calculation plus the burn/buyback/distribute
// settlement steps run once a bundle completes successfully.
package taxsystem

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/l2seq/sequencer/internal/seqtypes"
)

// TaxSystem is the collaborator the bundle engine consumes to tax
// transactions and settle the accumulated amount once a bundle completes:
// apply_taxes, calculate_tax, execute_burn, execute_buyback, distribute_taxes.
type TaxSystem interface {
	// ApplyTaxes returns the transaction as it should be recorded once taxed
	// (currently a clone; a real settlement layer might adjust the payload)
	// plus the TaxAmount it computed.
	ApplyTaxes(tx *seqtypes.Tx, txType seqtypes.TxType) (*seqtypes.Tx, seqtypes.TaxAmount, error)

	// CalculateTax computes the TaxAmount for tx without mutating anything.
	CalculateTax(tx *seqtypes.Tx, txType seqtypes.TxType) (seqtypes.TaxAmount, error)

	ExecuteBurn(amount *uint256.Int) error
	ExecuteBuyback(amount *uint256.Int) error
	DistributeTaxes(liquidity, marketing, development *uint256.Int) error
}

// Rates expresses the tax as basis points (1/10000) of a transaction's
// value, split across the five buckets that must sum back to the total.
type Rates struct {
	LiquidityBps   uint64 `koanf:"liquidity-bps"`
	MarketingBps   uint64 `koanf:"marketing-bps"`
	DevelopmentBps uint64 `koanf:"development-bps"`
	BurnBps        uint64 `koanf:"burn-bps"`
	BuybackBps     uint64 `koanf:"buyback-bps"`
}

// DefaultRates mirrors a typical 2% aggregate tax split evenly across the
// five buckets; callers size this to their own token economics.
func DefaultRates() Rates {
	return Rates{
		LiquidityBps:   40,
		MarketingBps:   40,
		DevelopmentBps: 40,
		BurnBps:        40,
		BuybackBps:     40,
	}
}

// Simple is a deterministic, in-memory TaxSystem suitable for the
// reference binary and for tests: it computes taxes from Rates and tallies
// burned/bought-back/distributed totals rather than calling out to a chain.
type Simple struct {
	rates Rates

	burned       *uint256.Int
	boughtBack   *uint256.Int
	liquidityAcc *uint256.Int
	marketingAcc *uint256.Int
	developmentAcc *uint256.Int
}

// NewSimple returns a Simple TaxSystem using the given rates.
func NewSimple(rates Rates) *Simple {
	return &Simple{
		rates:          rates,
		burned:         uint256.NewInt(0),
		boughtBack:     uint256.NewInt(0),
		liquidityAcc:   uint256.NewInt(0),
		marketingAcc:   uint256.NewInt(0),
		developmentAcc: uint256.NewInt(0),
	}
}

func bpsOf(value *uint256.Int, bps uint64) *uint256.Int {
	if value == nil {
		return uint256.NewInt(0)
	}
	product := new(uint256.Int).Mul(value, uint256.NewInt(bps))
	return product.Div(product, uint256.NewInt(10000))
}

func (s *Simple) CalculateTax(tx *seqtypes.Tx, txType seqtypes.TxType) (seqtypes.TaxAmount, error) {
	if tx == nil || tx.Value == nil {
		return seqtypes.ZeroTaxAmount(), nil
	}
	liquidity := bpsOf(tx.Value, s.rates.LiquidityBps)
	marketing := bpsOf(tx.Value, s.rates.MarketingBps)
	development := bpsOf(tx.Value, s.rates.DevelopmentBps)
	burn := bpsOf(tx.Value, s.rates.BurnBps)
	buyback := bpsOf(tx.Value, s.rates.BuybackBps)
	return seqtypes.NewTaxAmount(liquidity, marketing, development, burn, buyback), nil
}

func (s *Simple) ApplyTaxes(tx *seqtypes.Tx, txType seqtypes.TxType) (*seqtypes.Tx, seqtypes.TaxAmount, error) {
	amount, err := s.CalculateTax(tx, txType)
	if err != nil {
		return nil, seqtypes.TaxAmount{}, err
	}
	return tx.Clone(), amount, nil
}

func (s *Simple) ExecuteBurn(amount *uint256.Int) error {
	if amount == nil {
		return nil
	}
	s.burned = new(uint256.Int).Add(s.burned, amount)
	return nil
}

func (s *Simple) ExecuteBuyback(amount *uint256.Int) error {
	if amount == nil {
		return nil
	}
	s.boughtBack = new(uint256.Int).Add(s.boughtBack, amount)
	return nil
}

func (s *Simple) DistributeTaxes(liquidity, marketing, development *uint256.Int) error {
	if liquidity == nil || marketing == nil || development == nil {
		return errors.New("taxsystem: nil distribution amount")
	}
	s.liquidityAcc = new(uint256.Int).Add(s.liquidityAcc, liquidity)
	s.marketingAcc = new(uint256.Int).Add(s.marketingAcc, marketing)
	s.developmentAcc = new(uint256.Int).Add(s.developmentAcc, development)
	return nil
}

// Totals reports accumulated burn/buyback/distribution amounts, mainly for
// tests and status reporting.
func (s *Simple) Totals() (burned, boughtBack, liquidity, marketing, development *uint256.Int) {
	return new(uint256.Int).Set(s.burned),
		new(uint256.Int).Set(s.boughtBack),
		new(uint256.Int).Set(s.liquidityAcc),
		new(uint256.Int).Set(s.marketingAcc),
		new(uint256.Int).Set(s.developmentAcc)
}

// Settle runs the burn → buyback → distribute sequence once a bundle
// completes successfully with a non-zero accumulated TaxAmount. Errors from
// any step are returned so the caller can log them without flipping bundle
// status: tax settlement failures are isolated and never fatal to a bundle.
func Settle(ts TaxSystem, taxes seqtypes.TaxAmount) error {
	if !taxes.Valid() {
		return errors.New("taxsystem: invalid accumulated tax amount")
	}
	if err := ts.ExecuteBurn(taxes.Burn); err != nil {
		return errors.Wrap(err, "execute burn")
	}
	if err := ts.ExecuteBuyback(taxes.Buyback); err != nil {
		return errors.Wrap(err, "execute buyback")
	}
	if err := ts.DistributeTaxes(taxes.Liquidity, taxes.Marketing, taxes.Development); err != nil {
		return errors.Wrap(err, "distribute taxes")
	}
	return nil
}
