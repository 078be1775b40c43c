// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package governor

import (
	"fmt"

	"github.com/luxfi/math"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/power"
)

// MaxQuorumDenominator bounds quorum fractions so the scaled arithmetic in
// FractionQuorum stays within uint64.
const MaxQuorumDenominator uint64 = 1_000_000

// CountingStrategy decides how ballots accumulate and when a closed tally
// passes.
type CountingStrategy interface {
	// Add accumulates weight into the bucket for support.
	Add(tally *Tally, support Support, weight uint64) error
	// Succeeded reports whether the tally clears the pass margin.
	Succeeded(tally Tally) bool
	// QuorumVotes is the portion of the tally counted toward quorum.
	QuorumVotes(tally Tally) (uint64, error)
}

// QuorumStrategy derives the quorum requirement at a timepoint.
type QuorumStrategy interface {
	Quorum(timepoint uint64) (uint64, error)
}

// BravoCounting is the default strategy: abstentions count toward quorum
// but not toward the for/against margin.
type BravoCounting struct{}

func (BravoCounting) Add(tally *Tally, support Support, weight uint64) error {
	var (
		bucket *uint64
		err    error
	)
	switch support {
	case Against:
		bucket = &tally.Against
	case For:
		bucket = &tally.For
	case Abstain:
		bucket = &tally.Abstain
	default:
		return fmt.Errorf("%w: unknown vote support %d", errs.ErrValidation, support)
	}
	*bucket, err = math.Add64(*bucket, weight)
	if err != nil {
		return fmt.Errorf("%w: tally overflow", errs.ErrValidation)
	}
	return nil
}

func (BravoCounting) Succeeded(tally Tally) bool {
	return tally.For > tally.Against
}

func (BravoCounting) QuorumVotes(tally Tally) (uint64, error) {
	votes, err := math.Add64(tally.For, tally.Abstain)
	if err != nil {
		return 0, fmt.Errorf("%w: quorum votes overflow", errs.ErrValidation)
	}
	return votes, nil
}

// FractionQuorum requires a fixed fraction of the raw total supply at the
// asked timepoint. Individual decay never changes the requirement.
type FractionQuorum struct {
	source      power.Source
	numerator   uint64
	denominator uint64
}

func NewFractionQuorum(source power.Source, numerator, denominator uint64) (*FractionQuorum, error) {
	if denominator == 0 {
		return nil, fmt.Errorf("%w: zero quorum denominator", errs.ErrValidation)
	}
	if denominator > MaxQuorumDenominator {
		return nil, fmt.Errorf("%w: quorum denominator %d above maximum %d", errs.ErrValidation, denominator, MaxQuorumDenominator)
	}
	if numerator > denominator {
		return nil, fmt.Errorf("%w: quorum fraction %d/%d above one", errs.ErrValidation, numerator, denominator)
	}
	return &FractionQuorum{
		source:      source,
		numerator:   numerator,
		denominator: denominator,
	}, nil
}

func (q *FractionQuorum) Quorum(timepoint uint64) (uint64, error) {
	supply, err := q.source.TotalSupply(timepoint)
	if err != nil {
		return 0, err
	}
	// supply*numerator/denominator, decomposed to avoid overflow.
	high, err := math.Mul64(supply/q.denominator, q.numerator)
	if err != nil {
		return 0, fmt.Errorf("%w: quorum overflow", errs.ErrValidation)
	}
	low := supply % q.denominator * q.numerator / q.denominator
	return math.Add64(high, low)
}
