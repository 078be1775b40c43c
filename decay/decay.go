// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package decay converts raw balances into time-discounted voting weight.
//
// Each account carries an anchored factor in [0,1] and the timestamp of its
// last anchor. Between anchors the factor only decays; an anchor
// crystallizes the currently-decayed value as the new baseline. Anchoring
// never restores weight by itself. Accounts that were never anchored hold a
// full factor: the decay clock starts at the first anchor, and the balance
// source anchors on every transfer, so funding an account starts its clock.
//
// Factors are parts-per-billion integers. All arithmetic is integral and
// overflow-checked, so two ledgers evaluating the same state at the same
// timepoint compute bit-identical weights.
package decay

import (
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/power"
	"github.com/luxfi/governance/utils/timer/mockable"
)

// FactorScale is the fixed-point denominator: a factor of FactorScale is
// 1.0, i.e. no discount.
const FactorScale uint64 = 1_000_000_000

// MaxFreeWindow bounds the configurable decay-free window.
const MaxFreeWindow uint64 = 10 * 365 * 24 * 60 * 60

var _ power.Anchor = (*Engine)(nil)

// Function selects the decay curve.
type Function uint8

const (
	Linear Function = iota
	Exponential
)

func (f Function) String() string {
	switch f {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// State is the per-account decay record. It is created lazily on first
// anchor and never deleted.
type State struct {
	// LastAnchorTime is the unix second of the most recent anchor.
	LastAnchorTime uint64 `serialize:"true"`
	// AnchoredFactor is the parts-per-billion factor crystallized at the
	// last anchor.
	AnchoredFactor uint64 `serialize:"true"`
	// Function is the decay curve applied past the free window.
	Function Function `serialize:"true"`
	// RatePerSecond is the parts-per-billion decay per second.
	RatePerSecond uint64 `serialize:"true"`
	// FreeWindow is the number of seconds after an anchor during which no
	// decay accrues.
	FreeWindow uint64 `serialize:"true"`
}

// Config carries the defaults applied to accounts that were never anchored.
type Config struct {
	Function      Function `json:"function"`
	RatePerSecond uint64   `json:"ratePerSecond"`
	FreeWindow    uint64   `json:"freeWindow"`
}

func (c *Config) Validate() error {
	if c.RatePerSecond > FactorScale {
		return fmt.Errorf("%w: decay rate %d above scale %d", errs.ErrValidation, c.RatePerSecond, FactorScale)
	}
	if c.FreeWindow > MaxFreeWindow {
		return fmt.Errorf("%w: decay-free window %d above maximum %d", errs.ErrValidation, c.FreeWindow, MaxFreeWindow)
	}
	if c.Function != Linear && c.Function != Exponential {
		return fmt.Errorf("%w: unknown decay function %d", errs.ErrValidation, c.Function)
	}
	return nil
}

// Engine owns the decay registry. It is the only writer of decay state.
type Engine struct {
	log    log.Logger
	clock  *mockable.Clock
	db     database.Database
	source power.Source
	cfg    Config
}

func New(
	logger log.Logger,
	clock *mockable.Clock,
	db database.Database,
	source power.Source,
	cfg Config,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log:    logger,
		clock:  clock,
		db:     db,
		source: source,
		cfg:    cfg,
	}, nil
}

// RawFactor returns the account's parts-per-billion decay factor as of the
// given timepoint. Accounts that were never anchored hold a full factor.
func (e *Engine) RawFactor(account ids.ShortID, asOf uint64) (uint64, error) {
	state, err := e.getState(account, asOf)
	if err != nil {
		return 0, err
	}
	return factorAt(state, asOf), nil
}

// EffectiveVotingPower is the account's raw balance at the timepoint
// discounted by its decay factor. Nothing is stored; the weight is derived
// on every call.
func (e *Engine) EffectiveVotingPower(account ids.ShortID, asOf uint64) (uint64, error) {
	raw, err := e.source.RawBalance(account, asOf)
	if err != nil {
		return 0, err
	}
	factor, err := e.RawFactor(account, asOf)
	if err != nil {
		return 0, err
	}
	return scaleByFactor(raw, factor)
}

// Anchor crystallizes the account's currently-decayed factor as its new
// baseline and restarts the free window. Invoked on every consequential
// read of the account's weight and on every balance change.
func (e *Engine) Anchor(account ids.ShortID) error {
	now := e.clock.Unix()
	state, err := e.getState(account, now)
	if err != nil {
		return err
	}

	state.AnchoredFactor = factorAt(state, now)
	state.LastAnchorTime = now
	if err := e.putState(account, state); err != nil {
		return err
	}

	e.log.Debug("anchored decay state",
		log.Stringer("account", account),
		log.Uint64("factor", state.AnchoredFactor),
		log.Uint64("at", now),
	)
	return nil
}

func factorAt(s *State, asOf uint64) uint64 {
	if asOf <= s.LastAnchorTime {
		return s.AnchoredFactor
	}
	elapsed := asOf - s.LastAnchorTime
	if elapsed <= s.FreeWindow {
		return s.AnchoredFactor
	}
	decaying := elapsed - s.FreeWindow

	switch s.Function {
	case Exponential:
		// anchored * (1 - rate)^decaying, evaluated in the ppb scale.
		return ppbMul(s.AnchoredFactor, ppbPow(FactorScale-s.RatePerSecond, decaying))
	default:
		// Linear: anchored - rate*decaying, floored at zero.
		if s.RatePerSecond == 0 {
			return s.AnchoredFactor
		}
		if decaying >= s.AnchoredFactor/s.RatePerSecond {
			return 0
		}
		return s.AnchoredFactor - s.RatePerSecond*decaying
	}
}

// ppbMul multiplies two parts-per-billion values. Both operands are at most
// FactorScale, so the intermediate product fits in a uint64.
func ppbMul(a, b uint64) uint64 {
	return a * b / FactorScale
}

// ppbPow raises a parts-per-billion base to an integer power by squaring.
func ppbPow(base uint64, exp uint64) uint64 {
	result := FactorScale
	for exp > 0 {
		if exp&1 == 1 {
			result = ppbMul(result, base)
		}
		base = ppbMul(base, base)
		exp >>= 1
		if result == 0 {
			return 0
		}
	}
	return result
}

// scaleByFactor computes amount*factor/FactorScale without overflowing:
// the quotient and remainder of the amount are scaled separately.
func scaleByFactor(amount, factor uint64) (uint64, error) {
	high, err := math.Mul64(amount/FactorScale, factor)
	if err != nil {
		return 0, fmt.Errorf("%w: weight overflow", errs.ErrValidation)
	}
	low := amount % FactorScale * factor / FactorScale
	return math.Add64(high, low)
}

// getState loads the account's record, or synthesizes the lazy default: a
// full factor anchored at the asked timepoint.
func (e *Engine) getState(account ids.ShortID, asOf uint64) (*State, error) {
	bytes, err := e.db.Get(account[:])
	switch err {
	case nil:
	case database.ErrNotFound:
		return &State{
			LastAnchorTime: asOf,
			AnchoredFactor: FactorScale,
			Function:       e.cfg.Function,
			RatePerSecond:  e.cfg.RatePerSecond,
			FreeWindow:     e.cfg.FreeWindow,
		}, nil
	default:
		return nil, err
	}
	state := &State{}
	if _, err := Codec.Unmarshal(bytes, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (e *Engine) putState(account ids.ShortID, state *State) error {
	bytes, err := Codec.Marshal(CodecVersion, state)
	if err != nil {
		return err
	}
	return e.db.Put(account[:], bytes)
}
