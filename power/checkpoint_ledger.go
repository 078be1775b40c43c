// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package power

import (
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/utils/timer/mockable"
)

var (
	_ Source = (*CheckpointLedger)(nil)

	supplyKey = []byte("supply")
)

type checkpointEntry struct {
	At     uint64 `serialize:"true"`
	Amount uint64 `serialize:"true"`
}

type checkpoints struct {
	Entries []checkpointEntry `serialize:"true"`
}

// at returns the amount recorded at the latest checkpoint not after the
// given timepoint.
func (c *checkpoints) at(timepoint uint64) uint64 {
	for i := len(c.Entries) - 1; i >= 0; i-- {
		if c.Entries[i].At <= timepoint {
			return c.Entries[i].Amount
		}
	}
	return 0
}

// push records amount at timepoint, collapsing same-second writes.
func (c *checkpoints) push(timepoint, amount uint64) {
	if n := len(c.Entries); n > 0 && c.Entries[n-1].At == timepoint {
		c.Entries[n-1].Amount = amount
		return
	}
	c.Entries = append(c.Entries, checkpointEntry{At: timepoint, Amount: amount})
}

// TransferPayload moves funds between accounts when executed from a
// governance batch.
type TransferPayload struct {
	From   ids.ShortID `serialize:"true"`
	To     ids.ShortID `serialize:"true"`
	Amount uint64      `serialize:"true"`
}

// CheckpointLedger is the reference Source: per-account balance history kept
// as checkpoints in its own database partition, answering point-in-time
// queries by walking back to the newest checkpoint at or before the asked
// timepoint. Every balance-changing entry point invokes the decay anchor on
// the affected accounts.
type CheckpointLedger struct {
	log    log.Logger
	clock  *mockable.Clock
	db     database.Database
	anchor Anchor
}

func NewCheckpointLedger(logger log.Logger, clock *mockable.Clock, db database.Database) *CheckpointLedger {
	return &CheckpointLedger{
		log:   logger,
		clock: clock,
		db:    db,
	}
}

// SetAnchor wires the decay hook. Construction order requires this to be
// set after the decay engine exists; transfers before that do not anchor.
func (l *CheckpointLedger) SetAnchor(anchor Anchor) {
	l.anchor = anchor
}

func (l *CheckpointLedger) RawBalance(account ids.ShortID, timepoint uint64) (uint64, error) {
	c, err := l.getCheckpoints(account[:])
	if err != nil {
		return 0, err
	}
	return c.at(timepoint), nil
}

func (l *CheckpointLedger) TotalSupply(timepoint uint64) (uint64, error) {
	c, err := l.getCheckpoints(supplyKey)
	if err != nil {
		return 0, err
	}
	return c.at(timepoint), nil
}

// Mint credits newly issued funds to an account and grows total supply.
func (l *CheckpointLedger) Mint(to ids.ShortID, amount uint64) error {
	now := l.clock.Unix()

	balances, err := l.getCheckpoints(to[:])
	if err != nil {
		return err
	}
	supply, err := l.getCheckpoints(supplyKey)
	if err != nil {
		return err
	}

	newBalance, err := math.Add64(balances.at(now), amount)
	if err != nil {
		return fmt.Errorf("%w: balance overflow", errs.ErrValidation)
	}
	newSupply, err := math.Add64(supply.at(now), amount)
	if err != nil {
		return fmt.Errorf("%w: supply overflow", errs.ErrValidation)
	}

	balances.push(now, newBalance)
	supply.push(now, newSupply)
	if err := l.putCheckpoints(to[:], balances); err != nil {
		return err
	}
	if err := l.putCheckpoints(supplyKey, supply); err != nil {
		return err
	}
	return l.anchorAccount(to)
}

// Transfer moves funds and re-anchors decay for both parties.
func (l *CheckpointLedger) Transfer(from, to ids.ShortID, amount uint64) error {
	now := l.clock.Unix()

	fromCheckpoints, err := l.getCheckpoints(from[:])
	if err != nil {
		return err
	}
	fromBalance := fromCheckpoints.at(now)
	if fromBalance < amount {
		return fmt.Errorf("%w: balance %d below transfer amount %d", errs.ErrResource, fromBalance, amount)
	}

	toCheckpoints, err := l.getCheckpoints(to[:])
	if err != nil {
		return err
	}
	newToBalance, err := math.Add64(toCheckpoints.at(now), amount)
	if err != nil {
		return fmt.Errorf("%w: balance overflow", errs.ErrValidation)
	}

	fromCheckpoints.push(now, fromBalance-amount)
	toCheckpoints.push(now, newToBalance)
	if err := l.putCheckpoints(from[:], fromCheckpoints); err != nil {
		return err
	}
	if err := l.putCheckpoints(to[:], toCheckpoints); err != nil {
		return err
	}

	l.log.Debug("transfer",
		log.Stringer("from", from),
		log.Stringer("to", to),
		log.Uint64("amount", amount),
	)

	if err := l.anchorAccount(from); err != nil {
		return err
	}
	return l.anchorAccount(to)
}

// ApplyGovernance executes a payload targeted at the ledger from an
// executing batch. Only transfers are accepted.
func (l *CheckpointLedger) ApplyGovernance(payloadBytes []byte) error {
	p, err := ParsePayload(payloadBytes)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrValidation, err)
	}
	transfer, ok := p.(*TransferPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected ledger payload %T", errs.ErrValidation, p)
	}
	return l.Transfer(transfer.From, transfer.To, transfer.Amount)
}

func (l *CheckpointLedger) anchorAccount(account ids.ShortID) error {
	if l.anchor == nil {
		return nil
	}
	return l.anchor.Anchor(account)
}

func (l *CheckpointLedger) getCheckpoints(key []byte) (*checkpoints, error) {
	bytes, err := l.db.Get(key)
	switch err {
	case nil:
	case database.ErrNotFound:
		return &checkpoints{}, nil
	default:
		return nil, err
	}
	c := &checkpoints{}
	if _, err := Codec.Unmarshal(bytes, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (l *CheckpointLedger) putCheckpoints(key []byte, c *checkpoints) error {
	bytes, err := Codec.Marshal(CodecVersion, c)
	if err != nil {
		return err
	}
	return l.db.Put(key, bytes)
}
