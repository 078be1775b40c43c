// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package power

import (
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/utils/timer/mockable"
)

const testEpoch uint64 = 1_700_000_000

type recordingAnchor struct {
	anchored []ids.ShortID
}

func (a *recordingAnchor) Anchor(account ids.ShortID) error {
	a.anchored = append(a.anchored, account)
	return nil
}

func newTestLedger(t *testing.T) (*CheckpointLedger, *mockable.Clock, *recordingAnchor) {
	clock := &mockable.Clock{}
	clock.Set(time.Unix(int64(testEpoch), 0))

	anchor := &recordingAnchor{}
	ledger := NewCheckpointLedger(log.NoLog{}, clock, memdb.New())
	ledger.SetAnchor(anchor)
	return ledger, clock, anchor
}

func TestMintGrowsBalanceAndSupply(t *testing.T) {
	require := require.New(t)

	ledger, _, anchor := newTestLedger(t)
	account := ids.GenerateTestShortID()

	require.NoError(ledger.Mint(account, 1_000))
	require.NoError(ledger.Mint(account, 500))

	balance, err := ledger.RawBalance(account, testEpoch)
	require.NoError(err)
	require.Equal(uint64(1_500), balance)

	supply, err := ledger.TotalSupply(testEpoch)
	require.NoError(err)
	require.Equal(uint64(1_500), supply)

	require.Equal([]ids.ShortID{account, account}, anchor.anchored)
}

func TestPointInTimeQueries(t *testing.T) {
	require := require.New(t)

	ledger, clock, _ := newTestLedger(t)
	account := ids.GenerateTestShortID()

	require.NoError(ledger.Mint(account, 1_000))

	clock.Advance(100 * time.Second)
	require.NoError(ledger.Mint(account, 2_000))

	// Before the first checkpoint the balance is zero; answers for past
	// timepoints never change after later writes.
	balance, err := ledger.RawBalance(account, testEpoch-1)
	require.NoError(err)
	require.Zero(balance)

	balance, err = ledger.RawBalance(account, testEpoch)
	require.NoError(err)
	require.Equal(uint64(1_000), balance)

	balance, err = ledger.RawBalance(account, testEpoch+99)
	require.NoError(err)
	require.Equal(uint64(1_000), balance)

	balance, err = ledger.RawBalance(account, testEpoch+100)
	require.NoError(err)
	require.Equal(uint64(3_000), balance)
}

func TestTransfer(t *testing.T) {
	require := require.New(t)

	ledger, _, anchor := newTestLedger(t)
	from := ids.GenerateTestShortID()
	to := ids.GenerateTestShortID()

	require.NoError(ledger.Mint(from, 1_000))
	require.NoError(ledger.Transfer(from, to, 400))

	fromBalance, err := ledger.RawBalance(from, testEpoch)
	require.NoError(err)
	require.Equal(uint64(600), fromBalance)

	toBalance, err := ledger.RawBalance(to, testEpoch)
	require.NoError(err)
	require.Equal(uint64(400), toBalance)

	// Supply is unchanged and both parties re-anchored.
	supply, err := ledger.TotalSupply(testEpoch)
	require.NoError(err)
	require.Equal(uint64(1_000), supply)
	require.Equal([]ids.ShortID{from, from, to}, anchor.anchored)
}

func TestTransferInsufficientBalance(t *testing.T) {
	require := require.New(t)

	ledger, _, _ := newTestLedger(t)
	from := ids.GenerateTestShortID()
	to := ids.GenerateTestShortID()

	require.NoError(ledger.Mint(from, 100))

	err := ledger.Transfer(from, to, 101)
	require.ErrorIs(err, errs.ErrResource)

	balance, err := ledger.RawBalance(from, testEpoch)
	require.NoError(err)
	require.Equal(uint64(100), balance)
}

func TestApplyGovernanceTransfer(t *testing.T) {
	require := require.New(t)

	ledger, _, _ := newTestLedger(t)
	from := ids.GenerateTestShortID()
	to := ids.GenerateTestShortID()

	require.NoError(ledger.Mint(from, 1_000))

	payload, err := MarshalPayload(&TransferPayload{
		From:   from,
		To:     to,
		Amount: 250,
	})
	require.NoError(err)
	require.NoError(ledger.ApplyGovernance(payload))

	balance, err := ledger.RawBalance(to, testEpoch)
	require.NoError(err)
	require.Equal(uint64(250), balance)
}

func TestApplyGovernanceRejectsForeignPayload(t *testing.T) {
	require := require.New(t)

	ledger, _, _ := newTestLedger(t)

	payload, err := MarshalPayload(&GrantPayload{
		Account:    ids.GenerateTestShortID(),
		Capability: Guardian,
		Expiry:     testEpoch + 1,
	})
	require.NoError(err)

	err = ledger.ApplyGovernance(payload)
	require.ErrorIs(err, errs.ErrValidation)
}
