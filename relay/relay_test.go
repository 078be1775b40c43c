// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/governor"
	"github.com/luxfi/governance/metrics"
	"github.com/luxfi/governance/power"
	"github.com/luxfi/governance/timelock"
	"github.com/luxfi/governance/utils/timer/mockable"
)

const (
	testEpoch    uint64 = 1_700_000_000
	testMinDelay uint64 = 300
)

var (
	testHubChainID = ids.ID{0x01}
	testSatChainID = ids.ID{0x02}
	testGovernor   = ids.ShortID{0x02, 0x01}
)

type stubTransport struct {
	fee        uint64
	dispatched [][]byte
	err        error
}

func (s *stubTransport) QuoteFee(ids.ID, []byte, DeliveryOptions) (uint64, error) {
	return s.fee, nil
}

func (s *stubTransport) Dispatch(_ ids.ID, payload []byte, _ DeliveryOptions, _ uint64) error {
	if s.err != nil {
		return s.err
	}
	s.dispatched = append(s.dispatched, payload)
	return nil
}

type openPolicy struct{}

func (openPolicy) HasCapability(ids.ShortID, power.Capability) (bool, error) {
	return false, nil
}

func (openPolicy) CapabilityExpiry(ids.ShortID, power.Capability) (uint64, error) {
	return 0, nil
}

func newTestRelay(t *testing.T, chainID ids.ID) (*Relay, *stubTransport, *timelock.Guard) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(int64(testEpoch), 0))
	guard := timelock.New(log.NoLog{}, clock, memdb.New(), openPolicy{}, testMinDelay)

	m, err := metrics.New(metric.NewRegistry())
	require.NoError(err)

	transport := &stubTransport{fee: 100}
	r := New(
		log.NoLog{},
		m,
		chainID,
		testHubChainID,
		testGovernor,
		map[ids.ID]ids.ShortID{testHubChainID: testGovernor, testSatChainID: testGovernor},
		transport,
		guard,
		memdb.New(),
	)
	return r, transport, guard
}

func testSend(destination ids.ID) SendPayload {
	return SendPayload{
		DestinationChainID: destination,
		Calls:              []timelock.Call{{Target: ids.ShortID{0x02, 0x03}, Payload: []byte{0x01}}},
		DescriptionHash:    governor.HashDescription("relayed"),
	}
}

func TestSendOnlyFromHub(t *testing.T) {
	require := require.New(t)

	r, _, _ := newTestRelay(t, testSatChainID)
	err := r.send(testSend(testHubChainID), 1_000)
	require.ErrorIs(err, errs.ErrAuthorization)
}

func TestSendValidation(t *testing.T) {
	require := require.New(t)

	r, _, _ := newTestRelay(t, testHubChainID)

	empty := testSend(testSatChainID)
	empty.Calls = nil
	err := r.send(empty, 1_000)
	require.ErrorIs(err, errs.ErrValidation)

	err = r.send(testSend(testHubChainID), 1_000)
	require.ErrorIs(err, errs.ErrValidation)
}

func TestSendRequiresFee(t *testing.T) {
	require := require.New(t)

	r, transport, _ := newTestRelay(t, testHubChainID)

	err := r.send(testSend(testSatChainID), transport.fee-1)
	require.ErrorIs(err, errs.ErrResource)

	require.NoError(r.send(testSend(testSatChainID), transport.fee))

	// Nothing reaches the transport until the outbox flushes.
	require.Empty(transport.dispatched)
	require.NoError(r.FlushOutbox())
	require.Len(transport.dispatched, 1)

	// A flushed entry is gone.
	require.NoError(r.FlushOutbox())
	require.Len(transport.dispatched, 1)
}

func TestFlushRetainsOnDispatchFailure(t *testing.T) {
	require := require.New(t)

	r, transport, _ := newTestRelay(t, testHubChainID)
	require.NoError(r.send(testSend(testSatChainID), transport.fee))

	transport.err = errors.New("bridge down")
	require.Error(r.FlushOutbox())
	require.Empty(transport.dispatched)

	// The staged message survives for the next flush.
	transport.err = nil
	require.NoError(r.FlushOutbox())
	require.Len(transport.dispatched, 1)
}

func TestReceiveSchedulesOperation(t *testing.T) {
	require := require.New(t)

	r, _, guard := newTestRelay(t, testSatChainID)

	send := testSend(testSatChainID)
	proposalID, err := governor.ProposalID(send.Calls, send.DescriptionHash)
	require.NoError(err)
	payloadBytes, err := (&Payload{
		ProposalID:      proposalID,
		Calls:           send.Calls,
		DescriptionHash: send.DescriptionHash,
	}).Bytes()
	require.NoError(err)

	require.NoError(r.Receive(testHubChainID, testGovernor, payloadBytes))

	salt := governor.TimelockSalt(testGovernor, send.DescriptionHash)
	opID, err := timelock.OperationID(send.Calls, ids.Empty, salt)
	require.NoError(err)
	status, err := guard.Status(opID)
	require.NoError(err)
	require.Equal(timelock.Waiting, status)

	eta, err := guard.ETA(opID)
	require.NoError(err)
	require.Equal(testEpoch+testMinDelay, eta)
}

func TestReceiveRejectsGarbage(t *testing.T) {
	require := require.New(t)

	r, _, _ := newTestRelay(t, testSatChainID)
	err := r.Receive(testHubChainID, testGovernor, []byte("garbage"))
	require.ErrorIs(err, errs.ErrValidation)
}
