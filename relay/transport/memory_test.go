// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"errors"
	"testing"

	"github.com/luxfi/constants"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/relay"
)

type recordingEndpoint struct {
	received [][]byte
	origins  []ids.ShortID
	err      error
}

func (e *recordingEndpoint) Receive(_ ids.ID, origin ids.ShortID, payload []byte) error {
	if e.err != nil {
		return e.err
	}
	e.origins = append(e.origins, origin)
	e.received = append(e.received, payload)
	return nil
}

func TestDispatchRequiresQuotedFee(t *testing.T) {
	require := require.New(t)

	memory := NewMemory(log.NoLog{}, constants.UnitTestID, 100, 1, 2)
	source := ids.ID{0x01}
	destination := ids.ID{0x02}
	sender := ids.ShortID{0xaa}

	binding := memory.Register(source, sender, &recordingEndpoint{})
	memory.Register(destination, ids.ShortID{0xbb}, &recordingEndpoint{})

	payload := []byte{0x01, 0x02, 0x03}
	options := relay.DeliveryOptions{GasLimit: 10}

	fee, err := binding.QuoteFee(destination, payload, options)
	require.NoError(err)
	require.Equal(uint64(100+3+20), fee)

	err = binding.Dispatch(destination, payload, options, fee-1)
	require.ErrorIs(err, errs.ErrResource)
	require.Zero(memory.PendingCount(source, destination))

	require.NoError(binding.Dispatch(destination, payload, options, fee))
	require.Equal(1, memory.PendingCount(source, destination))
}

func TestFlushDeliversFIFO(t *testing.T) {
	require := require.New(t)

	memory := NewMemory(log.NoLog{}, constants.UnitTestID, 0, 0, 0)
	source := ids.ID{0x01}
	destination := ids.ID{0x02}
	sender := ids.ShortID{0xaa}

	endpoint := &recordingEndpoint{}
	binding := memory.Register(source, sender, &recordingEndpoint{})
	memory.Register(destination, ids.ShortID{0xbb}, endpoint)

	first := []byte{0x01}
	second := []byte{0x02}
	require.NoError(binding.Dispatch(destination, first, relay.DeliveryOptions{}, 0))
	require.NoError(binding.Dispatch(destination, second, relay.DeliveryOptions{}, 0))

	// Nothing moves until Flush.
	require.Empty(endpoint.received)
	require.Equal(2, memory.PendingCount(source, destination))

	require.NoError(memory.Flush())
	require.Equal([][]byte{first, second}, endpoint.received)
	require.Equal([]ids.ShortID{sender, sender}, endpoint.origins)
	require.Zero(memory.PendingCount(source, destination))
}

func TestFlushStopsPathOnEndpointError(t *testing.T) {
	require := require.New(t)

	memory := NewMemory(log.NoLog{}, constants.UnitTestID, 0, 0, 0)
	source := ids.ID{0x01}
	destination := ids.ID{0x02}

	endpoint := &recordingEndpoint{err: errors.New("ledger refused")}
	binding := memory.Register(source, ids.ShortID{0xaa}, &recordingEndpoint{})
	memory.Register(destination, ids.ShortID{0xbb}, endpoint)

	require.NoError(binding.Dispatch(destination, []byte{0x01}, relay.DeliveryOptions{}, 0))
	require.NoError(binding.Dispatch(destination, []byte{0x02}, relay.DeliveryOptions{}, 0))

	require.Error(memory.Flush())
	require.Equal(2, memory.PendingCount(source, destination))

	// Once the endpoint recovers the retry preserves order.
	endpoint.err = nil
	require.NoError(memory.Flush())
	require.Equal([][]byte{{0x01}, {0x02}}, endpoint.received)
}

func TestRedeliveredDuplicatesAreDropped(t *testing.T) {
	require := require.New(t)

	memory := NewMemory(log.NoLog{}, constants.UnitTestID, 0, 0, 0)
	source := ids.ID{0x01}
	destination := ids.ID{0x02}

	endpoint := &recordingEndpoint{}
	binding := memory.Register(source, ids.ShortID{0xaa}, &recordingEndpoint{})
	memory.Register(destination, ids.ShortID{0xbb}, endpoint)

	require.NoError(binding.Dispatch(destination, []byte{0x01}, relay.DeliveryOptions{}, 0))
	require.NoError(memory.Flush())
	require.Len(endpoint.received, 1)

	// At-least-once delivery: the same envelopes come around again and are
	// dropped before the endpoint sees them.
	memory.RedeliverAll()
	require.Equal(1, memory.PendingCount(source, destination))
	require.NoError(memory.Flush())
	require.Len(endpoint.received, 1)
}

func TestNoncesAreMonotonicPerPath(t *testing.T) {
	require := require.New(t)

	memory := NewMemory(log.NoLog{}, constants.UnitTestID, 0, 0, 0)
	source := ids.ID{0x01}
	destinationA := ids.ID{0x02}
	destinationB := ids.ID{0x03}

	binding := memory.Register(source, ids.ShortID{0xaa}, &recordingEndpoint{})
	memory.Register(destinationA, ids.ShortID{0xbb}, &recordingEndpoint{})
	memory.Register(destinationB, ids.ShortID{0xcc}, &recordingEndpoint{})

	require.NoError(binding.Dispatch(destinationA, []byte{0x01}, relay.DeliveryOptions{}, 0))
	require.NoError(binding.Dispatch(destinationA, []byte{0x02}, relay.DeliveryOptions{}, 0))
	require.NoError(binding.Dispatch(destinationB, []byte{0x03}, relay.DeliveryOptions{}, 0))

	memory.mu.Lock()
	defer memory.mu.Unlock()
	queueA := memory.pending[path{source: source, destination: destinationA}]
	queueB := memory.pending[path{source: source, destination: destinationB}]
	require.Equal(uint64(0), queueA[0].message.Nonce)
	require.Equal(uint64(1), queueA[1].message.Nonce)
	require.Equal(uint64(0), queueB[0].message.Nonce)
}
