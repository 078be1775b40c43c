// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport provides an in-process message transport connecting
// governance ledgers in one process: tests, demos, and the CLI simulation.
//
// It honors the collaborator contract the relay depends on: fees are quoted
// per dispatch, nonces are monotonic per (source, destination) path,
// delivery is FIFO per path, and duplicates are dropped before they reach
// an endpoint. Delivery is explicit: nothing moves until Flush, so tests
// can observe the hub and a satellite diverge.
package transport

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/luxfi/warp"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/relay"
)

// Endpoint is a ledger-side receiver, usually a relay.Relay.
type Endpoint interface {
	Receive(sourceChainID ids.ID, origin ids.ShortID, payload []byte) error
}

type path struct {
	source      ids.ID
	destination ids.ID
}

// envelope is one in-flight message: the warp wrapper, the decoded wire
// message, and the sender identity the destination authenticates.
type envelope struct {
	unsigned *warp.UnsignedMessage
	message  *relay.Message
	sender   ids.ShortID
}

func (e *envelope) id() ids.ID {
	return ids.ID(sha256.Sum256(e.unsigned.Payload))
}

type registration struct {
	sender   ids.ShortID
	endpoint Endpoint
}

// Memory is the shared in-process transport. One instance connects every
// ledger of a simulation.
type Memory struct {
	log        log.Logger
	networkID  uint32
	baseFee    uint64
	feePerByte uint64
	feePerGas  uint64

	mu        sync.Mutex
	endpoints map[ids.ID]registration
	pending   map[path][]*envelope
	nonces    map[path]uint64
	delivered set.Set[ids.ID]
	history   []*envelope
}

func NewMemory(logger log.Logger, networkID uint32, baseFee, feePerByte, feePerGas uint64) *Memory {
	return &Memory{
		log:        logger,
		networkID:  networkID,
		baseFee:    baseFee,
		feePerByte: feePerByte,
		feePerGas:  feePerGas,
		endpoints:  make(map[ids.ID]registration),
		pending:    make(map[path][]*envelope),
		nonces:     make(map[path]uint64),
		delivered:  set.NewSet[ids.ID](16),
	}
}

// Register wires a ledger into the transport and returns the handle its
// relay dispatches through.
func (m *Memory) Register(chainID ids.ID, sender ids.ShortID, endpoint Endpoint) *Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[chainID] = registration{sender: sender, endpoint: endpoint}
	return &Binding{
		memory:  m,
		chainID: chainID,
		sender:  sender,
	}
}

// Flush delivers every pending message, FIFO per path. Duplicates are
// dropped before reaching the endpoint; an endpoint error stops the path so
// ordering survives the retry.
func (m *Memory) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p, queue := range m.pending {
		for len(queue) > 0 {
			env := queue[0]
			if !m.delivered.Contains(env.id()) {
				reg, ok := m.endpoints[p.destination]
				if !ok {
					return fmt.Errorf("no endpoint registered for chain %s", p.destination)
				}
				err := reg.endpoint.Receive(env.message.SourceChainID, env.sender, env.message.Payload)
				if err != nil {
					m.pending[p] = queue
					return fmt.Errorf("delivering nonce %d on path %s->%s: %w",
						env.message.Nonce, p.source, p.destination, err)
				}
				m.delivered.Add(env.id())
				m.history = append(m.history, env)
			}
			queue = queue[1:]
		}
		m.pending[p] = nil
	}
	return nil
}

// RedeliverAll re-enqueues every already-delivered message. At-least-once
// delivery means this can happen; Flush drops the duplicates before they
// reach an endpoint.
func (m *Memory) RedeliverAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, env := range m.history {
		p := path{source: env.message.SourceChainID, destination: env.message.DestinationChainID}
		m.pending[p] = append(m.pending[p], env)
	}
}

// PendingCount reports undelivered messages on a path.
func (m *Memory) PendingCount(source, destination ids.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[path{source: source, destination: destination}])
}

func (m *Memory) quote(payload []byte, options relay.DeliveryOptions) uint64 {
	return m.baseFee + m.feePerByte*uint64(len(payload)) + m.feePerGas*options.GasLimit
}

// Binding is one ledger's send handle.
type Binding struct {
	memory  *Memory
	chainID ids.ID
	sender  ids.ShortID
}

var _ relay.Transport = (*Binding)(nil)

func (b *Binding) QuoteFee(destinationChainID ids.ID, payload []byte, options relay.DeliveryOptions) (uint64, error) {
	return b.memory.quote(payload, options), nil
}

// Dispatch accepts a message for asynchronous delivery. The quoted fee must
// be paid in full.
func (b *Binding) Dispatch(destinationChainID ids.ID, payload []byte, options relay.DeliveryOptions, fee uint64) error {
	m := b.memory
	m.mu.Lock()
	defer m.mu.Unlock()

	if quote := m.quote(payload, options); fee < quote {
		return fmt.Errorf("%w: fee %d below quote %d", errs.ErrResource, fee, quote)
	}

	p := path{source: b.chainID, destination: destinationChainID}
	nonce := m.nonces[p]
	m.nonces[p]++

	message := &relay.Message{
		SourceChainID:      b.chainID,
		DestinationChainID: destinationChainID,
		Nonce:              nonce,
		Payload:            payload,
	}
	messageBytes, err := message.Bytes()
	if err != nil {
		return err
	}

	env := &envelope{
		unsigned: &warp.UnsignedMessage{
			NetworkID:     m.networkID,
			SourceChainID: b.chainID,
			Payload:       messageBytes,
		},
		message: message,
		sender:  b.sender,
	}
	m.pending[p] = append(m.pending[p], env)

	m.log.Debug("message accepted",
		log.Stringer("sourceChainID", b.chainID),
		log.Stringer("destinationChainID", destinationChainID),
		log.Uint64("nonce", nonce),
	)
	return nil
}
