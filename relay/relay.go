// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relay moves approved governance batches between ledgers.
//
// The sending side runs only inside the hub's proposal-execution context:
// it derives the chain-agnostic destination proposal id, verifies the
// attached fee against the transport's quote, and stages the message in an
// outbox the ledger flushes after the batch commits. The receiving side
// authenticates the configured peer, re-derives the id, and auto-schedules
// the batch into the local timelock without a vote.
package relay

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/governor"
	"github.com/luxfi/governance/metrics"
	"github.com/luxfi/governance/timelock"
)

// Transport is the external message-passing collaborator. Delivery is
// at-least-once and FIFO per (source, destination) path; duplicates and
// reordering are the transport's problem, not the relay's.
type Transport interface {
	QuoteFee(destinationChainID ids.ID, payload []byte, options DeliveryOptions) (uint64, error)
	Dispatch(destinationChainID ids.ID, payload []byte, options DeliveryOptions, fee uint64) error
}

// Relay is one ledger's endpoint of the governance relay.
type Relay struct {
	log     log.Logger
	metrics *metrics.Metrics

	chainID    ids.ID
	hubChainID ids.ID
	// governorAddr is the local governor: the only authorized send origin
	// and the address salting auto-scheduled operations.
	governorAddr ids.ShortID
	// peers pins, per source chain, the one remote governor address whose
	// messages are trusted. Symmetric configuration, no discovery.
	peers map[ids.ID]ids.ShortID

	transport Transport
	guard     *timelock.Guard
	outbox    database.Database
}

func New(
	logger log.Logger,
	m *metrics.Metrics,
	chainID ids.ID,
	hubChainID ids.ID,
	governorAddr ids.ShortID,
	peers map[ids.ID]ids.ShortID,
	transport Transport,
	guard *timelock.Guard,
	outbox database.Database,
) *Relay {
	return &Relay{
		log:          logger,
		metrics:      m,
		chainID:      chainID,
		hubChainID:   hubChainID,
		governorAddr: governorAddr,
		peers:        peers,
		transport:    transport,
		guard:        guard,
		outbox:       outbox,
	}
}

// ApplyGovernance handles a batch call targeting the relay: the only way to
// reach Send. The call's origin is the executing governor by construction,
// so reaching this method is itself the authorization.
func (r *Relay) ApplyGovernance(call timelock.Call) error {
	var payload SendPayload
	if _, err := Codec.Unmarshal(call.Payload, &payload); err != nil {
		return fmt.Errorf("%w: undecodable relay payload: %s", errs.ErrValidation, err)
	}
	return r.send(payload, call.Value)
}

// send stages a cross-chain dispatch. Fails atomically before anything is
// staged if the attached fee does not cover the transport's quote.
func (r *Relay) send(p SendPayload, attachedFee uint64) error {
	if r.chainID != r.hubChainID {
		return fmt.Errorf("%w: chain %s is not the governance hub %s", errs.ErrAuthorization, r.chainID, r.hubChainID)
	}
	if len(p.Calls) == 0 {
		return fmt.Errorf("%w: empty batch", errs.ErrValidation)
	}
	if p.DestinationChainID == r.chainID {
		return fmt.Errorf("%w: destination is the local chain", errs.ErrValidation)
	}

	// The id the destination will derive, predictable before delivery.
	destinationProposalID, err := governor.ProposalID(p.Calls, p.DescriptionHash)
	if err != nil {
		return err
	}

	payloadBytes, err := (&Payload{
		ProposalID:      destinationProposalID,
		Calls:           p.Calls,
		DescriptionHash: p.DescriptionHash,
	}).Bytes()
	if err != nil {
		return err
	}

	fee, err := r.transport.QuoteFee(p.DestinationChainID, payloadBytes, p.Options)
	if err != nil {
		return err
	}
	if attachedFee < fee {
		return fmt.Errorf("%w: attached fee %d below quote %d", errs.ErrResource, attachedFee, fee)
	}

	if err := r.pushOutbox(&outboxEntry{
		DestinationChainID: p.DestinationChainID,
		Payload:            payloadBytes,
		Options:            p.Options,
		Fee:                fee,
	}); err != nil {
		return err
	}

	r.metrics.RelaysSent.Inc()
	r.log.Info("cross-chain batch staged",
		log.Stringer("destinationChainID", p.DestinationChainID),
		log.Stringer("destinationProposalID", destinationProposalID),
		log.Uint64("fee", fee),
	)
	return nil
}

// FlushOutbox hands every staged message to the transport, in staging
// order. The ledger calls this after the enclosing database version
// commits; a dispatch failure here is logged and the entry retained for the
// next flush.
func (r *Relay) FlushOutbox() error {
	iter := r.outbox.NewIterator()
	defer iter.Release()

	for iter.Next() {
		entry := &outboxEntry{}
		if _, err := Codec.Unmarshal(iter.Value(), entry); err != nil {
			return err
		}
		if err := r.transport.Dispatch(entry.DestinationChainID, entry.Payload, entry.Options, entry.Fee); err != nil {
			r.log.Warn("dispatch failed, message retained",
				log.Stringer("destinationChainID", entry.DestinationChainID),
				log.Err(err),
			)
			return err
		}
		if err := r.outbox.Delete(iter.Key()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Receive accepts a message from the transport. The origin must be the
// pinned peer for the source chain, the payload's id must re-derive
// locally, and the fresh operation id must not collide with an existing
// one: re-scheduling fails loudly rather than double-executing.
func (r *Relay) Receive(sourceChainID ids.ID, origin ids.ShortID, payloadBytes []byte) error {
	trusted, ok := r.peers[sourceChainID]
	if !ok || trusted != origin {
		r.metrics.RelaysRejected.Inc()
		return fmt.Errorf("%w: %s is not the pinned peer for chain %s", errs.ErrAuthorization, origin, sourceChainID)
	}

	payload, err := ParsePayload(payloadBytes)
	if err != nil {
		r.metrics.RelaysRejected.Inc()
		return fmt.Errorf("%w: %s", errs.ErrValidation, err)
	}

	derived, err := governor.ProposalID(payload.Calls, payload.DescriptionHash)
	if err != nil {
		return err
	}
	if derived != payload.ProposalID {
		r.metrics.RelaysRejected.Inc()
		return fmt.Errorf("%w: payload id %s does not re-derive (%s)", errs.ErrValidation, payload.ProposalID, derived)
	}

	r.log.Info("cross-chain batch received",
		log.Stringer("sourceChainID", sourceChainID),
		log.Stringer("proposalID", payload.ProposalID),
	)

	salt := governor.TimelockSalt(r.governorAddr, payload.DescriptionHash)
	opID, err := r.guard.Schedule(payload.Calls, ids.Empty, salt, r.guard.MinDelay())
	if err != nil {
		return err
	}

	r.metrics.RelaysReceived.Inc()
	r.log.Info("cross-chain batch queued",
		log.Stringer("proposalID", payload.ProposalID),
		log.Stringer("operationID", opID),
	)
	return nil
}

func (r *Relay) pushOutbox(entry *outboxEntry) error {
	bytes, err := Codec.Marshal(CodecVersion, entry)
	if err != nil {
		return err
	}

	// Keys are a big-endian counter so flush order is staging order.
	iter := r.outbox.NewIterator()
	var next uint64
	for iter.Next() {
		next = binary.BigEndian.Uint64(iter.Key()) + 1
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, next)
	return r.outbox.Put(key, bytes)
}
