// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/governance/timelock"
)

// Payload is the governance content of a cross-chain message: the batch, the
// description hash it commits to, and the proposal id the sender derived.
// The receiver re-derives the id and rejects mismatches.
type Payload struct {
	ProposalID      ids.ID          `serialize:"true"`
	Calls           []timelock.Call `serialize:"true"`
	DescriptionHash ids.ID          `serialize:"true"`
}

func (p *Payload) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, p)
}

func ParsePayload(bytes []byte) (*Payload, error) {
	p := &Payload{}
	if _, err := Codec.Unmarshal(bytes, p); err != nil {
		return nil, fmt.Errorf("parsing relay payload: %w", err)
	}
	return p, nil
}

// Message is the wire envelope owned by the transport: the path, the
// path-scoped monotonic nonce, and the serialized governance payload.
type Message struct {
	SourceChainID      ids.ID `serialize:"true"`
	DestinationChainID ids.ID `serialize:"true"`
	Nonce              uint64 `serialize:"true"`
	Payload            []byte `serialize:"true"`
}

func (m *Message) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, m)
}

func ParseMessage(bytes []byte) (*Message, error) {
	m := &Message{}
	if _, err := Codec.Unmarshal(bytes, m); err != nil {
		return nil, fmt.Errorf("parsing relay message: %w", err)
	}
	return m, nil
}

// DeliveryOptions tunes a dispatch. The transport prices them into its fee
// quote.
type DeliveryOptions struct {
	GasLimit uint64 `serialize:"true"`
}

// SendPayload instructs the relay, when targeted from an executing hub
// batch, to dispatch the contained batch to a peer ledger. The attached
// call value funds the transport fee.
type SendPayload struct {
	DestinationChainID ids.ID          `serialize:"true"`
	Calls              []timelock.Call `serialize:"true"`
	DescriptionHash    ids.ID          `serialize:"true"`
	Options            DeliveryOptions `serialize:"true"`
}

// outboxEntry is a dispatch staged during batch execution and flushed to
// the transport only after the enclosing database version commits, so an
// aborted batch never leaks a message.
type outboxEntry struct {
	DestinationChainID ids.ID          `serialize:"true"`
	Payload            []byte          `serialize:"true"`
	Options            DeliveryOptions `serialize:"true"`
	Fee                uint64          `serialize:"true"`
}
