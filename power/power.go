// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package power defines the collaborators the governance engine reads voting
// weight and authority from: a point-in-time balance source and a capability
// policy. Reference implementations backed by a database partition are
// provided for ledgers that do not bring their own.
package power

import "github.com/luxfi/ids"

// Capability is a named authority an account may hold for a limited time.
type Capability uint8

const (
	// Guardian may cancel proposals at any pre-execution state, except
	// proposals that would touch guardian standing itself.
	Guardian Capability = iota + 1
	// Canceller may cancel waiting timelock operations.
	Canceller
)

func (c Capability) String() string {
	switch c {
	case Guardian:
		return "guardian"
	case Canceller:
		return "canceller"
	default:
		return "unknown"
	}
}

// Source reports historical raw balances and supply. Queries are
// point-in-time: the answer for a past timepoint never changes.
type Source interface {
	RawBalance(account ids.ShortID, timepoint uint64) (uint64, error)
	TotalSupply(timepoint uint64) (uint64, error)
}

// Policy answers capability questions for the governor and timelock.
type Policy interface {
	HasCapability(account ids.ShortID, c Capability) (bool, error)
	CapabilityExpiry(account ids.ShortID, c Capability) (uint64, error)
}

// Anchor is the decay hook a Source must invoke on both parties of every
// balance-changing transfer, so weight decay re-anchors at the most recent
// economically-relevant event.
type Anchor interface {
	Anchor(account ids.ShortID) error
}
