// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package governor

import (
	"crypto/sha256"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/governance/timelock"
)

// ProposalState is the derived lifecycle position of a proposal. Nothing is
// stored as a state; State derives it from the stored record, the clock,
// and the timelock.
type ProposalState uint8

const (
	Pending ProposalState = iota
	Active
	Succeeded
	Defeated
	Queued
	Executed
	CanceledState
)

func (s ProposalState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Succeeded:
		return "succeeded"
	case Defeated:
		return "defeated"
	case Queued:
		return "queued"
	case Executed:
		return "executed"
	case CanceledState:
		return "canceled"
	default:
		return "unknown"
	}
}

// Support is a ballot choice.
type Support uint8

const (
	Against Support = iota
	For
	Abstain
)

// Tally accumulates weighted votes per bucket. Mutated only while the
// proposal is active, and at most once per voter.
type Tally struct {
	Against uint64 `serialize:"true"`
	For     uint64 `serialize:"true"`
	Abstain uint64 `serialize:"true"`
}

// Proposal is the stored governance record.
type Proposal struct {
	Proposer        ids.ShortID     `serialize:"true"`
	Calls           []timelock.Call `serialize:"true"`
	DescriptionHash ids.ID          `serialize:"true"`
	VoteStart       uint64          `serialize:"true"`
	VoteEnd         uint64          `serialize:"true"`
	Tally           Tally           `serialize:"true"`

	// GuardianExpirySensitive marks proposals whose batch would modify
	// guardian standing. Guardians cannot cancel these directly.
	GuardianExpirySensitive bool `serialize:"true"`

	Canceled bool   `serialize:"true"`
	Queued   bool   `serialize:"true"`
	ETA      uint64 `serialize:"true"`
}

// Receipt records one cast ballot.
type Receipt struct {
	Support Support `serialize:"true"`
	Weight  uint64  `serialize:"true"`
}

// CancelPayload cancels a proposal when executed from a governance batch.
// This is the only cancellation path open for guardian-expiry-sensitive
// proposals.
type CancelPayload struct {
	ProposalID ids.ID `serialize:"true"`
}

// Payload is a governance instruction addressed to the governor itself.
type Payload interface{}

func MarshalPayload(p Payload) ([]byte, error) {
	return Codec.Marshal(CodecVersion, &p)
}

func ParsePayload(bytes []byte) (Payload, error) {
	var p Payload
	if _, err := Codec.Unmarshal(bytes, &p); err != nil {
		return nil, fmt.Errorf("parsing governor payload: %w", err)
	}
	return p, nil
}

// proposalPreimage is the content a proposal id commits to. The same
// preimage hashed on any ledger yields the same id, which is what lets the
// hub predict the satellite-side id before the message is delivered.
type proposalPreimage struct {
	Calls           []timelock.Call `serialize:"true"`
	DescriptionHash ids.ID          `serialize:"true"`
}

// ProposalID derives the deterministic, chain-agnostic proposal id.
func ProposalID(calls []timelock.Call, descriptionHash ids.ID) (ids.ID, error) {
	bytes, err := Codec.Marshal(CodecVersion, &proposalPreimage{
		Calls:           calls,
		DescriptionHash: descriptionHash,
	})
	if err != nil {
		return ids.Empty, fmt.Errorf("serializing proposal preimage: %w", err)
	}
	return ids.ID(sha256.Sum256(bytes)), nil
}

// HashDescription maps a human-readable proposal description to the hash
// the proposal id commits to.
func HashDescription(description string) ids.ID {
	return ids.ID(sha256.Sum256([]byte(description)))
}

// TimelockSalt derives the timelock salt from the scheduling governor's
// address and the proposal's description hash. Each ledger salts with its
// own governor address, so hub and satellite operations for the same
// proposal content do not collide.
func TimelockSalt(governor ids.ShortID, descriptionHash ids.ID) ids.ID {
	salt := descriptionHash
	for i := 0; i < len(governor); i++ {
		salt[i] ^= governor[i]
	}
	return salt
}
