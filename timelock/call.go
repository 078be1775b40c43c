// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package timelock

import (
	"crypto/sha256"
	"fmt"

	"github.com/luxfi/ids"
)

// Call is one instruction of a governance batch: a target address on the
// local ledger, attached native value, and an opaque payload the target
// decodes.
type Call struct {
	Target  ids.ShortID `serialize:"true"`
	Value   uint64      `serialize:"true"`
	Payload []byte      `serialize:"true"`
}

// operationPreimage is the content an operation id commits to. Serialized
// with the package codec and hashed, it yields the same id on any ledger.
type operationPreimage struct {
	Calls       []Call `serialize:"true"`
	Predecessor ids.ID `serialize:"true"`
	Salt        ids.ID `serialize:"true"`
}

// OperationID derives the deterministic id of a batch. Two ledgers
// computing it over the same inputs agree without coordination.
func OperationID(calls []Call, predecessor ids.ID, salt ids.ID) (ids.ID, error) {
	bytes, err := Codec.Marshal(CodecVersion, &operationPreimage{
		Calls:       calls,
		Predecessor: predecessor,
		Salt:        salt,
	})
	if err != nil {
		return ids.Empty, fmt.Errorf("serializing operation preimage: %w", err)
	}
	return ids.ID(sha256.Sum256(bytes)), nil
}

// CancelPayload cancels a waiting operation when executed from a governance
// batch. This is how a hub proposal cancels an already-relayed operation on
// a satellite: the payload rides a second cross-chain message targeting the
// satellite's timelock.
type CancelPayload struct {
	OperationID ids.ID `serialize:"true"`
}

// Payload is a governance instruction addressed to the guard itself.
type Payload interface{}

func MarshalPayload(p Payload) ([]byte, error) {
	return Codec.Marshal(CodecVersion, &p)
}

func ParsePayload(bytes []byte) (Payload, error) {
	var p Payload
	if _, err := Codec.Unmarshal(bytes, &p); err != nil {
		return nil, fmt.Errorf("parsing timelock payload: %w", err)
	}
	return p, nil
}
