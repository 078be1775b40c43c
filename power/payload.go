// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package power

import "fmt"

// Payload is a governance instruction addressed to one of the reference
// components. Concrete payloads are registered with the package codec, so a
// payload round-trips through a batch byte-identically on both ledgers.
type Payload interface{}

func MarshalPayload(p Payload) ([]byte, error) {
	return Codec.Marshal(CodecVersion, &p)
}

func ParsePayload(bytes []byte) (Payload, error) {
	var p Payload
	if _, err := Codec.Unmarshal(bytes, &p); err != nil {
		return nil, fmt.Errorf("parsing governance payload: %w", err)
	}
	return p, nil
}
