// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package power

import (
	"errors"
	"math"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
)

const CodecVersion = 0

// Codec serializes checkpoint histories, capability grants, and the
// governance call payloads the reference implementations accept.
var Codec codec.Manager

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()

	err := errors.Join(
		lc.RegisterType(&checkpoints{}),
		lc.RegisterType(&grant{}),
		lc.RegisterType(&TransferPayload{}),
		lc.RegisterType(&GrantPayload{}),
		lc.RegisterType(&RevokePayload{}),
		Codec.RegisterCodec(CodecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}
