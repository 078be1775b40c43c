// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"errors"
	"math"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
)

const CodecVersion = 0

// Codec serializes everything that crosses a ledger boundary. Both ends of
// a path must register the same types in the same order, or ids stop being
// chain-agnostic.
var Codec codec.Manager

func init() {
	Codec = codec.NewManager(math.MaxInt)
	lc := linearcodec.NewDefault()

	err := errors.Join(
		lc.RegisterType(&Payload{}),
		lc.RegisterType(&Message{}),
		lc.RegisterType(&SendPayload{}),
		lc.RegisterType(&outboxEntry{}),
		Codec.RegisterCodec(CodecVersion, lc),
	)
	if err != nil {
		panic(err)
	}
}
