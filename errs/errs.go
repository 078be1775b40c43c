// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errs defines the error categories shared by every governance
// component. Component errors wrap exactly one category so that callers can
// branch on errors.Is without depending on the component's internals.
package errs

import "errors"

var (
	// ErrAuthorization marks calls rejected for lack of authority: wrong
	// ledger, untrusted cross-chain sender, or a missing capability.
	ErrAuthorization = errors.New("unauthorized")

	// ErrState marks calls that arrived while the target object was in the
	// wrong lifecycle state: voting outside the window, double votes, or a
	// timelock operation that is not where the caller expects it.
	ErrState = errors.New("invalid state")

	// ErrValidation marks structurally invalid input: unknown vote support
	// values, mismatched batch array lengths, out-of-bounds parameters.
	ErrValidation = errors.New("invalid argument")

	// ErrResource marks calls that failed for lack of funds, most commonly
	// an insufficient fee attached to a cross-chain dispatch.
	ErrResource = errors.New("insufficient resources")
)
