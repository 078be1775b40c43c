// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/governance/decay"
	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/governor"
)

// Well-known component addresses. Governance calls route by target
// address; every ledger places its components at the same addresses, the
// way chains reserve fixed precompile addresses.
var (
	GovernorAddress = wellKnownAddress(0x01)
	TimelockAddress = wellKnownAddress(0x02)
	TokenAddress    = wellKnownAddress(0x03)
	RegistryAddress = wellKnownAddress(0x04)
	RelayAddress    = wellKnownAddress(0x05)
)

func wellKnownAddress(suffix byte) ids.ShortID {
	var addr ids.ShortID
	addr[0] = 0x02
	addr[len(addr)-1] = suffix
	return addr
}

// Config assembles one ledger's governance parameters.
type Config struct {
	// ChainID identifies this ledger. Proposals originate only on the
	// ledger whose ChainID equals Governor.HubChainID.
	ChainID ids.ID `json:"chainID"`

	Governor governor.Config `json:"governor"`
	Decay    decay.Config    `json:"decay"`

	// TimelockMinDelay is the shortest schedulable delay, in seconds.
	TimelockMinDelay uint64 `json:"timelockMinDelay"`

	// Peers pins, per source chain id, the trusted remote governor
	// address. Messages from anyone else are rejected.
	Peers map[ids.ID]ids.ShortID `json:"peers"`
}

func (c *Config) Validate() error {
	if c.ChainID == ids.Empty {
		return fmt.Errorf("%w: empty chain id", errs.ErrValidation)
	}
	if err := c.Governor.Validate(); err != nil {
		return err
	}
	return c.Decay.Validate()
}
