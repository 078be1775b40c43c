// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package power

import (
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/utils/timer/mockable"
)

var _ Policy = (*CapabilityRegistry)(nil)

// grant is the stored form of a capability assignment.
type grant struct {
	Expiry uint64 `serialize:"true"`
}

// GrantPayload assigns a capability with an expiry when executed from a
// governance batch.
type GrantPayload struct {
	Account    ids.ShortID `serialize:"true"`
	Capability Capability  `serialize:"true"`
	Expiry     uint64      `serialize:"true"`
}

// RevokePayload removes a capability when executed from a governance batch.
type RevokePayload struct {
	Account    ids.ShortID `serialize:"true"`
	Capability Capability  `serialize:"true"`
}

// CapabilityRegistry is the reference Policy: expiring capability grants in
// a database partition, mutated only through governance batches.
type CapabilityRegistry struct {
	log   log.Logger
	clock *mockable.Clock
	db    database.Database
}

func NewCapabilityRegistry(logger log.Logger, clock *mockable.Clock, db database.Database) *CapabilityRegistry {
	return &CapabilityRegistry{
		log:   logger,
		clock: clock,
		db:    db,
	}
}

func (r *CapabilityRegistry) HasCapability(account ids.ShortID, c Capability) (bool, error) {
	expiry, err := r.CapabilityExpiry(account, c)
	if err != nil {
		return false, err
	}
	return expiry > r.clock.Unix(), nil
}

// CapabilityExpiry returns the grant's expiry, or 0 if the account never
// held the capability.
func (r *CapabilityRegistry) CapabilityExpiry(account ids.ShortID, c Capability) (uint64, error) {
	bytes, err := r.db.Get(grantKey(account, c))
	switch err {
	case nil:
	case database.ErrNotFound:
		return 0, nil
	default:
		return 0, err
	}
	g := &grant{}
	if _, err := Codec.Unmarshal(bytes, g); err != nil {
		return 0, err
	}
	return g.Expiry, nil
}

// Grant assigns a capability directly. Intended for genesis wiring; after
// boot, grants arrive through ApplyGovernance.
func (r *CapabilityRegistry) Grant(account ids.ShortID, c Capability, expiry uint64) error {
	bytes, err := Codec.Marshal(CodecVersion, &grant{Expiry: expiry})
	if err != nil {
		return err
	}
	if err := r.db.Put(grantKey(account, c), bytes); err != nil {
		return err
	}
	r.log.Info("capability granted",
		log.Stringer("account", account),
		log.String("capability", c.String()),
		log.Uint64("expiry", expiry),
	)
	return nil
}

func (r *CapabilityRegistry) Revoke(account ids.ShortID, c Capability) error {
	if err := r.db.Delete(grantKey(account, c)); err != nil {
		return err
	}
	r.log.Info("capability revoked",
		log.Stringer("account", account),
		log.String("capability", c.String()),
	)
	return nil
}

// ApplyGovernance executes a grant or revoke payload from an executing
// batch.
func (r *CapabilityRegistry) ApplyGovernance(payloadBytes []byte) error {
	p, err := ParsePayload(payloadBytes)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrValidation, err)
	}
	switch payload := p.(type) {
	case *GrantPayload:
		return r.Grant(payload.Account, payload.Capability, payload.Expiry)
	case *RevokePayload:
		return r.Revoke(payload.Account, payload.Capability)
	default:
		return fmt.Errorf("%w: unexpected registry payload %T", errs.ErrValidation, p)
	}
}

// TouchesGuardian reports whether a payload addressed to the registry would
// modify guardian standing. Proposals containing such a payload are
// guardian-expiry sensitive: guardians cannot cancel them directly.
func TouchesGuardian(payloadBytes []byte) bool {
	p, err := ParsePayload(payloadBytes)
	if err != nil {
		return false
	}
	switch payload := p.(type) {
	case *GrantPayload:
		return payload.Capability == Guardian
	case *RevokePayload:
		return payload.Capability == Guardian
	default:
		return false
	}
}

func grantKey(account ids.ShortID, c Capability) []byte {
	key := make([]byte, len(account)+1)
	copy(key, account[:])
	key[len(account)] = byte(c)
	return key
}
