// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger assembles one governance ledger: clock, stores, decay
// engine, timelock, governor, and relay endpoint, glued by the call router.
//
// Every externally reachable operation runs against a versioned database
// that commits only when the operation fully succeeds, so a failed call
// leaves every registry bit-for-bit identical to its pre-call contents.
// Operations are serialized under one mutex; concurrency exists only
// between ledgers, through the transport.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/governance/decay"
	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/governor"
	"github.com/luxfi/governance/metrics"
	"github.com/luxfi/governance/power"
	"github.com/luxfi/governance/relay"
	"github.com/luxfi/governance/relay/transport"
	"github.com/luxfi/governance/timelock"
	"github.com/luxfi/governance/utils/timer/mockable"
)

var (
	decayPrefix    = []byte("decay")
	tokenPrefix    = []byte("token")
	registryPrefix = []byte("registry")
	timelockPrefix = []byte("timelock")
	governorPrefix = []byte("governor")
	outboxPrefix   = []byte("outbox")

	_ timelock.Executor  = (*Ledger)(nil)
	_ transport.Endpoint = (*Ledger)(nil)
)

// Ledger is one independently-clocked governance ledger.
type Ledger struct {
	log   log.Logger
	clock *mockable.Clock

	mu sync.Mutex
	db *versiondb.Database

	token    *power.CheckpointLedger
	registry *power.CapabilityRegistry
	decay    *decay.Engine
	guard    *timelock.Guard
	governor *governor.Governor
	relay    *relay.Relay
}

// New assembles a ledger over baseDB and registers it on the network.
func New(
	logger log.Logger,
	registerer metric.Registerer,
	network *transport.Memory,
	baseDB database.Database,
	cfg Config,
) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m, err := metrics.New(registerer)
	if err != nil {
		return nil, err
	}

	clock := &mockable.Clock{}
	db := versiondb.New(baseDB)

	token := power.NewCheckpointLedger(logger, clock, prefixdb.New(tokenPrefix, db))
	registry := power.NewCapabilityRegistry(logger, clock, prefixdb.New(registryPrefix, db))

	decayEngine, err := decay.New(logger, clock, prefixdb.New(decayPrefix, db), token, cfg.Decay)
	if err != nil {
		return nil, err
	}
	token.SetAnchor(decayEngine)

	guard := timelock.New(logger, clock, prefixdb.New(timelockPrefix, db), registry, cfg.TimelockMinDelay)

	quorum, err := governor.NewFractionQuorum(token, cfg.Governor.QuorumNumerator, cfg.Governor.QuorumDenominator)
	if err != nil {
		return nil, err
	}
	gov, err := governor.New(
		logger,
		clock,
		prefixdb.New(governorPrefix, db),
		m,
		cfg.Governor,
		cfg.ChainID,
		GovernorAddress,
		RegistryAddress,
		decayEngine,
		token,
		registry,
		guard,
		governor.BravoCounting{},
		quorum,
	)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		log:      logger,
		clock:    clock,
		db:       db,
		token:    token,
		registry: registry,
		decay:    decayEngine,
		guard:    guard,
		governor: gov,
	}

	binding := network.Register(cfg.ChainID, GovernorAddress, l)
	l.relay = relay.New(
		logger,
		m,
		cfg.ChainID,
		cfg.Governor.HubChainID,
		GovernorAddress,
		cfg.Peers,
		binding,
		guard,
		prefixdb.New(outboxPrefix, db),
	)
	guard.SetExecutor(l)

	return l, nil
}

// Clock is the ledger's own clock. Tests pin and advance it freely.
func (l *Ledger) Clock() *mockable.Clock {
	return l.clock
}

// Propose opens a proposal on the hub.
func (l *Ledger) Propose(caller ids.ShortID, calls []timelock.Call, description string) (ids.ID, error) {
	var id ids.ID
	err := l.atomically(func() error {
		var err error
		id, err = l.governor.Propose(caller, calls, description)
		return err
	})
	return id, err
}

// CastVote records a ballot and returns its weight.
func (l *Ledger) CastVote(caller ids.ShortID, id ids.ID, support governor.Support) (uint64, error) {
	var weight uint64
	err := l.atomically(func() error {
		var err error
		weight, err = l.governor.CastVote(caller, id, support)
		return err
	})
	return weight, err
}

// State derives the proposal's lifecycle position.
func (l *Ledger) State(id ids.ID) (governor.ProposalState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.governor.State(id)
}

// Queue moves a succeeded proposal into the timelock and returns its eta.
func (l *Ledger) Queue(id ids.ID) (uint64, error) {
	var eta uint64
	err := l.atomically(func() error {
		var err error
		eta, err = l.governor.Queue(id)
		return err
	})
	return eta, err
}

// Execute runs a queued proposal's batch atomically, then flushes any
// staged cross-chain messages to the transport.
func (l *Ledger) Execute(ctx context.Context, id ids.ID) error {
	return l.atomically(func() error {
		return l.governor.Execute(ctx, id)
	})
}

// Cancel stops a proposal before execution.
func (l *Ledger) Cancel(caller ids.ShortID, id ids.ID) error {
	return l.atomically(func() error {
		return l.governor.Cancel(caller, id)
	})
}

// ExecuteOperation runs a scheduled batch directly. This is the execution
// path for relayed operations on a satellite, which have no local proposal.
func (l *Ledger) ExecuteOperation(ctx context.Context, calls []timelock.Call, predecessor ids.ID, salt ids.ID) error {
	return l.atomically(func() error {
		return l.guard.Execute(ctx, calls, predecessor, salt)
	})
}

// CancelOperation drops a waiting timelock operation directly; the caller
// must hold the canceller capability.
func (l *Ledger) CancelOperation(caller ids.ShortID, id ids.ID) error {
	return l.atomically(func() error {
		return l.guard.Cancel(caller, id)
	})
}

// Quorum is the participation requirement at a timepoint.
func (l *Ledger) Quorum(timepoint uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.governor.Quorum(timepoint)
}

// ProposalThreshold is the weight needed to propose.
func (l *Ledger) ProposalThreshold() uint64 {
	return l.governor.ProposalThreshold()
}

// Governor exposes read paths for the API layer.
func (l *Ledger) Governor() *governor.Governor {
	return l.governor
}

// Timelock exposes read paths for the API layer.
func (l *Ledger) Timelock() *timelock.Guard {
	return l.guard
}

// Decay exposes read paths for the API layer.
func (l *Ledger) Decay() *decay.Engine {
	return l.decay
}

// Token is the ledger's reference balance source.
func (l *Ledger) Token() *power.CheckpointLedger {
	return l.token
}

// Registry is the ledger's reference capability policy.
func (l *Ledger) Registry() *power.CapabilityRegistry {
	return l.registry
}

// Mint issues funds at genesis or in tests.
func (l *Ledger) Mint(to ids.ShortID, amount uint64) error {
	return l.atomically(func() error {
		return l.token.Mint(to, amount)
	})
}

// Transfer moves funds between accounts.
func (l *Ledger) Transfer(from, to ids.ShortID, amount uint64) error {
	return l.atomically(func() error {
		return l.token.Transfer(from, to, amount)
	})
}

// GrantCapability assigns a capability at genesis or in tests. After boot,
// grants should arrive through governance batches.
func (l *Ledger) GrantCapability(account ids.ShortID, c power.Capability, expiry uint64) error {
	return l.atomically(func() error {
		return l.registry.Grant(account, c, expiry)
	})
}

// Receive accepts a cross-chain message from the transport and, when it
// authenticates, auto-schedules the batch into the local timelock.
func (l *Ledger) Receive(sourceChainID ids.ID, origin ids.ShortID, payload []byte) error {
	return l.atomically(func() error {
		return l.relay.Receive(sourceChainID, origin, payload)
	})
}

// ExecuteCall routes one batch call to its target component. Reaching a
// component through this path carries the governor's execution authority.
func (l *Ledger) ExecuteCall(_ context.Context, call timelock.Call) error {
	switch call.Target {
	case TokenAddress:
		return l.token.ApplyGovernance(call.Payload)
	case RegistryAddress:
		return l.registry.ApplyGovernance(call.Payload)
	case RelayAddress:
		return l.relay.ApplyGovernance(call)
	case GovernorAddress:
		return l.governor.ApplyGovernance(call.Payload)
	case TimelockAddress:
		return l.guard.ApplyGovernance(call.Payload)
	default:
		return fmt.Errorf("%w: no component at call target %s", errs.ErrValidation, call.Target)
	}
}

// atomically serializes the operation and commits its writes only if it
// fully succeeds. Staged cross-chain messages flush after the commit; a
// transport refusal is retried on the next flush, never unwound.
func (l *Ledger) atomically(op func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := op(); err != nil {
		l.db.Abort()
		return err
	}
	if err := l.db.Commit(); err != nil {
		return err
	}

	if err := l.relay.FlushOutbox(); err != nil {
		l.log.Warn("outbox flush incomplete", log.Err(err))
	}
	return l.db.Commit()
}
