// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package timelock implements the per-ledger delay-gated batch queue.
//
// Scheduled operations wait out a minimum delay before they become ready;
// execution runs every call of the batch in order through the ledger's call
// executor. The guard itself only records operation lifecycle; atomicity of
// a batch's side effects is provided by the ledger running every entry
// point inside a versioned database that commits only on success.
package timelock

import (
	"context"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/power"
	"github.com/luxfi/governance/utils/timer/mockable"
)

// Status is the lifecycle position of an operation. Transitions are
// one-directional: once Done or Canceled an operation never changes again.
type Status uint8

const (
	Unset Status = iota
	Waiting
	Ready
	Done
	Canceled
)

func (s Status) String() string {
	switch s {
	case Unset:
		return "unset"
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case Done:
		return "done"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// operation is the stored record. Ready is never stored; it is derived from
// ETA and the clock.
type operation struct {
	ETA      uint64 `serialize:"true"`
	Done     bool   `serialize:"true"`
	Canceled bool   `serialize:"true"`
}

// Executor dispatches a single call to its target on the local ledger.
type Executor interface {
	ExecuteCall(ctx context.Context, call Call) error
}

// Guard owns the timelock registry of one ledger.
type Guard struct {
	log      log.Logger
	clock    *mockable.Clock
	db       database.Database
	policy   power.Policy
	executor Executor
	minDelay uint64
}

func New(
	logger log.Logger,
	clock *mockable.Clock,
	db database.Database,
	policy power.Policy,
	minDelay uint64,
) *Guard {
	return &Guard{
		log:      logger,
		clock:    clock,
		db:       db,
		policy:   policy,
		minDelay: minDelay,
	}
}

// SetExecutor wires the ledger's call router. The router routes calls to
// components constructed after the guard, so it cannot be a constructor
// argument.
func (g *Guard) SetExecutor(executor Executor) {
	g.executor = executor
}

// MinDelay is the shortest delay Schedule accepts, in seconds.
func (g *Guard) MinDelay() uint64 {
	return g.minDelay
}

// Schedule enqueues a batch. The operation becomes ready delay seconds from
// now. Scheduling the same operation id twice fails.
func (g *Guard) Schedule(calls []Call, predecessor ids.ID, salt ids.ID, delay uint64) (ids.ID, error) {
	if len(calls) == 0 {
		return ids.Empty, fmt.Errorf("%w: empty batch", errs.ErrValidation)
	}
	if delay < g.minDelay {
		return ids.Empty, fmt.Errorf("%w: delay %d below minimum %d", errs.ErrValidation, delay, g.minDelay)
	}

	id, err := OperationID(calls, predecessor, salt)
	if err != nil {
		return ids.Empty, err
	}
	status, _, err := g.status(id)
	if err != nil {
		return ids.Empty, err
	}
	if status != Unset {
		return ids.Empty, fmt.Errorf("%w: operation %s already %s", errs.ErrState, id, status)
	}

	eta := g.clock.Unix() + delay
	if err := g.putOperation(id, &operation{ETA: eta}); err != nil {
		return ids.Empty, err
	}

	g.log.Info("operation scheduled",
		log.Stringer("operationID", id),
		log.Uint64("eta", eta),
		log.Int("calls", len(calls)),
	)
	return id, nil
}

// Status reports the current lifecycle position of an operation id.
func (g *Guard) Status(id ids.ID) (Status, error) {
	status, _, err := g.status(id)
	return status, err
}

// ETA returns the readiness time of an operation, or an error if unset.
func (g *Guard) ETA(id ids.ID) (uint64, error) {
	status, op, err := g.status(id)
	if err != nil {
		return 0, err
	}
	if status == Unset {
		return 0, fmt.Errorf("%w: operation %s is unset", errs.ErrState, id)
	}
	return op.ETA, nil
}

// IsReady reports whether the operation is waiting and past its eta.
func (g *Guard) IsReady(id ids.ID) (bool, error) {
	status, _, err := g.status(id)
	if err != nil {
		return false, err
	}
	return status == Ready, nil
}

// Execute runs the batch. Every call runs in order; the first failure
// aborts the whole batch and the enclosing database version is thrown away,
// so a failed batch leaves no observable state behind.
func (g *Guard) Execute(ctx context.Context, calls []Call, predecessor ids.ID, salt ids.ID) error {
	if g.executor == nil {
		return fmt.Errorf("%w: no call executor wired", errs.ErrState)
	}

	id, err := OperationID(calls, predecessor, salt)
	if err != nil {
		return err
	}
	status, op, err := g.status(id)
	if err != nil {
		return err
	}
	if status != Ready {
		return fmt.Errorf("%w: operation %s is %s, not ready", errs.ErrState, id, status)
	}

	for i, call := range calls {
		if err := g.executor.ExecuteCall(ctx, call); err != nil {
			return fmt.Errorf("call %d of operation %s: %w", i, id, err)
		}
	}

	op.Done = true
	if err := g.putOperation(id, op); err != nil {
		return err
	}

	g.log.Info("operation executed",
		log.Stringer("operationID", id),
		log.Int("calls", len(calls)),
	)
	return nil
}

// Cancel drops a waiting operation. The caller must hold the canceller
// capability; the governor's own execution path cancels through
// ApplyGovernance instead.
func (g *Guard) Cancel(caller ids.ShortID, id ids.ID) error {
	ok, err := g.policy.HasCapability(caller, power.Canceller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks the canceller capability", errs.ErrAuthorization, caller)
	}
	return g.cancel(id)
}

// ApplyGovernance executes a cancel payload from an executing batch. The
// batch already passed the governor's authority checks, so no capability is
// required here.
func (g *Guard) ApplyGovernance(payloadBytes []byte) error {
	p, err := ParsePayload(payloadBytes)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrValidation, err)
	}
	cancel, ok := p.(*CancelPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected timelock payload %T", errs.ErrValidation, p)
	}
	return g.cancel(cancel.OperationID)
}

// SystemCancel drops a waiting operation on behalf of the governor. Only
// the governor calls this, when canceling a queued proposal.
func (g *Guard) SystemCancel(id ids.ID) error {
	return g.cancel(id)
}

func (g *Guard) cancel(id ids.ID) error {
	status, op, err := g.status(id)
	if err != nil {
		return err
	}
	if status != Waiting && status != Ready {
		return fmt.Errorf("%w: operation %s is %s, not cancelable", errs.ErrState, id, status)
	}

	op.Canceled = true
	if err := g.putOperation(id, op); err != nil {
		return err
	}

	g.log.Info("operation canceled", log.Stringer("operationID", id))
	return nil
}

func (g *Guard) status(id ids.ID) (Status, *operation, error) {
	bytes, err := g.db.Get(id[:])
	switch err {
	case nil:
	case database.ErrNotFound:
		return Unset, nil, nil
	default:
		return Unset, nil, err
	}

	op := &operation{}
	if _, err := Codec.Unmarshal(bytes, op); err != nil {
		return Unset, nil, err
	}
	switch {
	case op.Canceled:
		return Canceled, op, nil
	case op.Done:
		return Done, op, nil
	case g.clock.Unix() >= op.ETA:
		return Ready, op, nil
	default:
		return Waiting, op, nil
	}
}

func (g *Guard) putOperation(id ids.ID, op *operation) error {
	bytes, err := Codec.Marshal(CodecVersion, op)
	if err != nil {
		return err
	}
	return g.db.Put(id[:], bytes)
}
