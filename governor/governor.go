// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package governor implements the proposal lifecycle: creation on the hub
// ledger, decay-weighted voting, bravo-style tallying, queuing into the
// timelock, delay-gated execution, and cancellation.
//
// Proposal state is never stored; it is derived from the stored record, the
// ledger clock, and the timelock registry. Proposal ids are pure functions
// of proposal content, so a satellite ledger derives the same id from a
// relayed batch without coordination.
package governor

import (
	"context"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/governance/decay"
	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/metrics"
	"github.com/luxfi/governance/power"
	"github.com/luxfi/governance/timelock"
	"github.com/luxfi/governance/utils/timer/mockable"
)

var (
	proposalPrefix = []byte("proposal")
	votePrefix     = []byte("vote")
)

// Config collects the governor's voting parameters.
type Config struct {
	// HubChainID is the single chain allowed to originate proposals.
	HubChainID ids.ID `json:"hubChainID"`
	// VotingDelay is the number of seconds between proposal creation and
	// the start of voting.
	VotingDelay uint64 `json:"votingDelay"`
	// VotingPeriod is the number of seconds voting stays open.
	VotingPeriod uint64 `json:"votingPeriod"`
	// ProposalThreshold is the effective voting power required to propose
	// without a guardian capability.
	ProposalThreshold uint64 `json:"proposalThreshold"`
	// QuorumNumerator over QuorumDenominator is the fraction of raw total
	// supply that must participate for a proposal to pass.
	QuorumNumerator   uint64 `json:"quorumNumerator"`
	QuorumDenominator uint64 `json:"quorumDenominator"`
}

func (c *Config) Validate() error {
	if c.HubChainID == ids.Empty {
		return fmt.Errorf("%w: empty hub chain id", errs.ErrValidation)
	}
	if c.VotingPeriod == 0 {
		return fmt.Errorf("%w: zero voting period", errs.ErrValidation)
	}
	if c.QuorumDenominator == 0 || c.QuorumNumerator > c.QuorumDenominator {
		return fmt.Errorf("%w: quorum fraction %d/%d out of bounds", errs.ErrValidation, c.QuorumNumerator, c.QuorumDenominator)
	}
	return nil
}

// Governor owns the proposal registry of one ledger.
type Governor struct {
	log       log.Logger
	clock     *mockable.Clock
	proposals database.Database
	votes     database.Database
	metrics   *metrics.Metrics

	cfg     Config
	chainID ids.ID
	// address is this governor's own address on its ledger. It salts
	// timelock operations and is the privileged origin for governance
	// calls addressed to the governor itself.
	address ids.ShortID
	// registry is the capability registry's address, used to detect
	// guardian-expiry-sensitive batches.
	registry ids.ShortID

	decay    *decay.Engine
	source   power.Source
	policy   power.Policy
	guard    *timelock.Guard
	counting CountingStrategy
	quorum   QuorumStrategy
}

func New(
	logger log.Logger,
	clock *mockable.Clock,
	db database.Database,
	m *metrics.Metrics,
	cfg Config,
	chainID ids.ID,
	address ids.ShortID,
	registry ids.ShortID,
	decayEngine *decay.Engine,
	source power.Source,
	policy power.Policy,
	guard *timelock.Guard,
	counting CountingStrategy,
	quorum QuorumStrategy,
) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Governor{
		log:       logger,
		clock:     clock,
		proposals: prefixdb.New(proposalPrefix, db),
		votes:     prefixdb.New(votePrefix, db),
		metrics:   m,
		cfg:       cfg,
		chainID:   chainID,
		address:   address,
		registry:  registry,
		decay:     decayEngine,
		source:    source,
		policy:    policy,
		guard:     guard,
		counting:  counting,
		quorum:    quorum,
	}, nil
}

// Address is the governor's own address on its ledger.
func (g *Governor) Address() ids.ShortID {
	return g.address
}

// ProposalThreshold is the effective voting power required to propose.
func (g *Governor) ProposalThreshold() uint64 {
	return g.cfg.ProposalThreshold
}

// Quorum is the participation requirement at a timepoint, measured against
// raw total supply.
func (g *Governor) Quorum(timepoint uint64) (uint64, error) {
	return g.quorum.Quorum(timepoint)
}

// Propose opens a new proposal. Only the hub ledger accepts proposals, and
// the caller must clear the proposal threshold at now-1 or hold an
// unexpired guardian capability. The caller's decay state is re-anchored.
func (g *Governor) Propose(caller ids.ShortID, calls []timelock.Call, description string) (ids.ID, error) {
	if g.chainID != g.cfg.HubChainID {
		return ids.Empty, fmt.Errorf("%w: chain %s is not the governance hub %s", errs.ErrAuthorization, g.chainID, g.cfg.HubChainID)
	}
	if len(calls) == 0 {
		return ids.Empty, fmt.Errorf("%w: empty batch", errs.ErrValidation)
	}
	for i, call := range calls {
		if call.Target == ids.ShortEmpty {
			return ids.Empty, fmt.Errorf("%w: call %d has an empty target", errs.ErrValidation, i)
		}
	}

	now := g.clock.Unix()
	if err := g.checkProposerAuthority(caller, now); err != nil {
		return ids.Empty, err
	}
	if err := g.decay.Anchor(caller); err != nil {
		return ids.Empty, err
	}

	descriptionHash := HashDescription(description)
	id, err := ProposalID(calls, descriptionHash)
	if err != nil {
		return ids.Empty, err
	}
	if _, err := g.getProposal(id); err == nil {
		return ids.Empty, fmt.Errorf("%w: proposal %s already exists", errs.ErrState, id)
	}

	voteStart := now + g.cfg.VotingDelay
	proposal := &Proposal{
		Proposer:                caller,
		Calls:                   calls,
		DescriptionHash:         descriptionHash,
		VoteStart:               voteStart,
		VoteEnd:                 voteStart + g.cfg.VotingPeriod,
		GuardianExpirySensitive: g.touchesGuardian(calls),
	}
	if err := g.putProposal(id, proposal); err != nil {
		return ids.Empty, err
	}

	g.metrics.ProposalsCreated.Inc()
	g.log.Info("proposal created",
		log.Stringer("proposalID", id),
		log.Stringer("proposer", caller),
		log.Uint64("voteStart", proposal.VoteStart),
		log.Uint64("voteEnd", proposal.VoteEnd),
		log.Int("calls", len(calls)),
	)
	return id, nil
}

// CastVote records a ballot. The voter's weight is the effective voting
// power snapshotted at voteStart-1, so weight moved after the snapshot
// cannot swing the vote. The voter's decay state is re-anchored.
func (g *Governor) CastVote(caller ids.ShortID, id ids.ID, support Support) (uint64, error) {
	if support != Against && support != For && support != Abstain {
		return 0, fmt.Errorf("%w: unknown vote support %d", errs.ErrValidation, support)
	}

	proposal, err := g.getProposal(id)
	if err != nil {
		return 0, err
	}
	state, err := g.deriveState(id, proposal)
	if err != nil {
		return 0, err
	}
	if state != Active {
		return 0, fmt.Errorf("%w: proposal %s is %s, voting closed", errs.ErrState, id, state)
	}

	voted, err := g.HasVoted(id, caller)
	if err != nil {
		return 0, err
	}
	if voted {
		return 0, fmt.Errorf("%w: %s already voted on %s", errs.ErrState, caller, id)
	}

	weight, err := g.decay.EffectiveVotingPower(caller, proposal.VoteStart-1)
	if err != nil {
		return 0, err
	}
	if err := g.decay.Anchor(caller); err != nil {
		return 0, err
	}

	if err := g.counting.Add(&proposal.Tally, support, weight); err != nil {
		return 0, err
	}
	if err := g.putProposal(id, proposal); err != nil {
		return 0, err
	}
	if err := g.putReceipt(id, caller, &Receipt{Support: support, Weight: weight}); err != nil {
		return 0, err
	}

	g.metrics.VotesCast.Inc()
	g.log.Info("vote cast",
		log.Stringer("proposalID", id),
		log.Stringer("voter", caller),
		log.Uint64("weight", weight),
		log.Uint64("support", uint64(support)),
	)
	return weight, nil
}

// State derives the proposal's lifecycle position.
func (g *Governor) State(id ids.ID) (ProposalState, error) {
	proposal, err := g.getProposal(id)
	if err != nil {
		return Pending, err
	}
	return g.deriveState(id, proposal)
}

// Queue moves a succeeded proposal into the timelock. The scheduled
// operation id is a pure function of proposal content, this governor's
// address, and a zero predecessor.
func (g *Governor) Queue(id ids.ID) (uint64, error) {
	proposal, err := g.getProposal(id)
	if err != nil {
		return 0, err
	}
	state, err := g.deriveState(id, proposal)
	if err != nil {
		return 0, err
	}
	if state != Succeeded {
		return 0, fmt.Errorf("%w: proposal %s is %s, not succeeded", errs.ErrState, id, state)
	}

	salt := TimelockSalt(g.address, proposal.DescriptionHash)
	opID, err := g.guard.Schedule(proposal.Calls, ids.Empty, salt, g.guard.MinDelay())
	if err != nil {
		return 0, err
	}
	eta, err := g.guard.ETA(opID)
	if err != nil {
		return 0, err
	}

	proposal.Queued = true
	proposal.ETA = eta
	if err := g.putProposal(id, proposal); err != nil {
		return 0, err
	}

	g.log.Info("proposal queued",
		log.Stringer("proposalID", id),
		log.Stringer("operationID", opID),
		log.Uint64("eta", eta),
	)
	return eta, nil
}

// Execute runs a queued proposal's batch once its timelock delay elapsed.
// The batch is atomic: if any call fails, including a cross-chain relay
// send, the proposal stays queued for retry.
func (g *Governor) Execute(ctx context.Context, id ids.ID) error {
	proposal, err := g.getProposal(id)
	if err != nil {
		return err
	}
	state, err := g.deriveState(id, proposal)
	if err != nil {
		return err
	}
	if state != Queued {
		return fmt.Errorf("%w: proposal %s is %s, not queued", errs.ErrState, id, state)
	}

	salt := TimelockSalt(g.address, proposal.DescriptionHash)
	if err := g.guard.Execute(ctx, proposal.Calls, ids.Empty, salt); err != nil {
		return err
	}

	g.metrics.ProposalsExecuted.Inc()
	g.log.Info("proposal executed", log.Stringer("proposalID", id))
	return nil
}

// Cancel stops a proposal before execution. The proposer may cancel while
// the proposal has not succeeded and their current weight fell below the
// threshold; a guardian may cancel at any pre-execution state unless the
// proposal is guardian-expiry sensitive. The caller's decay state is
// re-anchored.
func (g *Governor) Cancel(caller ids.ShortID, id ids.ID) error {
	proposal, err := g.getProposal(id)
	if err != nil {
		return err
	}
	state, err := g.deriveState(id, proposal)
	if err != nil {
		return err
	}
	switch state {
	case Pending, Active, Succeeded, Queued:
	default:
		return fmt.Errorf("%w: proposal %s is %s, not cancelable", errs.ErrState, id, state)
	}

	if err := g.checkCancelAuthority(caller, proposal, state); err != nil {
		return err
	}
	if err := g.decay.Anchor(caller); err != nil {
		return err
	}
	if err := g.cancel(id, proposal); err != nil {
		return err
	}

	g.log.Info("proposal canceled",
		log.Stringer("proposalID", id),
		log.Stringer("caller", caller),
	)
	return nil
}

// ApplyGovernance executes a cancel payload from an executing batch. This
// path carries the governor's own authority, so it may cancel proposals
// guardians cannot.
func (g *Governor) ApplyGovernance(payloadBytes []byte) error {
	p, err := ParsePayload(payloadBytes)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrValidation, err)
	}
	cancel, ok := p.(*CancelPayload)
	if !ok {
		return fmt.Errorf("%w: unexpected governor payload %T", errs.ErrValidation, p)
	}

	proposal, err := g.getProposal(cancel.ProposalID)
	if err != nil {
		return err
	}
	state, err := g.deriveState(cancel.ProposalID, proposal)
	if err != nil {
		return err
	}
	switch state {
	case Pending, Active, Succeeded, Queued:
	default:
		return fmt.Errorf("%w: proposal %s is %s, not cancelable", errs.ErrState, cancel.ProposalID, state)
	}

	if err := g.cancel(cancel.ProposalID, proposal); err != nil {
		return err
	}
	g.log.Info("proposal canceled by governance", log.Stringer("proposalID", cancel.ProposalID))
	return nil
}

// HasVoted reports whether the account already voted on the proposal.
func (g *Governor) HasVoted(id ids.ID, account ids.ShortID) (bool, error) {
	return g.votes.Has(voteKey(id, account))
}

// GetReceipt returns the account's recorded ballot.
func (g *Governor) GetReceipt(id ids.ID, account ids.ShortID) (*Receipt, error) {
	bytes, err := g.votes.Get(voteKey(id, account))
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: %s has no ballot on %s", errs.ErrState, account, id)
	}
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{}
	if _, err := Codec.Unmarshal(bytes, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetProposal returns the stored proposal record.
func (g *Governor) GetProposal(id ids.ID) (*Proposal, error) {
	return g.getProposal(id)
}

func (g *Governor) cancel(id ids.ID, proposal *Proposal) error {
	if proposal.Queued {
		salt := TimelockSalt(g.address, proposal.DescriptionHash)
		opID, err := timelock.OperationID(proposal.Calls, ids.Empty, salt)
		if err != nil {
			return err
		}
		if err := g.guard.SystemCancel(opID); err != nil {
			return err
		}
	}
	proposal.Canceled = true
	if err := g.putProposal(id, proposal); err != nil {
		return err
	}
	g.metrics.ProposalsCanceled.Inc()
	return nil
}

func (g *Governor) checkProposerAuthority(caller ids.ShortID, now uint64) error {
	weight, err := g.decay.EffectiveVotingPower(caller, now-1)
	if err != nil {
		return err
	}
	if weight >= g.cfg.ProposalThreshold {
		return nil
	}
	isGuardian, err := g.policy.HasCapability(caller, power.Guardian)
	if err != nil {
		return err
	}
	if !isGuardian {
		return fmt.Errorf(
			"%w: weight %d below proposal threshold %d and %s holds no guardian capability",
			errs.ErrAuthorization, weight, g.cfg.ProposalThreshold, caller,
		)
	}
	return nil
}

func (g *Governor) checkCancelAuthority(caller ids.ShortID, proposal *Proposal, state ProposalState) error {
	isGuardian, err := g.policy.HasCapability(caller, power.Guardian)
	if err != nil {
		return err
	}
	if isGuardian {
		if proposal.GuardianExpirySensitive {
			return fmt.Errorf(
				"%w: proposal touches guardian standing, only the governance execution path may cancel it",
				errs.ErrAuthorization,
			)
		}
		return nil
	}

	if caller != proposal.Proposer {
		return fmt.Errorf("%w: %s is neither proposer nor guardian", errs.ErrAuthorization, caller)
	}
	if state != Pending && state != Active {
		return fmt.Errorf("%w: proposer cannot cancel a %s proposal", errs.ErrState, state)
	}
	weight, err := g.decay.EffectiveVotingPower(caller, g.clock.Unix()-1)
	if err != nil {
		return err
	}
	if weight >= g.cfg.ProposalThreshold {
		return fmt.Errorf(
			"%w: proposer weight %d still clears the threshold %d",
			errs.ErrAuthorization, weight, g.cfg.ProposalThreshold,
		)
	}
	return nil
}

// deriveState resolves the proposal state machine: canceled and time gates
// first, then the closed-tally outcome, then the timelock position.
func (g *Governor) deriveState(id ids.ID, proposal *Proposal) (ProposalState, error) {
	if proposal.Canceled {
		return CanceledState, nil
	}

	now := g.clock.Unix()
	if now < proposal.VoteStart {
		return Pending, nil
	}
	if now <= proposal.VoteEnd {
		return Active, nil
	}

	if !g.counting.Succeeded(proposal.Tally) {
		return Defeated, nil
	}
	quorumVotes, err := g.counting.QuorumVotes(proposal.Tally)
	if err != nil {
		return Pending, err
	}
	required, err := g.quorum.Quorum(proposal.VoteStart - 1)
	if err != nil {
		return Pending, err
	}
	if quorumVotes < required {
		return Defeated, nil
	}

	if !proposal.Queued {
		return Succeeded, nil
	}

	salt := TimelockSalt(g.address, proposal.DescriptionHash)
	opID, err := timelock.OperationID(proposal.Calls, ids.Empty, salt)
	if err != nil {
		return Pending, err
	}
	status, err := g.guard.Status(opID)
	if err != nil {
		return Pending, err
	}
	if status == timelock.Done {
		return Executed, nil
	}
	return Queued, nil
}

func (g *Governor) touchesGuardian(calls []timelock.Call) bool {
	for _, call := range calls {
		if call.Target == g.registry && power.TouchesGuardian(call.Payload) {
			return true
		}
	}
	return false
}

func (g *Governor) getProposal(id ids.ID) (*Proposal, error) {
	bytes, err := g.proposals.Get(id[:])
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: unknown proposal %s", errs.ErrValidation, id)
	}
	if err != nil {
		return nil, err
	}
	proposal := &Proposal{}
	if _, err := Codec.Unmarshal(bytes, proposal); err != nil {
		return nil, err
	}
	return proposal, nil
}

func (g *Governor) putProposal(id ids.ID, proposal *Proposal) error {
	bytes, err := Codec.Marshal(CodecVersion, proposal)
	if err != nil {
		return err
	}
	return g.proposals.Put(id[:], bytes)
}

func (g *Governor) putReceipt(id ids.ID, account ids.ShortID, receipt *Receipt) error {
	bytes, err := Codec.Marshal(CodecVersion, receipt)
	if err != nil {
		return err
	}
	return g.votes.Put(voteKey(id, account), bytes)
}

func voteKey(id ids.ID, account ids.ShortID) []byte {
	key := make([]byte, len(id)+len(account))
	copy(key, id[:])
	copy(key[len(id):], account[:])
	return key
}
