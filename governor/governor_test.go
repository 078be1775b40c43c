// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package governor

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/governance/decay"
	"github.com/luxfi/governance/errs"
	"github.com/luxfi/governance/metrics"
	"github.com/luxfi/governance/power"
	"github.com/luxfi/governance/timelock"
	"github.com/luxfi/governance/utils/timer/mockable"
)

const (
	testEpoch    uint64 = 1_700_000_000
	testMinDelay uint64 = 300

	votingDelay       uint64 = 60
	votingPeriod      uint64 = 600
	proposalThreshold uint64 = 1_000_000
)

var (
	testHubChainID   = ids.ID{0x01}
	testGovernorAddr = ids.ShortID{0x02, 0x01}
	testRegistryAddr = ids.ShortID{0x02, 0x04}
)

type testEnv struct {
	governor *Governor
	clock    *mockable.Clock
	token    *power.CheckpointLedger
	registry *power.CapabilityRegistry
	guard    *timelock.Guard
	executed *[]timelock.Call
}

// newTestEnv wires a governor on the hub chain over fresh stores, with a
// recording call executor behind the timelock.
func newTestEnv(t *testing.T, decayCfg decay.Config) *testEnv {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(int64(testEpoch), 0))

	token := power.NewCheckpointLedger(log.NoLog{}, clock, memdb.New())
	registry := power.NewCapabilityRegistry(log.NoLog{}, clock, memdb.New())

	decayEngine, err := decay.New(log.NoLog{}, clock, memdb.New(), token, decayCfg)
	require.NoError(err)
	token.SetAnchor(decayEngine)

	guard := timelock.New(log.NoLog{}, clock, memdb.New(), registry, testMinDelay)
	executed := &[]timelock.Call{}
	guard.SetExecutor(executorFunc(func(_ context.Context, call timelock.Call) error {
		*executed = append(*executed, call)
		return nil
	}))

	quorum, err := NewFractionQuorum(token, 4, 100)
	require.NoError(err)

	m, err := metrics.New(metric.NewRegistry())
	require.NoError(err)

	gov, err := New(
		log.NoLog{},
		clock,
		memdb.New(),
		m,
		Config{
			HubChainID:        testHubChainID,
			VotingDelay:       votingDelay,
			VotingPeriod:      votingPeriod,
			ProposalThreshold: proposalThreshold,
			QuorumNumerator:   4,
			QuorumDenominator: 100,
		},
		testHubChainID,
		testGovernorAddr,
		testRegistryAddr,
		decayEngine,
		token,
		registry,
		guard,
		BravoCounting{},
		quorum,
	)
	require.NoError(err)

	return &testEnv{
		governor: gov,
		clock:    clock,
		token:    token,
		registry: registry,
		guard:    guard,
		executed: executed,
	}
}

type executorFunc func(ctx context.Context, call timelock.Call) error

func (f executorFunc) ExecuteCall(ctx context.Context, call timelock.Call) error {
	return f(ctx, call)
}

func noDecay() decay.Config {
	return decay.Config{
		Function:      decay.Linear,
		RatePerSecond: 0,
	}
}

func testBatch() []timelock.Call {
	return []timelock.Call{{
		Target:  ids.ShortID{0x02, 0x03},
		Payload: []byte{0x01},
	}}
}

// fund mints and moves the clock one second so balance snapshots at now-1
// see the funds.
func (e *testEnv) fund(t *testing.T, account ids.ShortID, amount uint64) {
	require.NoError(t, e.token.Mint(account, amount))
	e.clock.Advance(time.Second)
}

func (e *testEnv) propose(t *testing.T, proposer ids.ShortID, calls []timelock.Call, description string) ids.ID {
	id, err := e.governor.Propose(proposer, calls, description)
	require.NoError(t, err)
	return id
}

func (e *testEnv) requireState(t *testing.T, id ids.ID, want ProposalState) {
	state, err := e.governor.State(id)
	require.NoError(t, err)
	require.Equal(t, want, state)
}

func (e *testEnv) openVoting() {
	e.clock.Advance(time.Duration(votingDelay) * time.Second)
}

func (e *testEnv) closeVoting() {
	e.clock.Advance(time.Duration(votingPeriod+1) * time.Second)
}

func TestProposeRequiresHubChain(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	satellite, err := New(
		log.NoLog{},
		env.clock,
		memdb.New(),
		env.governor.metrics,
		env.governor.cfg,
		ids.ID{0x02}, // not the hub
		testGovernorAddr,
		testRegistryAddr,
		env.governor.decay,
		env.token,
		env.registry,
		env.guard,
		BravoCounting{},
		env.governor.quorum,
	)
	require.NoError(err)

	proposer := ids.GenerateTestShortID()
	env.fund(t, proposer, proposalThreshold)

	_, err = satellite.Propose(proposer, testBatch(), "x")
	require.ErrorIs(err, errs.ErrAuthorization)
}

func TestProposeValidation(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	proposer := ids.GenerateTestShortID()
	env.fund(t, proposer, proposalThreshold)

	_, err := env.governor.Propose(proposer, nil, "empty")
	require.ErrorIs(err, errs.ErrValidation)

	_, err = env.governor.Propose(proposer, []timelock.Call{{}}, "empty target")
	require.ErrorIs(err, errs.ErrValidation)
}

func TestProposeThreshold(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())

	pauper := ids.GenerateTestShortID()
	env.fund(t, pauper, proposalThreshold-1)
	_, err := env.governor.Propose(pauper, testBatch(), "underfunded")
	require.ErrorIs(err, errs.ErrAuthorization)

	// A guardian proposes without any weight.
	guardian := ids.GenerateTestShortID()
	require.NoError(env.registry.Grant(guardian, power.Guardian, testEpoch+1_000_000))
	_, err = env.governor.Propose(guardian, testBatch(), "guardian proposal")
	require.NoError(err)
}

func TestProposeDuplicateFails(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	proposer := ids.GenerateTestShortID()
	env.fund(t, proposer, proposalThreshold)

	env.propose(t, proposer, testBatch(), "once")
	_, err := env.governor.Propose(proposer, testBatch(), "once")
	require.ErrorIs(err, errs.ErrState)

	// A different description is a different proposal.
	_, err = env.governor.Propose(proposer, testBatch(), "twice")
	require.NoError(err)
}

// TestLifecycleSucceeds drives the reference scenario: one billion raw
// supply, a 4% quorum of forty million, a twenty-five million For vote and
// a twenty million Abstain vote.
func TestLifecycleSucceeds(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())

	voterA := ids.GenerateTestShortID()
	voterB := ids.GenerateTestShortID()
	rest := ids.GenerateTestShortID()
	require.NoError(env.token.Mint(voterA, 25_000_000))
	require.NoError(env.token.Mint(voterB, 20_000_000))
	require.NoError(env.token.Mint(rest, 955_000_000))
	env.clock.Advance(time.Second)

	quorum, err := env.governor.Quorum(env.clock.Unix())
	require.NoError(err)
	require.Equal(uint64(40_000_000), quorum)

	calls := testBatch()
	id := env.propose(t, voterA, calls, "reference scenario")
	env.requireState(t, id, Pending)

	// Voting has not opened.
	_, err = env.governor.CastVote(voterA, id, For)
	require.ErrorIs(err, errs.ErrState)

	env.openVoting()
	env.requireState(t, id, Active)

	weight, err := env.governor.CastVote(voterA, id, For)
	require.NoError(err)
	require.Equal(uint64(25_000_000), weight)

	weight, err = env.governor.CastVote(voterB, id, Abstain)
	require.NoError(err)
	require.Equal(uint64(20_000_000), weight)

	env.closeVoting()
	env.requireState(t, id, Succeeded)

	eta, err := env.governor.Queue(id)
	require.NoError(err)
	require.Equal(env.clock.Unix()+testMinDelay, eta)
	env.requireState(t, id, Queued)

	// The timelock gates execution.
	err = env.governor.Execute(context.Background(), id)
	require.ErrorIs(err, errs.ErrState)

	env.clock.Advance(time.Duration(testMinDelay) * time.Second)
	require.NoError(env.governor.Execute(context.Background(), id))
	require.Equal(calls, *env.executed)
	env.requireState(t, id, Executed)

	// Execution is terminal.
	err = env.governor.Execute(context.Background(), id)
	require.ErrorIs(err, errs.ErrState)
	err = env.governor.Cancel(voterA, id)
	require.ErrorIs(err, errs.ErrState)
}

func TestQuorumCountsForAndAbstainOnly(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())

	voterA := ids.GenerateTestShortID()
	voterB := ids.GenerateTestShortID()
	rest := ids.GenerateTestShortID()
	require.NoError(env.token.Mint(voterA, 39_000_000))
	require.NoError(env.token.Mint(voterB, 5_000_000))
	require.NoError(env.token.Mint(rest, 956_000_000))
	env.clock.Advance(time.Second)

	// 39M For plus 5M Against is 44M of participation, but Against never
	// counts toward the 40M quorum.
	id := env.propose(t, voterA, testBatch(), "against does not count")
	env.openVoting()

	_, err := env.governor.CastVote(voterA, id, For)
	require.NoError(err)
	_, err = env.governor.CastVote(voterB, id, Against)
	require.NoError(err)

	env.closeVoting()
	env.requireState(t, id, Defeated)

	// The same 5M as Abstain does count: 44M clears the quorum.
	id2 := env.propose(t, voterA, testBatch(), "abstain counts")
	env.openVoting()
	_, err = env.governor.CastVote(voterA, id2, For)
	require.NoError(err)
	_, err = env.governor.CastVote(voterB, id2, Abstain)
	require.NoError(err)
	env.closeVoting()
	env.requireState(t, id2, Succeeded)
}

func TestDefeatedOnMargin(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())

	voterA := ids.GenerateTestShortID()
	voterB := ids.GenerateTestShortID()
	require.NoError(env.token.Mint(voterA, 400_000_000))
	require.NoError(env.token.Mint(voterB, 600_000_000))
	env.clock.Advance(time.Second)

	id := env.propose(t, voterA, testBatch(), "margin lost")
	env.openVoting()

	_, err := env.governor.CastVote(voterA, id, For)
	require.NoError(err)
	_, err = env.governor.CastVote(voterB, id, Against)
	require.NoError(err)

	env.closeVoting()
	env.requireState(t, id, Defeated)

	_, err = env.governor.Queue(id)
	require.ErrorIs(err, errs.ErrState)
}

func TestDoubleVoteRejected(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	voter := ids.GenerateTestShortID()
	env.fund(t, voter, 50_000_000)

	id := env.propose(t, voter, testBatch(), "one ballot each")
	env.openVoting()

	_, err := env.governor.CastVote(voter, id, For)
	require.NoError(err)

	for _, support := range []Support{For, Against, Abstain} {
		_, err = env.governor.CastVote(voter, id, support)
		require.ErrorIs(err, errs.ErrState)
	}

	receipt, err := env.governor.GetReceipt(id, voter)
	require.NoError(err)
	require.Equal(For, receipt.Support)
	require.Equal(uint64(50_000_000), receipt.Weight)
}

func TestVoteWeightSnapshotsAtVoteStart(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	voter := ids.GenerateTestShortID()
	sink := ids.GenerateTestShortID()
	env.fund(t, voter, 50_000_000)

	id := env.propose(t, voter, testBatch(), "snapshot")
	env.openVoting()

	// Weight moved after the snapshot timepoint cannot swing the vote.
	require.NoError(env.token.Transfer(voter, sink, 49_000_000))

	weight, err := env.governor.CastVote(voter, id, For)
	require.NoError(err)
	require.Equal(uint64(50_000_000), weight)

	// The recipient's snapshot balance is zero; a zero-weight ballot still
	// records.
	weight, err = env.governor.CastVote(sink, id, For)
	require.NoError(err)
	require.Zero(weight)
}

func TestVoteValidation(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	voter := ids.GenerateTestShortID()
	env.fund(t, voter, 50_000_000)

	id := env.propose(t, voter, testBatch(), "validation")
	env.openVoting()

	_, err := env.governor.CastVote(voter, id, Support(9))
	require.ErrorIs(err, errs.ErrValidation)

	_, err = env.governor.CastVote(voter, ids.GenerateTestID(), For)
	require.ErrorIs(err, errs.ErrValidation)

	// Voting closed.
	env.closeVoting()
	_, err = env.governor.CastVote(voter, id, For)
	require.ErrorIs(err, errs.ErrState)
}

// TestDecayedWeightMissesQuorum holds raw balances above quorum while the
// voters' decayed weight falls below it.
func TestDecayedWeightMissesQuorum(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, decay.Config{
		Function:      decay.Linear,
		RatePerSecond: decay.FactorScale / 1_000, // full decay in 1000s
	})

	voter := ids.GenerateTestShortID()
	rest := ids.GenerateTestShortID()
	require.NoError(env.token.Mint(voter, 100_000_000))
	require.NoError(env.token.Mint(rest, 900_000_000))
	env.clock.Advance(time.Second)

	// Long idle: by voteStart-1 the voter's factor has decayed sharply.
	env.clock.Advance(900 * time.Second)

	id := env.propose(t, voter, testBatch(), "decayed electorate")
	env.openVoting()

	weight, err := env.governor.CastVote(voter, id, For)
	require.NoError(err)
	require.Less(weight, uint64(40_000_000))
	require.NotZero(weight)

	env.closeVoting()
	// Quorum is measured against raw supply, which never decays.
	env.requireState(t, id, Defeated)
}

func TestProposerCancel(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	proposer := ids.GenerateTestShortID()
	sink := ids.GenerateTestShortID()
	env.fund(t, proposer, 2_000_000)

	id := env.propose(t, proposer, testBatch(), "proposer cancel")

	// While the proposer still clears the threshold, they cannot cancel.
	err := env.governor.Cancel(proposer, id)
	require.ErrorIs(err, errs.ErrAuthorization)

	// Dropping below the threshold opens the window.
	require.NoError(env.token.Transfer(proposer, sink, 1_500_000))
	env.clock.Advance(time.Second)
	require.NoError(env.governor.Cancel(proposer, id))
	env.requireState(t, id, CanceledState)

	// Canceled proposals reject every further transition.
	_, err = env.governor.CastVote(proposer, id, For)
	require.ErrorIs(err, errs.ErrState)
	_, err = env.governor.Queue(id)
	require.ErrorIs(err, errs.ErrState)
}

func TestProposerCannotCancelAfterVotingClosed(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	proposer := ids.GenerateTestShortID()
	sink := ids.GenerateTestShortID()
	env.fund(t, proposer, 50_000_000)

	id := env.propose(t, proposer, testBatch(), "too late")
	env.openVoting()
	_, err := env.governor.CastVote(proposer, id, For)
	require.NoError(err)
	env.closeVoting()
	env.requireState(t, id, Succeeded)

	require.NoError(env.token.Transfer(proposer, sink, 49_500_000))
	env.clock.Advance(time.Second)

	err = env.governor.Cancel(proposer, id)
	require.ErrorIs(err, errs.ErrState)
}

func TestOutsiderCannotCancel(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	proposer := ids.GenerateTestShortID()
	env.fund(t, proposer, 2_000_000)

	id := env.propose(t, proposer, testBatch(), "outsider")

	err := env.governor.Cancel(ids.GenerateTestShortID(), id)
	require.ErrorIs(err, errs.ErrAuthorization)
}

func TestGuardianCancel(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	proposer := ids.GenerateTestShortID()
	guardian := ids.GenerateTestShortID()
	env.fund(t, proposer, 50_000_000)
	require.NoError(env.registry.Grant(guardian, power.Guardian, testEpoch+1_000_000))

	// Guardians cancel at any pre-execution state, even queued.
	id := env.propose(t, proposer, testBatch(), "guardian cancel")
	env.openVoting()
	_, err := env.governor.CastVote(proposer, id, For)
	require.NoError(err)
	env.closeVoting()
	_, err = env.governor.Queue(id)
	require.NoError(err)

	require.NoError(env.governor.Cancel(guardian, id))
	env.requireState(t, id, CanceledState)

	// The scheduled timelock operation was canceled alongside.
	proposal, err := env.governor.GetProposal(id)
	require.NoError(err)
	salt := TimelockSalt(testGovernorAddr, proposal.DescriptionHash)
	opID, err := timelock.OperationID(proposal.Calls, ids.Empty, salt)
	require.NoError(err)
	status, err := env.guard.Status(opID)
	require.NoError(err)
	require.Equal(timelock.Canceled, status)
}

// TestGuardianCannotCancelGuardianSensitive covers self-entrenchment: a
// batch revoking a guardian cannot be killed by a guardian.
func TestGuardianCannotCancelGuardianSensitive(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, noDecay())
	proposer := ids.GenerateTestShortID()
	guardian := ids.GenerateTestShortID()
	env.fund(t, proposer, 2_000_000)
	require.NoError(env.registry.Grant(guardian, power.Guardian, testEpoch+1_000_000))

	revoke, err := power.MarshalPayload(&power.RevokePayload{
		Account:    guardian,
		Capability: power.Guardian,
	})
	require.NoError(err)
	calls := []timelock.Call{{Target: testRegistryAddr, Payload: revoke}}

	id := env.propose(t, proposer, calls, "revoke the guardian")

	proposal, err := env.governor.GetProposal(id)
	require.NoError(err)
	require.True(proposal.GuardianExpirySensitive)

	err = env.governor.Cancel(guardian, id)
	require.ErrorIs(err, errs.ErrAuthorization)

	// The governance execution path still cancels it.
	cancelBytes, err := MarshalPayload(&CancelPayload{ProposalID: id})
	require.NoError(err)
	require.NoError(env.governor.ApplyGovernance(cancelBytes))
	env.requireState(t, id, CanceledState)
}

func TestProposalIDDeterministic(t *testing.T) {
	require := require.New(t)

	calls := testBatch()
	hash := HashDescription("same content")

	id1, err := ProposalID(calls, hash)
	require.NoError(err)
	id2, err := ProposalID(calls, hash)
	require.NoError(err)
	require.Equal(id1, id2)

	id3, err := ProposalID(calls, HashDescription("other content"))
	require.NoError(err)
	require.NotEqual(id1, id3)
}

func TestTimelockSaltPerGovernor(t *testing.T) {
	require := require.New(t)

	hash := HashDescription("shared description")
	hubSalt := TimelockSalt(ids.ShortID{0x01}, hash)
	satSalt := TimelockSalt(ids.ShortID{0x02}, hash)
	require.NotEqual(hubSalt, satSalt)

	// Deterministic per governor.
	require.Equal(hubSalt, TimelockSalt(ids.ShortID{0x01}, hash))
}
