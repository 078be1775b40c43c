// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the governance surface over JSON-RPC: the stable ABI
// of propose, castVote, queue, execute, cancel, state, quorum, and
// proposalThreshold, plus read paths for proposals, receipts, decay
// factors, and timelock operations.
package api

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/governance/governor"
	"github.com/luxfi/governance/ledger"
	"github.com/luxfi/governance/timelock"
)

// Service answers governance JSON-RPC calls for one ledger.
type Service struct {
	log    log.Logger
	ledger *ledger.Ledger
}

// NewServer builds the HTTP handler serving the "governance" namespace.
func NewServer(logger log.Logger, l *ledger.Ledger) (http.Handler, error) {
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	if err := server.RegisterService(&Service{log: logger, ledger: l}, "governance"); err != nil {
		return nil, err
	}
	return server, nil
}

// CallArg is one batch instruction in wire form.
type CallArg struct {
	Target  string `json:"target"`
	Value   uint64 `json:"value"`
	Payload string `json:"payload"` // hex
}

func parseCalls(args []CallArg) ([]timelock.Call, error) {
	calls := make([]timelock.Call, len(args))
	for i, arg := range args {
		target, err := ids.ShortFromString(arg.Target)
		if err != nil {
			return nil, fmt.Errorf("parsing call %d target: %w", i, err)
		}
		payload, err := hex.DecodeString(arg.Payload)
		if err != nil {
			return nil, fmt.Errorf("parsing call %d payload: %w", i, err)
		}
		calls[i] = timelock.Call{
			Target:  target,
			Value:   arg.Value,
			Payload: payload,
		}
	}
	return calls, nil
}

type ProposeArgs struct {
	Caller      string    `json:"caller"`
	Calls       []CallArg `json:"calls"`
	Description string    `json:"description"`
}

type ProposeReply struct {
	ProposalID string `json:"proposalID"`
}

func (s *Service) Propose(_ *http.Request, args *ProposeArgs, reply *ProposeReply) error {
	s.log.Debug("API called", log.String("service", "governance"), log.String("method", "propose"))

	caller, err := ids.ShortFromString(args.Caller)
	if err != nil {
		return err
	}
	calls, err := parseCalls(args.Calls)
	if err != nil {
		return err
	}
	id, err := s.ledger.Propose(caller, calls, args.Description)
	if err != nil {
		return err
	}
	reply.ProposalID = id.String()
	return nil
}

type CastVoteArgs struct {
	Caller     string `json:"caller"`
	ProposalID string `json:"proposalID"`
	Support    uint8  `json:"support"`
}

type CastVoteReply struct {
	Weight uint64 `json:"weight"`
}

func (s *Service) CastVote(_ *http.Request, args *CastVoteArgs, reply *CastVoteReply) error {
	s.log.Debug("API called", log.String("service", "governance"), log.String("method", "castVote"))

	caller, err := ids.ShortFromString(args.Caller)
	if err != nil {
		return err
	}
	id, err := ids.FromString(args.ProposalID)
	if err != nil {
		return err
	}
	weight, err := s.ledger.CastVote(caller, id, governor.Support(args.Support))
	if err != nil {
		return err
	}
	reply.Weight = weight
	return nil
}

type ProposalIDArgs struct {
	ProposalID string `json:"proposalID"`
}

type QueueReply struct {
	ETA uint64 `json:"eta"`
}

func (s *Service) Queue(_ *http.Request, args *ProposalIDArgs, reply *QueueReply) error {
	s.log.Debug("API called", log.String("service", "governance"), log.String("method", "queue"))

	id, err := ids.FromString(args.ProposalID)
	if err != nil {
		return err
	}
	eta, err := s.ledger.Queue(id)
	if err != nil {
		return err
	}
	reply.ETA = eta
	return nil
}

type ExecuteReply struct {
	Executed bool `json:"executed"`
}

func (s *Service) Execute(r *http.Request, args *ProposalIDArgs, reply *ExecuteReply) error {
	s.log.Debug("API called", log.String("service", "governance"), log.String("method", "execute"))

	id, err := ids.FromString(args.ProposalID)
	if err != nil {
		return err
	}
	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ledger.Execute(ctx, id); err != nil {
		return err
	}
	reply.Executed = true
	return nil
}

type CancelArgs struct {
	Caller     string `json:"caller"`
	ProposalID string `json:"proposalID"`
}

type CancelReply struct {
	Canceled bool `json:"canceled"`
}

func (s *Service) Cancel(_ *http.Request, args *CancelArgs, reply *CancelReply) error {
	s.log.Debug("API called", log.String("service", "governance"), log.String("method", "cancel"))

	caller, err := ids.ShortFromString(args.Caller)
	if err != nil {
		return err
	}
	id, err := ids.FromString(args.ProposalID)
	if err != nil {
		return err
	}
	if err := s.ledger.Cancel(caller, id); err != nil {
		return err
	}
	reply.Canceled = true
	return nil
}

type StateReply struct {
	State string `json:"state"`
}

func (s *Service) State(_ *http.Request, args *ProposalIDArgs, reply *StateReply) error {
	id, err := ids.FromString(args.ProposalID)
	if err != nil {
		return err
	}
	state, err := s.ledger.State(id)
	if err != nil {
		return err
	}
	reply.State = state.String()
	return nil
}

type QuorumArgs struct {
	Timepoint uint64 `json:"timepoint"`
}

type QuorumReply struct {
	Quorum uint64 `json:"quorum"`
}

func (s *Service) Quorum(_ *http.Request, args *QuorumArgs, reply *QuorumReply) error {
	quorum, err := s.ledger.Quorum(args.Timepoint)
	if err != nil {
		return err
	}
	reply.Quorum = quorum
	return nil
}

type ProposalThresholdReply struct {
	Threshold uint64 `json:"threshold"`
}

func (s *Service) ProposalThreshold(_ *http.Request, _ *struct{}, reply *ProposalThresholdReply) error {
	reply.Threshold = s.ledger.ProposalThreshold()
	return nil
}

type GetProposalReply struct {
	Proposer        string `json:"proposer"`
	DescriptionHash string `json:"descriptionHash"`
	VoteStart       uint64 `json:"voteStart"`
	VoteEnd         uint64 `json:"voteEnd"`
	Against         uint64 `json:"against"`
	For             uint64 `json:"for"`
	Abstain         uint64 `json:"abstain"`
	State           string `json:"state"`
	ETA             uint64 `json:"eta,omitempty"`
}

func (s *Service) GetProposal(_ *http.Request, args *ProposalIDArgs, reply *GetProposalReply) error {
	id, err := ids.FromString(args.ProposalID)
	if err != nil {
		return err
	}
	proposal, err := s.ledger.Governor().GetProposal(id)
	if err != nil {
		return err
	}
	state, err := s.ledger.State(id)
	if err != nil {
		return err
	}

	reply.Proposer = proposal.Proposer.String()
	reply.DescriptionHash = proposal.DescriptionHash.String()
	reply.VoteStart = proposal.VoteStart
	reply.VoteEnd = proposal.VoteEnd
	reply.Against = proposal.Tally.Against
	reply.For = proposal.Tally.For
	reply.Abstain = proposal.Tally.Abstain
	reply.State = state.String()
	reply.ETA = proposal.ETA
	return nil
}

type GetReceiptArgs struct {
	ProposalID string `json:"proposalID"`
	Account    string `json:"account"`
}

type GetReceiptReply struct {
	Support uint8  `json:"support"`
	Weight  uint64 `json:"weight"`
}

func (s *Service) GetReceipt(_ *http.Request, args *GetReceiptArgs, reply *GetReceiptReply) error {
	id, err := ids.FromString(args.ProposalID)
	if err != nil {
		return err
	}
	account, err := ids.ShortFromString(args.Account)
	if err != nil {
		return err
	}
	receipt, err := s.ledger.Governor().GetReceipt(id, account)
	if err != nil {
		return err
	}
	reply.Support = uint8(receipt.Support)
	reply.Weight = receipt.Weight
	return nil
}

type VotingPowerArgs struct {
	Account   string `json:"account"`
	Timepoint uint64 `json:"timepoint"`
}

type VotingPowerReply struct {
	Weight uint64 `json:"weight"`
	Factor uint64 `json:"factor"`
}

func (s *Service) VotingPower(_ *http.Request, args *VotingPowerArgs, reply *VotingPowerReply) error {
	account, err := ids.ShortFromString(args.Account)
	if err != nil {
		return err
	}
	weight, err := s.ledger.Decay().EffectiveVotingPower(account, args.Timepoint)
	if err != nil {
		return err
	}
	factor, err := s.ledger.Decay().RawFactor(account, args.Timepoint)
	if err != nil {
		return err
	}
	reply.Weight = weight
	reply.Factor = factor
	return nil
}

type OperationArgs struct {
	OperationID string `json:"operationID"`
}

type OperationReply struct {
	Status string `json:"status"`
	ETA    uint64 `json:"eta,omitempty"`
}

func (s *Service) GetOperation(_ *http.Request, args *OperationArgs, reply *OperationReply) error {
	id, err := ids.FromString(args.OperationID)
	if err != nil {
		return err
	}
	status, err := s.ledger.Timelock().Status(id)
	if err != nil {
		return err
	}
	reply.Status = status.String()
	if status == timelock.Waiting || status == timelock.Ready {
		eta, err := s.ledger.Timelock().ETA(id)
		if err != nil {
			return err
		}
		reply.ETA = eta
	}
	return nil
}
