// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// The governance command runs an in-process hub + satellite pair connected
// by the memory transport: a JSON-RPC surface per ledger for manual
// testing, and a scripted end-to-end demo of the cross-chain lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/luxfi/constants"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/luxfi/governance/api"
	"github.com/luxfi/governance/decay"
	"github.com/luxfi/governance/governor"
	"github.com/luxfi/governance/ledger"
	"github.com/luxfi/governance/power"
	"github.com/luxfi/governance/relay"
	"github.com/luxfi/governance/relay/transport"
	"github.com/luxfi/governance/timelock"
)

func main() {
	root := &cobra.Command{
		Use:   "governance",
		Short: "Decay-weighted multi-ledger governance",
	}
	root.AddCommand(runCommand(), demoCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type pair struct {
	network   *transport.Memory
	hub       *ledger.Ledger
	satellite *ledger.Ledger
	hubChain  ids.ID
	satChain  ids.ID
}

func buildPair(logger log.Logger) (*pair, error) {
	hubChain := ids.ID{0x01}
	satChain := ids.ID{0x02}

	network := transport.NewMemory(logger, constants.UnitTestID, 100, 1, 0)

	baseConfig := ledger.Config{
		Governor: governor.Config{
			HubChainID:        hubChain,
			VotingDelay:       60,
			VotingPeriod:      600,
			ProposalThreshold: 1_000_000,
			QuorumNumerator:   4,
			QuorumDenominator: 100,
		},
		Decay: decay.Config{
			Function:      decay.Linear,
			RatePerSecond: 10, // full decay in ~3.2 years
			FreeWindow:    7 * 24 * 60 * 60,
		},
		TimelockMinDelay: 300,
	}

	hubConfig := baseConfig
	hubConfig.ChainID = hubChain
	hubConfig.Peers = map[ids.ID]ids.ShortID{satChain: ledger.GovernorAddress}

	satConfig := baseConfig
	satConfig.ChainID = satChain
	satConfig.Peers = map[ids.ID]ids.ShortID{hubChain: ledger.GovernorAddress}

	hub, err := ledger.New(logger, metric.NewRegistry(), network, memdb.New(), hubConfig)
	if err != nil {
		return nil, err
	}
	satellite, err := ledger.New(logger, metric.NewRegistry(), network, memdb.New(), satConfig)
	if err != nil {
		return nil, err
	}

	return &pair{
		network:   network,
		hub:       hub,
		satellite: satellite,
		hubChain:  hubChain,
		satChain:  satChain,
	}, nil
}

func runCommand() *cobra.Command {
	var (
		hubAddr string
		satAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve a hub and a satellite over JSON-RPC",
		RunE: func(*cobra.Command, []string) error {
			logger := log.New("component", "governance")
			p, err := buildPair(logger)
			if err != nil {
				return err
			}

			hubHandler, err := api.NewServer(logger, p.hub)
			if err != nil {
				return err
			}
			satHandler, err := api.NewServer(logger, p.satellite)
			if err != nil {
				return err
			}

			hubMux := http.NewServeMux()
			hubMux.Handle("/rpc", hubHandler)
			hubMux.Handle("/metrics", promhttp.Handler())
			satMux := http.NewServeMux()
			satMux.Handle("/rpc", satHandler)
			satMux.Handle("/metrics", promhttp.Handler())

			errCh := make(chan error, 2)
			go func() { errCh <- http.ListenAndServe(hubAddr, hubMux) }()
			go func() { errCh <- http.ListenAndServe(satAddr, satMux) }()

			// A real deployment delivers on the bridge's schedule; here a
			// ticker plays that role.
			go func() {
				for range time.Tick(time.Second) {
					if err := p.network.Flush(); err != nil {
						logger.Warn("transport flush failed", log.Err(err))
					}
				}
			}()

			logger.Info("serving",
				log.String("hub", hubAddr),
				log.String("satellite", satAddr),
			)
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&hubAddr, "hub-addr", ":9650", "hub JSON-RPC listen address")
	cmd.Flags().StringVar(&satAddr, "satellite-addr", ":9652", "satellite JSON-RPC listen address")
	return cmd
}

func demoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the cross-chain lifecycle end to end with a pinned clock",
		RunE: func(*cobra.Command, []string) error {
			logger := log.New("component", "governance")
			p, err := buildPair(logger)
			if err != nil {
				return err
			}

			var (
				proposer  = ids.ShortID{0xaa}
				voter     = ids.ShortID{0xbb}
				treasury  = ids.ShortID{0xcc}
				recipient = ids.ShortID{0xdd}
				start     = time.Unix(1_700_000_000, 0)
			)
			p.hub.Clock().Set(start)
			p.satellite.Clock().Set(start)

			if err := p.hub.Mint(proposer, 50_000_000); err != nil {
				return err
			}
			if err := p.hub.Mint(voter, 60_000_000); err != nil {
				return err
			}
			if err := p.satellite.Mint(treasury, 10_000_000); err != nil {
				return err
			}

			// Proposal authority snapshots at now-1, so the mints must be in
			// the past before proposing.
			p.hub.Clock().Advance(time.Second)
			p.satellite.Clock().Advance(time.Second)

			// The relayed batch: move satellite treasury funds.
			remoteTransfer, err := power.MarshalPayload(&power.TransferPayload{
				From:   treasury,
				To:     recipient,
				Amount: 2_500_000,
			})
			if err != nil {
				return err
			}
			remoteCalls := []timelock.Call{{
				Target:  ledger.TokenAddress,
				Payload: remoteTransfer,
			}}

			description := "fund satellite grants program"
			sendPayload, err := relay.Codec.Marshal(relay.CodecVersion, &relay.SendPayload{
				DestinationChainID: p.satChain,
				Calls:              remoteCalls,
				DescriptionHash:    governor.HashDescription(description),
			})
			if err != nil {
				return err
			}
			hubCalls := []timelock.Call{{
				Target:  ledger.RelayAddress,
				Value:   10_000,
				Payload: sendPayload,
			}}

			id, err := p.hub.Propose(proposer, hubCalls, description)
			if err != nil {
				return err
			}
			fmt.Println("proposed", id)

			p.hub.Clock().Advance(61 * time.Second)
			if _, err := p.hub.CastVote(proposer, id, governor.For); err != nil {
				return err
			}
			if _, err := p.hub.CastVote(voter, id, governor.Abstain); err != nil {
				return err
			}

			p.hub.Clock().Advance(601 * time.Second)
			eta, err := p.hub.Queue(id)
			if err != nil {
				return err
			}
			fmt.Println("queued, eta", eta)

			p.hub.Clock().Advance(301 * time.Second)
			if err := p.hub.Execute(context.Background(), id); err != nil {
				return err
			}
			fmt.Println("executed on hub")

			if err := p.network.Flush(); err != nil {
				return err
			}
			fmt.Println("delivered to satellite")

			p.satellite.Clock().Advance(301 * time.Second)
			salt := governor.TimelockSalt(ledger.GovernorAddress, governor.HashDescription(description))
			if err := p.satellite.ExecuteOperation(context.Background(), remoteCalls, ids.Empty, salt); err != nil {
				return err
			}

			balance, err := p.satellite.Token().RawBalance(recipient, p.satellite.Clock().Unix())
			if err != nil {
				return err
			}
			fmt.Println("executed on satellite, recipient balance", balance)
			return nil
		},
	}
}
