// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics collects the governance counters of one ledger.
package metrics

import (
	"errors"

	"github.com/luxfi/metric"
)

type Metrics struct {
	ProposalsCreated  metric.Counter
	VotesCast         metric.Counter
	ProposalsExecuted metric.Counter
	ProposalsCanceled metric.Counter

	RelaysSent     metric.Counter
	RelaysReceived metric.Counter
	RelaysRejected metric.Counter
}

func New(registerer metric.Registerer) (*Metrics, error) {
	if _, ok := registerer.(metric.Registry); !ok {
		return nil, errors.New("registerer must implement metric.Registry")
	}

	return &Metrics{
		ProposalsCreated: metric.NewCounter(metric.CounterOpts{
			Name: "proposals_created",
			Help: "Number of proposals opened on this ledger",
		}),
		VotesCast: metric.NewCounter(metric.CounterOpts{
			Name: "votes_cast",
			Help: "Number of ballots recorded",
		}),
		ProposalsExecuted: metric.NewCounter(metric.CounterOpts{
			Name: "proposals_executed",
			Help: "Number of proposals whose batch fully executed",
		}),
		ProposalsCanceled: metric.NewCounter(metric.CounterOpts{
			Name: "proposals_canceled",
			Help: "Number of proposals canceled before execution",
		}),
		RelaysSent: metric.NewCounter(metric.CounterOpts{
			Name: "relays_sent",
			Help: "Number of cross-chain batches dispatched",
		}),
		RelaysReceived: metric.NewCounter(metric.CounterOpts{
			Name: "relays_received",
			Help: "Number of cross-chain batches accepted and queued",
		}),
		RelaysRejected: metric.NewCounter(metric.CounterOpts{
			Name: "relays_rejected",
			Help: "Number of cross-chain batches rejected on receive",
		}),
	}, nil
}
