// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"context"
	"time"

	"github.com/featurebasedb/fbimport/encoding/proto"
	"github.com/featurebasedb/fbimport/logger"
	pnet "github.com/featurebasedb/fbimport/net"
	"github.com/featurebasedb/fbimport/stats"
	"github.com/pkg/errors"
)

// NodeImporter delivers an encoded import request to one node. A nil
// error means the node accepted the data; failures should be a
// *StatusError for responses and the transport's error otherwise.
type NodeImporter interface {
	ImportNode(ctx context.Context, node pnet.URI, index, field string, shard uint64, data []byte) error
}

// DispatchOutcome is the result of sending a batch to a node.
type DispatchOutcome struct {
	Kind OutcomeKind
	Node pnet.URI
	Err  error
}

// Dispatcher sends batches to the nodes that own them, failing over to
// the next candidate node when an attempt fails in a retryable way.
type Dispatcher struct {
	Cache      TopologyCache
	Importer   NodeImporter
	Serializer proto.Serializer

	// MaxAttempts bounds the nodes tried per batch. Zero means every
	// candidate node.
	MaxAttempts int

	Logger logger.Logger
	Stats  stats.StatsClient
}

// Send encodes b and tries nodes in order until one accepts it. A node is
// never tried twice for the same batch, and the cache entry for the
// batch's shard is invalidated at most once.
func (d *Dispatcher) Send(ctx context.Context, b *Batch, nodes []pnet.URI) DispatchOutcome {
	log := d.logger()
	data, err := d.Serializer.Marshal(b.ImportRequest())
	if err != nil {
		return DispatchOutcome{Kind: OutcomeFatal, Err: &DispatchError{Signal: SignalValidation, Cause: errors.Wrap(err, "encoding batch")}}
	}

	var (
		tried       = make(map[pnet.URI]struct{}, len(nodes))
		invalidated bool
		last        DispatchOutcome
	)
	for _, node := range nodes {
		if _, ok := tried[node]; ok {
			continue
		}
		if d.MaxAttempts > 0 && len(tried) >= d.MaxAttempts {
			break
		}
		tried[node] = struct{}{}

		out, class := d.attempt(ctx, b, node, data)
		switch out.Kind {
		case OutcomeSuccess, OutcomeFatal:
			return out
		}
		log.Warnf("retrying %s on next node: %v", b, out.Err)
		if class.Invalidate && !invalidated && d.Cache != nil {
			d.Cache.Invalidate(b.Index, b.Shard)
			counterTopologyInvalidations.Inc()
			invalidated = true
		}
		last = out
	}

	return DispatchOutcome{
		Kind: OutcomeFatal,
		Node: last.Node,
		Err: &AllNodesFailedError{
			Index:    b.Index,
			Shard:    b.Shard,
			Attempts: len(tried),
			Last:     last.Err,
		},
	}
}

// attempt imports to a single node and classifies the result.
func (d *Dispatcher) attempt(ctx context.Context, b *Batch, node pnet.URI, data []byte) (DispatchOutcome, Class) {
	start := time.Now()
	err := d.Importer.ImportNode(ctx, node, b.Index, b.Field, b.Shard, data)
	signal := SignalOf(err)
	class := Classify(signal)

	d.stats().Timing(MetricDispatchAttempt, time.Since(start), 1.0)
	dispatchAttempts.WithLabelValues(signal.String()).Inc()

	out := DispatchOutcome{Kind: class.Kind, Node: node}
	if class.Kind != OutcomeSuccess {
		if err == nil {
			err = errors.New("unclassified response")
		}
		out.Err = &DispatchError{Node: node, Signal: signal, Cause: err}
	}
	return out, class
}

func (d *Dispatcher) logger() logger.Logger {
	if d.Logger == nil {
		return logger.NopLogger
	}
	return d.Logger
}

func (d *Dispatcher) stats() stats.StatsClient {
	if d.Stats == nil {
		return stats.NopStatsClient
	}
	return d.Stats
}
