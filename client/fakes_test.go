// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/featurebasedb/fbimport/client"
	"github.com/featurebasedb/fbimport/encoding/proto"
	pnet "github.com/featurebasedb/fbimport/net"
	"github.com/featurebasedb/fbimport/stats"
)

func uri(t *testing.T, addr string) pnet.URI {
	t.Helper()
	u, err := pnet.NewURIFromAddress(addr)
	if err != nil {
		t.Fatalf("parsing %s: %v", addr, err)
	}
	return *u
}

// fakeCache is a TopologyCache which serves a fixed answer per shard.
type fakeCache struct {
	mu            sync.Mutex
	nodes         map[uint64][]pnet.URI
	unavailable   map[uint64]int // lookups which fail before nodes are returned
	lookups       map[uint64]int
	invalidations map[uint64]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		nodes:         make(map[uint64][]pnet.URI),
		unavailable:   make(map[uint64]int),
		lookups:       make(map[uint64]int),
		invalidations: make(map[uint64]int),
	}
}

func (f *fakeCache) set(shard uint64, nodes ...pnet.URI) *fakeCache {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[shard] = nodes
	return f
}

func (f *fakeCache) Lookup(ctx context.Context, index string, shard uint64) ([]pnet.URI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups[shard]++
	if f.unavailable[shard] > 0 {
		f.unavailable[shard]--
		return nil, &client.TopologyUnavailableError{Index: index, Shard: shard, Cause: errors.New("cluster unreachable")}
	}
	nodes := f.nodes[shard]
	if len(nodes) == 0 {
		return nil, &client.TopologyUnavailableError{Index: index, Shard: shard, Cause: client.ErrNoFragmentNodes}
	}
	return append([]pnet.URI(nil), nodes...), nil
}

func (f *fakeCache) Invalidate(index string, shard uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations[shard]++
}

func (f *fakeCache) invalidated(shard uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidations[shard]
}

func (f *fakeCache) lookedUp(shard uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups[shard]
}

type importCall struct {
	Node    pnet.URI
	Shard   uint64
	Request *proto.ImportRequest
}

// fakeImporter is a NodeImporter which records every request. respond
// decides the result of each call; a nil respond accepts everything.
type fakeImporter struct {
	mu      sync.Mutex
	calls   []importCall
	respond func(node pnet.URI, shard uint64) error
}

func (f *fakeImporter) ImportNode(ctx context.Context, node pnet.URI, index, field string, shard uint64, data []byte) error {
	req := &proto.ImportRequest{}
	if err := proto.DefaultSerializer.Unmarshal(data, req); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, importCall{Node: node, Shard: shard, Request: req})
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return nil
	}
	return respond(node, shard)
}

func (f *fakeImporter) Calls() []importCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]importCall(nil), f.calls...)
}

// callsTo returns the calls made for a shard, in order.
func (f *fakeImporter) callsTo(shard uint64) []importCall {
	var out []importCall
	for _, c := range f.Calls() {
		if c.Shard == shard {
			out = append(out, c)
		}
	}
	return out
}

// fakeFetcher is a FragmentNodeFetcher with a per-shard answer.
type fakeFetcher struct {
	mu      sync.Mutex
	nodes   map[uint64][]pnet.URI
	err     error
	fetches int
	// block, when set, is waited on by every fetch of blockShard.
	block      chan struct{}
	blockShard uint64
}

func (f *fakeFetcher) FetchFragmentNodes(ctx context.Context, index string, shard uint64) ([]pnet.URI, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil && shard == f.blockShard {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return append([]pnet.URI(nil), f.nodes[shard]...), nil
}

func (f *fakeFetcher) setNodes(shard uint64, nodes ...pnet.URI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nodes == nil {
		f.nodes = make(map[uint64][]pnet.URI)
	}
	f.nodes[shard] = nodes
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// recordingStats sums counts and keeps every gauge and histogram value.
// Tags are ignored.
type recordingStats struct {
	stats.StatsClient

	mu         sync.Mutex
	counts     map[string]int64
	gauges     map[string][]float64
	histograms map[string][]float64
}

func newRecordingStats() *recordingStats {
	return &recordingStats{
		StatsClient: stats.NopStatsClient,
		counts:      make(map[string]int64),
		gauges:      make(map[string][]float64),
		histograms:  make(map[string][]float64),
	}
}

func (r *recordingStats) WithTags(tags ...string) stats.StatsClient { return r }

func (r *recordingStats) Count(name string, value int64, rate float64) {
	r.mu.Lock()
	r.counts[name] += value
	r.mu.Unlock()
}

func (r *recordingStats) Gauge(name string, value float64, rate float64) {
	r.mu.Lock()
	r.gauges[name] = append(r.gauges[name], value)
	r.mu.Unlock()
}

func (r *recordingStats) Histogram(name string, value float64, rate float64) {
	r.mu.Lock()
	r.histograms[name] = append(r.histograms[name], value)
	r.mu.Unlock()
}
