// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"context"
	"sync"

	"github.com/featurebasedb/fbimport/logger"
	pnet "github.com/featurebasedb/fbimport/net"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// TopologyCache maps (index, shard) to the nodes which hold that shard.
type TopologyCache interface {
	// Lookup returns the nodes for a shard, primary first, fetching them
	// from the cluster if they are not cached.
	Lookup(ctx context.Context, index string, shard uint64) ([]pnet.URI, error)
	// Invalidate drops a cached entry. It is a no-op if nothing is cached.
	Invalidate(index string, shard uint64)
}

// FragmentNodeFetcher asks the cluster which nodes own a shard.
type FragmentNodeFetcher interface {
	FetchFragmentNodes(ctx context.Context, index string, shard uint64) ([]pnet.URI, error)
}

// TopologyEntry is one cached answer from the cluster. Entries are
// replaced, never modified.
type TopologyEntry struct {
	Index string
	Shard uint64
	Nodes []pnet.URI
}

type shardKey struct {
	index string
	shard uint64
}

// shardCell guards a single key. Lookups and invalidations for the same
// key are serialized on mu; other keys are unaffected.
type shardCell struct {
	mu    sync.Mutex
	entry *TopologyEntry
}

var _ TopologyCache = &ShardNodes{}

// ShardNodes is the TopologyCache used by Client.
type ShardNodes struct {
	fetcher FragmentNodeFetcher
	cells   *xsync.MapOf[shardKey, *shardCell]
	logger  logger.Logger
}

// NewShardNodes returns an empty cache which fills itself from fetcher.
func NewShardNodes(fetcher FragmentNodeFetcher, log logger.Logger) *ShardNodes {
	if log == nil {
		log = logger.NopLogger
	}
	return &ShardNodes{
		fetcher: fetcher,
		cells:   xsync.NewMapOf[shardKey, *shardCell](),
		logger:  log,
	}
}

func (s *ShardNodes) cell(index string, shard uint64) *shardCell {
	c, _ := s.cells.LoadOrCompute(shardKey{index: index, shard: shard}, func() *shardCell {
		return &shardCell{}
	})
	return c
}

// Lookup returns the cached nodes for a shard or fetches them. Fetch
// failures and empty node lists are returned as *TopologyUnavailableError
// and are not cached.
func (s *ShardNodes) Lookup(ctx context.Context, index string, shard uint64) ([]pnet.URI, error) {
	c := s.cell(index, shard)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry != nil {
		return copyURIs(c.entry.Nodes), nil
	}

	nodes, err := s.fetcher.FetchFragmentNodes(ctx, index, shard)
	if err != nil {
		return nil, &TopologyUnavailableError{Index: index, Shard: shard, Cause: errors.Wrap(err, "fetching fragment nodes")}
	}
	if len(nodes) == 0 {
		return nil, &TopologyUnavailableError{Index: index, Shard: shard, Cause: ErrNoFragmentNodes}
	}
	c.entry = &TopologyEntry{Index: index, Shard: shard, Nodes: copyURIs(nodes)}
	return copyURIs(nodes), nil
}

// Get returns the cached entry without fetching.
func (s *ShardNodes) Get(index string, shard uint64) (TopologyEntry, bool) {
	c, ok := s.cells.Load(shardKey{index: index, shard: shard})
	if !ok {
		return TopologyEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil {
		return TopologyEntry{}, false
	}
	e := *c.entry
	e.Nodes = copyURIs(e.Nodes)
	return e, true
}

// Invalidate drops the entry for one shard.
func (s *ShardNodes) Invalidate(index string, shard uint64) {
	c, ok := s.cells.Load(shardKey{index: index, shard: shard})
	if !ok {
		return
	}
	c.mu.Lock()
	if c.entry != nil {
		s.logger.Debugf("invalidating shard node cache for %s shard %d", index, shard)
	}
	c.entry = nil
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (s *ShardNodes) InvalidateAll() {
	s.cells.Range(func(_ shardKey, c *shardCell) bool {
		c.mu.Lock()
		c.entry = nil
		c.mu.Unlock()
		return true
	})
}

// Entries returns a snapshot of every cached entry.
func (s *ShardNodes) Entries() []TopologyEntry {
	var out []TopologyEntry
	s.cells.Range(func(_ shardKey, c *shardCell) bool {
		c.mu.Lock()
		if c.entry != nil {
			e := *c.entry
			e.Nodes = copyURIs(e.Nodes)
			out = append(out, e)
		}
		c.mu.Unlock()
		return true
	})
	return out
}

// DetectChanges picks one cached entry, drops it, and fetches it again. If
// the cluster's answer differs from what was cached, the whole cache is
// dropped since the cluster has probably been resized.
func (s *ShardNodes) DetectChanges(ctx context.Context) {
	var (
		key   shardKey
		old   []pnet.URI
		found bool
	)
	// Range order is unspecified, which is good enough for sampling.
	s.cells.Range(func(k shardKey, c *shardCell) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.entry == nil {
			return true
		}
		key, old, found = k, c.entry.Nodes, true
		c.entry = nil
		return false
	})
	if !found {
		return
	}

	fresh, err := s.Lookup(ctx, key.index, key.shard)
	if err != nil {
		s.logger.Errorf("problem invalidating shard node cache: %v", err)
		return
	}
	if !pnet.URIs(old).Equal(fresh) {
		s.logger.Printf("invalidating shard node cache old: %v, new: %v", old, fresh)
		s.InvalidateAll()
	}
}

func copyURIs(uris []pnet.URI) []pnet.URI {
	return append([]pnet.URI(nil), uris...)
}
