// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client_test

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/featurebasedb/fbimport/client"
	"github.com/featurebasedb/fbimport/encoding/proto"
	fberrors "github.com/featurebasedb/fbimport/errors"
	pnet "github.com/featurebasedb/fbimport/net"
	"github.com/featurebasedb/fbimport/stats"
	"github.com/stretchr/testify/require"
)

func testBatch(shard uint64) *client.Batch {
	return &client.Batch{
		Index:   "i",
		Field:   "f",
		Shard:   shard,
		Columns: []client.Column{{RowID: 1, ColumnID: shard * 10}, {RowID: 2, ColumnID: shard*10 + 1}},
	}
}

func newDispatcher(cache client.TopologyCache, importer client.NodeImporter) *client.Dispatcher {
	return &client.Dispatcher{
		Cache:      cache,
		Importer:   importer,
		Serializer: proto.DefaultSerializer,
		Stats:      stats.NopStatsClient,
	}
}

func notFragmentNode() error {
	return &client.StatusError{Status: 412, Message: "not a fragment node"}
}

func TestDispatcherSuccess(t *testing.T) {
	a, b := uri(t, "a:10101"), uri(t, "b:10101")
	importer := &fakeImporter{}
	cache := newFakeCache()

	out := newDispatcher(cache, importer).Send(context.Background(), testBatch(0), []pnet.URI{a, b})
	require.Equal(t, client.OutcomeSuccess, out.Kind)
	require.Equal(t, a, out.Node)
	require.NoError(t, out.Err)

	calls := importer.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, []uint64{1, 2}, calls[0].Request.RowIDs)
	require.Equal(t, []uint64{0, 1}, calls[0].Request.ColumnIDs)
	require.Equal(t, 0, cache.invalidated(0))
}

func TestDispatcherFailoverInvalidatesOnce(t *testing.T) {
	a, b, c := uri(t, "a:10101"), uri(t, "b:10101"), uri(t, "c:10101")
	importer := &fakeImporter{respond: func(node pnet.URI, shard uint64) error {
		if node == c {
			return nil
		}
		return notFragmentNode()
	}}
	cache := newFakeCache()

	out := newDispatcher(cache, importer).Send(context.Background(), testBatch(4), []pnet.URI{a, b, c})
	require.Equal(t, client.OutcomeSuccess, out.Kind)
	require.Equal(t, c, out.Node)
	require.Len(t, importer.Calls(), 3)
	require.Equal(t, 1, cache.invalidated(4))
}

func TestDispatcherAllNodesFailed(t *testing.T) {
	nodes := []pnet.URI{uri(t, "a:10101"), uri(t, "b:10101"), uri(t, "c:10101")}
	importer := &fakeImporter{respond: func(pnet.URI, uint64) error {
		return &client.StatusError{Status: 503, Message: "unavailable"}
	}}
	cache := newFakeCache()

	out := newDispatcher(cache, importer).Send(context.Background(), testBatch(2), nodes)
	require.Equal(t, client.OutcomeFatal, out.Kind)
	require.True(t, fberrors.Is(out.Err, client.ErrAllNodesFailed), "unexpected error %v", out.Err)

	var anf *client.AllNodesFailedError
	require.True(t, errors.As(out.Err, &anf))
	require.Equal(t, 3, anf.Attempts)
	require.Equal(t, uint64(2), anf.Shard)

	// Every replica was tried exactly once, in order.
	calls := importer.Calls()
	require.Len(t, calls, 3)
	for i, call := range calls {
		require.Equal(t, nodes[i], call.Node)
	}
	// 503 says nothing about ownership.
	require.Equal(t, 0, cache.invalidated(2))
}

func TestDispatcherValidationIsFatal(t *testing.T) {
	a, b := uri(t, "a:10101"), uri(t, "b:10101")
	importer := &fakeImporter{respond: func(pnet.URI, uint64) error {
		return &client.StatusError{Status: 400, Message: "field not found"}
	}}
	cache := newFakeCache()

	out := newDispatcher(cache, importer).Send(context.Background(), testBatch(0), []pnet.URI{a, b})
	require.Equal(t, client.OutcomeFatal, out.Kind)
	require.True(t, fberrors.Is(out.Err, client.ErrFatalDispatch))
	require.False(t, fberrors.Is(out.Err, client.ErrAllNodesFailed))
	require.Len(t, importer.Calls(), 1)
	require.Equal(t, 0, cache.invalidated(0))
}

func TestDispatcherSkipsDuplicateNodes(t *testing.T) {
	a, b := uri(t, "a:10101"), uri(t, "b:10101")
	importer := &fakeImporter{respond: func(pnet.URI, uint64) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}}
	}}
	cache := newFakeCache()

	out := newDispatcher(cache, importer).Send(context.Background(), testBatch(1), []pnet.URI{a, a, b, a})
	require.Equal(t, client.OutcomeFatal, out.Kind)
	require.Len(t, importer.Calls(), 2)
	require.Equal(t, 1, cache.invalidated(1))
}

func TestDispatcherMaxAttempts(t *testing.T) {
	nodes := []pnet.URI{uri(t, "a:10101"), uri(t, "b:10101"), uri(t, "c:10101")}
	importer := &fakeImporter{respond: func(pnet.URI, uint64) error {
		return context.DeadlineExceeded
	}}
	cache := newFakeCache()
	d := newDispatcher(cache, importer)
	d.MaxAttempts = 2

	out := d.Send(context.Background(), testBatch(0), nodes)
	require.Equal(t, client.OutcomeFatal, out.Kind)
	require.Len(t, importer.Calls(), 2)

	var anf *client.AllNodesFailedError
	require.True(t, errors.As(out.Err, &anf))
	require.Equal(t, 2, anf.Attempts)
	// Timeouts are retried elsewhere but do not drop the topology.
	require.Equal(t, 0, cache.invalidated(0))

	var de *client.DispatchError
	require.True(t, errors.As(out.Err, &de))
	require.Equal(t, client.SignalTimeout, de.Signal)
}

func TestDispatcherNoNodes(t *testing.T) {
	importer := &fakeImporter{}
	out := newDispatcher(newFakeCache(), importer).Send(context.Background(), testBatch(0), nil)
	require.Equal(t, client.OutcomeFatal, out.Kind)
	require.True(t, fberrors.Is(out.Err, client.ErrAllNodesFailed))
	require.Empty(t, importer.Calls())
}
