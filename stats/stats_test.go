// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package stats

import (
	"expvar"
	"reflect"
	"testing"
	"time"
)

func TestExpvarStatsClient(t *testing.T) {
	m := &expvar.Map{}
	m.Init()
	c := newExpvarStatsClient(m)

	ms := MultiStatsClient{c, NopStatsClient}
	ms.Count("batches", 1, 1.0)
	ms.Count("batches", 2, 1.0)
	ms.Gauge("g", 5, 1.0)
	ms.Gauge("g", 8, 1.0)
	ms.Timing("tt", 100*time.Microsecond, 1.0)
	ms.Timing("tt", 23*time.Microsecond, 1.0)

	if got := m.String(); got != `{"batches": 3, "g": 8, "tt": 123µs}` {
		t.Fatalf("unexpected expvar: %s", got)
	}

	tagged := ms.WithTags("shard:1", "index:i")
	if tags := tagged.Tags(); !reflect.DeepEqual(tags, []string{"index:i", "shard:1"}) {
		t.Fatalf("unexpected tags: %v", tags)
	}
	tagged.Count("records", 4, 1.0)
	again := c.WithTags("index:i", "shard:1")
	again.Count("records", 1, 1.0)
	sub, ok := m.Get("index:i,shard:1").(*expvar.Map)
	if !ok {
		t.Fatalf("missing tagged sub-map in %s", m.String())
	}
	if got := sub.String(); got != `{"records": 5}` {
		t.Fatalf("unexpected tagged expvar: %s", got)
	}
	if err := ms.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestUnionStringSlice(t *testing.T) {
	a := []string{"b", "a"}
	got := UnionStringSlice(a, []string{"c", "a"})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("got %v", got)
	}
	if !reflect.DeepEqual(a, []string{"b", "a"}) {
		t.Fatalf("input was modified: %v", a)
	}
	if UnionStringSlice(nil, nil) != nil {
		t.Fatal("expected nil")
	}
}
