// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package shardwidth_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/featurebasedb/fbimport/shardwidth"
)

func TestShardOf(t *testing.T) {
	for _, w := range []uint64{1, 3, 1000000, shardwidth.DefaultWidth, 1 << 16} {
		if got := shardwidth.ShardOf(0, w); got != 0 {
			t.Fatalf("width %d: ShardOf(0) = %d", w, got)
		}
		if got := shardwidth.ShardOf(w-1, w); got != 0 {
			t.Fatalf("width %d: ShardOf(w-1) = %d", w, got)
		}
		if got := shardwidth.ShardOf(w, w); got != 1 {
			t.Fatalf("width %d: ShardOf(w) = %d", w, got)
		}
		for i := 0; i < 1000; i++ {
			c := rand.Uint64()
			a, b := shardwidth.ShardOf(c, w), shardwidth.ShardOf(c, w)
			if a != b || a != c/w {
				t.Fatalf("width %d col %d: got %d and %d, want %d", w, c, a, b, c/w)
			}
		}
	}
	if got := shardwidth.ShardOf(math.MaxUint64, 1); got != math.MaxUint64 {
		t.Fatalf("ShardOf(max, 1) = %d", got)
	}
}
