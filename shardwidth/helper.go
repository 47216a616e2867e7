// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package shardwidth maps column IDs onto shards.
//
// # Warnings
// - the width used by a client MUST match the width the cluster was started
//   with; a mismatch silently sends columns to the wrong shard **
// - the width is always passed in explicitly, never discovered **
package shardwidth

// DefaultExponent is the exponent of the cluster's default shard width.
const DefaultExponent = 20

// DefaultWidth is 1<<DefaultExponent columns per shard.
const DefaultWidth uint64 = 1 << DefaultExponent

// ShardOf returns the shard holding columnID. width must be non-zero.
func ShardOf(columnID, width uint64) uint64 {
	return columnID / width
}
