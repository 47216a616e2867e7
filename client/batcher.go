// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"fmt"
	"sort"

	"github.com/featurebasedb/fbimport/encoding/proto"
	"github.com/featurebasedb/fbimport/shardwidth"
)

// Batch is a group of columns bound for a single index, field and shard.
// Once a Batcher hands a Batch out it is not modified again.
type Batch struct {
	Index   string
	Field   string
	Shard   uint64
	Columns []Column
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	return len(b.Columns)
}

func (b *Batch) String() string {
	return fmt.Sprintf("%s/%s shard %d (%d records)", b.Index, b.Field, b.Shard, len(b.Columns))
}

// ImportRequest converts the batch to its wire representation. Timestamps
// are only included if at least one column has one.
func (b *Batch) ImportRequest() *proto.ImportRequest {
	req := &proto.ImportRequest{
		Index:     b.Index,
		Field:     b.Field,
		Shard:     b.Shard,
		RowIDs:    make([]uint64, len(b.Columns)),
		ColumnIDs: make([]uint64, len(b.Columns)),
	}
	var hasTime bool
	for i, c := range b.Columns {
		req.RowIDs[i] = c.RowID
		req.ColumnIDs[i] = c.ColumnID
		if c.Timestamp != 0 {
			hasTime = true
		}
	}
	if hasTime {
		req.Timestamps = make([]int64, len(b.Columns))
		for i, c := range b.Columns {
			req.Timestamps[i] = c.Timestamp
		}
	}
	return req
}

// Batcher groups columns by shard. It is not safe for concurrent use; the
// import pipeline drives it from a single goroutine.
type Batcher struct {
	index      string
	field      string
	shardWidth uint64
	batchSize  int

	open    map[uint64]*Batch
	pending int
}

// NewBatcher returns a Batcher which emits batches of at most batchSize
// columns. shardWidth must be the width the cluster was configured with;
// zero means shardwidth.DefaultWidth.
func NewBatcher(index, field string, shardWidth uint64, batchSize int) *Batcher {
	if batchSize <= 0 {
		batchSize = 1
	}
	if shardWidth == 0 {
		shardWidth = shardwidth.DefaultWidth
	}
	return &Batcher{
		index:      index,
		field:      field,
		shardWidth: shardWidth,
		batchSize:  batchSize,
		open:       make(map[uint64]*Batch),
	}
}

// Add appends c to its shard's batch. If that fills the batch, the batch
// is removed from the Batcher and returned; otherwise Add returns nil.
func (b *Batcher) Add(c Column) *Batch {
	shard := c.Shard(b.shardWidth)
	batch, ok := b.open[shard]
	if !ok {
		batch = &Batch{
			Index:   b.index,
			Field:   b.field,
			Shard:   shard,
			Columns: make([]Column, 0, b.batchSize),
		}
		b.open[shard] = batch
	}
	batch.Columns = append(batch.Columns, c)
	b.pending++
	if len(batch.Columns) < b.batchSize {
		return nil
	}
	delete(b.open, shard)
	b.pending -= len(batch.Columns)
	return batch
}

// Flush returns every partially filled batch, ordered by shard, and
// leaves the Batcher empty.
func (b *Batcher) Flush() []*Batch {
	if len(b.open) == 0 {
		return nil
	}
	batches := make([]*Batch, 0, len(b.open))
	for shard, batch := range b.open {
		batches = append(batches, batch)
		delete(b.open, shard)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].Shard < batches[j].Shard })
	b.pending = 0
	return batches
}

// Pending returns the number of columns held in unfinished batches.
func (b *Batcher) Pending() int {
	return b.pending
}

// BatchState is the lifecycle position of a batch inside an import.
type BatchState int

const (
	BatchPending BatchState = iota
	BatchDispatching
	BatchSucceeded
	BatchFailed
	BatchCancelled
)

func (s BatchState) String() string {
	switch s {
	case BatchPending:
		return "pending"
	case BatchDispatching:
		return "dispatching"
	case BatchSucceeded:
		return "succeeded"
	case BatchFailed:
		return "failed"
	case BatchCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("BatchState(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are allowed.
func (s BatchState) Terminal() bool {
	return s == BatchSucceeded || s == BatchFailed || s == BatchCancelled
}

// canTransition implements pending -> dispatching -> succeeded|failed.
// A batch may be cancelled only before it starts dispatching.
func (s BatchState) canTransition(to BatchState) bool {
	switch s {
	case BatchPending:
		return to == BatchDispatching || to == BatchCancelled
	case BatchDispatching:
		return to == BatchSucceeded || to == BatchFailed
	default:
		return false
	}
}
