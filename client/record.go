// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"io"
	"sync"

	"github.com/featurebasedb/fbimport/shardwidth"
)

// RecordIterator is an iterator for a record source. NextRecord returns
// io.EOF once a finite source is drained. Sources are not restartable;
// calls made after io.EOF, after any other error, or after Close return an
// ErrExhaustedSource error.
type RecordIterator interface {
	NextRecord() (Column, error)
}

// Column defines a single bit to set: a row in a field for a column.
// A zero Timestamp means the bit has no time dimension.
type Column struct {
	RowID     uint64
	ColumnID  uint64
	Timestamp int64
}

// Shard returns the shard for this column.
func (c Column) Shard(shardWidth uint64) uint64 {
	return shardwidth.ShardOf(c.ColumnID, shardWidth)
}

// SliceIterator is an in-memory RecordIterator.
type SliceIterator struct {
	mu      sync.Mutex
	columns []Column
	next    int
	done    bool
}

// NewSliceIterator returns an iterator over a copy of columns.
func NewSliceIterator(columns ...Column) *SliceIterator {
	return &SliceIterator{columns: append([]Column(nil), columns...)}
}

// NextRecord returns the next column or io.EOF.
func (s *SliceIterator) NextRecord() (Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return Column{}, exhausted()
	}
	if s.next >= len(s.columns) {
		s.done = true
		return Column{}, io.EOF
	}
	c := s.columns[s.next]
	s.next++
	return c, nil
}

// Close marks the iterator as exhausted.
func (s *SliceIterator) Close() error {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	return nil
}
