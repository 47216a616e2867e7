// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client_test

import (
	"io"
	"testing"

	"github.com/featurebasedb/fbimport/client"
	"github.com/featurebasedb/fbimport/errors"
)

func TestColumnShard(t *testing.T) {
	a := client.Column{RowID: 15, ColumnID: 55, Timestamp: 100101}
	target := uint64(0)
	if a.Shard(100) != target {
		t.Fatalf("shard %d != %d", target, a.Shard(100))
	}
	target = 5
	if a.Shard(10) != target {
		t.Fatalf("shard %d != %d", target, a.Shard(10))
	}
}

func TestSliceIterator(t *testing.T) {
	it := client.NewSliceIterator(client.Column{RowID: 1, ColumnID: 2}, client.Column{RowID: 3, ColumnID: 4})
	for i := 0; i < 2; i++ {
		if _, err := it.NextRecord(); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if _, err := it.NextRecord(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if _, err := it.NextRecord(); !errors.Is(err, client.ErrExhaustedSource) {
		t.Fatalf("expected ExhaustedSource, got %v", err)
	}

	closed := client.NewSliceIterator(client.Column{})
	if err := closed.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := closed.NextRecord(); !errors.Is(err, client.ErrExhaustedSource) {
		t.Fatalf("expected ExhaustedSource after Close, got %v", err)
	}
}
