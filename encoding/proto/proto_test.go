// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package proto

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func testOneRoundTrip(t *testing.T, s Serializer, obj Message, expectedMarshalErr string) {
	t.Helper()
	repr, err := s.Marshal(obj)
	if err != nil {
		if expectedMarshalErr == "" {
			t.Fatalf("unexpected marshalling error %q", err.Error())
		}
		if !strings.Contains(err.Error(), expectedMarshalErr) {
			t.Fatalf("expecting marshalling error %q, got %q", expectedMarshalErr, err.Error())
		}
		return
	} else if expectedMarshalErr != "" {
		t.Fatalf("expected marshalling error %q, got no error", expectedMarshalErr)
	}

	obj2 := reflect.New(reflect.TypeOf(obj).Elem()).Interface()
	if err := s.Unmarshal(repr, obj2); err != nil {
		t.Fatalf("unexpected unmarshalling error %q", err.Error())
	}
	if diff := cmp.Diff(obj, obj2); diff != "" {
		t.Fatalf("serialization round trip failed for %T (-want +got):\n%s", obj, diff)
	}
}

func TestImportRoundTrip(t *testing.T) {
	s := DefaultSerializer
	testOneRoundTrip(t, s, &ImportRequest{
		Index:     "i",
		Field:     "f",
		Shard:     0,
		RowIDs:    []uint64{10, 10},
		ColumnIDs: []uint64{5, 6},
	}, "")
	testOneRoundTrip(t, s, &ImportRequest{
		Index:          "users",
		Field:          "visits",
		Shard:          1 << 40,
		RowIDs:         []uint64{3, 1, 2, 1<<64 - 1},
		ColumnIDs:      []uint64{1<<40*1<<20 + 9, 1<<40*1<<20 + 2, 1<<40*1<<20 + 2, 1<<40*1<<20 + 1},
		Timestamps:     []int64{0, 1600000000000000000, -1, 42},
		IndexCreatedAt: 17,
		FieldCreatedAt: 18,
	}, "")
	testOneRoundTrip(t, s, &ImportRequest{
		Index:      "k",
		Field:      "f",
		RowKeys:    []string{"a", "b"},
		ColumnKeys: []string{"x", ""},
	}, "")
	testOneRoundTrip(t, s, &ImportResponse{Err: "field not found"}, "")
	testOneRoundTrip(t, s, &ImportResponse{}, "")

	testOneRoundTrip(t, s, &ImportRequest{RowIDs: []uint64{1}, ColumnIDs: []uint64{1, 2}}, "row/column length mismatch")
	testOneRoundTrip(t, s, &ImportRequest{RowIDs: []uint64{1}, ColumnIDs: []uint64{1}, Timestamps: []int64{1, 2}}, "timestamp/column length mismatch")
}

func TestUnknownMessage(t *testing.T) {
	if _, err := DefaultSerializer.Marshal(struct{}{}); err == nil {
		t.Fatal("expected error marshalling unknown type")
	}
	var x int
	if err := DefaultSerializer.Unmarshal(nil, &x); err == nil {
		t.Fatal("expected error unmarshaling unknown type")
	}
}

func TestDecodeUnpackedAndUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, importIndex, protowire.BytesType)
	b = protowire.AppendString(b, "i")
	b = protowire.AppendTag(b, 99, protowire.VarintType) // unknown field, skipped
	b = protowire.AppendVarint(b, 7)
	for _, v := range []uint64{4, 5} {
		b = protowire.AppendTag(b, importColumnIDs, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	for range []int{0, 1} {
		b = protowire.AppendTag(b, importRowIDs, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	var req ImportRequest
	if err := DefaultSerializer.Unmarshal(b, &req); err != nil {
		t.Fatal(err)
	}
	want := ImportRequest{Index: "i", RowIDs: []uint64{1, 1}, ColumnIDs: []uint64{4, 5}}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data, err := DefaultSerializer.Marshal(&ImportRequest{Index: "index", Field: "f", RowIDs: []uint64{1, 2, 3}, ColumnIDs: []uint64{4, 5, 6}})
	if err != nil {
		t.Fatal(err)
	}
	var req ImportRequest
	if err := DefaultSerializer.Unmarshal(data[:len(data)-2], &req); err == nil {
		t.Fatal("expected error decoding truncated request")
	}
}

func TestDecodeWrongWireType(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, importShard, protowire.BytesType)
	b = protowire.AppendString(b, "nope")
	var req ImportRequest
	if err := DefaultSerializer.Unmarshal(b, &req); err == nil {
		t.Fatal("expected wire type error")
	}
}
