// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/featurebasedb/fbimport/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestEncodeDecode(t *testing.T) {
	tests := []importLog{
		{
			Index: "go-testindex",
			Field: "importfield-batchsize",
			Path:  "/index/go-testindex/field/importfield-batchsize/import?clear=false",
			Shard: 0,
			Data:  make([]byte, 3918),
		},
		{
			Index: "eheh",
			Field: "f",
			Path:  "blah",
			Shard: 9,
			Node:  "localhost:10101",
			Data:  []byte("something"),
		},
		{
			Index: "",
			Path:  "",
			Shard: 0,
			Data:  nil,
		},
		{
			Index:     "zoop",
			Path:      "blah",
			Shard:     8923734,
			Timestamp: 1234,
			Data:      make([]byte, 10000),
		},
	}

	for i, test := range tests {
		test := test
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			buf := &bytes.Buffer{}
			enc := newImportLogEncoder(buf)
			if err := enc.Encode(test); err != nil {
				t.Fatalf("writing to buf: %v", err)
			}
			l2 := &importLog{}
			if err := newImportLogDecoder(buf).Decode(l2); err != nil {
				t.Fatalf("reading from buf: %v", err)
			}
			checkImportLog(t, test, *l2)
		})
	}

	name := filepath.Join(t.TempDir(), "import.log")
	f, err := os.Create(name)
	if err != nil {
		t.Fatalf("creating log file: %v", err)
	}
	il := &importLogger{enc: newImportLogEncoder(f)}
	for _, test := range tests {
		if err := il.log(test); err != nil {
			t.Errorf("encoding to file: %v", err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing log file: %v", err)
	}

	f, err = os.Open(name)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer f.Close()

	dec := newImportLogDecoder(f)
	for _, test := range tests {
		l := &importLog{}
		if err := dec.Decode(l); err != nil {
			t.Fatalf("reading from file: %v", err)
		}
		checkImportLog(t, test, *l)
	}
}

func checkImportLog(t *testing.T, exp, got importLog) {
	t.Helper()
	if got.Index != exp.Index || got.Field != exp.Field || got.Path != exp.Path {
		t.Errorf("names not equal:\n%+v\n%+v", exp, got)
	}
	if got.Shard != exp.Shard || got.Node != exp.Node || got.Timestamp != exp.Timestamp {
		t.Errorf("shard/node/timestamp not equal:\n%+v\n%+v", exp, got)
	}
	if len(exp.Data) == 0 && len(got.Data) == 0 {
		return
	}
	if !reflect.DeepEqual(exp.Data, got.Data) {
		t.Errorf("data not equal \n%v\n%v", exp.Data, got.Data)
	}
}

func TestImportLoggerNil(t *testing.T) {
	var l *importLogger
	if err := l.log(importLog{Index: "i"}); err != nil {
		t.Fatal(err)
	}
}

func TestReplayImportLogMismatchedLengths(t *testing.T) {
	tests := map[string][]byte{
		"rows":       rawImportRequest(nil, []uint64{1}, nil),
		"timestamps": rawImportRequest([]uint64{1, 2}, []uint64{1, 2}, []int64{5}),
	}
	for name, data := range tests {
		data := data
		t.Run(name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			if err := newImportLogEncoder(buf).Encode(importLog{Index: "i", Field: "f", Data: data}); err != nil {
				t.Fatal(err)
			}

			c := DefaultClient()
			defer c.Close()
			n, err := c.ReplayImportLog(context.Background(), buf)
			if !errors.Is(err, ErrInvalidImportLog) {
				t.Fatalf("expected invalid import log, got %v", err)
			}
			if n != 0 {
				t.Fatalf("replayed %d requests", n)
			}
		})
	}
}

// rawImportRequest encodes an import request without the length checks
// Marshal applies.
func rawImportRequest(rows, cols []uint64, timestamps []int64) []byte {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendString(b, "i")
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, "f")
	for _, v := range rows {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	for _, v := range cols {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	for _, v := range timestamps {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}
