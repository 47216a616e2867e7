// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package csv_test

import (
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/featurebasedb/fbimport/client"
	"github.com/featurebasedb/fbimport/client/csv"
	"github.com/featurebasedb/fbimport/errors"
)

func readAll(t *testing.T, iterator *csv.Iterator) []client.Column {
	t.Helper()
	columns := []client.Column{}
	for {
		column, err := iterator.NextRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		columns = append(columns, column)
	}
	return columns
}

func TestCSVColumnIterator(t *testing.T) {
	reader := strings.NewReader(`1,10,683793200
		5,20,683793300
		3,41,683793385`)
	columns := readAll(t, csv.NewColumnIterator(reader))
	target := []client.Column{
		{RowID: 1, ColumnID: 10, Timestamp: 683793200},
		{RowID: 5, ColumnID: 20, Timestamp: 683793300},
		{RowID: 3, ColumnID: 41, Timestamp: 683793385},
	}
	if !reflect.DeepEqual(target, columns) {
		t.Fatalf("%v != %v", target, columns)
	}
}

func TestCSVColumnIteratorOptionalTimestamp(t *testing.T) {
	reader := strings.NewReader("10,5\n10,6\n20,1000000\n")
	columns := readAll(t, csv.NewColumnIterator(reader))
	target := []client.Column{
		{RowID: 10, ColumnID: 5},
		{RowID: 10, ColumnID: 6},
		{RowID: 20, ColumnID: 1000000},
	}
	if !reflect.DeepEqual(target, columns) {
		t.Fatalf("%v != %v", target, columns)
	}
}

func TestCSVColumnIteratorSkipsBlankLines(t *testing.T) {
	reader := strings.NewReader("\n1,2\n\n   \n3,4\n\n")
	iterator := csv.NewColumnIterator(reader)
	columns := readAll(t, iterator)
	if len(columns) != 2 || columns[1].ColumnID != 4 {
		t.Fatalf("unexpected columns %v", columns)
	}
	if iterator.Line() != 6 {
		t.Fatalf("expected to have read 6 lines, got %d", iterator.Line())
	}
}

func TestCSVColumnIteratorWithTimestampFormat(t *testing.T) {
	format := "2006-01-02T03:04"
	reader := strings.NewReader(`1,10,1991-09-02T09:33
		5,20,1991-09-02T09:35
		3,41,1991-09-02T09:36`)
	records := readAll(t, csv.NewColumnIteratorWithTimestampFormat(reader, format))
	target := []client.Column{
		{RowID: 1, ColumnID: 10, Timestamp: 683803980000000000},
		{RowID: 5, ColumnID: 20, Timestamp: 683804100000000000},
		{RowID: 3, ColumnID: 41, Timestamp: 683804160000000000},
	}
	if !reflect.DeepEqual(target, records) {
		t.Fatalf("%v != %v", target, records)
	}
}

func TestCSVColumnIteratorWithTimestampFormatFail(t *testing.T) {
	format := "2014-07-16"
	reader := strings.NewReader(`1,10,X`)
	iterator := csv.NewColumnIteratorWithTimestampFormat(reader, format)
	_, err := iterator.NextRecord()
	if !errors.Is(err, client.ErrMalformedRecord) {
		t.Fatalf("expected malformed record, got %v", err)
	}
}

func TestCSVColumnIteratorInvalidInput(t *testing.T) {
	invalidInputs := []string{
		// less than 2 columns
		"155",
		// more than 3 columns
		"1,2,3,4",
		// invalid row ID
		"a5,155",
		// invalid column ID
		"155,a5",
		// invalid timestamp
		"155,255,a5",
		// negative ids
		"-1,5",
	}
	for _, text := range invalidInputs {
		iterator := csv.NewColumnIterator(strings.NewReader(text))
		_, err := iterator.NextRecord()
		if err == nil {
			t.Fatalf("CSVColumnIterator should fail with input: %s", text)
		}
		var mre *client.MalformedRecordError
		if !errors.As(err, &mre) {
			t.Fatalf("expected *MalformedRecordError for %q, got %T", text, err)
		}
		if mre.Line != 1 || mre.Text != text {
			t.Fatalf("unexpected error detail for %q: %+v", text, mre)
		}
	}
}

func TestCSVColumnIteratorFailFast(t *testing.T) {
	reader := strings.NewReader("1,2\nabc,5\n3,4\n")
	iterator := csv.NewColumnIterator(reader)
	if _, err := iterator.NextRecord(); err != nil {
		t.Fatal(err)
	}
	_, err := iterator.NextRecord()
	if !errors.Is(err, client.ErrMalformedRecord) {
		t.Fatalf("expected malformed record, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("error should name the line: %v", err)
	}
	// The good line after the bad one is never returned.
	if _, err := iterator.NextRecord(); !errors.Is(err, client.ErrExhaustedSource) {
		t.Fatalf("expected exhausted source, got %v", err)
	}
}

func TestCSVColumnIteratorExhausted(t *testing.T) {
	iterator := csv.NewColumnIterator(strings.NewReader("1,2"))
	readAll(t, iterator)
	if _, err := iterator.NextRecord(); !errors.Is(err, client.ErrExhaustedSource) {
		t.Fatalf("expected exhausted source after EOF, got %v", err)
	}
}

type closeRecorder struct {
	io.Reader
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestCSVIteratorClose(t *testing.T) {
	r := &closeRecorder{Reader: strings.NewReader("1,2\n3,4\n")}
	iterator := csv.NewColumnIterator(r)
	if _, err := iterator.NextRecord(); err != nil {
		t.Fatal(err)
	}
	if err := iterator.Close(); err != nil {
		t.Fatal(err)
	}
	if err := iterator.Close(); err != nil {
		t.Fatal(err)
	}
	if r.closed != 1 {
		t.Fatalf("expected reader to be closed once, got %d", r.closed)
	}
	if _, err := iterator.NextRecord(); !errors.Is(err, client.ErrExhaustedSource) {
		t.Fatalf("expected exhausted source after Close, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestCSVIteratorReadError(t *testing.T) {
	iterator := csv.NewColumnIterator(failingReader{})
	_, err := iterator.NextRecord()
	if errors.Cause(err) != io.ErrUnexpectedEOF {
		t.Fatalf("expected read error, got %v", err)
	}
	if _, err := iterator.NextRecord(); !errors.Is(err, client.ErrExhaustedSource) {
		t.Fatalf("expected exhausted source after error, got %v", err)
	}
}
