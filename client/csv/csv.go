// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package csv reads import records from delimited text. Each non-blank
// line holds ROW_ID,COLUMN_ID and an optional TIMESTAMP.
package csv

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/featurebasedb/fbimport/client"
	"github.com/featurebasedb/fbimport/errors"
)

var (
	errFieldCount  = errors.New(client.ErrMalformedRecord, "expected ROW_ID,COLUMN_ID[,TIMESTAMP]")
	errRowID       = errors.New(client.ErrMalformedRecord, "invalid row ID")
	errColumnID    = errors.New(client.ErrMalformedRecord, "invalid column ID")
	errTimestamp   = errors.New(client.ErrMalformedRecord, "invalid timestamp")
	errIteratorEnd = errors.New(client.ErrExhaustedSource, "csv iterator exhausted")
)

// ColumnUnmarshaller creates a RecordUnmarshaller for ROW_ID,COLUMN_ID lines
// with an optional integer timestamp.
func ColumnUnmarshaller() RecordUnmarshaller {
	return ColumnUnmarshallerWithTimestamp("")
}

// ColumnUnmarshallerWithTimestamp creates a RecordUnmarshaller whose
// timestamps are parsed with the given time layout. An empty layout means
// timestamps are integers.
func ColumnUnmarshallerWithTimestamp(timestampFormat string) RecordUnmarshaller {
	return func(text string) (client.Column, error) {
		var err error
		column := client.Column{}
		parts := strings.Split(text, ",")
		if len(parts) < 2 || len(parts) > 3 {
			return column, errFieldCount
		}

		column.RowID, err = strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return column, errors.Wrap(errRowID, err.Error())
		}
		column.ColumnID, err = strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return column, errors.Wrap(errColumnID, err.Error())
		}

		if len(parts) == 3 {
			ts := strings.TrimSpace(parts[2])
			if timestampFormat == "" {
				column.Timestamp, err = strconv.ParseInt(ts, 10, 64)
				if err != nil {
					return column, errors.Wrap(errTimestamp, err.Error())
				}
			} else {
				t, err := time.Parse(timestampFormat, ts)
				if err != nil {
					return column, errors.Wrap(errTimestamp, err.Error())
				}
				column.Timestamp = t.Unix() * int64(time.Second) // Casting a duration to int64 gives the number of nanoseconds in that duration.
			}
		}
		return column, nil
	}
}

// RecordUnmarshaller is a function which creates a Column from a CSV line.
type RecordUnmarshaller func(text string) (client.Column, error)

// Iterator reads records from a Reader. It stops at the first line it
// cannot parse; skipping bad lines would silently drop data.
type Iterator struct {
	mu           sync.Mutex
	reader       io.Reader
	line         int
	scanner      *bufio.Scanner
	unmarshaller RecordUnmarshaller
	done         bool
	closed       bool
}

var _ client.RecordIterator = &Iterator{}

// NewIterator creates a CSVIterator from a Reader.
func NewIterator(reader io.Reader, unmarshaller RecordUnmarshaller) *Iterator {
	return &Iterator{
		reader:       reader,
		line:         0,
		scanner:      bufio.NewScanner(reader),
		unmarshaller: unmarshaller,
	}
}

// NewColumnIterator creates a new iterator for column data.
func NewColumnIterator(reader io.Reader) *Iterator {
	return NewIterator(reader, ColumnUnmarshaller())
}

// NewColumnIteratorWithTimestampFormat creates a new iterator for column data with timestamp.
func NewColumnIteratorWithTimestampFormat(reader io.Reader, timestampFormat string) *Iterator {
	return NewIterator(reader, ColumnUnmarshallerWithTimestamp(timestampFormat))
}

// NextRecord iterates on lines of a Reader, skipping blank ones.
// Returns io.EOF on end of iteration. A line which does not parse is
// returned as a *client.MalformedRecordError.
func (c *Iterator) NextRecord() (client.Column, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return client.Column{}, errIteratorEnd
	}
	for c.scanner.Scan() {
		c.line++
		text := strings.TrimSpace(c.scanner.Text())
		if text == "" {
			continue
		}
		rc, err := c.unmarshaller(text)
		if err != nil {
			c.done = true
			return client.Column{}, &client.MalformedRecordError{Line: c.line, Text: text, Cause: err}
		}
		return rc, nil
	}
	c.done = true
	if err := c.scanner.Err(); err != nil {
		return client.Column{}, errors.Wrapf(err, "reading line %d", c.line+1)
	}
	return client.Column{}, io.EOF
}

// Line returns the number of the last line read.
func (c *Iterator) Line() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.line
}

// Close ends iteration, closing the underlying reader if it is an
// io.Closer.
func (c *Iterator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
	if c.closed {
		return nil
	}
	c.closed = true
	if closer, ok := c.reader.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
