// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"encoding/gob"
	"io"
	"sync"
)

// importLog is one successfully imported request, recorded so that an
// import can be replayed against another cluster.
type importLog struct {
	Index     string
	Field     string
	Path      string
	Shard     uint64
	Node      string
	Timestamp int64 // Unix Nanoseconds
	Data      []byte
}

type encoder interface {
	Encode(thing interface{}) error
}

func newImportLogEncoder(w io.Writer) encoder {
	return gob.NewEncoder(w)
}

type decoder interface {
	Decode(thing interface{}) error
}

func newImportLogDecoder(r io.Reader) decoder {
	return gob.NewDecoder(r)
}

// importLogger serializes writes from concurrent dispatches.
type importLogger struct {
	mu  sync.Mutex
	enc encoder
}

func (l *importLogger) log(entry importLog) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(entry)
}
