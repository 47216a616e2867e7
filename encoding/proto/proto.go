// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package proto encodes import requests and decodes import responses in the
// cluster's protobuf wire format.
package proto

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ContentType is sent with every protobuf request body.
const ContentType = "application/x-protobuf"

// Message is anything the Serializer knows how to encode.
type Message interface{}

// ImportRequest is the body of a POST to a field's import endpoint. Every
// column must fall in Shard; RowIDs, ColumnIDs and (when present)
// Timestamps are parallel slices.
type ImportRequest struct {
	Index          string
	Field          string
	Shard          uint64
	RowIDs         []uint64
	ColumnIDs      []uint64
	Timestamps     []int64
	RowKeys        []string
	ColumnKeys     []string
	IndexCreatedAt int64
	FieldCreatedAt int64
}

// ImportResponse is returned by a node after an import. A non-empty Err is
// a server-side rejection of the request.
type ImportResponse struct {
	Err string
}

// Field numbers, matching the server's public.proto.
const (
	importIndex          protowire.Number = 1
	importField          protowire.Number = 2
	importShard          protowire.Number = 3
	importRowIDs         protowire.Number = 4
	importColumnIDs      protowire.Number = 5
	importTimestamps     protowire.Number = 6
	importRowKeys        protowire.Number = 7
	importColumnKeys     protowire.Number = 8
	importIndexCreatedAt protowire.Number = 9
	importFieldCreatedAt protowire.Number = 10

	responseErr protowire.Number = 1
)

// ErrUnknownMessage is returned for types the Serializer does not handle.
var ErrUnknownMessage = errors.New("unknown message type")

// Serializer marshals and unmarshals import messages.
type Serializer struct{}

// DefaultSerializer is a ready to use Serializer.
var DefaultSerializer = Serializer{}

// Marshal turns messages into protobuf serialized bytes.
func (Serializer) Marshal(m Message) ([]byte, error) {
	switch mt := m.(type) {
	case *ImportRequest:
		if err := mt.validate(); err != nil {
			return nil, errors.Wrap(err, "marshalling ImportRequest")
		}
		return encodeImportRequest(mt), nil
	case *ImportResponse:
		return encodeImportResponse(mt), nil
	default:
		return nil, errors.Wrapf(ErrUnknownMessage, "marshalling %T", m)
	}
}

// Unmarshal takes byte slices and protobuf deserializes them into m.
func (Serializer) Unmarshal(buf []byte, m Message) error {
	switch mt := m.(type) {
	case *ImportRequest:
		*mt = ImportRequest{}
		return errors.Wrap(decodeImportRequest(buf, mt), "unmarshaling ImportRequest")
	case *ImportResponse:
		*mt = ImportResponse{}
		return errors.Wrap(decodeImportResponse(buf, mt), "unmarshaling ImportResponse")
	default:
		return errors.Wrapf(ErrUnknownMessage, "unmarshaling %T", m)
	}
}

func (r *ImportRequest) validate() error {
	if len(r.RowIDs) != len(r.ColumnIDs) && len(r.RowKeys) == 0 && len(r.ColumnKeys) == 0 {
		return errors.Errorf("row/column length mismatch: %d != %d", len(r.RowIDs), len(r.ColumnIDs))
	}
	if len(r.Timestamps) != 0 && len(r.Timestamps) != len(r.ColumnIDs) {
		return errors.Errorf("timestamp/column length mismatch: %d != %d", len(r.Timestamps), len(r.ColumnIDs))
	}
	return nil
}

func encodeImportRequest(m *ImportRequest) []byte {
	size := len(m.Index) + len(m.Field) + 16 + 10*(len(m.RowIDs)+len(m.ColumnIDs)+len(m.Timestamps))
	b := make([]byte, 0, size)
	b = appendString(b, importIndex, m.Index)
	b = appendString(b, importField, m.Field)
	b = appendVarint(b, importShard, m.Shard)
	b = appendPackedUint64(b, importRowIDs, m.RowIDs)
	b = appendPackedUint64(b, importColumnIDs, m.ColumnIDs)
	if len(m.Timestamps) > 0 {
		packed := make([]byte, 0, 10*len(m.Timestamps))
		for _, ts := range m.Timestamps {
			packed = protowire.AppendVarint(packed, uint64(ts))
		}
		b = protowire.AppendTag(b, importTimestamps, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	for _, k := range m.RowKeys {
		b = protowire.AppendTag(b, importRowKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	for _, k := range m.ColumnKeys {
		b = protowire.AppendTag(b, importColumnKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	b = appendVarint(b, importIndexCreatedAt, uint64(m.IndexCreatedAt))
	b = appendVarint(b, importFieldCreatedAt, uint64(m.FieldCreatedAt))
	return b
}

func encodeImportResponse(m *ImportResponse) []byte {
	return appendString(nil, responseErr, m.Err)
}

// appendString and appendVarint skip zero values, as proto3 does.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedUint64(b []byte, num protowire.Number, vs []uint64) []byte {
	if len(vs) == 0 {
		return b
	}
	packed := make([]byte, 0, 10*len(vs))
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func decodeImportRequest(b []byte, m *ImportRequest) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var err error
		switch num {
		case importIndex:
			m.Index, n, err = consumeString(b, typ)
		case importField:
			m.Field, n, err = consumeString(b, typ)
		case importShard:
			m.Shard, n, err = consumeVarint(b, typ)
		case importRowIDs:
			m.RowIDs, n, err = consumeUint64s(b, typ, m.RowIDs)
		case importColumnIDs:
			m.ColumnIDs, n, err = consumeUint64s(b, typ, m.ColumnIDs)
		case importTimestamps:
			var vs []uint64
			vs, n, err = consumeUint64s(b, typ, nil)
			for _, v := range vs {
				m.Timestamps = append(m.Timestamps, int64(v))
			}
		case importRowKeys:
			var s string
			s, n, err = consumeString(b, typ)
			m.RowKeys = append(m.RowKeys, s)
		case importColumnKeys:
			var s string
			s, n, err = consumeString(b, typ)
			m.ColumnKeys = append(m.ColumnKeys, s)
		case importIndexCreatedAt:
			var v uint64
			v, n, err = consumeVarint(b, typ)
			m.IndexCreatedAt = int64(v)
		case importFieldCreatedAt:
			var v uint64
			v, n, err = consumeVarint(b, typ)
			m.FieldCreatedAt = int64(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if err != nil {
			return errors.Wrapf(err, "field %d", num)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]
	}
	return nil
}

func decodeImportResponse(b []byte, m *ImportResponse) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var err error
		if num == responseErr {
			m.Err, n, err = consumeString(b, typ)
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if err != nil {
			return err
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func consumeString(b []byte, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, errors.Errorf("wrong wire type %d for string", typ)
	}
	s, n := protowire.ConsumeString(b)
	return s, n, nil
}

func consumeVarint(b []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errors.Errorf("wrong wire type %d for varint", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	return v, n, nil
}

// consumeUint64s accepts both packed and unpacked encodings.
func consumeUint64s(b []byte, typ protowire.Type, dst []uint64) ([]uint64, int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return dst, n, nil
		}
		return append(dst, v), n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return dst, n, nil
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return dst, m, nil
			}
			dst = append(dst, v)
			packed = packed[m:]
		}
		return dst, n, nil
	default:
		return dst, 0, errors.Errorf("wrong wire type %d for repeated varint", typ)
	}
}
