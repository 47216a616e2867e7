// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"fmt"

	"github.com/featurebasedb/fbimport/errors"
	pnet "github.com/featurebasedb/fbimport/net"
)

// Error codes for failures surfaced by the import pipeline. Use errors.Is
// from this module's errors package to test for them.
const (
	ErrMalformedRecord     errors.Code = "MalformedRecord"
	ErrTopologyUnavailable errors.Code = "TopologyUnavailable"
	ErrRetryableDispatch   errors.Code = "RetryableDispatch"
	ErrFatalDispatch       errors.Code = "FatalDispatch"
	ErrCancelled           errors.Code = "Cancelled"
	ErrExhaustedSource     errors.Code = "ExhaustedSource"
	ErrAllNodesFailed      errors.Code = "AllNodesFailed"
	ErrInvalidOption       errors.Code = "InvalidOption"
	ErrInvalidImportLog    errors.Code = "InvalidImportLog"
)

// Predefined client errors.
var (
	ErrEmptyCluster     = errors.New(ErrTopologyUnavailable, "no usable addresses in the cluster")
	ErrNoFragmentNodes  = errors.New(ErrTopologyUnavailable, "no fragment nodes")
	ErrInvalidIndexName = errors.New(ErrInvalidOption, "invalid index name")
	ErrInvalidFieldName = errors.New(ErrInvalidOption, "invalid field name")

	ErrAddrURIClusterExpected = errors.New(ErrInvalidOption, "addresses, URIs or a cluster is expected")
)

// exhausted is returned by sources once they can no longer produce records.
func exhausted() error {
	return errors.New(ErrExhaustedSource, "record source exhausted")
}

// MalformedRecordError is returned by a record source which could not
// parse its input. The source is unusable afterwards.
type MalformedRecordError struct {
	Line  int
	Text  string
	Cause error
}

func (e *MalformedRecordError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed record at line %d (%q): %v", e.Line, e.Text, e.Cause)
	}
	return fmt.Sprintf("malformed record: %v", e.Cause)
}

func (e *MalformedRecordError) Unwrap() error { return e.Cause }

func (e *MalformedRecordError) ErrorCode() errors.Code { return ErrMalformedRecord }

// TopologyUnavailableError means the nodes owning a shard could not be
// determined, either because the cluster could not be reached or because it
// reported no nodes.
type TopologyUnavailableError struct {
	Index string
	Shard uint64
	Cause error
}

func (e *TopologyUnavailableError) Error() string {
	return fmt.Sprintf("topology unavailable for index %s shard %d: %v", e.Index, e.Shard, e.Cause)
}

func (e *TopologyUnavailableError) Unwrap() error { return e.Cause }

func (e *TopologyUnavailableError) ErrorCode() errors.Code { return ErrTopologyUnavailable }

// DispatchError is the failure of a single attempt to import a batch on
// one node.
type DispatchError struct {
	Node   pnet.URI
	Signal Signal
	Cause  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("import to %s failed (%s): %v", e.Node.HostPort(), e.Signal, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// ErrorCode reports whether another node might accept the batch.
func (e *DispatchError) ErrorCode() errors.Code {
	if Classify(e.Signal).Kind == OutcomeRetryable {
		return ErrRetryableDispatch
	}
	return ErrFatalDispatch
}

// AllNodesFailedError is returned when every candidate node for a batch
// failed with a retryable error.
type AllNodesFailedError struct {
	Index    string
	Shard    uint64
	Attempts int
	Last     error
}

func (e *AllNodesFailedError) Error() string {
	return fmt.Sprintf("all %d nodes failed for index %s shard %d, last error: %v", e.Attempts, e.Index, e.Shard, e.Last)
}

func (e *AllNodesFailedError) Unwrap() error { return e.Last }

func (e *AllNodesFailedError) ErrorCode() errors.Code { return ErrAllNodesFailed }

// StatusError is a non-success response from a node.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}
