// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"context"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Signal is what a single import attempt told us about the node.
type Signal int

const (
	// SignalOK is a successful import.
	SignalOK Signal = iota
	// SignalNotFragmentNode means the node no longer owns the shard.
	SignalNotFragmentNode
	// SignalConnRefused means nothing is listening at the node's address.
	SignalConnRefused
	// SignalTimeout is a transport timeout.
	SignalTimeout
	// SignalUnavailable is a 5xx, a 429, or any other transport failure.
	SignalUnavailable
	// SignalValidation is a rejection of the request itself, such as an
	// unknown field.
	SignalValidation
)

func (s Signal) String() string {
	switch s {
	case SignalOK:
		return "ok"
	case SignalNotFragmentNode:
		return "not a fragment node"
	case SignalConnRefused:
		return "connection refused"
	case SignalTimeout:
		return "timeout"
	case SignalUnavailable:
		return "unavailable"
	case SignalValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// OutcomeKind is the result of an import attempt or of a whole dispatch.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Class is the dispatch policy for a Signal.
type Class struct {
	Kind OutcomeKind
	// Invalidate is set when the signal suggests the cached topology for
	// the shard is stale.
	Invalidate bool
}

// Classify maps a Signal to what the Dispatcher does next. Validation
// failures are fatal since no other replica would accept the request.
// Unknown signals are treated as fatal.
func Classify(s Signal) Class {
	switch s {
	case SignalOK:
		return Class{Kind: OutcomeSuccess}
	case SignalNotFragmentNode, SignalConnRefused:
		return Class{Kind: OutcomeRetryable, Invalidate: true}
	case SignalTimeout, SignalUnavailable:
		return Class{Kind: OutcomeRetryable}
	default:
		return Class{Kind: OutcomeFatal}
	}
}

// notFragmentNodeMessages are response bodies which mean the node does not
// hold the shard, whatever the status code.
var notFragmentNodeMessages = []string{
	"not a fragment node",
	"not the owner",
	"shard not owned",
	"does not own shard",
}

// SignalOf turns the error returned by a NodeImporter into a Signal.
func SignalOf(err error) Signal {
	if err == nil {
		return SignalOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return signalFromStatus(se.Status, se.Message)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return SignalConnRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return SignalTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return SignalTimeout
	}
	return SignalUnavailable
}

func signalFromStatus(status int, message string) Signal {
	msg := strings.ToLower(message)
	for _, m := range notFragmentNodeMessages {
		if strings.Contains(msg, m) {
			return SignalNotFragmentNode
		}
	}
	switch {
	case status == http.StatusPreconditionFailed:
		// Without an ownership message this is a schema precondition, such
		// as a recreated index, which no replica would accept.
		return SignalValidation
	case status == http.StatusTooManyRequests:
		return SignalUnavailable
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return SignalTimeout
	case status >= 500:
		return SignalUnavailable
	case status >= 200 && status < 300 && message == "":
		return SignalOK
	default:
		// 4xx, and 2xx with an error in the response body.
		return SignalValidation
	}
}
