// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"strings"
	"time"

	"github.com/featurebasedb/fbimport/errors"
	"github.com/featurebasedb/fbimport/logger"
	"github.com/featurebasedb/fbimport/shardwidth"
	"github.com/featurebasedb/fbimport/stats"
)

const (
	DefaultBatchSize           = 100000
	DefaultConcurrency         = 4
	DefaultTopologyRetries     = 3
	DefaultTopologyBackoff     = 100 * time.Millisecond
	DefaultMaxTopologyBackoff  = 5 * time.Second
	defaultTopologyBackoffMult = 2
)

// FailurePolicy decides what an import does after a batch fails.
type FailurePolicy int

const (
	// AbortOnFirst stops submitting batches after the first failure.
	// Batches already sent to a node are allowed to finish.
	AbortOnFirst FailurePolicy = iota
	// CollectAll keeps importing and reports every failure at the end.
	CollectAll
)

func (p FailurePolicy) String() string {
	switch p {
	case AbortOnFirst:
		return "abort"
	case CollectAll:
		return "collect"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy parses "abort" or "collect".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort", "abort-on-first", "":
		return AbortOnFirst, nil
	case "collect", "collect-all":
		return CollectAll, nil
	default:
		return 0, errors.Newf(ErrInvalidOption, "unknown failure policy %q", s)
	}
}

// RetryPolicy bounds the work spent on a single batch.
type RetryPolicy struct {
	// MaxAttemptsPerBatch limits how many distinct nodes are tried. Zero
	// means every candidate node.
	MaxAttemptsPerBatch int
	// TopologyRetries is how many times a failed topology lookup is
	// retried, with exponential backoff, before the batch fails.
	TopologyRetries int
	// TopologyBackoff is the first retry interval; it doubles up to
	// MaxTopologyBackoff.
	TopologyBackoff    time.Duration
	MaxTopologyBackoff time.Duration
}

// ImportOptions are the options for controlling the importer.
type ImportOptions struct {
	ShardWidth  uint64
	BatchSize   int
	Concurrency int
	Retry       RetryPolicy
	OnFailure   FailurePolicy
	// Deadline bounds the whole import. It is checked before each batch
	// is submitted, never in the middle of a request.
	Deadline time.Duration
	// RateLimit caps batch submissions per second. Zero is unlimited.
	RateLimit float64

	logger logger.Logger
	stats  stats.StatsClient
}

// ImportOption is used when running imports.
type ImportOption func(options *ImportOptions) error

func (io *ImportOptions) addOptions(options ...ImportOption) error {
	for _, option := range options {
		if err := option(io); err != nil {
			return err
		}
	}
	return nil
}

func (io *ImportOptions) withDefaults() (updated *ImportOptions) {
	updated = &ImportOptions{}
	*updated = *io
	if updated.ShardWidth == 0 {
		updated.ShardWidth = shardwidth.DefaultWidth
	}
	if updated.BatchSize == 0 {
		updated.BatchSize = DefaultBatchSize
	}
	if updated.Concurrency == 0 {
		updated.Concurrency = DefaultConcurrency
	}
	if updated.Retry.TopologyBackoff == 0 {
		updated.Retry.TopologyBackoff = DefaultTopologyBackoff
	}
	if updated.Retry.MaxTopologyBackoff == 0 {
		updated.Retry.MaxTopologyBackoff = DefaultMaxTopologyBackoff
	}
	if updated.logger == nil {
		updated.logger = logger.NopLogger
	}
	if updated.stats == nil {
		updated.stats = stats.NopStatsClient
	}
	return updated
}

// Validate reports the first option which cannot be used.
func (io *ImportOptions) Validate() error {
	switch {
	case io.ShardWidth == 0:
		return errors.New(ErrInvalidOption, "shard width must be positive")
	case io.BatchSize <= 0:
		return errors.Newf(ErrInvalidOption, "batch size must be positive, got %d", io.BatchSize)
	case io.Concurrency <= 0:
		return errors.Newf(ErrInvalidOption, "concurrency must be positive, got %d", io.Concurrency)
	case io.Retry.MaxAttemptsPerBatch < 0:
		return errors.Newf(ErrInvalidOption, "max attempts per batch must not be negative, got %d", io.Retry.MaxAttemptsPerBatch)
	case io.Retry.TopologyRetries < 0:
		return errors.Newf(ErrInvalidOption, "topology retries must not be negative, got %d", io.Retry.TopologyRetries)
	case io.OnFailure != AbortOnFirst && io.OnFailure != CollectAll:
		return errors.Newf(ErrInvalidOption, "unknown failure policy %d", io.OnFailure)
	case io.Deadline < 0:
		return errors.Newf(ErrInvalidOption, "deadline must not be negative, got %s", io.Deadline)
	case io.RateLimit < 0:
		return errors.Newf(ErrInvalidOption, "rate limit must not be negative, got %v", io.RateLimit)
	}
	return nil
}

// OptImportShardWidth sets the shard width. It must match the cluster's.
func OptImportShardWidth(width uint64) ImportOption {
	return func(options *ImportOptions) error {
		options.ShardWidth = width
		return nil
	}
}

// OptImportThreadCount is the number of batches dispatched concurrently.
func OptImportThreadCount(count int) ImportOption {
	return func(options *ImportOptions) error {
		options.Concurrency = count
		return nil
	}
}

// OptImportBatchSize is the number of records per shard collected before
// they are sent.
func OptImportBatchSize(batchSize int) ImportOption {
	return func(options *ImportOptions) error {
		options.BatchSize = batchSize
		return nil
	}
}

// OptImportRetryPolicy replaces the retry policy.
func OptImportRetryPolicy(policy RetryPolicy) ImportOption {
	return func(options *ImportOptions) error {
		options.Retry = policy
		return nil
	}
}

// OptImportMaxAttempts limits the nodes tried per batch.
func OptImportMaxAttempts(n int) ImportOption {
	return func(options *ImportOptions) error {
		options.Retry.MaxAttemptsPerBatch = n
		return nil
	}
}

// OptImportTopologyRetries sets how often a failed topology lookup is retried.
func OptImportTopologyRetries(n int) ImportOption {
	return func(options *ImportOptions) error {
		options.Retry.TopologyRetries = n
		return nil
	}
}

// OptImportOnFailure sets the failure policy.
func OptImportOnFailure(policy FailurePolicy) ImportOption {
	return func(options *ImportOptions) error {
		options.OnFailure = policy
		return nil
	}
}

// OptImportDeadline bounds the duration of the whole import.
func OptImportDeadline(d time.Duration) ImportOption {
	return func(options *ImportOptions) error {
		options.Deadline = d
		return nil
	}
}

// OptImportRateLimit caps the batches submitted per second.
func OptImportRateLimit(perSecond float64) ImportOption {
	return func(options *ImportOptions) error {
		options.RateLimit = perSecond
		return nil
	}
}

// OptImportLogger sets the logger used during the import.
func OptImportLogger(l logger.Logger) ImportOption {
	return func(options *ImportOptions) error {
		options.logger = l
		return nil
	}
}

// OptImportStatsClient sets the stats client used during the import.
func OptImportStatsClient(s stats.StatsClient) ImportOption {
	return func(options *ImportOptions) error {
		options.stats = s
		return nil
	}
}
