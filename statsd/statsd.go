// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package statsd

import (
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/featurebasedb/fbimport/logger"
	"github.com/featurebasedb/fbimport/stats"
)

// StatsD protocol wrapper using the DataDog library that added Tags to the StatsD protocol
// statsD default host is "127.0.0.1:8125"

const (
	// DefaultPrefix is prepended to each metric event name when no
	// namespace is given.
	DefaultPrefix = "fbimport."

	// bufferLen Stats client buffer size.
	bufferLen = 1024
)

// Ensure client implements interface.
var _ stats.StatsClient = &statsClient{}

// statsClient represents a StatsD implementation of stats.StatsClient.
type statsClient struct {
	client *statsd.Client
	prefix string
	tags   []string
	logger logger.Logger
}

// NewStatsClient returns a new instance of StatsClient. Metric names are
// prefixed with namespace followed by a dot.
func NewStatsClient(host, namespace string) (*statsClient, error) {
	c, err := statsd.NewBuffered(host, bufferLen)
	if err != nil {
		return nil, err
	}

	prefix := DefaultPrefix
	if namespace != "" {
		prefix = namespace + "."
	}
	return &statsClient{
		client: c,
		prefix: prefix,
		logger: logger.NopLogger,
	}, nil
}

// Close closes the connection to the agent.
func (c *statsClient) Close() error {
	return c.client.Close()
}

// Tags returns a sorted list of tags on the client.
func (c *statsClient) Tags() []string {
	return c.tags
}

// WithTags returns a new client with additional tags appended.
func (c *statsClient) WithTags(tags ...string) stats.StatsClient {
	return &statsClient{
		client: c.client,
		prefix: c.prefix,
		tags:   stats.UnionStringSlice(c.tags, tags),
		logger: c.logger,
	}
}

// Count tracks the number of times something occurs per second.
func (c *statsClient) Count(name string, value int64, rate float64) {
	if err := c.client.Count(c.prefix+name, value, c.tags, rate); err != nil {
		c.logger.Errorf("statsd.StatsClient.Count error: %s", err)
	}
}

// Gauge sets the value of a metric.
func (c *statsClient) Gauge(name string, value float64, rate float64) {
	if err := c.client.Gauge(c.prefix+name, value, c.tags, rate); err != nil {
		c.logger.Errorf("statsd.StatsClient.Gauge error: %s", err)
	}
}

// Histogram tracks statistical distribution of a metric.
func (c *statsClient) Histogram(name string, value float64, rate float64) {
	if err := c.client.Histogram(c.prefix+name, value, c.tags, rate); err != nil {
		c.logger.Errorf("statsd.StatsClient.Histogram error: %s", err)
	}
}

// Timing tracks timing information for a metric.
func (c *statsClient) Timing(name string, value time.Duration, rate float64) {
	if err := c.client.Timing(c.prefix+name, value, c.tags, rate); err != nil {
		c.logger.Errorf("statsd.StatsClient.Timing error: %s", err)
	}
}

// SetLogger sets the logger for client.
func (c *statsClient) SetLogger(logger logger.Logger) {
	c.logger = logger
}
