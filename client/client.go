// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/featurebasedb/fbimport/encoding/proto"
	fberrors "github.com/featurebasedb/fbimport/errors"
	"github.com/featurebasedb/fbimport/logger"
	pnet "github.com/featurebasedb/fbimport/net"
	"github.com/featurebasedb/fbimport/stats"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// PQLVersion is the version of PQL expected by the client
const PQLVersion = "1.0"

// DefaultTopologyCheckInterval is how often a Client samples its shard
// node cache for cluster changes.
const DefaultTopologyCheckInterval = time.Minute

var (
	_ FragmentNodeFetcher = &Client{}
	_ NodeImporter        = &Client{}
)

// Client is the HTTP client used to discover shard owners and to send
// import requests to them.
type Client struct {
	cluster *Cluster
	// client sends imports; it has no overall request timeout.
	client *http.Client
	// fetch asks the cluster about topology, with retries.
	fetch  *retryablehttp.Client
	logger logger.Logger
	tracer opentracing.Tracer
	Stats  stats.StatsClient

	nat map[pnet.URI]pnet.URI

	shardNodes *ShardNodes
	tick       *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once

	importLog *importLogger

	// pathPrefix is prepended to every URL path. This is used, for example,
	// when the cluster is served behind a proxy at `host:port/prefix`.
	pathPrefix string

	AuthToken string
}

// NewClient creates a client with the given address, URI, or cluster and options.
func NewClient(addrURIOrCluster interface{}, options ...ClientOption) (*Client, error) {
	clientOptions := &ClientOptions{
		nat: make(map[pnet.URI]pnet.URI),
	}
	if err := clientOptions.addOptions(options...); err != nil {
		return nil, err
	}

	var cluster *Cluster
	switch u := addrURIOrCluster.(type) {
	case string:
		uri, err := pnet.NewURIFromAddress(u)
		if err != nil {
			return nil, err
		}
		cluster = NewClusterWithHost(*uri)
	case []string:
		cluster = DefaultCluster()
		for _, address := range u {
			uri, err := pnet.NewURIFromAddress(address)
			if err != nil {
				return nil, err
			}
			cluster.AddHost(*uri)
		}
	case pnet.URI:
		cluster = NewClusterWithHost(u)
	case *pnet.URI:
		cluster = NewClusterWithHost(*u)
	case []pnet.URI:
		cluster = NewClusterWithHost(u...)
	case *Cluster:
		cluster = u
	case nil:
		cluster = DefaultCluster()
	default:
		return nil, ErrAddrURIClusterExpected
	}

	return newClientWithOptions(cluster, clientOptions), nil
}

// DefaultClient creates a client with the default address and options.
func DefaultClient() *Client {
	return newClientWithOptions(NewClusterWithHost(*pnet.DefaultURI()), &ClientOptions{})
}

func newClientWithOptions(cluster *Cluster, options *ClientOptions) *Client {
	options = options.withDefaults()

	c := &Client{
		cluster:    cluster,
		client:     newHTTPClient(options, options.SocketTimeout),
		logger:     options.logger,
		tracer:     options.tracer,
		Stats:      options.stats,
		nat:        options.nat,
		done:       make(chan struct{}),
		pathPrefix: options.pathPrefix,
	}

	c.fetch = retryablehttp.NewClient()
	c.fetch.HTTPClient = newHTTPClient(options, options.FetchTimeout)
	c.fetch.RetryMax = *options.retries
	c.fetch.RetryWaitMax = options.maxBackoff
	c.fetch.Logger = logger.LeveledLogger{Logger: c.logger.WithPrefix("fetch: ")}
	c.fetch.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c.shardNodes = NewShardNodes(c, c.logger)
	if options.importLog != nil {
		c.importLog = &importLogger{enc: newImportLogEncoder(options.importLog)}
	}
	if interval := *options.topologyCheckInterval; interval > 0 {
		c.tick = time.NewTicker(interval)
		go c.runChangeDetection()
	}
	return c
}

// ShardNodes returns the client's topology cache.
func (c *Client) ShardNodes() *ShardNodes {
	return c.shardNodes
}

func (c *Client) runChangeDetection() {
	for {
		select {
		case <-c.tick.C:
			c.shardNodes.DetectChanges(context.Background())
		case <-c.done:
			return
		}
	}
}

// Close stops background topology checks.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.tick != nil {
			c.tick.Stop()
		}
		close(c.done)
	})
	return nil
}

// Import reads src to the end and imports every record into index/field,
// sending each batch to the nodes which own its shard.
func (c *Client) Import(ctx context.Context, src RecordIterator, index, field string, options ...ImportOption) (*ImportReport, error) {
	span, ctx := startSpan(ctx, c.tracer, "Client.Import")
	defer span.Finish()
	span.SetTag("index", index)
	span.SetTag("field", field)

	opts := append([]ImportOption{OptImportLogger(c.logger), OptImportStatsClient(c.Stats)}, options...)
	report, err := RunImport(ctx, src, index, field, c.shardNodes, c, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "starting import")
	}
	shards := 0
	for _, e := range c.shardNodes.Entries() {
		if e.Index == index {
			shards++
			c.logger.Debugf("%s shard %d is held by %v", index, e.Shard, e.Nodes)
		}
	}
	span.SetTag("cached_shards", shards)
	if rerr := report.Err(); rerr != nil {
		span.SetTag("error", true)
		span.LogKV("event", "import failed", "message", rerr.Error())
	}
	return report, nil
}

// FetchFragmentNodes asks the cluster which nodes hold shard of index,
// primary first. Hosts which cannot be reached are skipped in favor of the
// others.
func (c *Client) FetchFragmentNodes(ctx context.Context, index string, shard uint64) ([]pnet.URI, error) {
	span, ctx := startSpan(ctx, c.tracer, "Client.FetchFragmentNodes")
	defer span.Finish()

	path := fmt.Sprintf("/internal/fragment/nodes?shard=%d&index=%s", shard, url.QueryEscape(index))
	n := c.cluster.Len()
	if n == 0 {
		return nil, ErrEmptyCluster
	}
	var lastErr error
	for i := 0; i < n; i++ {
		host, _ := c.cluster.Host()
		status, body, err := c.doFetch(ctx, host, path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warnf("fetching fragment nodes from %s: %v", host.HostPort(), err)
			c.cluster.RemoveHost(host)
			lastErr = err
			continue
		}
		if status != http.StatusOK {
			return nil, &StatusError{Status: status, Message: strings.TrimSpace(string(body))}
		}
		return c.decodeFragmentNodes(body)
	}
	return nil, errors.Wrap(lastErr, "no host answered")
}

func (c *Client) decodeFragmentNodes(body []byte) ([]pnet.URI, error) {
	var roots []fragmentNodeRoot
	if err := json.Unmarshal(body, &roots); err != nil {
		return nil, errors.Wrap(err, "unmarshaling fragment node URIs")
	}
	nodes := make([]pnet.URI, 0, len(roots))
	for _, root := range roots {
		nodes = append(nodes, root.URI.Translate(c.nat))
	}
	return nodes, nil
}

func (c *Client) doFetch(ctx context.Context, host pnet.URI, path string) (int, []byte, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, host.Normalize()+c.prefix()+path, nil)
	if err != nil {
		return 0, nil, errors.Wrap(err, "building request")
	}
	req = req.WithContext(ctx)
	for k, v := range c.augmentHeaders(defaultJSONHeaders()) {
		req.Header.Set(k, v)
	}

	resp, err := c.fetch.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "sending request")
	}
	defer resp.Body.Close()
	c.warnings(resp)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "reading response body")
	}
	return resp.StatusCode, body, nil
}

// ImportNode sends one encoded import request to node. Transport errors
// are returned wrapped; responses other than success are returned as a
// *StatusError.
func (c *Client) ImportNode(ctx context.Context, node pnet.URI, index, field string, shard uint64, data []byte) error {
	span, ctx := startSpan(ctx, c.tracer, "Client.ImportNode")
	defer span.Finish()
	span.SetTag("node", node.HostPort())
	span.SetTag("shard", shard)

	path := makeImportPath(index, field)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.Normalize()+c.prefix()+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	for k, v := range c.augmentHeaders(defaultProtobufHeaders()) {
		req.Header.Set(k, v)
	}
	if err := c.tracer.Inject(span.Context(), opentracing.HTTPHeaders, opentracing.HTTPHeadersCarrier(req.Header)); err != nil {
		c.logger.Debugf("injecting span: %v", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "import to %s", node.HostPort())
	}
	defer resp.Body.Close()
	c.warnings(resp)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading response from %s", node.HostPort())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if len(body) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), proto.ContentType) {
		ir := &proto.ImportResponse{}
		if err := proto.DefaultSerializer.Unmarshal(body, ir); err != nil {
			return errors.Wrapf(err, "decoding response from %s", node.HostPort())
		}
		if ir.Err != "" {
			return &StatusError{Status: resp.StatusCode, Message: ir.Err}
		}
	}

	if err := c.importLog.log(importLog{
		Index:     index,
		Field:     field,
		Path:      path,
		Shard:     shard,
		Node:      node.HostPort(),
		Timestamp: time.Now().UnixNano(),
		Data:      data,
	}); err != nil {
		c.logger.Errorf("writing import log: %v", err)
	}
	return nil
}

// ReplayImportLog re-sends every request recorded in an import log,
// routing each one to the nodes which currently own its shard. It returns
// the number of requests replayed.
func (c *Client) ReplayImportLog(ctx context.Context, r io.Reader) (int, error) {
	dec := newImportLogDecoder(r)
	d := &Dispatcher{Cache: c.shardNodes, Importer: c, Logger: c.logger, Stats: c.Stats}
	n := 0
	for {
		var entry importLog
		if err := dec.Decode(&entry); err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, errors.Wrapf(err, "decoding import log entry %d", n)
		}
		req := &proto.ImportRequest{}
		if err := proto.DefaultSerializer.Unmarshal(entry.Data, req); err != nil {
			return n, errors.Wrapf(err, "decoding import request %d", n)
		}
		b, err := batchFromRequest(req)
		if err != nil {
			return n, errors.Wrapf(err, "decoding import request %d", n)
		}
		nodes, err := c.shardNodes.Lookup(ctx, b.Index, b.Shard)
		if err != nil {
			return n, errors.Wrapf(err, "replaying entry %d", n)
		}
		if out := d.Send(ctx, b, nodes); out.Kind != OutcomeSuccess {
			return n, errors.Wrapf(out.Err, "replaying entry %d", n)
		}
		n++
	}
}

func batchFromRequest(req *proto.ImportRequest) (*Batch, error) {
	if len(req.RowIDs) != len(req.ColumnIDs) {
		return nil, fberrors.Newf(ErrInvalidImportLog, "row/column length mismatch: %d != %d", len(req.RowIDs), len(req.ColumnIDs))
	}
	if len(req.Timestamps) != 0 && len(req.Timestamps) != len(req.ColumnIDs) {
		return nil, fberrors.Newf(ErrInvalidImportLog, "timestamp/column length mismatch: %d != %d", len(req.Timestamps), len(req.ColumnIDs))
	}
	b := &Batch{Index: req.Index, Field: req.Field, Shard: req.Shard, Columns: make([]Column, len(req.ColumnIDs))}
	for i := range req.ColumnIDs {
		b.Columns[i] = Column{RowID: req.RowIDs[i], ColumnID: req.ColumnIDs[i]}
		if len(req.Timestamps) > 0 {
			b.Columns[i].Timestamp = req.Timestamps[i]
		}
	}
	return b, nil
}

func (c *Client) warnings(resp *http.Response) {
	if warning := resp.Header.Get("warning"); warning != "" {
		c.logger.Warnf("%s", warning)
	}
}

// prefix is a helper function which allows us to provide a pathPrefix value as
// "compute" instead of "/compute".
func (c *Client) prefix() string {
	if c.pathPrefix == "" {
		return ""
	}
	return "/" + strings.Trim(c.pathPrefix, "/")
}

func (c *Client) augmentHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["User-Agent"] = fmt.Sprintf("fbimport/%s", strings.TrimPrefix(Version, "v"))
	if c.AuthToken != "" {
		headers["Authorization"] = c.AuthToken
	}
	return headers
}

func makeImportPath(index, field string) string {
	return fmt.Sprintf("/index/%s/field/%s/import?clear=false", url.PathEscape(index), url.PathEscape(field))
}

func defaultProtobufHeaders() map[string]string {
	return map[string]string{
		"Content-Type": proto.ContentType,
		"Accept":       proto.ContentType,
		"PQL-Version":  PQLVersion,
	}
}

func defaultJSONHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"PQL-Version":  PQLVersion,
	}
}

func newHTTPClient(options *ClientOptions, timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: options.ConnectTimeout,
		}).DialContext,
		TLSClientConfig:     options.TLSConfig,
		MaxIdleConnsPerHost: options.PoolSizePerRoute,
		MaxIdleConns:        options.TotalPoolSize,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

type fragmentNodeRoot struct {
	URI pnet.URI `json:"uri"`
}

// ClientOptions control the properties of client connection to the server.
type ClientOptions struct {
	// SocketTimeout bounds each import request. Zero, the default, means
	// imports are never timed out by the client.
	SocketTimeout time.Duration
	// FetchTimeout bounds each topology request.
	FetchTimeout     time.Duration
	ConnectTimeout   time.Duration
	PoolSizePerRoute int
	TotalPoolSize    int
	TLSConfig        *tls.Config

	tracer                opentracing.Tracer
	retries               *int
	maxBackoff            time.Duration
	stats                 stats.StatsClient
	logger                logger.Logger
	nat                   map[pnet.URI]pnet.URI
	pathPrefix            string
	topologyCheckInterval *time.Duration
	importLog             io.Writer
}

func (co *ClientOptions) addOptions(options ...ClientOption) error {
	for _, option := range options {
		err := option(co)
		if err != nil {
			return err
		}
	}
	return nil
}

// ClientOption is used when creating a Client.
type ClientOption func(options *ClientOptions) error

// OptClientSocketTimeout is the maximum time for an import request.
func OptClientSocketTimeout(timeout time.Duration) ClientOption {
	return func(options *ClientOptions) error {
		options.SocketTimeout = timeout
		return nil
	}
}

// OptClientFetchTimeout is the maximum time for a topology request.
func OptClientFetchTimeout(timeout time.Duration) ClientOption {
	return func(options *ClientOptions) error {
		options.FetchTimeout = timeout
		return nil
	}
}

// OptClientConnectTimeout is the maximum time to connect in nanoseconds.
func OptClientConnectTimeout(timeout time.Duration) ClientOption {
	return func(options *ClientOptions) error {
		options.ConnectTimeout = timeout
		return nil
	}
}

// OptClientPoolSizePerRoute is the maximum number of active connections in the pool to a host.
func OptClientPoolSizePerRoute(size int) ClientOption {
	return func(options *ClientOptions) error {
		options.PoolSizePerRoute = size
		return nil
	}
}

// OptClientTotalPoolSize is the maximum number of connections in the pool.
func OptClientTotalPoolSize(size int) ClientOption {
	return func(options *ClientOptions) error {
		options.TotalPoolSize = size
		return nil
	}
}

// OptClientTLSConfig contains the TLS configuration.
func OptClientTLSConfig(config *tls.Config) ClientOption {
	return func(options *ClientOptions) error {
		options.TLSConfig = config
		return nil
	}
}

// OptClientTracer sets the Open Tracing tracer
// See: https://opentracing.io
func OptClientTracer(tracer opentracing.Tracer) ClientOption {
	return func(options *ClientOptions) error {
		options.tracer = tracer
		return nil
	}
}

// OptClientRetries sets the number of retries on topology request failures.
func OptClientRetries(retries int) ClientOption {
	return func(options *ClientOptions) error {
		if retries < 0 {
			return errors.New("retries must be non-negative")
		}
		options.retries = &retries
		return nil
	}
}

// OptClientMaxBackoff caps the wait between topology request retries.
func OptClientMaxBackoff(d time.Duration) ClientOption {
	return func(options *ClientOptions) error {
		options.maxBackoff = d
		return nil
	}
}

// OptClientStatsClient sets a stats client, such as statsd.
func OptClientStatsClient(stats stats.StatsClient) ClientOption {
	return func(options *ClientOptions) error {
		options.stats = stats
		return nil
	}
}

// OptClientLogger sets the logger.
func OptClientLogger(l logger.Logger) ClientOption {
	return func(options *ClientOptions) error {
		options.logger = l
		return nil
	}
}

// OptClientNAT sets a NAT map used to translate the advertised URI to something
// else (for example, when accessing a cluster running in docker).
func OptClientNAT(nat map[string]string) ClientOption {
	return func(options *ClientOptions) error {
		// covert the strings to URIs
		m := make(map[pnet.URI]pnet.URI)
		for k, v := range nat {
			if kuri, err := pnet.NewURIFromAddress(k); err != nil {
				return errors.Wrapf(err, "converting string to URI: %s", k)
			} else if vuri, err := pnet.NewURIFromAddress(v); err != nil {
				return errors.Wrapf(err, "converting string to URI: %s", v)
			} else {
				m[*kuri] = *vuri
			}
		}
		options.nat = m
		return nil
	}
}

// OptClientPathPrefix sets the http path prefix.
func OptClientPathPrefix(prefix string) ClientOption {
	return func(options *ClientOptions) error {
		options.pathPrefix = prefix
		return nil
	}
}

// OptClientTopologyCheckInterval sets how often the shard node cache is
// checked against the cluster. Zero disables the check.
func OptClientTopologyCheckInterval(d time.Duration) ClientOption {
	return func(options *ClientOptions) error {
		if d < 0 {
			return errors.New("topology check interval must be non-negative")
		}
		options.topologyCheckInterval = &d
		return nil
	}
}

// OptClientImportLogWriter records every successful import request to w
// so it can be replayed with ReplayImportLog.
func OptClientImportLogWriter(w io.Writer) ClientOption {
	return func(options *ClientOptions) error {
		options.importLog = w
		return nil
	}
}

func (co *ClientOptions) withDefaults() (updated *ClientOptions) {
	// copy options so the original is not updated
	updated = &ClientOptions{}
	*updated = *co
	// impose defaults
	if updated.FetchTimeout <= 0 {
		updated.FetchTimeout = time.Second * 30
	}
	if updated.ConnectTimeout <= 0 {
		updated.ConnectTimeout = time.Second * 60
	}
	if updated.PoolSizePerRoute <= 0 {
		updated.PoolSizePerRoute = 50
	}
	if updated.TotalPoolSize <= 0 {
		updated.TotalPoolSize = 500
	}
	if updated.TLSConfig == nil {
		updated.TLSConfig = &tls.Config{}
	}
	if updated.retries == nil {
		retries := 2
		updated.retries = &retries
	}
	if updated.maxBackoff <= 0 {
		updated.maxBackoff = 2 * time.Minute
	}
	if updated.tracer == nil {
		updated.tracer = opentracing.NoopTracer{}
	}
	if updated.stats == nil {
		updated.stats = stats.NopStatsClient
	}
	if updated.logger == nil {
		updated.logger = logger.StderrLogger
	}
	if updated.nat == nil {
		updated.nat = make(map[pnet.URI]pnet.URI)
	}
	if updated.topologyCheckInterval == nil {
		d := DefaultTopologyCheckInterval
		updated.topologyCheckInterval = &d
	}
	return
}
