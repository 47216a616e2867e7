// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/featurebasedb/fbimport"
	"github.com/featurebasedb/fbimport/client"
	"github.com/featurebasedb/fbimport/client/csv"
	"github.com/featurebasedb/fbimport/logger"
	"github.com/featurebasedb/fbimport/shardwidth"
	"github.com/featurebasedb/fbimport/stats"
	"github.com/featurebasedb/fbimport/statsd"
	"github.com/featurebasedb/fbimport/toml"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ImportCommand represents a command for bulk importing data.
type ImportCommand struct {
	// Cluster hosts. Only one needs to be reachable; imports go directly
	// to the nodes which own each shard.
	Hosts []string `toml:"host"`

	// Name of the index & field to import into.
	Index string `toml:"index"`
	Field string `toml:"field"`

	// ShardWidth must match the cluster's.
	ShardWidth uint64 `toml:"shard-width"`

	// Records per shard collected before a batch is sent.
	BatchSize int `toml:"batch-size"`

	// Batches in flight at once, per file.
	Concurrency int `toml:"concurrency"`

	// Files imported at once.
	Parallel int `toml:"parallel"`

	MaxAttempts     int           `toml:"max-attempts"`
	TopologyRetries int           `toml:"topology-retries"`
	OnFailure       string        `toml:"on-failure"`
	Deadline        toml.Duration `toml:"deadline"`
	RateLimit       float64       `toml:"rate-limit"`
	SocketTimeout   toml.Duration `toml:"socket-timeout"`

	// TimestampFormat is a Go time layout for the optional third column.
	// Empty means the column holds integers.
	TimestampFormat string `toml:"timestamp-format"`

	// ImportLog, if set, records every accepted request for replay.
	ImportLog string `toml:"import-log"`

	AuthToken   string `toml:"auth-token"`
	LogPath     string `toml:"log-path"`
	Verbose     bool   `toml:"verbose"`
	StatsdHost  string `toml:"statsd-host"`
	MetricsAddr string `toml:"metrics-addr"`

	TLS TLSConfig `toml:"tls"`

	// Filenames to import from. "-" is stdin.
	Paths []string `toml:"-"`

	// Standard input/output
	*fbimport.CmdIO `toml:"-"`

	// Reports holds the result for each path after Run.
	Reports []*client.ImportReport `toml:"-"`
}

// NewImportCommand returns a new instance of ImportCommand.
func NewImportCommand(stdin io.Reader, stdout, stderr io.Writer) *ImportCommand {
	return &ImportCommand{
		CmdIO:           fbimport.NewCmdIO(stdin, stdout, stderr),
		Hosts:           []string{"localhost:10101"},
		ShardWidth:      shardwidth.DefaultWidth,
		BatchSize:       client.DefaultBatchSize,
		Concurrency:     client.DefaultConcurrency,
		Parallel:        1,
		TopologyRetries: client.DefaultTopologyRetries,
		OnFailure:       client.AbortOnFirst.String(),
	}
}

// Run executes the import.
func (cmd *ImportCommand) Run(ctx context.Context) error {
	// Validate arguments.
	if len(cmd.Hosts) == 0 {
		return fmt.Errorf("%w: at least one host is required", UsageError)
	} else if cmd.Index == "" {
		return fmt.Errorf("%w: index required", UsageError)
	} else if cmd.Field == "" {
		return fmt.Errorf("%w: field required", UsageError)
	} else if len(cmd.Paths) == 0 {
		return fmt.Errorf("%w: path required", UsageError)
	} else if cmd.Parallel <= 0 {
		return fmt.Errorf("%w: parallel must be positive", UsageError)
	}
	policy, err := client.ParseFailurePolicy(cmd.OnFailure)
	if err != nil {
		return fmt.Errorf("%w: %v", UsageError, err)
	}

	closeLog, err := cmd.setupLogger()
	if err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	defer closeLog()
	log := cmd.Logger()

	statsClient, err := cmd.statsClient()
	if err != nil {
		return errors.Wrap(err, "creating stats client")
	}
	defer statsClient.Close()

	if cmd.MetricsAddr != "" {
		ms, err := newMetricsServer(cmd.MetricsAddr, log)
		if err != nil {
			return errors.Wrap(err, "starting metrics server")
		}
		log.Printf("serving metrics on %s", ms.Addr())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ms.Close(sctx); err != nil {
				log.Errorf("stopping metrics server: %v", err)
			}
		}()
	}

	clientOpts, closeImportLog, err := cmd.clientOptions(log, statsClient)
	if err != nil {
		return err
	}
	defer closeImportLog()

	c, err := client.NewClient(cmd.hosts(), clientOpts...)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}
	defer c.Close()
	c.AuthToken = cmd.AuthToken

	opts := []client.ImportOption{
		client.OptImportShardWidth(cmd.ShardWidth),
		client.OptImportBatchSize(cmd.BatchSize),
		client.OptImportThreadCount(cmd.Concurrency),
		client.OptImportMaxAttempts(cmd.MaxAttempts),
		client.OptImportTopologyRetries(cmd.TopologyRetries),
		client.OptImportOnFailure(policy),
		client.OptImportDeadline(time.Duration(cmd.Deadline)),
		client.OptImportRateLimit(cmd.RateLimit),
	}

	cmd.Reports = make([]*client.ImportReport, len(cmd.Paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cmd.Parallel)
	for i, path := range cmd.Paths {
		i, path := i, path
		g.Go(func() error {
			report, err := cmd.importPath(gctx, c, path, opts)
			if err != nil {
				return errors.Wrapf(err, "importing %s", path)
			}
			cmd.Reports[i] = report
			if rerr := report.Err(); rerr != nil && policy == client.AbortOnFirst {
				return errors.Wrapf(rerr, "importing %s", path)
			}
			return nil
		})
	}
	err = g.Wait()

	failed := 0
	for i, report := range cmd.Reports {
		if report == nil {
			continue
		}
		fmt.Fprintf(cmd.Stdout, "%s: %s\n", cmd.Paths[i], report)
		for _, f := range report.FailedBatches {
			fmt.Fprintf(cmd.Stdout, "%s: failed %s\n", cmd.Paths[i], f)
		}
		if report.Err() != nil {
			failed++
		}
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return errors.Errorf("%d of %d files were not fully imported", failed, len(cmd.Paths))
	}
	return nil
}

// importPath imports a single file, or stdin for "-".
func (cmd *ImportCommand) importPath(ctx context.Context, c *client.Client, path string, opts []client.ImportOption) (*client.ImportReport, error) {
	var r io.Reader = cmd.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "opening file")
		}
		r = f
	}
	iter := csv.NewColumnIteratorWithTimestampFormat(r, cmd.TimestampFormat)
	defer iter.Close()

	cmd.Logger().Printf("importing %s into %s/%s", path, cmd.Index, cmd.Field)
	return c.Import(ctx, iter, cmd.Index, cmd.Field, opts...)
}

// hosts adds an https scheme to bare addresses when TLS is configured.
func (cmd *ImportCommand) hosts() []string {
	hosts := make([]string, len(cmd.Hosts))
	for i, h := range cmd.Hosts {
		if cmd.TLS.Enabled() && !strings.Contains(h, "://") {
			h = "https://" + h
		}
		hosts[i] = h
	}
	return hosts
}

func (cmd *ImportCommand) clientOptions(log logger.Logger, sc stats.StatsClient) ([]client.ClientOption, func(), error) {
	opts := []client.ClientOption{
		client.OptClientLogger(log),
		client.OptClientStatsClient(sc),
		client.OptClientSocketTimeout(time.Duration(cmd.SocketTimeout)),
	}
	tlsConfig, err := cmd.TLS.ClientTLSConfig()
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading TLS configuration")
	}
	if tlsConfig != nil {
		opts = append(opts, client.OptClientTLSConfig(tlsConfig))
	}

	closer := func() {}
	if cmd.ImportLog != "" {
		f, err := os.Create(cmd.ImportLog)
		if err != nil {
			return nil, nil, errors.Wrap(err, "creating import log")
		}
		opts = append(opts, client.OptClientImportLogWriter(f))
		closer = func() {
			if err := f.Close(); err != nil {
				log.Errorf("closing import log: %v", err)
			}
		}
	}
	return opts, closer, nil
}

// setupLogger replaces the command's logger according to LogPath and
// Verbose. A log file is reopened on SIGHUP so it can be rotated.
func (cmd *ImportCommand) setupLogger() (func(), error) {
	var w io.Writer = cmd.Stderr
	var fw *logger.FileWriter
	if cmd.LogPath != "" {
		var err error
		fw, err = logger.NewFileWriter(cmd.LogPath)
		if err != nil {
			return nil, errors.Wrap(err, "opening log file")
		}
		w = fw
	}
	if cmd.Verbose {
		cmd.SetLogger(logger.NewVerboseLogger(w))
	} else {
		cmd.SetLogger(logger.NewStandardLogger(w))
	}
	if fw == nil {
		return func() {}, nil
	}

	log := cmd.Logger()
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-sighup:
				if err := fw.Reopen(); err != nil {
					log.Errorf("reopen: %s", err.Error())
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sighup)
		close(done)
		wg.Wait()
		fw.Close()
	}, nil
}

// statsClient always records to expvar and additionally to statsd when
// StatsdHost is set.
func (cmd *ImportCommand) statsClient() (stats.StatsClient, error) {
	clients := stats.MultiStatsClient{stats.NewExpvarStatsClient()}
	if cmd.StatsdHost != "" {
		sc, err := statsd.NewStatsClient(cmd.StatsdHost, "")
		if err != nil {
			return nil, err
		}
		sc.SetLogger(cmd.Logger())
		clients = append(clients, sc)
	}
	return clients, nil
}
