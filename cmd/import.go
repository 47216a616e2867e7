// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/featurebasedb/fbimport/client"
	"github.com/featurebasedb/fbimport/ctl"
	"github.com/spf13/cobra"
)

// Importer is global so that tests can control and verify it.
var Importer *ctl.ImportCommand

// newImportCommand runs the import subcommand for ingesting bulk data.
func newImportCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Importer = ctl.NewImportCommand(stdin, stdout, stderr)
	importCmd := &cobra.Command{
		Use:   "import [flags] FILE...",
		Short: "Bulk load data into FeatureBase.",
		Long: `Bulk imports one or more CSV files to an index and field. Records are
grouped by shard and each batch is sent to the nodes which own its shard.
A FILE of "-" reads from standard input.

The format of the CSV file is:

	ROWID,COLUMNID,[TIME]

The file should contain no headers. Blank lines are skipped. The TIME
column is optional and can be omitted. If it is present it is an
integer, or a time in the layout given by --timestamp-format.

The first interrupt stops reading and waits for batches already in
flight. A second interrupt exits immediately.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			Importer.Paths = args
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			c := make(chan os.Signal, 2)
			signal.Notify(c, os.Interrupt)
			defer signal.Stop(c)
			go func() {
				select {
				case sig := <-c:
					fmt.Fprintf(Importer.Stderr, "Received %s; finishing batches in flight...\n", sig.String())
					cancel()
				case <-ctx.Done():
					return
				}
				// Second signal causes a hard shutdown.
				select {
				case <-c:
					os.Exit(1)
				case <-ctx.Done():
				}
			}()

			return Importer.Run(ctx)
		},
	}

	flags := importCmd.Flags()
	flags.StringSliceVarP(&Importer.Hosts, "host", "", Importer.Hosts, "Comma separated host:port list of cluster nodes.")
	flags.StringVarP(&Importer.Index, "index", "i", "", "Index to import into.")
	flags.StringVarP(&Importer.Field, "field", "f", "", "Field to import into.")
	flags.Uint64VarP(&Importer.ShardWidth, "shard-width", "", Importer.ShardWidth, "Columns per shard. Must match the cluster.")
	flags.IntVarP(&Importer.BatchSize, "batch-size", "s", Importer.BatchSize, "Records per shard to collect before sending a batch.")
	flags.IntVarP(&Importer.Concurrency, "concurrency", "", Importer.Concurrency, "Batches in flight at once for each file.")
	flags.IntVarP(&Importer.Parallel, "parallel", "p", Importer.Parallel, "Files imported at once.")
	flags.IntVarP(&Importer.MaxAttempts, "max-attempts", "", 0, "Nodes tried for each batch. 0 tries every replica.")
	flags.IntVarP(&Importer.TopologyRetries, "topology-retries", "", Importer.TopologyRetries, "Retries when shard ownership cannot be determined.")
	flags.StringVarP(&Importer.OnFailure, "on-failure", "", Importer.OnFailure, fmt.Sprintf("What to do when a batch fails: %q or %q.", client.AbortOnFirst, client.CollectAll))
	flags.VarP(&Importer.Deadline, "deadline", "", "Time limit for each file. 0 means no limit.")
	flags.Float64VarP(&Importer.RateLimit, "rate-limit", "", 0, "Maximum batches sent per second for each file. 0 means no limit.")
	flags.VarP(&Importer.SocketTimeout, "socket-timeout", "", "Timeout for each import request. 0 uses the client default.")
	flags.StringVarP(&Importer.TimestampFormat, "timestamp-format", "", "", "Go time layout of the TIME column, e.g. 2006-01-02T15:04.")
	flags.StringVarP(&Importer.ImportLog, "import-log", "", "", "Record every accepted request to this file for replay.")
	flags.StringVarP(&Importer.AuthToken, "auth-token", "", "", "Authentication token sent with every request.")
	flags.StringVarP(&Importer.LogPath, "log-path", "", "", "Log file. Defaults to stderr. Reopened on SIGHUP.")
	flags.BoolVarP(&Importer.Verbose, "verbose", "v", false, "Enable verbose logging.")
	flags.StringVarP(&Importer.StatsdHost, "statsd-host", "", "", "host:port of a statsd agent to send metrics to.")
	flags.StringVarP(&Importer.MetricsAddr, "metrics-addr", "", "", "Address to serve /metrics and /debug/vars on while importing.")
	ctl.SetTLSConfig(flags, "", &Importer.TLS)

	return importCmd
}
