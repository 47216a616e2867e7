// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/featurebasedb/fbimport/ctl"
	"github.com/spf13/cobra"
)

var Replayer *ctl.ReplayCommand

func newReplayCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Replayer = ctl.NewReplayCommand(stdin, stdout, stderr)
	replayCmd := &cobra.Command{
		Use:   "replay [flags] LOG",
		Short: "Re-send the requests recorded by import --import-log.",
		Long: `replay reads an import log and sends each recorded request again,
to the nodes which currently own the request's shard.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			Replayer.Path = args[0]
			return Replayer.Run(context.Background())
		},
	}

	flags := replayCmd.Flags()
	flags.StringSliceVarP(&Replayer.Hosts, "host", "", Replayer.Hosts, "Comma separated host:port list of cluster nodes.")
	flags.StringVarP(&Replayer.AuthToken, "auth-token", "", "", "Authentication token sent with every request.")
	ctl.SetTLSConfig(flags, "", &Replayer.TLS)

	return replayCmd
}
