// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/featurebasedb/fbimport"
	"github.com/featurebasedb/fbimport/client"
	"github.com/pkg/errors"
)

// ReplayCommand re-sends the requests recorded by an import's import log.
type ReplayCommand struct {
	Hosts     []string
	Path      string
	AuthToken string
	TLS       TLSConfig

	*fbimport.CmdIO
}

// NewReplayCommand returns a new instance of ReplayCommand.
func NewReplayCommand(stdin io.Reader, stdout, stderr io.Writer) *ReplayCommand {
	return &ReplayCommand{
		CmdIO: fbimport.NewCmdIO(stdin, stdout, stderr),
		Hosts: []string{"localhost:10101"},
	}
}

// Run replays the log at Path.
func (cmd *ReplayCommand) Run(ctx context.Context) error {
	if cmd.Path == "" {
		return fmt.Errorf("%w: import log path required", UsageError)
	} else if len(cmd.Hosts) == 0 {
		return fmt.Errorf("%w: at least one host is required", UsageError)
	}

	f, err := os.Open(cmd.Path)
	if err != nil {
		return errors.Wrap(err, "opening import log")
	}
	defer f.Close()

	opts := []client.ClientOption{client.OptClientLogger(cmd.Logger())}
	tlsConfig, err := cmd.TLS.ClientTLSConfig()
	if err != nil {
		return errors.Wrap(err, "loading TLS configuration")
	}
	if tlsConfig != nil {
		opts = append(opts, client.OptClientTLSConfig(tlsConfig))
	}
	c, err := client.NewClient(cmd.Hosts, opts...)
	if err != nil {
		return errors.Wrap(err, "creating client")
	}
	defer c.Close()
	c.AuthToken = cmd.AuthToken

	n, err := c.ReplayImportLog(ctx, f)
	fmt.Fprintf(cmd.Stdout, "replayed %d requests\n", n)
	return err
}
