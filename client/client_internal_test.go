// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"testing"
	"time"

	"github.com/featurebasedb/fbimport/encoding/proto"
)

func TestClientOptionsDefaults(t *testing.T) {
	opts := (&ClientOptions{}).withDefaults()
	if opts.SocketTimeout != 0 {
		t.Fatalf("imports should not time out by default, got %s", opts.SocketTimeout)
	}
	if opts.FetchTimeout != 30*time.Second || opts.ConnectTimeout != time.Minute {
		t.Fatalf("unexpected timeouts %s %s", opts.FetchTimeout, opts.ConnectTimeout)
	}
	if *opts.retries != 2 || *opts.topologyCheckInterval != DefaultTopologyCheckInterval {
		t.Fatalf("unexpected retries %d or check interval %s", *opts.retries, *opts.topologyCheckInterval)
	}
	if opts.PoolSizePerRoute != 50 || opts.TotalPoolSize != 500 {
		t.Fatalf("unexpected pool sizes %d %d", opts.PoolSizePerRoute, opts.TotalPoolSize)
	}
}

func TestClientOptionsAreNotShared(t *testing.T) {
	orig := &ClientOptions{}
	if err := orig.addOptions(OptClientFetchTimeout(time.Second), OptClientTopologyCheckInterval(0)); err != nil {
		t.Fatal(err)
	}
	updated := orig.withDefaults()
	if orig.TLSConfig != nil || orig.retries != nil {
		t.Fatal("withDefaults modified its receiver")
	}
	if updated.FetchTimeout != time.Second || *updated.topologyCheckInterval != 0 {
		t.Fatalf("options lost: %+v", updated)
	}
	if err := orig.addOptions(OptClientTopologyCheckInterval(-time.Second)); err == nil {
		t.Fatal("expected an error for a negative interval")
	}
}

func TestClientHeaders(t *testing.T) {
	c := DefaultClient()
	defer c.Close()
	c.AuthToken = "Bearer abc"
	c.pathPrefix = "/compute/"

	headers := c.augmentHeaders(defaultProtobufHeaders())
	if headers["Content-Type"] != proto.ContentType || headers["Authorization"] != "Bearer abc" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if headers["User-Agent"] != "fbimport/"+Version[1:] {
		t.Fatalf("unexpected user agent %q", headers["User-Agent"])
	}
	if c.prefix() != "/compute" {
		t.Fatalf("unexpected prefix %q", c.prefix())
	}
	if path := makeImportPath("my-index", "f 1"); path != "/index/my-index/field/f%201/import?clear=false" {
		t.Fatalf("unexpected path %q", path)
	}
}
