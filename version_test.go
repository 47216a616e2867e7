// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package fbimport_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/featurebasedb/fbimport"
)

func TestVersionInfo(t *testing.T) {
	defer func(v, c, b string) {
		fbimport.Version, fbimport.Commit, fbimport.BuildTime = v, c, b
	}(fbimport.Version, fbimport.Commit, fbimport.BuildTime)

	fbimport.Version, fbimport.Commit, fbimport.BuildTime = "", "", ""
	if info := fbimport.VersionInfo(); !strings.HasPrefix(info, "fbimport v0.x ") {
		t.Fatalf("unexpected version info %q", info)
	}

	fbimport.Version, fbimport.Commit = "v1.2.3", "abc123"
	if info := fbimport.VersionInfo(); !strings.HasPrefix(info, "fbimport v1.2.3 (abc123) ") {
		t.Fatalf("unexpected version info %q", info)
	}
}

func TestCmdIOLogger(t *testing.T) {
	stderr := &bytes.Buffer{}
	cmdIO := fbimport.NewCmdIO(nil, nil, stderr)
	cmdIO.Logger().Printf("hello")
	if !strings.Contains(stderr.String(), "hello") {
		t.Fatalf("expected log on stderr, got %q", stderr.String())
	}
}
