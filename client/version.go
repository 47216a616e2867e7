// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

// Version is the client version, sent in the User-Agent header.
var Version = "v0.1.0"
