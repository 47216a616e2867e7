// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package client imports records into a FeatureBase cluster over its
http+protobuf API.

Records are grouped by shard and each batch is sent directly to a node
which owns that shard. Shard owners are looked up once and cached; the
cache entry for a shard is dropped when a node reports that it no longer
holds the shard, and the batch is retried on the next replica.

Usage:

	cli, err := client.NewClient("localhost:10101")
	if err != nil {
		return err
	}
	defer cli.Close()

	f, err := os.Open("data.csv")
	if err != nil {
		return err
	}
	report, err := cli.Import(ctx, csv.NewColumnIterator(f), "repository", "stargazer",
		client.OptImportBatchSize(100000),
		client.OptImportOnFailure(client.CollectAll),
	)
	if err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		log.Printf("import incomplete: %v", err)
	}
*/
package client
