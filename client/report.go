// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"fmt"
	"time"

	"github.com/featurebasedb/fbimport/errors"
)

// BatchFailure describes a batch which could not be imported.
type BatchFailure struct {
	Shard   uint64
	Field   string
	Records int
	Err     error
}

func (f BatchFailure) String() string {
	return fmt.Sprintf("field %s shard %d (%d records): %v", f.Field, f.Shard, f.Records, f.Err)
}

// ImportReport is the outcome of an import. Partial success is normal:
// check FailedBatches, SourceErr and Cancelled, or call Err.
type ImportReport struct {
	// Records is the number of records read from the source.
	Records int
	// ImportedRecords is the number of records in succeeded batches.
	ImportedRecords int

	SucceededBatches int
	// FailedBatches is ordered by shard.
	FailedBatches []BatchFailure
	// CancelledBatches were never sent, because the import was cancelled,
	// passed its deadline, or was aborted.
	CancelledBatches int
	// Cancelled is set if the caller's context ended or the deadline
	// passed before the source was drained.
	Cancelled bool
	// SourceErr is the error which stopped the record source, if any.
	SourceErr error

	Duration time.Duration

	cancelCause error
}

// Err summarises the report as a single error. It is nil only if every
// record read was imported.
func (r *ImportReport) Err() error {
	switch {
	case r.SourceErr != nil:
		return errors.Wrap(r.SourceErr, "reading records")
	case len(r.FailedBatches) > 0:
		first := r.FailedBatches[0]
		return errors.Wrapf(first.Err, "%d batches failed, first was shard %d", len(r.FailedBatches), first.Shard)
	case r.Cancelled:
		msg := "import cancelled"
		if r.cancelCause != nil {
			msg = fmt.Sprintf("import cancelled: %v", r.cancelCause)
		}
		return errors.New(ErrCancelled, msg)
	case r.CancelledBatches > 0:
		return errors.Newf(ErrCancelled, "%d batches were not sent", r.CancelledBatches)
	}
	return nil
}

func (r *ImportReport) String() string {
	return fmt.Sprintf("records=%d imported=%d succeeded=%d failed=%d cancelled=%d duration=%s",
		r.Records, r.ImportedRecords, r.SucceededBatches, len(r.FailedBatches), r.CancelledBatches, r.Duration)
}
