// Package ingest turns raw issue sources into index entries.
//
// Bulk historical data is noisy, so nothing here fails fast: bad rows, files
// and batches are skipped, logged and tallied in a Report.
package ingest

import (
	"fmt"
	"time"
)

// Report tallies the outcome of an ingestion run.
type Report struct {
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []string      `json:"errors"`
	Duration time.Duration `json:"-"`

	// FailedBatches counts batches the embedder or the index refused.
	// BatchErr is the last such error.
	FailedBatches int   `json:"failed_batches"`
	BatchErr      error `json:"-"`
}

// Reject records n rejected records sharing one error message.
func (r *Report) Reject(n int, format string, args ...any) {
	r.Rejected += n
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// FailBatch records a batch of n records lost to an embedder or index error.
func (r *Report) FailBatch(n int, err error, format string, args ...any) {
	r.Reject(n, format, args...)
	r.FailedBatches++
	r.BatchErr = err
}

// UpstreamDown reports whether every attempted batch failed, meaning nothing
// was written because a collaborator is unavailable rather than because the
// records were bad.
func (r *Report) UpstreamDown() bool {
	return r.Accepted == 0 && r.FailedBatches > 0
}

// Fail records an error that did not reject any individual record,
// such as a source file missing required columns.
func (r *Report) Fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Merge adds the tallies of other into r.
func (r *Report) Merge(other Report) {
	r.Accepted += other.Accepted
	r.Rejected += other.Rejected
	r.Errors = append(r.Errors, other.Errors...)
	r.Duration += other.Duration
	r.FailedBatches += other.FailedBatches
	if other.BatchErr != nil {
		r.BatchErr = other.BatchErr
	}
}
