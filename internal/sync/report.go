package sync

import "time"

// Failure records one file that could not be ingested.
type Failure struct {
	Path   string `json:"path"`
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Report summarizes one sync run. Counts are per file: a Cursor
// store that yields several sessions still counts once.
type Report struct {
	Imported int           `json:"imported"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Deleted  int           `json:"deleted"`
	Failures []Failure     `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Total returns the number of files examined.
func (r Report) Total() int {
	return r.Imported + r.Updated + r.Skipped + r.Failed
}

// RecordFailure adds a failed file to the report.
func (r *Report) RecordFailure(path, source, reason string) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{
		Path:   path,
		Source: source,
		Reason: reason,
	})
}
