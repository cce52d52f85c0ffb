package progress

import (
	"time"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// Summary aggregates a ledger for reporting.
type Summary struct {
	Total         int            `json:"total" yaml:"total"`
	Uploaded      int            `json:"uploaded" yaml:"uploaded"`
	Failed        int            `json:"failed" yaml:"failed"`
	UploadedBytes int64          `json:"uploaded_bytes" yaml:"uploaded_bytes"`
	ErrorKinds    map[string]int `json:"error_kinds,omitempty" yaml:"error_kinds,omitempty"`
	FailedIDs     []string       `json:"failed_ids" yaml:"failed_ids"`
	LastAttempt   time.Time      `json:"last_attempt,omitempty" yaml:"last_attempt,omitempty"`
}

// Summarize counts uploaded and failed entries; failed ids are sorted.
func Summarize(entries map[string]artwork.ProgressEntry) Summary {
	sum := Summary{Total: len(entries), FailedIDs: []string{}}
	for _, id := range SortedIDs(entries) {
		entry := entries[id]
		if entry.AttemptedAt.After(sum.LastAttempt) {
			sum.LastAttempt = entry.AttemptedAt
		}
		if entry.Uploaded {
			sum.Uploaded++
			if entry.SizeBytes != nil {
				sum.UploadedBytes += *entry.SizeBytes
			}
			continue
		}
		sum.Failed++
		sum.FailedIDs = append(sum.FailedIDs, id)
		if entry.ErrorKind != "" {
			if sum.ErrorKinds == nil {
				sum.ErrorKinds = make(map[string]int)
			}
			sum.ErrorKinds[entry.ErrorKind]++
		}
	}
	return sum
}

// FailedIDs lists ids recorded with uploaded=false.
func FailedIDs(entries map[string]artwork.ProgressEntry) []string {
	return Summarize(entries).FailedIDs
}
