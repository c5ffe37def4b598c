package cache

import (
	"context"
	"fmt"
)

// Summary aggregates an Index for reporting.
type Summary struct {
	Entries    int    `json:"entries"`
	Pending    int    `json:"pending"`
	Ready      int    `json:"ready"`
	Failed     int    `json:"failed"`
	ReadyBytes uint64 `json:"readyBytes"`
}

// Summarize counts the entries of idx by status.
func Summarize(ctx context.Context, idx Index) (Summary, error) {
	entries, err := idx.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list cache entries: %w", err)
	}

	var s Summary
	for _, e := range entries {
		s.Entries++
		switch e.Status {
		case StatusPending:
			s.Pending++
		case StatusReady:
			s.Ready++
			s.ReadyBytes += e.SizeBytes
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}
