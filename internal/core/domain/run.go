package domain

import "time"

// RecordRejection describes a staged record skipped by the loader.
type RecordRejection struct {
	Shard  string `json:"shard"`
	Line   int    `json:"line"`
	SKU    string `json:"sku,omitempty"`
	Reason string `json:"reason"`
}

// CollectionResult is the loader outcome for one staging collection.
type CollectionResult struct {
	Key        string          `json:"key"`
	State      CollectionState `json:"state"`
	Read       int             `json:"read"`
	Inserted   int             `json:"inserted"`
	Duplicates int             `json:"duplicates"`
	// RejectedCount counts every skipped record; Rejected keeps the first few.
	RejectedCount int               `json:"rejected_count"`
	Rejected      []RecordRejection `json:"rejected,omitempty"`
	Error         string            `json:"error,omitempty"`
	Duration      time.Duration     `json:"duration"`
}

func (r CollectionResult) Succeeded() bool {
	return r.State == CollectionProcessed
}

type LoadSummary struct {
	RunID       string             `json:"run_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Collections []CollectionResult `json:"collections"`
}

func (s LoadSummary) Failed() int {
	n := 0
	for _, c := range s.Collections {
		if !c.Succeeded() {
			n++
		}
	}
	return n
}

// CycleSummary groups the outcomes of one load-then-tag cycle.
type CycleSummary struct {
	Load LoadSummary `json:"load"`
	Tag  *TagSummary `json:"tag,omitempty"`
}
