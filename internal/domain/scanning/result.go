package scanning

import "time"

// Finding is a single secret detected by the executor.
type Finding struct {
	RuleID      string   `json:"rule_id"`
	Description string   `json:"description,omitempty"`
	File        string   `json:"file"`
	StartLine   int      `json:"start_line"`
	EndLine     int      `json:"end_line"`
	StartColumn int      `json:"start_column"`
	EndColumn   int      `json:"end_column"`
	Match       string   `json:"match"`
	Fingerprint string   `json:"fingerprint"`
	Entropy     float32  `json:"entropy,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ScanResult is the payload recorded when a job completes.
type ScanResult struct {
	FilesScanned int64
	FilesSkipped int64
	BytesScanned int64
	Findings     []Finding
	Duration     time.Duration
}

// clone returns a deep copy so readers can't mutate a terminal job's result.
func (r *ScanResult) clone() *ScanResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Findings = make([]Finding, len(r.Findings))
	for i, f := range r.Findings {
		f.Tags = append([]string(nil), f.Tags...)
		c.Findings[i] = f
	}
	return &c
}
