package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	outputText outputFormat = "text"
	outputJSON outputFormat = "json"
	outputYAML outputFormat = "yaml"
)

func parseOutputFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case outputText, outputJSON, outputYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// printer renders command results. Text rendering is supplied per call since
// every command has its own layout.
type printer struct {
	w      io.Writer
	format outputFormat
}

func (p printer) print(v any, text func(w io.Writer) error) error {
	switch p.format {
	case outputJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(p.w)
	}
}

func writeJob(w io.Writer, j job) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", j.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", j.Status)
	fmt.Fprintf(tw, "Target:\t%s (%s)\n", j.Target, j.TargetType)
	fmt.Fprintf(tw, "Progress:\t%s\n", formatProgress(j))
	fmt.Fprintf(tw, "Created:\t%s\n", j.CreatedAt.Format(time.RFC3339))
	if j.StartedAt != nil {
		fmt.Fprintf(tw, "Started:\t%s\n", j.StartedAt.Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", j.CompletedAt.Format(time.RFC3339))
	}
	if j.CancelRequested {
		fmt.Fprintf(tw, "Cancel requested:\tyes\n")
	}
	if j.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s: %s\n", j.Error.Kind, j.Error.Message)
	}
	if r := j.Result; r != nil {
		fmt.Fprintf(tw, "Files scanned:\t%d (%d skipped, %d bytes)\n", r.FilesScanned, r.FilesSkipped, r.BytesScanned)
		fmt.Fprintf(tw, "Duration:\t%.2fs\n", r.DurationSeconds)
		fmt.Fprintf(tw, "Findings:\t%d\n", r.FindingsCount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if j.Result == nil || len(j.Result.Findings) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tFILE\tLINE\tMATCH")
	for _, f := range j.Result.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.RuleID, f.File, f.StartLine, f.Match)
	}
	return tw.Flush()
}

func writeJobList(w io.Writer, l jobList) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tTARGET\tCREATED")
	for _, j := range l.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%s\n",
			j.ID, j.Status, j.Progress.Percentage, j.Target, j.CreatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nshowing %d of %d (offset %d)\n", len(l.Jobs), l.Total, l.Offset)
	return err
}

func writeQueue(w io.Writer, q queueStats, statuses []string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Queued:\t%d / %d\n", q.QueueLength, q.MaxQueueSize)
	fmt.Fprintf(tw, "Running:\t%d / %d\n", q.RunningJobs, q.MaxConcurrentJobs)
	fmt.Fprintf(tw, "Tracked jobs:\t%d\n", q.TotalJobs)
	for _, s := range statuses {
		fmt.Fprintf(tw, "  %s:\t%d\n", s, q.JobsByStatus[s])
	}
	return tw.Flush()
}

func writeEvent(w io.Writer, e jobEvent) error {
	line := fmt.Sprintf("%s  %-14s %s  %s", e.OccurredAt.Format(time.TimeOnly), e.Type, e.JobID, e.Status)
	switch {
	case e.Progress != nil:
		line += fmt.Sprintf("  %.1f%% (%d/%d)", e.Progress.Percentage, e.Progress.ProcessedFiles, e.Progress.TotalFiles)
		if e.Progress.CurrentFile != "" {
			line += "  " + e.Progress.CurrentFile
		}
	case e.Error != nil:
		line += fmt.Sprintf("  %s: %s", e.Error.Kind, e.Error.Message)
	case e.Summary != nil:
		line += fmt.Sprintf("  files=%d skipped=%d findings=%d", e.Summary.FilesScanned, e.Summary.FilesSkipped, e.Summary.Findings)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func formatProgress(j job) string {
	p := j.Progress
	s := fmt.Sprintf("%.1f%% (%d/%d files)", p.Percentage, p.ProcessedFiles, p.TotalFiles)
	if p.EstimatedSecondsRemain != nil && j.Status == "running" {
		s += fmt.Sprintf(", ~%s left", (time.Duration(*p.EstimatedSecondsRemain) * time.Second).String())
	}
	return s
}
