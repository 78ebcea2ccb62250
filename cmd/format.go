package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/collector"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/pipeline"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/resolver"
)

const cellWidth = 60

// formatCompareTable writes one line per metric with both sides' text and
// answer scores.
func formatCompareTable(out io.Writer, youName, compName string, detail *model.CompareRunDetail) {
	_, _ = fmt.Fprintf(out, "Run %s  v%d  %s\n\n",
		truncateID(detail.Run.ID),
		detail.Run.Version,
		detail.Run.CreatedAt.Format("2006-01-02 15:04"),
	)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "METRIC\t%s\tSCORE\t%s\tSCORE\n", strings.ToUpper(youName), strings.ToUpper(compName))
	_, _ = fmt.Fprintln(w, "------\t----\t-----\t----\t-----")
	for _, r := range detail.Rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Metric,
			orDash(clip(r.YouText, cellWidth)),
			scoreColor(r.AnswerScoreYou).Sprintf("%.2f", r.AnswerScoreYou),
			orDash(clip(r.CompText, cellWidth)),
			scoreColor(r.AnswerScoreComp).Sprintf("%.2f", r.AnswerScoreComp),
		)
	}
	_ = w.Flush()
}

// formatReport writes a one-line summary per lane outcome.
func formatReport(out io.Writer, report *collector.Report) {
	if report == nil {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, o := range report.Outcomes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			truncateID(o.VendorID),
			o.Lane,
			statusColor(o.Status).Sprint(o.Status),
			o.Saved,
			clip(o.Reason, 80),
		)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "facts saved: %d, lanes failed: %d, skipped: %d\n\n",
		report.Saved(), report.Count(collector.StatusFailed), report.Count(collector.StatusSkipped))
}

// formatLaneResults writes refresh results.
func formatLaneResults(out io.Writer, results []pipeline.LaneResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LANE\tSAVED\tSKIPPED\tREASON")
	_, _ = fmt.Fprintln(w, "----\t-----\t-------\t------")
	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%t\t%s\n", r.Lane, r.Saved, r.Skipped, clip(r.Reason, 80))
	}
	_ = w.Flush()
}

// formatCandidates writes scored search candidates.
func formatCandidates(out io.Writer, candidates []resolver.Candidate) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nSCORE\tORIGIN\tTITLE")
	for _, c := range candidates {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", c.Score, c.Origin, clip(c.Title, 50))
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.CompareRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tYOU\tCOMPETITOR\tVERSION\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t---\t----------\t-------\t------\t-------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID),
			truncateID(r.YouVendorID),
			truncateID(r.CompVendorID),
			r.Version,
			r.Status,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatEvents writes update events, newest first as stored.
func formatEvents(out io.Writer, events []model.UpdateEvent) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tTYPE\tSEV\tMETRIC\tCHANGE")
	for _, e := range events {
		change := e.New
		if e.Old != "" {
			change = e.Old + " -> " + e.New
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.Type,
			e.Severity,
			e.Metric,
			clip(change, 80),
		)
	}
	_ = w.Flush()
}

func scoreColor(score float64) *color.Color {
	switch {
	case score >= 0.8:
		return color.New(color.FgGreen)
	case score >= 0.5:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func statusColor(s collector.Status) *color.Color {
	switch s {
	case collector.StatusSuccess:
		return color.New(color.FgGreen)
	case collector.StatusSkipped:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgRed)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
