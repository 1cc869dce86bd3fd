package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/linnemanlabs/repute/internal/incident"
)

const timeLayout = "2006-01-02 15:04:05"

func printReplay(w io.Writer, res *ReplayResult) error {
	fmt.Fprintf(w, "ingested %d mentions, skipped %d, %d incidents", res.Ingested, res.Skipped, len(res.Incidents))
	if res.Swept > 0 {
		fmt.Fprintf(w, ", %d closed by sweep", res.Swept)
	}
	fmt.Fprintln(w)
	if len(res.Incidents) == 0 {
		return nil
	}
	fmt.Fprintln(w)

	// hottest first
	incs := slices.Clone(res.Incidents)
	slices.SortStableFunc(incs, func(a, b *incident.Incident) int {
		return cmp.Compare(b.RiskScore, a.RiskScore)
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSCORE\tMENTIONS\tSOURCES\tTITLE")
	for _, inc := range incs {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%d\t%s\n",
			inc.ID, inc.Status, inc.RiskScore, len(inc.Mentions), inc.Breakdown.Sources, clip(inc.Title, 60))
	}
	return tw.Flush()
}

func printTimeline(w io.Writer, entries []incident.AuditEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tSTATUS\tSCORE\tACTOR\tREASON")
	for _, e := range entries {
		status := string(e.After.Status)
		if e.Before.Status != "" && e.Before.Status != e.After.Status {
			status = fmt.Sprintf("%s -> %s", e.Before.Status, e.After.Status)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f -> %.2f\t%s\t%s\n",
			e.Seq, e.Timestamp.UTC().Format(timeLayout), e.Kind, status,
			e.Before.RiskScore, e.After.RiskScore, e.Actor, e.Reason)
	}
	return tw.Flush()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
