package research

import (
	"fmt"
	"strings"
)

// FallbackReport renders a plain markdown digest of the store when the
// synthesizer is unavailable, so a run always ends with a report.
func FallbackReport(query string, view StoreView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research report: %s\n\n", query)
	b.WriteString("_Synthesis was unavailable; this is a raw digest of collected data._\n\n")

	fmt.Fprintf(&b, "## Discovered apps (%d)\n\n", len(view.Discovered))
	for _, item := range view.Discovered {
		line := fmt.Sprintf("- **%s** (%s)", item.Name, item.Platform)
		if item.Developer != "" {
			line += " by " + item.Developer
		}
		if item.Score != nil {
			line += fmt.Sprintf(", rating %.1f", *item.Score)
		}
		b.WriteString(line + "\n")
	}

	if n := view.ResearchedCount(); n > 0 {
		fmt.Fprintf(&b, "\n## Researched apps (%d)\n\n", n)
		for _, item := range view.Researched {
			rec := item.Record
			fmt.Fprintf(&b, "### %s (%s, confidence %s)\n", rec.Name, rec.Platform, item.Confidence)
			if rec.Monetization != "" {
				fmt.Fprintf(&b, "- Monetization: %s\n", rec.Monetization)
			}
			if rec.RevenueEstimate != "" {
				fmt.Fprintf(&b, "- Revenue estimate: %s\n", rec.RevenueEstimate)
			}
			if rec.DeveloperApps > 0 {
				fmt.Fprintf(&b, "- Developer portfolio: %d apps\n", rec.DeveloperApps)
			}
			if len(rec.IndieSignals) > 0 {
				fmt.Fprintf(&b, "- Indie signals: %s\n", strings.Join(rec.IndieSignals, "; "))
			}
			b.WriteString("\n")
		}
	}

	if len(view.Patterns) > 0 {
		fmt.Fprintf(&b, "\n## Patterns (%d)\n\n", len(view.Patterns))
		for _, p := range view.Patterns {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	if len(view.FailedTasks) > 0 {
		fmt.Fprintf(&b, "\n## Gaps\n\n")
		for _, ft := range view.FailedTasks {
			fmt.Fprintf(&b, "- task %s: %s (after %d attempts)\n", ft.TaskID, ft.Reason, ft.Attempts)
		}
	}

	return b.String()
}
