package run

import (
	"fmt"
	"strings"

	"github.com/veridict/veridict/internal/audit"
	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/extraction"
	"github.com/veridict/veridict/internal/integrity"
)

// Markdown renderings are derived views of the JSON artifacts, written for
// humans and never parsed back.

func renderExtraction(res *extraction.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Extraction\n\n")
	fmt.Fprintf(&b, "%d evidence items, coverage %.1f%%.\n\n", len(res.Items), res.Coverage.Percent*100)

	if len(res.Outliers) > 0 {
		fmt.Fprintf(&b, "Outlier workers (excluded from duplicate credit): %s.\n\n",
			strings.Join(res.Outliers, ", "))
	}
	if len(res.Coverage.UncoveredPages) > 0 {
		fmt.Fprintf(&b, "Pages without evidence: %v.\n\n", res.Coverage.UncoveredPages)
	}
	if len(res.Coverage.UnreadablePages) > 0 {
		fmt.Fprintf(&b, "Unreadable pages: %v.\n\n", res.Coverage.UnreadablePages)
	}

	for _, it := range res.Items {
		marker := ""
		if it.Conflicting {
			marker = " (conflicting)"
		}
		fmt.Fprintf(&b, "- **%s** `%s`%s — workers %s\n",
			it.Type, it.Value, marker, strings.Join(it.Workers, ", "))
	}
	return b.String()
}

func renderAudit(cons *audit.Consolidated) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Audit\n\n")
	fmt.Fprintf(&b, "%d consolidated findings. Lossless consolidation confirmed: %v.\n\n",
		len(cons.Findings), cons.Confirmed)

	for _, f := range cons.Findings {
		fmt.Fprintf(&b, "- [%s, %s] %s — auditors %s\n",
			f.Severity, f.Consensus, f.Text, strings.Join(f.Workers, ", "))
	}

	var rejected []audit.MappingEntry
	for _, m := range cons.Mapping {
		if m.Note != "" {
			rejected = append(rejected, m)
		}
	}
	if len(rejected) > 0 {
		fmt.Fprintf(&b, "\n## Omitted findings\n\n")
		for _, m := range rejected {
			fmt.Fprintf(&b, "- %s: %q (%s)\n", m.WorkerID, m.Text, m.Note)
		}
	}
	return b.String()
}

func renderDecision(d *claim.FinalDecision, report *integrity.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Decision\n\n")
	fmt.Fprintf(&b, "**Outcome:** %s\n\n", d.Outcome)
	fmt.Fprintf(&b, "**Confidence:** %.2f (penalty %.2f applied)\n\n", d.Confidence, d.Penalty)
	fmt.Fprintf(&b, "Consulted: %s.\n\n", strings.Join(d.ConsultedWorkers, ", "))

	if d.Narrative != "" {
		fmt.Fprintf(&b, "%s\n\n", d.Narrative)
	}

	if len(d.Points) > 0 {
		fmt.Fprintf(&b, "## Decision points\n\n")
		for _, p := range d.Points {
			marker := ""
			if p.Determinant {
				marker = " (determinant)"
			}
			if p.Uncited {
				marker += " (uncited)"
			}
			fmt.Fprintf(&b, "- %s%s — confidence %.2f\n", p.Conclusion, marker, p.Confidence)
		}
		b.WriteString("\n")
	}

	if len(d.Answers) > 0 {
		fmt.Fprintf(&b, "## Answers\n\n")
		for _, a := range d.Answers {
			fmt.Fprintf(&b, "**Q:** %s\n\n**A:** %s\n\n", a.Question, a.Text)
		}
	}

	if len(d.Resolutions) > 0 {
		fmt.Fprintf(&b, "## Resolutions\n\n")
		for _, res := range d.Resolutions {
			fmt.Fprintf(&b, "- %s: chose %q (%s)\n", res.Topic, res.Chosen, res.Rationale)
		}
		b.WriteString("\n")
	}
	if len(d.Unresolved) > 0 {
		fmt.Fprintf(&b, "## Unresolved\n\n")
		for _, u := range d.Unresolved {
			fmt.Fprintf(&b, "- %s\n", u)
		}
		b.WriteString("\n")
	}

	if len(report.Annotations) > 0 {
		fmt.Fprintf(&b, "## Integrity warnings\n\n")
		for _, a := range report.Annotations {
			fmt.Fprintf(&b, "- %s (%s): %s\n", a.Code, a.Source, a.Detail)
		}
	}
	return b.String()
}
