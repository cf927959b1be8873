// Package integrity verifies every citation of the pipeline's output
// against the source document and converts the failures, plus measured
// coverage, into a deterministic confidence penalty. Validation never
// aborts a run; every failure becomes an annotation.
package integrity

import (
	"fmt"
	"strings"

	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
)

// Code classifies one failed verification, ordered by severity.
type Code string

const (
	// CodeUnknownEvidence: a referenced evidence item id does not exist.
	CodeUnknownEvidence Code = "UNKNOWN_EVIDENCE"

	// CodeOffsetImprecise: the excerpt is real but sits within the offset
	// window of the stated position, not exactly at it.
	CodeOffsetImprecise Code = "OFFSET_IMPRECISE"

	// CodeOffsetWrong: the excerpt exists in the document, but nowhere
	// near the stated offsets.
	CodeOffsetWrong Code = "OFFSET_WRONG"

	// CodeExcerptMismatch: the excerpt exists nowhere in the document.
	// The worker invented the citation; this is the most severe code.
	CodeExcerptMismatch Code = "EXCERPT_MISMATCH"

	// CodeUncitedDeterminant: a determinant decision point carries no
	// citation at all.
	CodeUncitedDeterminant Code = "UNCITED_DETERMINANT"
)

// Annotation is one recorded verification failure.
type Annotation struct {
	Code    Code   `json:"code"`
	Source  string `json:"source"` // "finding", "opinion", "final_decision"
	Ref     string `json:"ref"`    // finding id or point conclusion
	Detail  string `json:"detail,omitempty"`
	FoundAt int    `json:"found_at,omitempty"` // where the excerpt actually is
}

// Report is the integrity stage's canonical artifact.
type Report struct {
	Checked     int          `json:"checked"`
	Valid       int          `json:"valid"`
	Annotations []Annotation `json:"annotations,omitempty"`
	Counts      map[Code]int `json:"counts,omitempty"`
}

// HasSevere reports whether any citation was invented outright.
func (r *Report) HasSevere() bool {
	return r.Counts[CodeExcerptMismatch] > 0
}

func (r *Report) annotate(a Annotation) {
	r.Annotations = append(r.Annotations, a)
	if r.Counts == nil {
		r.Counts = make(map[Code]int)
	}
	r.Counts[a.Code]++
}

// Validator checks citations against one source document and the set of
// evidence item ids the extraction stage produced.
type Validator struct {
	doc          *document.Document
	evidenceIDs  map[string]bool
	offsetWindow int
}

// NewValidator creates a Validator. offsetWindow is the tolerance, in
// characters, within which a misplaced excerpt is imprecise rather than
// wrong.
func NewValidator(doc *document.Document, items []*claim.EvidenceItem, offsetWindow int) *Validator {
	ids := make(map[string]bool, len(items))
	for _, it := range items {
		ids[it.ID] = true
	}
	return &Validator{doc: doc, evidenceIDs: ids, offsetWindow: offsetWindow}
}

// Validate runs the ordered checks over every citation in every finding,
// opinion and the final decision.
func (v *Validator) Validate(findings []*claim.Finding, opinions []claim.Opinion, decision *claim.FinalDecision) *Report {
	report := &Report{}

	for _, f := range findings {
		for _, id := range f.EvidenceIDs {
			report.Checked++
			if !v.evidenceIDs[id] {
				report.annotate(Annotation{
					Code:   CodeUnknownEvidence,
					Source: "finding",
					Ref:    f.ID,
					Detail: fmt.Sprintf("evidence item %s does not exist", id),
				})
				continue
			}
			report.Valid++
		}
		for _, c := range f.Citations {
			v.checkCitation(report, "finding", f.ID, c)
		}
	}

	for _, op := range opinions {
		for _, p := range op.Points {
			v.checkPoint(report, "opinion", &p)
		}
		for _, a := range op.Answers {
			for _, c := range a.Citations {
				v.checkCitation(report, "opinion", a.Question, c)
			}
		}
	}

	if decision != nil {
		for _, p := range decision.Points {
			v.checkPoint(report, "final_decision", &p)
		}
		for _, a := range decision.Answers {
			for _, c := range a.Citations {
				v.checkCitation(report, "final_decision", a.Question, c)
			}
		}
	}

	return report
}

func (v *Validator) checkPoint(report *Report, source string, p *claim.DecisionPoint) {
	if p.Uncited {
		report.Checked++
		report.annotate(Annotation{
			Code:   CodeUncitedDeterminant,
			Source: source,
			Ref:    p.Conclusion,
			Detail: "determinant point carries no citation",
		})
	}
	for _, c := range p.Citations {
		v.checkCitation(report, source, p.Conclusion, c)
	}
}

// checkCitation performs the ordered verification: literal match at the
// stated offsets, then the offset window, then anywhere in the document,
// then mismatch.
func (v *Validator) checkCitation(report *Report, source, ref string, c claim.SourceSpan) {
	report.Checked++
	text := v.doc.Text

	if c.Excerpt == "" {
		// Nothing to verify against; only the offsets can be wrong.
		if c.StartChar >= len(text) || c.EndChar > len(text) {
			report.annotate(Annotation{
				Code:   CodeOffsetWrong,
				Source: source,
				Ref:    ref,
				Detail: fmt.Sprintf("offsets [%d, %d) exceed document length %d", c.StartChar, c.EndChar, len(text)),
			})
			return
		}
		report.Valid++
		return
	}

	if c.StartChar < len(text) && c.EndChar <= len(text) && text[c.StartChar:c.EndChar] == c.Excerpt {
		report.Valid++
		return
	}

	if at, ok := v.findNear(c); ok {
		report.annotate(Annotation{
			Code:    CodeOffsetImprecise,
			Source:  source,
			Ref:     ref,
			Detail:  fmt.Sprintf("excerpt found at %d, cited at %d", at, c.StartChar),
			FoundAt: at,
		})
		return
	}

	if at := strings.Index(text, c.Excerpt); at >= 0 {
		report.annotate(Annotation{
			Code:    CodeOffsetWrong,
			Source:  source,
			Ref:     ref,
			Detail:  fmt.Sprintf("excerpt found at %d, far from cited %d", at, c.StartChar),
			FoundAt: at,
		})
		return
	}

	report.annotate(Annotation{
		Code:   CodeExcerptMismatch,
		Source: source,
		Ref:    ref,
		Detail: "excerpt occurs nowhere in the document",
	})
}

// findNear searches for the excerpt within the offset window around the
// stated position.
func (v *Validator) findNear(c claim.SourceSpan) (int, bool) {
	text := v.doc.Text
	lo := c.StartChar - v.offsetWindow
	if lo < 0 {
		lo = 0
	}
	hi := c.EndChar + v.offsetWindow
	if hi > len(text) {
		hi = len(text)
	}
	if lo >= hi {
		return 0, false
	}
	at := strings.Index(text[lo:hi], c.Excerpt)
	if at < 0 {
		return 0, false
	}
	return lo + at, true
}
