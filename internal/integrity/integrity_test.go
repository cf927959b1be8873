package integrity

import (
	"strings"
	"testing"

	"github.com/veridict/veridict/internal/claim"
	"github.com/veridict/veridict/internal/document"
)

const sourceText = "The agreement was signed on 2024-01-15 in Hamburg. " +
	"Payment of EUR 1,200 is due within thirty days of delivery. " +
	"Clause 4 governs termination; clause 7 governs liability."

func testDoc() *document.Document {
	return document.New("doc-1", sourceText, nil, nil)
}

func citedFinding(t *testing.T, start, end int, excerpt string) *claim.Finding {
	t.Helper()
	span, err := claim.NewSourceSpan("doc-1", start, end, excerpt)
	if err != nil {
		t.Fatalf("NewSourceSpan: %v", err)
	}
	f, err := claim.NewFinding("a claim", claim.SeverityMinor, "auditor-1",
		[]claim.SourceSpan{span}, nil)
	if err != nil {
		t.Fatalf("NewFinding: %v", err)
	}
	return f
}

// The round-trip property: document[a:b] == e must validate; an excerpt
// that occurs nowhere must be EXCERPT_MISMATCH.
func TestValidate_CitationRoundTrip(t *testing.T) {
	doc := testDoc()
	v := NewValidator(doc, nil, 200)

	exact := strings.Index(sourceText, "2024-01-15")
	valid := citedFinding(t, exact, exact+len("2024-01-15"), "2024-01-15")

	report := v.Validate([]*claim.Finding{valid}, nil, nil)
	if len(report.Annotations) != 0 {
		t.Errorf("literal match produced annotations: %+v", report.Annotations)
	}
	if report.Valid != 1 {
		t.Errorf("Valid = %d, want 1", report.Valid)
	}

	invented := citedFinding(t, 10, 30, "this text exists nowhere")
	report = v.Validate([]*claim.Finding{invented}, nil, nil)
	if len(report.Annotations) != 1 || report.Annotations[0].Code != CodeExcerptMismatch {
		t.Fatalf("Annotations = %+v, want one EXCERPT_MISMATCH", report.Annotations)
	}
}

// The stated excerpt is never normalized: a citation whose excerpt is
// exactly document[a:b] must validate even when it ends in a newline.
func TestValidate_NewlineTerminatedExcerpt(t *testing.T) {
	text := "Rent is due monthly.\nDeposit is two months' rent.\n"
	doc := document.New("doc-1", text, nil, nil)
	v := NewValidator(doc, nil, 200)

	excerpt := "Rent is due monthly.\n"
	f := citedFinding(t, 0, len(excerpt), excerpt)

	report := v.Validate([]*claim.Finding{f}, nil, nil)
	if len(report.Annotations) != 0 {
		t.Errorf("literal match with trailing newline produced annotations: %+v", report.Annotations)
	}
	if report.Valid != 1 {
		t.Errorf("Valid = %d, want 1", report.Valid)
	}
}

func TestValidate_OffsetImprecise(t *testing.T) {
	doc := testDoc()
	v := NewValidator(doc, nil, 200)

	// Excerpt is real but the cited offsets are shifted by a few chars.
	actual := strings.Index(sourceText, "EUR 1,200")
	f := citedFinding(t, actual+5, actual+5+len("EUR 1,200"), "EUR 1,200")

	report := v.Validate([]*claim.Finding{f}, nil, nil)
	if len(report.Annotations) != 1 {
		t.Fatalf("got %d annotations, want 1", len(report.Annotations))
	}
	a := report.Annotations[0]
	if a.Code != CodeOffsetImprecise {
		t.Errorf("Code = %q, want %q", a.Code, CodeOffsetImprecise)
	}
	if a.FoundAt != actual {
		t.Errorf("FoundAt = %d, want %d", a.FoundAt, actual)
	}
}

func TestValidate_OffsetWrong(t *testing.T) {
	doc := testDoc()
	v := NewValidator(doc, nil, 10) // narrow window so the match lands outside it

	actual := strings.Index(sourceText, "clause 7")
	f := citedFinding(t, 0, len("clause 7"), "clause 7")

	report := v.Validate([]*claim.Finding{f}, nil, nil)
	if len(report.Annotations) != 1 {
		t.Fatalf("got %d annotations, want 1", len(report.Annotations))
	}
	a := report.Annotations[0]
	if a.Code != CodeOffsetWrong {
		t.Errorf("Code = %q, want %q", a.Code, CodeOffsetWrong)
	}
	if a.FoundAt != actual {
		t.Errorf("FoundAt = %d, want %d", a.FoundAt, actual)
	}
}

func TestValidate_UnknownEvidence(t *testing.T) {
	doc := testDoc()
	span, _ := claim.NewSourceSpan("doc-1", 0, 13, "The agreement")
	item, _ := claim.NewEvidenceItem(claim.ItemOther, "agreement", "extractor-1", span)
	v := NewValidator(doc, []*claim.EvidenceItem{item}, 200)

	f := citedFinding(t, 0, 13, "The agreement")
	f.EvidenceIDs = []string{item.ID, "no-such-id"}

	report := v.Validate([]*claim.Finding{f}, nil, nil)

	var unknown int
	for _, a := range report.Annotations {
		if a.Code == CodeUnknownEvidence {
			unknown++
		}
	}
	if unknown != 1 {
		t.Errorf("got %d UNKNOWN_EVIDENCE annotations, want 1", unknown)
	}
}

func TestValidate_UncitedDeterminant(t *testing.T) {
	doc := testDoc()
	v := NewValidator(doc, nil, 200)

	point, err := claim.NewDecisionPoint("decisive but unsupported", "", nil, nil, 0.9, true)
	if err != nil {
		t.Fatalf("NewDecisionPoint: %v", err)
	}
	opinions := []claim.Opinion{{JudgeID: "judge-1", Points: []claim.DecisionPoint{*point}}}

	report := v.Validate(nil, opinions, nil)
	if report.Counts[CodeUncitedDeterminant] != 1 {
		t.Errorf("UNCITED_DETERMINANT count = %d, want 1", report.Counts[CodeUncitedDeterminant])
	}
}

func TestValidate_EmptyExcerptOnlyBoundsChecked(t *testing.T) {
	doc := testDoc()
	v := NewValidator(doc, nil, 200)

	inBounds := citedFinding(t, 0, 10, "")
	report := v.Validate([]*claim.Finding{inBounds}, nil, nil)
	if len(report.Annotations) != 0 {
		t.Errorf("in-bounds empty excerpt annotated: %+v", report.Annotations)
	}

	outOfBounds := citedFinding(t, 5000, 5100, "")
	report = v.Validate([]*claim.Finding{outOfBounds}, nil, nil)
	if len(report.Annotations) != 1 || report.Annotations[0].Code != CodeOffsetWrong {
		t.Errorf("Annotations = %+v, want one OFFSET_WRONG", report.Annotations)
	}
}

func TestPolicy_PenaltyDeterministic(t *testing.T) {
	p := DefaultPolicy()
	report := &Report{Counts: map[Code]int{
		CodeOffsetImprecise: 2,
		CodeOffsetWrong:     1,
	}}

	// 2*0.01 + 1*0.03 = 0.05, full coverage, nothing unresolved.
	got := p.Penalty(report, 1.0, 0)
	if got != 0.05 {
		t.Errorf("Penalty = %v, want 0.05", got)
	}
}

func TestPolicy_CoverageShortfallAndUnresolved(t *testing.T) {
	p := DefaultPolicy()
	report := &Report{}

	// Coverage 0.65, floor 0.85: shortfall 0.2 * 0.25 = 0.05.
	// 2 unresolved * 0.02 = 0.04.
	got := p.Penalty(report, 0.65, 2)
	want := 0.05 + 0.04
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Penalty = %v, want %v", got, want)
	}
}

func TestPolicy_CapBoundsPenalty(t *testing.T) {
	p := DefaultPolicy()
	report := &Report{Counts: map[Code]int{CodeExcerptMismatch: 20}}

	if got := p.Penalty(report, 0, 50); got != p.Cap {
		t.Errorf("Penalty = %v, want capped at %v", got, p.Cap)
	}
}

// Confidence bound: with any EXCERPT_MISMATCH the final confidence never
// exceeds the severe ceiling, regardless of judge confidence.
func TestPolicy_SevereCeiling(t *testing.T) {
	p := DefaultPolicy()
	report := &Report{Counts: map[Code]int{CodeExcerptMismatch: 1}}
	report.Annotations = []Annotation{{Code: CodeExcerptMismatch}}

	adjusted, penalty := p.Adjust(1.0, report, 1.0, 0)
	if penalty < 0.08 {
		t.Errorf("penalty = %v, want at least the mismatch weight", penalty)
	}
	if adjusted > p.SevereCeiling {
		t.Errorf("adjusted confidence = %v, exceeds severe ceiling %v", adjusted, p.SevereCeiling)
	}
}

func TestPolicy_AdjustNeverNegative(t *testing.T) {
	p := DefaultPolicy()
	report := &Report{Counts: map[Code]int{CodeExcerptMismatch: 10}}

	adjusted, _ := p.Adjust(0.1, report, 0.0, 10)
	if adjusted < 0 {
		t.Errorf("adjusted confidence = %v, want >= 0", adjusted)
	}
}
