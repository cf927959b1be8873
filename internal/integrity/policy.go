package integrity

// Policy converts annotations, coverage and unresolved disagreements into
// one deterministic penalty. Two guards bound the result: the cap limits
// the total penalty mass, and the severe ceiling caps confidence outright
// whenever any citation was invented, regardless of how high judges scored
// themselves.
type Policy struct {
	Penalties map[Code]float64

	// Cap bounds the total subtracted penalty.
	Cap float64

	// SevereCeiling is the maximum confidence when any EXCERPT_MISMATCH
	// annotation exists.
	SevereCeiling float64

	// CoverageFloor and CoverageRate penalize poor document coverage:
	// below the floor, the shortfall times the rate joins the penalty.
	CoverageFloor float64
	CoverageRate  float64

	// UnresolvedPenalty applies per disagreement the arbiter left open.
	UnresolvedPenalty float64
}

// DefaultPolicy returns the standard penalty weights.
func DefaultPolicy() Policy {
	return Policy{
		Penalties: map[Code]float64{
			CodeOffsetImprecise:    0.01,
			CodeOffsetWrong:        0.03,
			CodeExcerptMismatch:    0.08,
			CodeUnknownEvidence:    0.05,
			CodeUncitedDeterminant: 0.05,
		},
		Cap:               0.60,
		SevereCeiling:     0.80,
		CoverageFloor:     0.85,
		CoverageRate:      0.25,
		UnresolvedPenalty: 0.02,
	}
}

// Penalty computes the total penalty for a report, measured coverage in
// [0,1] and the count of unresolved disagreements, bounded by the cap.
func (p Policy) Penalty(report *Report, coverage float64, unresolved int) float64 {
	total := 0.0
	for code, count := range report.Counts {
		total += p.Penalties[code] * float64(count)
	}
	if coverage < p.CoverageFloor {
		total += (p.CoverageFloor - coverage) * p.CoverageRate
	}
	total += p.UnresolvedPenalty * float64(unresolved)

	if total > p.Cap {
		total = p.Cap
	}
	return total
}

// Adjust applies the penalty to a confidence value and enforces the severe
// ceiling. The result stays in [0,1].
func (p Policy) Adjust(confidence float64, report *Report, coverage float64, unresolved int) (float64, float64) {
	penalty := p.Penalty(report, coverage, unresolved)
	adjusted := confidence - penalty
	if report.HasSevere() && adjusted > p.SevereCeiling {
		adjusted = p.SevereCeiling
	}
	if adjusted < 0 {
		adjusted = 0
	}
	return adjusted, penalty
}
