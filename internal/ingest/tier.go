package ingest

// Tier is the three-way admission decision for a candidate memory.
type Tier string

const (
	// TierAutoApprove admits the memory without human review. Assigned when
	// the claim is grounded: cited, from a trusted source, or an explicit
	// user decision/preference.
	TierAutoApprove Tier = "auto_approve"

	// TierFlagReview routes the memory into the human review queue.
	TierFlagReview Tier = "flag_review"

	// TierBlock rejects the memory outright (hedged or duplicate content).
	TierBlock Tier = "block"
)

// Valid reports whether t is one of the three defined tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierAutoApprove, TierFlagReview, TierBlock:
		return true
	}
	return false
}

// ConfidenceLevel is the coarse evidence confidence derived from a tier.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// Valid reports whether c is a defined confidence level.
func (c ConfidenceLevel) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// ConfidenceLevel maps a tier to the evidence confidence it implies:
// auto-approved claims are high confidence, review candidates medium,
// blocked claims low.
func (t Tier) ConfidenceLevel() ConfidenceLevel {
	switch t {
	case TierAutoApprove:
		return ConfidenceHigh
	case TierFlagReview:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Score maps a confidence level to the numeric confidence recorded in
// provenance, in [0.0, 1.0].
func (c ConfidenceLevel) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 0.9
	case ConfidenceMedium:
		return 0.6
	default:
		return 0.2
	}
}
