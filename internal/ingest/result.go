package ingest

import (
	"errors"
	"fmt"
)

// Result construction errors.
var (
	ErrInvalidTier       = errors.New("tier must be auto_approve, flag_review, or block")
	ErrApprovedMismatch  = errors.New("approved must be true exactly when tier is auto_approve")
	ErrInvalidSimilarity = errors.New("similarity score must be between 0.0 and 1.0")
)

// ValidationResult is the outcome of validating one candidate memory.
// Created once per Validate call and never mutated afterwards.
type ValidationResult struct {
	// Tier is the admission decision.
	Tier Tier `json:"tier"`

	// Approved is true exactly when Tier is TierAutoApprove.
	Approved bool `json:"approved"`

	// Reason is a human-readable explanation of the decision.
	Reason string `json:"reason"`

	// Evidence is the evidence record built for the candidate.
	Evidence Evidence `json:"evidence"`

	// ChecksPassed lists the admission checks that passed, in evaluation order.
	ChecksPassed []string `json:"checks_passed"`

	// ChecksFailed lists the admission checks that failed.
	ChecksFailed []string `json:"checks_failed"`

	// SimilarityScore is the duplicate-detection similarity, when dedup ran.
	SimilarityScore *float64 `json:"similarity_score,omitempty"`

	// ConflictingMemoryID identifies the existing memory a duplicate matched.
	ConflictingMemoryID string `json:"conflicting_memory_id,omitempty"`
}

// NewValidationResult constructs a result and enforces its invariants:
// the tier must be defined, approved must equal (tier == auto_approve), and
// the similarity score (if present) must be within [0, 1].
func NewValidationResult(tier Tier, approved bool, reason string, evidence Evidence) (*ValidationResult, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if approved != (tier == TierAutoApprove) {
		return nil, ErrApprovedMismatch
	}
	return &ValidationResult{
		Tier:     tier,
		Approved: approved,
		Reason:   reason,
		Evidence: evidence,
	}, nil
}

// Clone returns a copy sharing no mutable state with the original, so stored
// results can be handed out without exposing internal references.
func (r *ValidationResult) Clone() *ValidationResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Evidence = r.Evidence.Clone()
	if r.ChecksPassed != nil {
		c.ChecksPassed = append([]string(nil), r.ChecksPassed...)
	}
	if r.ChecksFailed != nil {
		c.ChecksFailed = append([]string(nil), r.ChecksFailed...)
	}
	if r.SimilarityScore != nil {
		s := *r.SimilarityScore
		c.SimilarityScore = &s
	}
	return &c
}

// withSimilarity records the dedup outcome, validating the score range.
func (r *ValidationResult) withSimilarity(score float64, conflictingID string) (*ValidationResult, error) {
	if score < 0.0 || score > 1.0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSimilarity, score)
	}
	r.SimilarityScore = &score
	r.ConflictingMemoryID = conflictingID
	return r, nil
}
