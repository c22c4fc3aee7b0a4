package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memgate/internal/hedge"
)

// trustedSources are admitted without review: the user said it, or it comes
// from an authored artifact rather than model synthesis.
var trustedSources = map[string]struct{}{
	"user":          {},
	"user-stated":   {},
	"adr":           {},
	"commit":        {},
	"documentation": {},
	"docs":          {},
	"manual":        {},
}

// Check identifiers recorded in ValidationResult.ChecksPassed/ChecksFailed.
const (
	CheckNoHedgeWords     = "no_hedge_words"
	CheckHedgeWordsPrefix = "hedge_words_detected:"
	CheckNotDuplicate     = "not_duplicate"
	CheckDuplicate        = "duplicate_content"
	CheckCitationPresent  = "citation_present"
	CheckNoCitation       = "no_citation"
	CheckTrustedSource    = "trusted_source"
	CheckUntrustedSource  = "untrusted_source"
	CheckDecisionSource   = "decision_from_conversation"
	CheckPreferenceSource = "preference_from_conversation"
)

// Request is one candidate memory submitted for validation.
type Request struct {
	Content    string
	MemoryType string
	Source     string
	UserID     string
	Metadata   map[string]any
}

// Validator combines the hedge detector with the injected citation and
// duplicate detectors into a single tier decision.
//
// Stateless between calls; safe for unbounded concurrent use. Detector
// failures are returned to the caller unwrapped in meaning: the caller must
// fail closed and treat an error as a block, since admitting unvalidated
// content is strictly worse than over-rejecting.
type Validator struct {
	hedge     *hedge.Detector
	citations CitationDetector
	dedup     DedupChecker
	logger    *zap.Logger
}

// NewValidator creates a validator. The citation detector is required; the
// dedup checker may be nil, in which case deduplication is skipped (as it
// always is in ValidateSync).
func NewValidator(citations CitationDetector, dedup DedupChecker, logger *zap.Logger) (*Validator, error) {
	if citations == nil {
		return nil, fmt.Errorf("citation detector cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		hedge:     hedge.NewDetector(),
		citations: citations,
		dedup:     dedup,
		logger:    logger,
	}, nil
}

// Validate classifies one candidate memory. It may suspend only while the
// dedup checker performs I/O; ctx deadlines apply there.
//
// Decision matrix, first match wins:
//  1. hedge words present        -> block
//  2. duplicate                  -> block
//  3. citation present           -> auto-approve
//  4. trusted source             -> auto-approve
//  5. decision from conversation -> auto-approve
//  6. preference from chat       -> auto-approve
//  7. otherwise                  -> flag for review
func (v *Validator) Validate(ctx context.Context, req Request) (*ValidationResult, error) {
	return v.validate(ctx, req, false)
}

// ValidateSync is identical to Validate but always skips deduplication, so it
// never suspends. A candidate it auto-approves may still be a duplicate.
func (v *Validator) ValidateSync(req Request) (*ValidationResult, error) {
	return v.validate(context.Background(), req, true)
}

// QuickCheck is a cheap pre-filter using only the hedge and citation signals.
// It can disagree with Validate on duplicates (QuickCheck never blocks them);
// that is documented behavior, not a bug.
func (v *Validator) QuickCheck(content string) Tier {
	if a := v.hedge.Analyze(content); a.IsSpeculative {
		return TierBlock
	}
	if v.citations.HasAnyCitation(content) {
		return TierAutoApprove
	}
	return TierFlagReview
}

func (v *Validator) validate(ctx context.Context, req Request, skipDedup bool) (*ValidationResult, error) {
	if req.Content == "" {
		return nil, ErrEmptyClaim
	}

	var passed, failed []string

	// Rule 1: hedged content is blocked regardless of anything else.
	analysis := v.hedge.Analyze(req.Content)
	if analysis.IsSpeculative {
		failed = append(failed, CheckHedgeWordsPrefix+strings.Join(analysis.HedgeWordsFound, ","))
		return v.finish(req, TierBlock,
			fmt.Sprintf("speculative language detected (%s)", strings.Join(analysis.HedgeWordsFound, ", ")),
			passed, failed, nil, "")
	}
	passed = append(passed, CheckNoHedgeWords)

	// Rule 2: duplicates are blocked, even when cited. The dedup checker may
	// perform I/O; its error propagates so the caller can fail closed.
	var similarity *float64
	conflictingID := ""
	if !skipDedup && v.dedup != nil {
		check, err := v.dedup.CheckDuplicate(ctx, req.Content, req.UserID, req.MemoryType)
		if err != nil {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
		if check.SimilarityScore < 0.0 || check.SimilarityScore > 1.0 {
			return nil, fmt.Errorf("%w: %v from dedup checker", ErrInvalidSimilarity, check.SimilarityScore)
		}
		s := check.SimilarityScore
		similarity = &s
		if check.IsDuplicate {
			failed = append(failed, CheckDuplicate)
			return v.finish(req, TierBlock,
				fmt.Sprintf("duplicate of existing memory %s", check.ExistingMemoryID),
				passed, failed, similarity, check.ExistingMemoryID)
		}
		passed = append(passed, CheckNotDuplicate)
	}

	// Rule 3: a citation grounds the claim.
	citations := v.citations.DetectCitations(req.Content)
	if len(citations) > 0 {
		passed = append(passed, CheckCitationPresent)
		res, err := v.finish(req, TierAutoApprove, "citation present", passed, failed, similarity, conflictingID)
		if err != nil {
			return nil, err
		}
		res.Evidence = res.Evidence.WithSource(citations[0].ToSourceID())
		return res, nil
	}

	// Rule 4: trusted sources are grounded by construction.
	source := strings.ToLower(req.Source)
	if _, ok := trustedSources[source]; ok {
		passed = append(passed, CheckTrustedSource)
		return v.finish(req, TierAutoApprove, "trusted source", passed, failed, similarity, conflictingID)
	}

	// Rules 5-6: explicit decisions and preferences voiced in conversation
	// are the user's own statements even when relayed by the model.
	memoryType := strings.ToLower(req.MemoryType)
	if memoryType == "decision" && source == "conversation" {
		passed = append(passed, CheckDecisionSource)
		return v.finish(req, TierAutoApprove, "explicit decision from conversation", passed, failed, similarity, conflictingID)
	}
	if memoryType == "preference" && (source == "conversation" || source == "chat") {
		passed = append(passed, CheckPreferenceSource)
		return v.finish(req, TierAutoApprove, "stated preference from conversation", passed, failed, similarity, conflictingID)
	}

	// Rule 7: nothing grounds the claim; a human decides.
	failed = append(failed, CheckNoCitation, CheckUntrustedSource)
	return v.finish(req, TierFlagReview, "no grounding signal; requires human review", passed, failed, similarity, conflictingID)
}

// finish builds the immutable result, deriving evidence confidence from the
// tier.
func (v *Validator) finish(req Request, tier Tier, reason string, passed, failed []string, similarity *float64, conflictingID string) (*ValidationResult, error) {
	evidence, err := NewEvidence(req.Content, time.Now(), tier.ConfidenceLevel())
	if err != nil {
		return nil, fmt.Errorf("building evidence: %w", err)
	}
	if req.Metadata != nil {
		evidence.Metadata = copyValue(req.Metadata).(map[string]any)
	}

	result, err := NewValidationResult(tier, tier == TierAutoApprove, reason, evidence)
	if err != nil {
		return nil, err
	}
	result.ChecksPassed = passed
	result.ChecksFailed = failed
	if similarity != nil {
		if result, err = result.withSimilarity(*similarity, conflictingID); err != nil {
			return nil, err
		}
	}

	v.logger.Debug("validation decided",
		zap.String("tier", string(tier)),
		zap.String("source", req.Source),
		zap.String("memory_type", req.MemoryType),
		zap.String("reason", reason))

	return result, nil
}
