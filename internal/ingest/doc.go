// Package ingest classifies candidate memories into admission tiers before
// anything reaches durable storage.
//
// Claims extracted from LLM conversations can be plausible but false;
// persisting them naively corrupts organizational memory and poisons later
// retrieval. The validator combines three signals into a single decision:
//
//   - Hedged language (internal/hedge): speculative claims are blocked.
//   - Duplicate detection (injected DedupChecker): near-duplicates of stored
//     memories are blocked, even when cited.
//   - Citations and source trust (injected CitationDetector plus a trusted
//     source list): grounded claims are auto-approved.
//
// Everything else lands in the middle tier and is routed to human review by
// the pipeline. The decision matrix is a fixed first-match-wins order; see
// Validator.Validate.
//
// # Value Types
//
// Evidence, ValidationResult, and Tier are immutable value types. Evidence
// invariants (non-empty claim, defined confidence, horizon not before
// capture) and the result invariant (approved exactly when the tier is
// auto-approve) are enforced at construction and never coerced.
//
// # Concurrency
//
// The validator is stateless and safe for unbounded concurrent calls. It
// suspends only while the dedup checker performs I/O; callers apply
// deadlines through the context. Detector errors are returned, not
// swallowed: the caller must fail closed and treat them as blocks.
package ingest
