package ingest

import "context"

// Citation is a single detected reference to a verifiable source.
type Citation interface {
	// ToSourceID renders the citation as a stable source identifier
	// (e.g. "adr:ADR-003", "commit:4f2a91c").
	ToSourceID() string
}

// CitationDetector finds references to verifiable sources in content.
// Implementations must be deterministic and side-effect-free; the validator
// may call them concurrently.
type CitationDetector interface {
	// DetectCitations returns all citations in document order.
	DetectCitations(content string) []Citation

	// HasAnyCitation is a cheap existence check used by QuickCheck.
	HasAnyCitation(content string) bool
}

// DuplicateCheck is the outcome of duplicate detection for one candidate.
type DuplicateCheck struct {
	// IsDuplicate is true when similarity exceeded the checker's threshold
	// (owned by the checker, documented as >0.92).
	IsDuplicate bool `json:"is_duplicate"`

	// SimilarityScore is the best-match similarity in [0.0, 1.0].
	SimilarityScore float64 `json:"similarity_score"`

	// ExistingMemoryID identifies the matched memory when IsDuplicate is true.
	ExistingMemoryID string `json:"existing_memory_id,omitempty"`
}

// DedupChecker detects near-duplicate content against the durable store.
// CheckDuplicate may perform I/O; the validator suspends on it and callers
// apply deadlines through ctx.
type DedupChecker interface {
	CheckDuplicate(ctx context.Context, content, userID, memoryType string) (DuplicateCheck, error)
}

// StoredMemory is the record handed to the store callback when a memory is
// admitted (Tier-1 directly, Tier-2 after approval).
type StoredMemory struct {
	Content    string         `json:"content"`
	MemoryType string         `json:"memory_type"`
	Source     string         `json:"source"`
	UserID     string         `json:"user_id"`
	Evidence   Evidence       `json:"evidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StoreFunc persists an admitted memory and returns its durable ID.
// The durable store itself lives outside this module; the pipeline and the
// review queue only ever see this callback.
type StoreFunc func(ctx context.Context, mem StoredMemory) (string, error)
