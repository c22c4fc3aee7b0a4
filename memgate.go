// Package memgate is a grounded-ingestion admission gate for organizational
// memory systems. Candidate memories are classified into three tiers:
// auto-approved (verifiable provenance), flagged for human review, or blocked
// (speculative or duplicate content). Admitted memories carry provenance and
// a bounded retrieval-audit trail.
//
// The durable memory store, the citation detector, and the duplicate checker
// live with the host; memgate consumes them through the StoreFunc,
// CitationDetector, and DedupChecker contracts.
package memgate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memgate/internal/audit"
	"github.com/fyrsmithlabs/memgate/internal/config"
	"github.com/fyrsmithlabs/memgate/internal/ingest"
	"github.com/fyrsmithlabs/memgate/internal/logging"
	"github.com/fyrsmithlabs/memgate/internal/pipeline"
	"github.com/fyrsmithlabs/memgate/internal/provenance"
	"github.com/fyrsmithlabs/memgate/internal/review"
)

// Core types, aliased from the implementation packages.
type (
	// Request is one candidate memory submitted for admission.
	Request = ingest.Request

	// Result is the outcome of one ingestion attempt.
	Result = pipeline.Result

	// ValidationResult is the tier decision with its evidence.
	ValidationResult = ingest.ValidationResult

	// Tier is the admission decision.
	Tier = ingest.Tier

	// Evidence is the provenance-bearing record built for a candidate.
	Evidence = ingest.Evidence

	// StoredMemory is the record handed to the store callback on admission.
	StoredMemory = ingest.StoredMemory

	// StoreFunc persists an admitted memory and returns its durable ID.
	StoreFunc = ingest.StoreFunc

	// Citation is a detected reference to a verifiable source.
	Citation = ingest.Citation

	// CitationDetector finds references to verifiable sources.
	CitationDetector = ingest.CitationDetector

	// DuplicateCheck is the outcome of duplicate detection.
	DuplicateCheck = ingest.DuplicateCheck

	// DedupChecker detects near-duplicate content against the durable store.
	DedupChecker = ingest.DedupChecker

	// PendingMemory is a queued candidate awaiting review.
	PendingMemory = review.PendingMemory

	// ReviewAction is one review-history record.
	ReviewAction = review.ReviewAction

	// Provenance is the attribution record attached to a stored memory.
	Provenance = provenance.Provenance

	// RetrievalEvent records one retrieval of a memory.
	RetrievalEvent = provenance.RetrievalEvent

	// AuditLogger receives audit events for every admission decision.
	AuditLogger = audit.Logger

	// Config is the full gate configuration.
	Config = config.Config
)

// Admission tiers.
const (
	TierAutoApprove = ingest.TierAutoApprove
	TierFlagReview  = ingest.TierFlagReview
	TierBlock       = ingest.TierBlock
)

// Errors surfaced to hosts.
var (
	ErrNotAuthorized   = review.ErrNotAuthorized
	ErrPerUserCapacity = review.ErrPerUserCapacity
	ErrTotalCapacity   = review.ErrTotalCapacity
)

var errMissingDependency = errors.New("memgate: citations and store are required")

// LoadConfig reads configuration from the YAML file at path (skipped when
// empty or absent) with MEMGATE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Params configures a Gate.
type Params struct {
	// Config supplies queue and provenance bounds plus logging settings.
	// Nil uses the package defaults.
	Config *Config

	// Citations detects verifiable references in content. Required.
	Citations CitationDetector

	// Dedup detects near-duplicates against the durable store. Optional;
	// nil skips deduplication.
	Dedup DedupChecker

	// Store persists admitted memories. Required.
	Store StoreFunc

	// Logger overrides the logger built from Config.Logging.
	Logger *zap.Logger

	// Audit receives audit events. Nil routes them through the logger.
	Audit AuditLogger
}

// Gate is the assembled admission pipeline.
type Gate struct {
	pipeline  *pipeline.Pipeline
	validator *ingest.Validator
	logger    *zap.Logger
}

// New assembles a gate from config and the host's detectors and store.
func New(p Params) (*Gate, error) {
	if p.Citations == nil || p.Store == nil {
		return nil, errMissingDependency
	}
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}

	logger := p.Logger
	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Logging); err != nil {
			return nil, err
		}
	}
	auditor := p.Audit
	if auditor == nil {
		auditor = audit.NewZapLogger(logger)
	}

	validator, err := ingest.NewValidator(p.Citations, p.Dedup, logger)
	if err != nil {
		return nil, err
	}
	prov, err := provenance.NewService(cfg.Provenance,
		provenance.WithLogger(logger),
		provenance.WithAuditLogger(auditor),
	)
	if err != nil {
		return nil, err
	}

	pl, err := pipeline.New(pipeline.Params{
		Validator:   validator,
		Provenance:  prov,
		Store:       p.Store,
		QueueLimits: cfg.Review,
		Audit:       auditor,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &Gate{pipeline: pl, validator: validator, logger: logger}, nil
}

// Ingest classifies one candidate and routes it by tier. A validator failure
// is reported as a block, never as an admission.
func (g *Gate) Ingest(ctx context.Context, req Request) (*Result, error) {
	return g.pipeline.Ingest(ctx, req)
}

// ValidateSync classifies a candidate without the deduplication step, so it
// never suspends. A candidate it auto-approves may still be a duplicate.
// Unlike Ingest, nothing is stored or queued; the caller gets the tier
// decision only.
func (g *Gate) ValidateSync(req Request) (*ValidationResult, error) {
	return g.validator.ValidateSync(req)
}

// QuickCheck is a cheap pre-filter using only the hedge and citation
// signals. It can disagree with Ingest on duplicates.
func (g *Gate) QuickCheck(content string) Tier {
	return g.validator.QuickCheck(content)
}

// CreateProvenance builds a validated provenance record without attaching it.
func (g *Gate) CreateProvenance(sourceID, sourceType string, confidence float64, metadata map[string]any) (*Provenance, error) {
	return g.pipeline.Provenance().CreateProvenance(sourceID, sourceType, confidence, metadata)
}

// AttachToMemory stores a hand-constructed provenance record for a memory,
// for hosts that admit memories outside the Ingest path. Every field is
// validated.
func (g *Gate) AttachToMemory(ctx context.Context, memoryID string, p Provenance) error {
	return g.pipeline.Provenance().AttachToMemory(ctx, memoryID, p)
}

// ApprovePending approves a queued candidate as its owner and returns the
// stored memory ID.
func (g *Gate) ApprovePending(ctx context.Context, queueID, reviewer string) (string, error) {
	return g.pipeline.ApprovePending(ctx, queueID, reviewer)
}

// RejectPending rejects a queued candidate as its owner.
func (g *Gate) RejectPending(ctx context.Context, queueID, reviewer, reason string) error {
	return g.pipeline.RejectPending(ctx, queueID, reviewer, reason)
}

// BulkApprove approves each queue ID in order, skipping failures. Returns
// stored memory IDs keyed by queue ID.
func (g *Gate) BulkApprove(ctx context.Context, queueIDs []string, reviewer string) map[string]string {
	return g.pipeline.Queue().BulkApprove(ctx, queueIDs, reviewer)
}

// BulkReject rejects each queue ID in order, skipping failures. Returns the
// number rejected.
func (g *Gate) BulkReject(ctx context.Context, queueIDs []string, reviewer, reason string) int {
	return g.pipeline.Queue().BulkReject(ctx, queueIDs, reviewer, reason)
}

// GetPending returns the user's queued candidates, newest first.
func (g *Gate) GetPending(userID string, limit int) []PendingMemory {
	return g.pipeline.Queue().GetPending(userID, limit)
}

// GetPendingByID returns a queued candidate only to its owner. Unknown IDs
// and other users' IDs both return nil.
func (g *Gate) GetPendingByID(queueID, userID string) *PendingMemory {
	return g.pipeline.Queue().GetByID(queueID, userID)
}

// GetReviewHistory returns the user's review actions, newest first.
func (g *Gate) GetReviewHistory(userID string, limit int) []ReviewAction {
	return g.pipeline.Queue().GetReviewHistory(userID, limit)
}

// ClearUser drops all of the user's queued candidates. Returns the number
// dropped.
func (g *Gate) ClearUser(ctx context.Context, userID string) int {
	return g.pipeline.Queue().ClearUser(ctx, userID)
}

// PendingCount returns the total number of queued candidates.
func (g *Gate) PendingCount() int {
	return g.pipeline.Queue().PendingCount()
}

// GetProvenance returns a copy of the memory's provenance.
func (g *Gate) GetProvenance(memoryID string) (*Provenance, bool) {
	return g.pipeline.Provenance().GetProvenance(memoryID)
}

// TrackRetrieval records that a memory was retrieved. A no-op when the
// memory has no provenance attached.
func (g *Gate) TrackRetrieval(ctx context.Context, memoryID string, score float64, retrievedBy string) error {
	return g.pipeline.Provenance().TrackRetrieval(ctx, memoryID, score, retrievedBy)
}

// GetRetrievalHistory returns the memory's retrieval events, oldest first.
func (g *Gate) GetRetrievalHistory(memoryID string) []RetrievalEvent {
	return g.pipeline.Provenance().GetRetrievalHistory(memoryID)
}
