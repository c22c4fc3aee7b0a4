// Package pipeline wires the validator, review queue, and provenance store
// into the full grounded-ingestion flow.
//
// One call to Ingest classifies a candidate and routes it: blocked candidates
// are returned with the reason, auto-approved candidates are stored and get
// provenance attached, and review candidates are queued for their owner.
// Tier-2 approvals later flow through the same store path, so provenance is
// attached on both admission routes.
//
// The pipeline is the fail-closed boundary required of validator callers: a
// detector error or panic is reported as a block, never as an admission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memgate/internal/audit"
	"github.com/fyrsmithlabs/memgate/internal/ingest"
	"github.com/fyrsmithlabs/memgate/internal/provenance"
	"github.com/fyrsmithlabs/memgate/internal/review"
)

// CheckValidatorError marks a fail-closed block in ChecksFailed.
const CheckValidatorError = "validator_error"

var errNilDependency = errors.New("pipeline dependency cannot be nil")

// Params configures a Pipeline.
type Params struct {
	// Validator classifies candidates. Required.
	Validator *ingest.Validator

	// Provenance receives attribution for every admitted memory. Required.
	Provenance *provenance.Service

	// Store persists admitted memories. Required. The pipeline wraps it so
	// provenance is attached after every successful store.
	Store ingest.StoreFunc

	// QueueLimits bounds the review queue; zero values use defaults.
	QueueLimits review.Limits

	// Audit receives events for every admission decision. Optional.
	Audit audit.Logger

	// Logger is the zap logger. Optional.
	Logger *zap.Logger
}

// Result is the outcome of one ingestion attempt.
type Result struct {
	// Validation is the tier decision, always present.
	Validation *ingest.ValidationResult

	// MemoryID is the durable ID when the candidate was stored (Tier-1).
	MemoryID string

	// QueueID is the review-queue ID when the candidate was flagged (Tier-2).
	QueueID string
}

// Pipeline routes validated candidates to storage or review.
type Pipeline struct {
	validator *ingest.Validator
	prov      *provenance.Service
	queue     *review.Queue
	store     ingest.StoreFunc
	auditor   audit.Logger
	logger    *zap.Logger
	metrics   *ingest.Metrics
}

// New creates a pipeline and its review queue. The queue's store callback is
// the pipeline's provenance-attaching wrapper, so Tier-2 approvals admit
// memories exactly like Tier-1 does.
func New(p Params) (*Pipeline, error) {
	if p.Validator == nil || p.Provenance == nil || p.Store == nil {
		return nil, errNilDependency
	}
	if p.Audit == nil {
		p.Audit = audit.NopLogger{}
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}

	pl := &Pipeline{
		validator: p.Validator,
		prov:      p.Provenance,
		store:     p.Store,
		auditor:   p.Audit,
		logger:    p.Logger,
		metrics:   ingest.NewMetrics(p.Logger),
	}

	queue, err := review.NewQueue(pl.storeWithProvenance, p.QueueLimits,
		review.WithLogger(p.Logger),
		review.WithAuditLogger(p.Audit),
	)
	if err != nil {
		return nil, fmt.Errorf("creating review queue: %w", err)
	}
	pl.queue = queue
	return pl, nil
}

// Queue exposes the review queue for the host's review operations
// (GetPending, GetByID, bulk actions, history).
func (p *Pipeline) Queue() *review.Queue { return p.queue }

// Provenance exposes the provenance store for the host's audit operations.
func (p *Pipeline) Provenance() *provenance.Service { return p.prov }

// Ingest validates one candidate and routes it by tier.
//
// A validator error or panic yields a blocked Result and no error: admitting
// unvalidated content is strictly worse than over-rejecting, so failure is
// indistinguishable from a block at this boundary. Storage and queue errors
// are returned; the candidate was classified but not admitted, and the
// caller resubmits through this same path.
func (p *Pipeline) Ingest(ctx context.Context, req ingest.Request) (*Result, error) {
	start := time.Now()

	validation, err := p.runValidator(ctx, req)
	if err != nil {
		p.logger.Warn("validation failed closed", zap.Error(err))
		p.metrics.RecordFailure(ctx, "validate")
		blocked := p.failClosed(req, err)
		p.auditDecision(ctx, req, blocked.Tier, audit.OutcomeError)
		return &Result{Validation: blocked}, nil
	}

	p.metrics.RecordValidation(ctx, validation.Tier, req.Source, time.Since(start))

	switch validation.Tier {
	case ingest.TierBlock:
		p.auditDecision(ctx, req, validation.Tier, audit.OutcomeBlocked)
		return &Result{Validation: validation}, nil

	case ingest.TierAutoApprove:
		memoryID, err := p.storeWithProvenance(ctx, ingest.StoredMemory{
			Content:    req.Content,
			MemoryType: req.MemoryType,
			Source:     req.Source,
			UserID:     req.UserID,
			Evidence:   validation.Evidence,
			Metadata:   ingest.CopyMetadata(req.Metadata),
		})
		if err != nil {
			p.metrics.RecordFailure(ctx, "store")
			p.auditDecision(ctx, req, validation.Tier, audit.OutcomeError)
			return &Result{Validation: validation}, fmt.Errorf("storing approved memory: %w", err)
		}
		p.auditDecision(ctx, req, validation.Tier, audit.OutcomeSuccess)
		return &Result{Validation: validation, MemoryID: memoryID}, nil

	default: // ingest.TierFlagReview
		queueID, err := p.queue.Enqueue(ctx, review.EnqueueRequest{
			UserID:           req.UserID,
			Content:          req.Content,
			MemoryType:       req.MemoryType,
			Source:           req.Source,
			Evidence:         validation.Evidence,
			ValidationResult: *validation,
			Metadata:         req.Metadata,
		})
		if err != nil {
			p.metrics.RecordFailure(ctx, "enqueue")
			return &Result{Validation: validation}, fmt.Errorf("queueing for review: %w", err)
		}
		p.auditDecision(ctx, req, validation.Tier, audit.OutcomeSuccess)
		return &Result{Validation: validation, QueueID: queueID}, nil
	}
}

// ApprovePending approves a queued candidate as its owner. The store wrapper
// attaches provenance after the callback returns the durable ID.
func (p *Pipeline) ApprovePending(ctx context.Context, queueID, reviewer string) (string, error) {
	return p.queue.Approve(ctx, queueID, reviewer)
}

// RejectPending rejects a queued candidate as its owner.
func (p *Pipeline) RejectPending(ctx context.Context, queueID, reviewer, reason string) error {
	return p.queue.Reject(ctx, queueID, reviewer, reason)
}

// runValidator invokes the validator with panic containment.
func (p *Pipeline) runValidator(ctx context.Context, req ingest.Request) (result *ingest.ValidationResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("validator panic: %v", rec)
		}
	}()
	return p.validator.Validate(ctx, req)
}

// failClosed synthesizes a blocked result when validation itself failed.
// Built as a literal: the claim may be empty or malformed, which is exactly
// what the evidence constructor rejects.
func (p *Pipeline) failClosed(req ingest.Request, cause error) *ingest.ValidationResult {
	return &ingest.ValidationResult{
		Tier:     ingest.TierBlock,
		Approved: false,
		Reason:   fmt.Sprintf("validation failed, blocked: %v", cause),
		Evidence: ingest.Evidence{
			Claim:       req.Content,
			CaptureTime: time.Now(),
			Confidence:  ingest.ConfidenceLow,
		},
		ChecksFailed: []string{CheckValidatorError},
	}
}

// storeWithProvenance persists a memory and attaches provenance. A
// provenance failure after a successful store cannot unstore the memory; it
// is logged and audited, and the store succeeds.
func (p *Pipeline) storeWithProvenance(ctx context.Context, mem ingest.StoredMemory) (string, error) {
	memoryID, err := p.store(ctx, mem)
	if err != nil {
		return "", err
	}

	sourceID := mem.Evidence.SourceID
	if sourceID == "" {
		sourceID = mem.Source
	}
	if sourceID == "" {
		sourceID = "unknown"
	}
	sourceType := mem.Source
	if sourceType == "" {
		sourceType = "unknown"
	}

	prov, err := p.prov.CreateProvenance(sourceID, sourceType, mem.Evidence.Confidence.Score(), mem.Metadata)
	if err == nil {
		err = p.prov.AttachToMemory(ctx, memoryID, *prov)
	}
	if err != nil {
		p.logger.Error("stored memory without provenance",
			zap.String("memory_id", memoryID), zap.Error(err))
		p.auditor.LogEvent(ctx, audit.Event{
			Type: "provenance.attach", Actor: mem.UserID, Resource: memoryID,
			Action: "attach", Outcome: audit.OutcomeError,
			Details: map[string]any{"error": err.Error()},
		})
	}

	return memoryID, nil
}

func (p *Pipeline) auditDecision(ctx context.Context, req ingest.Request, tier ingest.Tier, outcome string) {
	p.auditor.LogEvent(ctx, audit.Event{
		Type:    "ingest.validate",
		Actor:   req.UserID,
		Action:  "validate",
		Outcome: outcome,
		Details: map[string]any{
			"tier":        string(tier),
			"source":      req.Source,
			"memory_type": req.MemoryType,
		},
	})
}
