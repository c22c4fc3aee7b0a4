package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memgate/internal/ingest"
	"github.com/fyrsmithlabs/memgate/internal/provenance"
	"github.com/fyrsmithlabs/memgate/internal/review"
)

type adrCitation string

func (c adrCitation) ToSourceID() string { return "adr:" + string(c) }

// adrDetector matches ADR references; panicOn lets tests force a detector
// panic mid-validation.
type adrDetector struct {
	re      *regexp.Regexp
	panicOn string
}

func newADRDetector() *adrDetector {
	return &adrDetector{re: regexp.MustCompile(`\bADR-\d+\b`)}
}

func (d *adrDetector) DetectCitations(content string) []ingest.Citation {
	if d.panicOn != "" && content == d.panicOn {
		panic("detector exploded")
	}
	var out []ingest.Citation
	for _, m := range d.re.FindAllString(content, -1) {
		out = append(out, adrCitation(m))
	}
	return out
}

func (d *adrDetector) HasAnyCitation(content string) bool { return d.re.MatchString(content) }

// failingDedup always errors, driving the fail-closed path.
type failingDedup struct{ err error }

func (f failingDedup) CheckDuplicate(context.Context, string, string, string) (ingest.DuplicateCheck, error) {
	return ingest.DuplicateCheck{}, f.err
}

type memStore struct {
	mu     sync.Mutex
	stored []ingest.StoredMemory
	err    error
}

func (s *memStore) store(_ context.Context, mem ingest.StoredMemory) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, mem)
	return fmt.Sprintf("mem-%d", len(s.stored)), nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	store    *memStore
	detector *adrDetector
}

func newFixture(t *testing.T, dedup ingest.DedupChecker) *pipelineFixture {
	t.Helper()

	detector := newADRDetector()
	validator, err := ingest.NewValidator(detector, dedup, nil)
	require.NoError(t, err)

	prov, err := provenance.NewService(provenance.Limits{})
	require.NoError(t, err)

	store := &memStore{}
	p, err := New(Params{
		Validator:   validator,
		Provenance:  prov,
		Store:       store.store,
		QueueLimits: review.Limits{},
	})
	require.NoError(t, err)

	return &pipelineFixture{pipeline: p, store: store, detector: detector}
}

func TestNew_RequiresDependencies(t *testing.T) {
	detector := newADRDetector()
	validator, err := ingest.NewValidator(detector, nil, nil)
	require.NoError(t, err)
	prov, err := provenance.NewService(provenance.Limits{})
	require.NoError(t, err)
	store := &memStore{}

	_, err = New(Params{Provenance: prov, Store: store.store})
	assert.Error(t, err)
	_, err = New(Params{Validator: validator, Store: store.store})
	assert.Error(t, err)
	_, err = New(Params{Validator: validator, Provenance: prov})
	assert.Error(t, err)
}

func TestPipeline_AutoApproveStoresAndAttachesProvenance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content:    "Per ADR-003, we use PostgreSQL",
		MemoryType: "decision",
		Source:     "conversation",
		UserID:     "user_1",
	})
	require.NoError(t, err)

	assert.Equal(t, ingest.TierAutoApprove, res.Validation.Tier)
	require.NotEmpty(t, res.MemoryID)
	assert.Empty(t, res.QueueID)
	require.Len(t, f.store.stored, 1)

	// Provenance carries the citation as source.
	p, ok := f.pipeline.Provenance().GetProvenance(res.MemoryID)
	require.True(t, ok)
	assert.Equal(t, "adr:ADR-003", p.SourceID)
	assert.Equal(t, "conversation", p.SourceType)
	assert.Equal(t, ingest.ConfidenceHigh.Score(), p.Confidence)
}

func TestPipeline_BlockReturnsWithoutSideEffects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content:    "Maybe we should use Redis",
		MemoryType: "fact",
		Source:     "ai_synthesis",
		UserID:     "user_1",
	})
	require.NoError(t, err)

	assert.Equal(t, ingest.TierBlock, res.Validation.Tier)
	assert.Empty(t, res.MemoryID)
	assert.Empty(t, res.QueueID)
	assert.Empty(t, f.store.stored)
	assert.Equal(t, 0, f.pipeline.Queue().PendingCount())
}

func TestPipeline_FlagReviewEnqueuesAndApprovalStores(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content:    "The API uses FastAPI",
		MemoryType: "fact",
		Source:     "ai_synthesis",
		UserID:     "user_1",
	})
	require.NoError(t, err)

	assert.Equal(t, ingest.TierFlagReview, res.Validation.Tier)
	require.NotEmpty(t, res.QueueID)
	assert.Empty(t, res.MemoryID)
	assert.Empty(t, f.store.stored)

	// Approval routes through the same store wrapper: the memory lands in the
	// store and gets provenance, exactly like a Tier-1 admission.
	memoryID, err := f.pipeline.ApprovePending(ctx, res.QueueID, "user_1")
	require.NoError(t, err)
	require.Len(t, f.store.stored, 1)
	assert.Equal(t, "The API uses FastAPI", f.store.stored[0].Content)

	p, ok := f.pipeline.Provenance().GetProvenance(memoryID)
	require.True(t, ok)
	assert.Equal(t, "ai_synthesis", p.SourceType)
	assert.Equal(t, ingest.ConfidenceMedium.Score(), p.Confidence)
}

func TestPipeline_RejectPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content: "The API uses FastAPI", MemoryType: "fact", Source: "ai_synthesis", UserID: "user_1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.QueueID)

	require.NoError(t, f.pipeline.RejectPending(ctx, res.QueueID, "user_1", "unverified"))
	assert.Empty(t, f.store.stored)
	assert.Equal(t, 0, f.pipeline.Queue().PendingCount())

	// Ownership holds through the pipeline surface too.
	res2, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content: "The retry limit is 5", MemoryType: "fact", Source: "ai_synthesis", UserID: "alice",
	})
	require.NoError(t, err)
	_, err = f.pipeline.ApprovePending(ctx, res2.QueueID, "mallory")
	assert.ErrorIs(t, err, review.ErrNotAuthorized)
}

func TestPipeline_ValidatorErrorFailsClosed(t *testing.T) {
	f := newFixture(t, failingDedup{err: errors.New("vector store down")})
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content:    "The API uses FastAPI",
		MemoryType: "fact",
		Source:     "ai_synthesis",
		UserID:     "user_1",
	})
	require.NoError(t, err)

	assert.Equal(t, ingest.TierBlock, res.Validation.Tier)
	assert.False(t, res.Validation.Approved)
	assert.Contains(t, res.Validation.ChecksFailed, CheckValidatorError)
	assert.Contains(t, res.Validation.Reason, "vector store down")
	assert.Empty(t, f.store.stored)
	assert.Equal(t, 0, f.pipeline.Queue().PendingCount())
}

func TestPipeline_ValidatorPanicFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.detector.panicOn = "poison pill"
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content:    "poison pill",
		MemoryType: "fact",
		Source:     "ai_synthesis",
		UserID:     "user_1",
	})
	require.NoError(t, err)

	assert.Equal(t, ingest.TierBlock, res.Validation.Tier)
	assert.Contains(t, res.Validation.Reason, "panic")
	assert.Empty(t, f.store.stored)

	// The pipeline still works for subsequent candidates.
	ok, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content: "Per ADR-007, we cache in Redis", MemoryType: "decision", Source: "conversation", UserID: "user_1",
	})
	require.NoError(t, err)
	assert.Equal(t, ingest.TierAutoApprove, ok.Validation.Tier)
}

func TestPipeline_EmptyContentFailsClosed(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.pipeline.Ingest(context.Background(), ingest.Request{UserID: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, ingest.TierBlock, res.Validation.Tier)
	assert.Contains(t, res.Validation.ChecksFailed, CheckValidatorError)
}

func TestPipeline_StoreErrorSurfaces(t *testing.T) {
	f := newFixture(t, nil)
	f.store.err = errors.New("backend down")
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content: "Per ADR-003, we use PostgreSQL", MemoryType: "decision", Source: "conversation", UserID: "user_1",
	})
	require.Error(t, err)
	// The classification itself is still reported.
	require.NotNil(t, res)
	assert.Equal(t, ingest.TierAutoApprove, res.Validation.Tier)
	assert.Empty(t, res.MemoryID)
	assert.Equal(t, 0, f.pipeline.Provenance().Len())
}

func TestPipeline_QueueCapacitySurfaces(t *testing.T) {
	detector := newADRDetector()
	validator, err := ingest.NewValidator(detector, nil, nil)
	require.NoError(t, err)
	prov, err := provenance.NewService(provenance.Limits{})
	require.NoError(t, err)
	store := &memStore{}

	p, err := New(Params{
		Validator:   validator,
		Provenance:  prov,
		Store:       store.store,
		QueueLimits: review.Limits{MaxPendingPerUser: 1, MaxTotalPending: 100},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.Ingest(ctx, ingest.Request{
		Content: "The API uses FastAPI", MemoryType: "fact", Source: "ai_synthesis", UserID: "user_1",
	})
	require.NoError(t, err)

	res, err := p.Ingest(ctx, ingest.Request{
		Content: "The retry limit is 5", MemoryType: "fact", Source: "ai_synthesis", UserID: "user_1",
	})
	require.ErrorIs(t, err, review.ErrPerUserCapacity)
	assert.Equal(t, ingest.TierFlagReview, res.Validation.Tier)
	assert.Empty(t, res.QueueID)
}

func TestPipeline_TrustedSourceProvenanceFallback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// No citation: the evidence has no source ID, so provenance falls back to
	// the request source.
	res, err := f.pipeline.Ingest(ctx, ingest.Request{
		Content:    "The deploy pipeline runs on push to main",
		MemoryType: "fact",
		Source:     "documentation",
		UserID:     "user_1",
	})
	require.NoError(t, err)
	require.Equal(t, ingest.TierAutoApprove, res.Validation.Tier)

	p, ok := f.pipeline.Provenance().GetProvenance(res.MemoryID)
	require.True(t, ok)
	assert.Equal(t, "documentation", p.SourceID)
	assert.Equal(t, "documentation", p.SourceType)
}
