package provenance

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memgate/internal/sanitize"
)

func newTestService(t *testing.T, limits Limits) *Service {
	t.Helper()
	s, err := NewService(limits)
	require.NoError(t, err)
	return s
}

func TestService_CreateProvenance(t *testing.T) {
	s := newTestService(t, Limits{})

	p, err := s.CreateProvenance("adr:ADR-003", "citation", 0.9, map[string]any{"claim": "uses PostgreSQL"})
	require.NoError(t, err)
	assert.Equal(t, "adr:ADR-003", p.SourceID)
	assert.Equal(t, "citation", p.SourceType)
	assert.Equal(t, 0.9, p.Confidence)
	assert.False(t, p.CreatedAt.IsZero())

	_, err = s.CreateProvenance("", "citation", 0.9, nil)
	assert.ErrorIs(t, err, sanitize.ErrEmptyID)

	_, err = s.CreateProvenance("src", "", 0.9, nil)
	assert.ErrorIs(t, err, sanitize.ErrEmptyID)

	_, err = s.CreateProvenance("src", "citation", 1.5, nil)
	assert.ErrorIs(t, err, ErrInvalidConfidence)

	_, err = s.CreateProvenance("src", "citation", -0.1, nil)
	assert.ErrorIs(t, err, ErrInvalidConfidence)
}

func TestService_CreateProvenanceCopiesMetadata(t *testing.T) {
	s := newTestService(t, Limits{})

	meta := map[string]any{"session": "s-1"}
	p, err := s.CreateProvenance("src", "user", 0.8, meta)
	require.NoError(t, err)

	// Mutating the caller's map after the call must not reach the record.
	meta["session"] = "tampered"
	assert.Equal(t, "s-1", p.Metadata["session"])
}

func TestService_AttachAndGet(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	p, err := s.CreateProvenance("adr:ADR-003", "citation", 0.9, map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, s.AttachToMemory(ctx, "mem-1", *p))

	got, ok := s.GetProvenance("mem-1")
	require.True(t, ok)
	assert.Equal(t, p.SourceID, got.SourceID)
	assert.Equal(t, p.Confidence, got.Confidence)
	assert.Equal(t, "v", got.Metadata["k"])

	// Returned copies are independent of stored state.
	got.Metadata["k"] = "mutated"
	again, ok := s.GetProvenance("mem-1")
	require.True(t, ok)
	assert.Equal(t, "v", again.Metadata["k"])

	_, ok = s.GetProvenance("mem-unknown")
	assert.False(t, ok)
}

func TestService_AttachValidatesHandConstructed(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	tests := []struct {
		name string
		p    Provenance
	}{
		{"empty source id", Provenance{SourceType: "user", Confidence: 0.5}},
		{"confidence out of range", Provenance{SourceID: "s", SourceType: "user", Confidence: 2.0}},
		{"retrieval score out of range", Provenance{
			SourceID: "s", SourceType: "user", Confidence: 0.5,
			RetrievalScore: func() *float64 { v := 1.5; return &v }(),
		}},
		{"oversized source id", Provenance{
			SourceID: strings.Repeat("x", 300), SourceType: "user", Confidence: 0.5,
		}},
		{"cyclic metadata", func() Provenance {
			m := map[string]any{}
			m["me"] = m
			return Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5, Metadata: m}
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.AttachToMemory(ctx, "mem-1", tt.p))
		})
	}

	assert.Error(t, s.AttachToMemory(ctx, "", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))
	assert.Equal(t, 0, s.Len())
}

func TestService_AttachCopiesMetadata(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	meta := map[string]any{"k": "v"}
	p := Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5, Metadata: meta}
	require.NoError(t, s.AttachToMemory(ctx, "mem-1", p))

	// Post-validation mutation by the caller cannot change what was stored.
	meta["k"] = "tampered"
	got, ok := s.GetProvenance("mem-1")
	require.True(t, ok)
	assert.Equal(t, "v", got.Metadata["k"])
}

func TestService_LRUEviction(t *testing.T) {
	s := newTestService(t, Limits{MaxEntries: 3})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		p := Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}
		require.NoError(t, s.AttachToMemory(ctx, fmt.Sprintf("mem-%d", i), p))
	}

	// mem-1 was least recently used and is gone; the rest survive.
	assert.Equal(t, 3, s.Len())
	_, ok := s.GetProvenance("mem-1")
	assert.False(t, ok)
	for i := 2; i <= 4; i++ {
		_, ok := s.GetProvenance(fmt.Sprintf("mem-%d", i))
		assert.True(t, ok, "mem-%d should survive", i)
	}
}

func TestService_GetRefreshesRecency(t *testing.T) {
	s := newTestService(t, Limits{MaxEntries: 3})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		p := Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}
		require.NoError(t, s.AttachToMemory(ctx, fmt.Sprintf("mem-%d", i), p))
	}

	// Touch mem-1 so mem-2 becomes the eviction candidate.
	_, ok := s.GetProvenance("mem-1")
	require.True(t, ok)

	require.NoError(t, s.AttachToMemory(ctx, "mem-4", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))

	_, ok = s.GetProvenance("mem-1")
	assert.True(t, ok, "recently read entry must survive")
	_, ok = s.GetProvenance("mem-2")
	assert.False(t, ok)
}

func TestService_EvictionDropsHistory(t *testing.T) {
	s := newTestService(t, Limits{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, s.AttachToMemory(ctx, "mem-1", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))
	require.NoError(t, s.TrackRetrieval(ctx, "mem-1", 0.8, "agent-1"))
	require.Len(t, s.GetRetrievalHistory("mem-1"), 1)

	require.NoError(t, s.AttachToMemory(ctx, "mem-2", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))
	require.NoError(t, s.AttachToMemory(ctx, "mem-3", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))

	// mem-1 was evicted; its retrieval history went with it.
	_, ok := s.GetProvenance("mem-1")
	require.False(t, ok)
	assert.Empty(t, s.GetRetrievalHistory("mem-1"))
}

func TestService_TrackRetrieval(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	require.NoError(t, s.AttachToMemory(ctx, "mem-1", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))

	require.NoError(t, s.TrackRetrieval(ctx, "mem-1", 0.81, "agent-1"))
	require.NoError(t, s.TrackRetrieval(ctx, "mem-1", 0.93, "agent-2"))

	p, ok := s.GetProvenance("mem-1")
	require.True(t, ok)
	require.NotNil(t, p.RetrievalScore)
	assert.Equal(t, 0.93, *p.RetrievalScore)

	history := s.GetRetrievalHistory("mem-1")
	require.Len(t, history, 2)
	assert.Equal(t, 0.81, history[0].RetrievalScore)
	assert.Equal(t, "agent-2", history[1].RetrievedBy)
	assert.False(t, history[1].Timestamp.IsZero())
}

func TestService_TrackRetrievalNoOpWhenAbsent(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	require.NoError(t, s.TrackRetrieval(ctx, "mem-unknown", 0.8, "agent-1"))
	assert.Empty(t, s.GetRetrievalHistory("mem-unknown"))
	assert.Equal(t, 0, s.Len())
}

func TestService_TrackRetrievalValidation(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	assert.Error(t, s.TrackRetrieval(ctx, "", 0.8, "agent-1"))
	assert.Error(t, s.TrackRetrieval(ctx, "mem-1", 0.8, ""))
	assert.ErrorIs(t, s.TrackRetrieval(ctx, "mem-1", 1.2, "agent-1"), ErrInvalidScore)
	assert.ErrorIs(t, s.TrackRetrieval(ctx, "mem-1", -0.2, "agent-1"), ErrInvalidScore)
}

func TestService_HistoryTrimsOldestFirst(t *testing.T) {
	s := newTestService(t, Limits{MaxRetrievalHistoryPerMemory: 3})
	ctx := context.Background()

	require.NoError(t, s.AttachToMemory(ctx, "mem-1", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))
	for i := 0; i < 5; i++ {
		score := 0.5 + float64(i)*0.1
		require.NoError(t, s.TrackRetrieval(ctx, "mem-1", score, fmt.Sprintf("agent-%d", i)))
	}

	history := s.GetRetrievalHistory("mem-1")
	require.Len(t, history, 3)
	assert.Equal(t, "agent-2", history[0].RetrievedBy)
	assert.Equal(t, "agent-4", history[2].RetrievedBy)
}

func TestService_GetRetrievalHistoryCopies(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	require.NoError(t, s.AttachToMemory(ctx, "mem-1", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))
	require.NoError(t, s.TrackRetrieval(ctx, "mem-1", 0.8, "agent-1"))

	history := s.GetRetrievalHistory("mem-1")
	require.Len(t, history, 1)
	history[0].RetrievedBy = "mutated"

	again := s.GetRetrievalHistory("mem-1")
	assert.Equal(t, "agent-1", again[0].RetrievedBy)
}

func TestService_AttachOverwriteKeepsSingleEntry(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	require.NoError(t, s.AttachToMemory(ctx, "mem-1", Provenance{SourceID: "first", SourceType: "user", Confidence: 0.5}))
	require.NoError(t, s.AttachToMemory(ctx, "mem-1", Provenance{SourceID: "second", SourceType: "user", Confidence: 0.7}))

	assert.Equal(t, 1, s.Len())
	p, ok := s.GetProvenance("mem-1")
	require.True(t, ok)
	assert.Equal(t, "second", p.SourceID)
}

func TestService_AttachSetsCreatedAt(t *testing.T) {
	s := newTestService(t, Limits{})
	ctx := context.Background()

	before := time.Now()
	require.NoError(t, s.AttachToMemory(ctx, "mem-1", Provenance{SourceID: "s", SourceType: "user", Confidence: 0.5}))

	p, ok := s.GetProvenance("mem-1")
	require.True(t, ok)
	assert.False(t, p.CreatedAt.Before(before))
}
