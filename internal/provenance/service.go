// Package provenance maintains attribution and retrieval-audit records for
// admitted memories.
//
// The store is bounded: provenance entries are LRU-evicted past MaxEntries
// and each memory's retrieval history is trimmed oldest-first. Every field
// that crosses into the store is validated and deep-copied first, so callers
// holding references to what they passed in cannot mutate stored state after
// validation (TOCTOU defense), and everything handed back out is a copy.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memgate/internal/audit"
	"github.com/fyrsmithlabs/memgate/internal/sanitize"
)

// Field validation errors.
var (
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrInvalidScore      = errors.New("retrieval score must be between 0.0 and 1.0")
)

// Limits bounds the provenance store. Zero values fall back to defaults.
type Limits struct {
	// MaxEntries caps stored provenance records (LRU-evicted).
	MaxEntries int `koanf:"max_entries"`

	// MaxRetrievalHistoryPerMemory caps retrieval events per memory
	// (oldest-trimmed).
	MaxRetrievalHistoryPerMemory int `koanf:"max_retrieval_history_per_memory"`

	// MaxMetadataSizeBytes caps the serialized metadata size.
	MaxMetadataSizeBytes int `koanf:"max_metadata_size_bytes"`

	// MaxStringIDLength caps identifier and metadata-key byte lengths.
	MaxStringIDLength int `koanf:"max_string_id_length"`

	// MaxMetadataKeys caps top-level metadata keys.
	MaxMetadataKeys int `koanf:"max_metadata_keys"`

	// MaxMetadataDepth caps metadata nesting depth.
	MaxMetadataDepth int `koanf:"max_metadata_depth"`

	// MaxMetadataElements caps total metadata nodes.
	MaxMetadataElements int `koanf:"max_metadata_elements"`
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxEntries:                   10_000,
		MaxRetrievalHistoryPerMemory: 100,
		MaxMetadataSizeBytes:         10_000,
		MaxStringIDLength:            256,
		MaxMetadataKeys:              100,
		MaxMetadataDepth:             5,
		MaxMetadataElements:          500,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxEntries <= 0 {
		l.MaxEntries = d.MaxEntries
	}
	if l.MaxRetrievalHistoryPerMemory <= 0 {
		l.MaxRetrievalHistoryPerMemory = d.MaxRetrievalHistoryPerMemory
	}
	if l.MaxMetadataSizeBytes <= 0 {
		l.MaxMetadataSizeBytes = d.MaxMetadataSizeBytes
	}
	if l.MaxStringIDLength <= 0 {
		l.MaxStringIDLength = d.MaxStringIDLength
	}
	if l.MaxMetadataKeys <= 0 {
		l.MaxMetadataKeys = d.MaxMetadataKeys
	}
	if l.MaxMetadataDepth <= 0 {
		l.MaxMetadataDepth = d.MaxMetadataDepth
	}
	if l.MaxMetadataElements <= 0 {
		l.MaxMetadataElements = d.MaxMetadataElements
	}
	return l
}

// Provenance is the attribution record attached to a stored memory.
type Provenance struct {
	// SourceID identifies where the memory came from.
	SourceID string `json:"source_id"`

	// SourceType labels the source kind (citation, user, conversation, ...).
	SourceType string `json:"source_type"`

	// Confidence is the numeric admission confidence in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// CreatedAt is when the provenance record was created.
	CreatedAt time.Time `json:"created_at"`

	// RetrievalScore is the similarity score from the most recent retrieval.
	RetrievalScore *float64 `json:"retrieval_score,omitempty"`

	// Metadata carries additional attribution context.
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (p Provenance) clone() Provenance {
	c := p
	if p.RetrievalScore != nil {
		s := *p.RetrievalScore
		c.RetrievalScore = &s
	}
	c.Metadata = copyMetadata(p.Metadata)
	return c
}

// RetrievalEvent records one retrieval of a memory.
type RetrievalEvent struct {
	MemoryID       string    `json:"memory_id"`
	RetrievalScore float64   `json:"retrieval_score"`
	RetrievedBy    string    `json:"retrieved_by"`
	Timestamp      time.Time `json:"timestamp"`
}

// Service is the bounded provenance and retrieval-audit store.
//
// A single mutex serializes every lookup+mutate sequence; the LRU keeps
// move-to-front and eviction O(1), so nothing holds the lock for long.
type Service struct {
	mu      sync.Mutex
	limits  Limits
	entries *lru.Cache[string, *Provenance]
	history map[string][]RetrievalEvent
	auditor audit.Logger
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditLogger sets the audit sink.
func WithAuditLogger(a audit.Logger) Option {
	return func(s *Service) {
		if a != nil {
			s.auditor = a
		}
	}
}

// NewService creates a provenance store with the given limits.
func NewService(limits Limits, opts ...Option) (*Service, error) {
	s := &Service{
		limits:  limits.withDefaults(),
		history: make(map[string][]RetrievalEvent),
		auditor: audit.NopLogger{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Evicting a provenance entry also discards that memory's retrieval
	// history; orphaned history would grow without bound. The callback runs
	// under s.mu (Add is only called there) and must not re-lock.
	cache, err := lru.NewWithEvict(s.limits.MaxEntries, func(memoryID string, _ *Provenance) {
		delete(s.history, memoryID)
		s.logger.Debug("provenance evicted", zap.String("memory_id", memoryID))
	})
	if err != nil {
		return nil, fmt.Errorf("creating provenance cache: %w", err)
	}
	s.entries = cache
	return s, nil
}

// CreateProvenance builds a validated provenance record. Metadata is
// recursively validated and deep-copied so later mutation by the caller
// cannot change what was validated.
func (s *Service) CreateProvenance(sourceID, sourceType string, confidence float64, metadata map[string]any) (*Provenance, error) {
	p := Provenance{
		SourceID:   sourceID,
		SourceType: sourceType,
		Confidence: confidence,
		CreatedAt:  time.Now(),
		Metadata:   metadata,
	}
	if err := s.validate(&p); err != nil {
		return nil, err
	}
	c := p.clone()
	return &c, nil
}

// AttachToMemory stores provenance for a memory, inserting or overwriting at
// the MRU end and evicting from the LRU end until the size bound holds.
//
// Every field is re-validated independently: a Provenance may be
// hand-constructed and passed in without ever going through
// CreateProvenance.
func (s *Service) AttachToMemory(ctx context.Context, memoryID string, p Provenance) error {
	if err := s.validateID("memory_id", memoryID); err != nil {
		return err
	}
	if err := s.validate(&p); err != nil {
		return err
	}

	stored := p.clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.entries.Add(memoryID, &stored)
	s.mu.Unlock()

	s.auditor.LogEvent(ctx, audit.Event{
		Type: "provenance.attach", Actor: stored.SourceID, Resource: memoryID,
		Action: "attach", Outcome: audit.OutcomeSuccess,
		Details: map[string]any{"source_type": stored.SourceType, "confidence": stored.Confidence},
	})
	return nil
}

// GetProvenance returns a copy of the memory's provenance. A hit refreshes
// recency, which is how entries still being consulted survive LRU pressure.
func (s *Service) GetProvenance(memoryID string) (*Provenance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries.Get(memoryID)
	if !ok {
		return nil, false
	}
	c := stored.clone()
	return &c, true
}

// TrackRetrieval records that a memory was retrieved. A no-op when no
// provenance is attached, so history entries can never be orphaned.
// Otherwise it replaces the stored retrieval score, refreshes recency,
// appends a retrieval event, and trims history oldest-first.
func (s *Service) TrackRetrieval(ctx context.Context, memoryID string, score float64, retrievedBy string) error {
	if err := s.validateID("memory_id", memoryID); err != nil {
		return err
	}
	if err := s.validateID("retrieved_by", retrievedBy); err != nil {
		return err
	}
	if score < 0.0 || score > 1.0 {
		return fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries.Get(memoryID)
	if !ok {
		return nil
	}

	updated := stored.clone()
	updated.RetrievalScore = &score
	s.entries.Add(memoryID, &updated)

	events := append(s.history[memoryID], RetrievalEvent{
		MemoryID:       memoryID,
		RetrievalScore: score,
		RetrievedBy:    retrievedBy,
		Timestamp:      time.Now(),
	})
	if over := len(events) - s.limits.MaxRetrievalHistoryPerMemory; over > 0 {
		events = append(events[:0:0], events[over:]...)
	}
	s.history[memoryID] = events

	return nil
}

// GetRetrievalHistory returns a copy of the memory's retrieval events,
// oldest first.
func (s *Service) GetRetrievalHistory(memoryID string) []RetrievalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.history[memoryID]
	if len(events) == 0 {
		return nil
	}
	return append([]RetrievalEvent(nil), events...)
}

// Len reports the number of stored provenance entries.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// validate checks every provenance field against the service bounds.
func (s *Service) validate(p *Provenance) error {
	if err := s.validateID("source_id", p.SourceID); err != nil {
		return err
	}
	if err := s.validateID("source_type", p.SourceType); err != nil {
		return err
	}
	if p.Confidence < 0.0 || p.Confidence > 1.0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfidence, p.Confidence)
	}
	if p.RetrievalScore != nil && (*p.RetrievalScore < 0.0 || *p.RetrievalScore > 1.0) {
		return fmt.Errorf("%w: %v", ErrInvalidScore, *p.RetrievalScore)
	}
	return ValidateMetadata(anyOrNil(p.Metadata), s.limits)
}

func (s *Service) validateID(field, id string) error {
	if err := sanitize.RequiredID(field, id); err != nil {
		return err
	}
	return sanitize.BoundedString(field, id, s.limits.MaxStringIDLength)
}

// anyOrNil avoids handing ValidateMetadata a typed-nil interface.
func anyOrNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
