package ingest

import (
	"errors"
	"fmt"
	"time"
)

// Value-type construction errors.
var (
	ErrEmptyClaim        = errors.New("evidence claim cannot be empty")
	ErrInvalidConfidence = errors.New("confidence must be high, medium, or low")
	ErrInvalidHorizon    = errors.New("validity horizon cannot precede capture time")
)

// Evidence records the claim a memory is based on, when it was captured, and
// how much the pipeline trusts it.
//
// Evidence values are immutable by convention: the struct is passed by value,
// metadata is deep-copied at the boundary, and modified copies are produced
// with WithSource and WithConfidence rather than in-place mutation.
type Evidence struct {
	// Claim is the extracted statement this evidence supports.
	Claim string `json:"claim"`

	// CaptureTime is when the claim was captured from its source.
	CaptureTime time.Time `json:"capture_time"`

	// Confidence is the coarse trust level (high, medium, low).
	Confidence ConfidenceLevel `json:"confidence"`

	// SourceID identifies the citation or source backing the claim, if any.
	SourceID string `json:"source_id,omitempty"`

	// ValidityHorizon is the time past which the claim should be considered
	// stale. Nil means no horizon.
	ValidityHorizon *time.Time `json:"validity_horizon,omitempty"`

	// Metadata carries caller-supplied context.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEvidence creates validated evidence. The claim must be non-empty, the
// confidence level must be one of the defined constants, and the validity
// horizon (if set) must not precede the capture time.
func NewEvidence(claim string, captureTime time.Time, confidence ConfidenceLevel) (Evidence, error) {
	if claim == "" {
		return Evidence{}, ErrEmptyClaim
	}
	if !confidence.Valid() {
		return Evidence{}, fmt.Errorf("%w: %q", ErrInvalidConfidence, confidence)
	}
	if captureTime.IsZero() {
		captureTime = time.Now()
	}
	return Evidence{
		Claim:       claim,
		CaptureTime: captureTime,
		Confidence:  confidence,
	}, nil
}

// Validate checks the evidence invariants on an arbitrary value (it may have
// been hand-constructed rather than built through NewEvidence).
func (e Evidence) Validate() error {
	if e.Claim == "" {
		return ErrEmptyClaim
	}
	if !e.Confidence.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidConfidence, e.Confidence)
	}
	if e.ValidityHorizon != nil && e.ValidityHorizon.Before(e.CaptureTime) {
		return ErrInvalidHorizon
	}
	return nil
}

// WithSource returns a copy with the source ID replaced.
func (e Evidence) WithSource(sourceID string) Evidence {
	c := e.Clone()
	c.SourceID = sourceID
	return c
}

// WithConfidence returns a copy with the confidence level replaced.
func (e Evidence) WithConfidence(confidence ConfidenceLevel) Evidence {
	c := e.Clone()
	c.Confidence = confidence
	return c
}

// WithValidityHorizon returns a copy with the validity horizon replaced.
func (e Evidence) WithValidityHorizon(horizon time.Time) Evidence {
	c := e.Clone()
	h := horizon
	c.ValidityHorizon = &h
	return c
}

// Clone copies the evidence, including its metadata and horizon, so the copy
// shares no mutable state with the original.
func (e Evidence) Clone() Evidence {
	c := e
	if e.ValidityHorizon != nil {
		h := *e.ValidityHorizon
		c.ValidityHorizon = &h
	}
	if e.Metadata != nil {
		c.Metadata = copyValue(e.Metadata).(map[string]any)
	}
	return c
}

// ToMap serializes the evidence for transport. Times use RFC 3339 with
// nanoseconds so FromMap round-trips to an equal value.
func (e Evidence) ToMap() map[string]any {
	m := map[string]any{
		"claim":        e.Claim,
		"capture_time": e.CaptureTime.Format(time.RFC3339Nano),
		"confidence":   string(e.Confidence),
	}
	if e.SourceID != "" {
		m["source_id"] = e.SourceID
	}
	if e.ValidityHorizon != nil {
		m["validity_horizon"] = e.ValidityHorizon.Format(time.RFC3339Nano)
	}
	if e.Metadata != nil {
		m["metadata"] = copyValue(e.Metadata).(map[string]any)
	}
	return m
}

// EvidenceFromMap reconstructs evidence produced by ToMap, validating the
// result.
func EvidenceFromMap(m map[string]any) (Evidence, error) {
	claim, _ := m["claim"].(string)
	confidence, _ := m["confidence"].(string)

	e := Evidence{
		Claim:      claim,
		Confidence: ConfidenceLevel(confidence),
	}

	if raw, ok := m["capture_time"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Evidence{}, fmt.Errorf("parsing capture_time: %w", err)
		}
		e.CaptureTime = t
	}
	if raw, ok := m["validity_horizon"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Evidence{}, fmt.Errorf("parsing validity_horizon: %w", err)
		}
		e.ValidityHorizon = &t
	}
	if raw, ok := m["source_id"].(string); ok {
		e.SourceID = raw
	}
	if raw, ok := m["metadata"].(map[string]any); ok {
		e.Metadata = copyValue(raw).(map[string]any)
	}

	if err := e.Validate(); err != nil {
		return Evidence{}, err
	}
	return e, nil
}

// CopyMetadata deep-copies a metadata map. Nil stays nil.
func CopyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return copyValue(m).(map[string]any)
}

// copyValue deep-copies JSON-shaped data (maps, slices, primitives). Values
// outside that shape are passed through unchanged; validation elsewhere
// rejects them before they are stored.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = copyValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = copyValue(inner)
		}
		return out
	default:
		return v
	}
}
