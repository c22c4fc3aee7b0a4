package provenance

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Metadata DoS-validation errors. Each names the bound or allow-list rule
// that rejected the input; all are raised before any state mutation.
var (
	ErrMetadataNotMap          = errors.New("metadata must be a string-keyed map")
	ErrMetadataTooManyKeys     = errors.New("metadata exceeds maximum top-level keys")
	ErrMetadataTooDeep         = errors.New("metadata exceeds maximum nesting depth")
	ErrMetadataTooManyElements = errors.New("metadata exceeds maximum element count")
	ErrMetadataTooLarge        = errors.New("metadata exceeds maximum serialized size")
	ErrMetadataCycle           = errors.New("metadata contains a reference cycle")
	ErrMetadataKeyNotString    = errors.New("metadata keys must be strings")
	ErrMetadataKeyTooLong      = errors.New("metadata key exceeds maximum length")
	ErrMetadataBinaryValue     = errors.New("metadata must not contain binary values")
	ErrMetadataDisallowedType  = errors.New("metadata contains a disallowed type")
)

// ValidateMetadata checks an arbitrary decoded value against the service
// bounds. The top level must be a string-keyed map (or nil for "none").
//
// The walk is depth-first with a running element counter and a visited set
// keyed on container identity, not value equality, so two distinct empty
// containers are never conflated: maps are keyed on their allocation pointer,
// slices on data pointer plus length (all zero-length slices share one data
// pointer, and aliased subslices of one backing array share a pointer but
// differ in length). Zero-length slices get no identity entry at all; they
// cannot contain anything, so they cannot cycle. A repeated identity aborts
// immediately: legitimate JSON cannot cycle, so a cycle means a malicious or
// buggy caller. The depth check fires before children are visited and the
// element counter is checked at every node, so cost is bounded in both depth
// and width and the walk aborts as early as possible.
//
// Only string-keyed maps, slices, strings, integers, floats, booleans, and
// nil are accepted. Byte slices are rejected outright, and any type outside
// the allow-list fails closed. After the walk the serialized JSON size is
// checked separately; the per-node pass does not bound total encoded size.
func ValidateMetadata(v any, limits Limits) error {
	if v == nil {
		return nil
	}
	meta, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrMetadataNotMap, v)
	}
	if len(meta) > limits.MaxMetadataKeys {
		return fmt.Errorf("%w: %d keys (max %d)", ErrMetadataTooManyKeys, len(meta), limits.MaxMetadataKeys)
	}

	w := &metadataWalker{
		limits:  limits,
		visited: make(map[containerKey]struct{}),
	}
	if err := w.walk(meta, 0); err != nil {
		return err
	}

	// Coarser second check: many small nodes can still serialize large.
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: not JSON-serializable: %v", ErrMetadataDisallowedType, err)
	}
	if len(encoded) > limits.MaxMetadataSizeBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrMetadataTooLarge, len(encoded), limits.MaxMetadataSizeBytes)
	}
	return nil
}

// containerKey identifies a container by allocation. A map pointer is unique
// per allocation, so maps use length -1; a slice header is a view into a
// backing array, so slices need data pointer plus length to tell aliased
// subslices apart.
type containerKey struct {
	ptr    uintptr
	length int
}

type metadataWalker struct {
	limits   Limits
	elements int
	visited  map[containerKey]struct{}
}

func (w *metadataWalker) walk(v any, depth int) error {
	w.elements++
	if w.elements > w.limits.MaxMetadataElements {
		return fmt.Errorf("%w: max %d", ErrMetadataTooManyElements, w.limits.MaxMetadataElements)
	}

	switch val := v.(type) {
	case nil, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil

	case string:
		// Byte length, not rune count; bytes are what storage pays for.
		if len(val) > w.limits.MaxMetadataSizeBytes {
			return fmt.Errorf("%w: string value of %d bytes", ErrMetadataTooLarge, len(val))
		}
		return nil

	case []byte:
		return ErrMetadataBinaryValue

	case map[string]any:
		if err := w.enter(containerKey{reflect.ValueOf(val).Pointer(), -1}, depth); err != nil {
			return err
		}
		for k, inner := range val {
			if len(k) > w.limits.MaxStringIDLength {
				return fmt.Errorf("%w: %d bytes (max %d)", ErrMetadataKeyTooLong, len(k), w.limits.MaxStringIDLength)
			}
			if err := w.walk(inner, depth+1); err != nil {
				return err
			}
		}
		return nil

	case []any:
		// All empty slices share one data pointer, so they carry no usable
		// identity; with nothing to descend into they cannot cycle either.
		if len(val) == 0 {
			return nil
		}
		if err := w.enter(containerKey{reflect.ValueOf(val).Pointer(), len(val)}, depth); err != nil {
			return err
		}
		for _, inner := range val {
			if err := w.walk(inner, depth+1); err != nil {
				return err
			}
		}
		return nil

	default:
		// Non-string-keyed maps get the dedicated key error: coercing keys
		// to strings is itself a CPU-exhaustion vector, so they are rejected
		// without inspection.
		if reflect.ValueOf(v).Kind() == reflect.Map {
			return fmt.Errorf("%w: got %T", ErrMetadataKeyNotString, v)
		}
		return fmt.Errorf("%w: %T", ErrMetadataDisallowedType, v)
	}
}

// enter performs the cycle and depth checks before a container's children
// are visited.
func (w *metadataWalker) enter(key containerKey, depth int) error {
	if _, seen := w.visited[key]; seen {
		return ErrMetadataCycle
	}
	w.visited[key] = struct{}{}
	if depth+1 > w.limits.MaxMetadataDepth {
		return fmt.Errorf("%w: max %d", ErrMetadataTooDeep, w.limits.MaxMetadataDepth)
	}
	return nil
}

// copyMetadata deep-copies validated metadata so later mutation by the
// caller cannot affect the stored value (TOCTOU defense). Only called after
// ValidateMetadata, so the shape is known to be acyclic and allow-listed.
func copyMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = copyMetadataValue(v)
	}
	return out
}

func copyMetadataValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMetadata(val)
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = copyMetadataValue(inner)
		}
		return out
	default:
		return v
	}
}
