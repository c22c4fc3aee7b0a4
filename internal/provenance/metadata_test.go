package provenance

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadataLimits() Limits {
	return Limits{
		MaxEntries:                   10,
		MaxRetrievalHistoryPerMemory: 10,
		MaxMetadataSizeBytes:         1024,
		MaxStringIDLength:            32,
		MaxMetadataKeys:              5,
		MaxMetadataDepth:             3,
		MaxMetadataElements:          50,
	}
}

func TestValidateMetadata_Accepts(t *testing.T) {
	limits := testMetadataLimits()

	tests := []struct {
		name string
		meta any
	}{
		{"nil metadata", nil},
		{"empty map", map[string]any{}},
		{"scalars", map[string]any{
			"s": "value", "i": 42, "i64": int64(7), "f": 3.14, "b": true, "n": nil,
		}},
		{"nested within depth", map[string]any{
			"outer": map[string]any{"inner": []any{"a", 1, false}},
		}},
		{"distinct empty maps are not a cycle", map[string]any{
			"a": map[string]any{}, "b": map[string]any{},
		}},
		{"distinct empty slices are not a cycle", map[string]any{
			"a": []any{}, "b": []any{},
		}},
		{"nil slices are not a cycle", map[string]any{
			"a": []any(nil), "b": []any(nil),
		}},
		{"empty slices nested inside non-empty ones", map[string]any{
			"outer": []any{[]any{}, []any{}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, ValidateMetadata(tt.meta, limits))
		})
	}
}

func TestValidateMetadata_Rejects(t *testing.T) {
	limits := testMetadataLimits()

	wideMap := map[string]any{}
	for i := 0; i < limits.MaxMetadataKeys+1; i++ {
		wideMap[fmt.Sprintf("k%d", i)] = i
	}

	manyElements := map[string]any{}
	items := make([]any, limits.MaxMetadataElements)
	for i := range items {
		items[i] = i
	}
	manyElements["items"] = items

	tests := []struct {
		name    string
		meta    any
		wantErr error
	}{
		{"not a map", []any{"a"}, ErrMetadataNotMap},
		{"scalar top level", "just a string", ErrMetadataNotMap},
		{"too many keys", wideMap, ErrMetadataTooManyKeys},
		{"too deep", map[string]any{
			"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": 1}}},
		}, ErrMetadataTooDeep},
		{"too many elements", manyElements, ErrMetadataTooManyElements},
		{"binary value", map[string]any{"blob": []byte{0x01, 0x02}}, ErrMetadataBinaryValue},
		{"oversized string", map[string]any{"s": strings.Repeat("x", 2048)}, ErrMetadataTooLarge},
		{"key too long", map[string]any{strings.Repeat("k", 64): 1}, ErrMetadataKeyTooLong},
		{"int-keyed map", map[string]any{"m": map[int]any{1: "a"}}, ErrMetadataKeyNotString},
		{"disallowed type", map[string]any{"ch": make(chan int)}, ErrMetadataDisallowedType},
		{"struct value", map[string]any{"t": struct{ X int }{1}}, ErrMetadataDisallowedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetadata(tt.meta, limits)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateMetadata_Cycle(t *testing.T) {
	limits := testMetadataLimits()

	self := map[string]any{}
	self["me"] = self
	assert.ErrorIs(t, ValidateMetadata(self, limits), ErrMetadataCycle)

	// A slice cycle through a map.
	s := make([]any, 1)
	m := map[string]any{"s": s}
	s[0] = m
	assert.ErrorIs(t, ValidateMetadata(m, limits), ErrMetadataCycle)

	// The same container aliased twice is treated as a cycle too: identity,
	// not reachability, is what the walker tracks.
	shared := map[string]any{"x": 1}
	aliased := map[string]any{"a": shared, "b": shared}
	assert.ErrorIs(t, ValidateMetadata(aliased, limits), ErrMetadataCycle)
}

func TestValidateMetadata_SubslicesOfOneArray(t *testing.T) {
	limits := testMetadataLimits()

	// Subslices of one backing array share a data pointer but differ in
	// length; they are distinct views, not a cycle.
	backing := []any{1, 2, 3}
	meta := map[string]any{"a": backing[0:1], "b": backing[0:2]}
	assert.NoError(t, ValidateMetadata(meta, limits))

	// A slice that contains itself is still caught.
	self := make([]any, 1)
	self[0] = self
	assert.ErrorIs(t, ValidateMetadata(map[string]any{"s": self}, limits), ErrMetadataCycle)
}

func TestValidateMetadata_CycleAbortsBeforeDepth(t *testing.T) {
	// A self-cycle would recurse forever if depth were checked first at a
	// generous bound; the cycle check fires on entry.
	limits := testMetadataLimits()
	limits.MaxMetadataDepth = 1_000_000

	self := map[string]any{}
	self["me"] = self
	assert.ErrorIs(t, ValidateMetadata(self, limits), ErrMetadataCycle)
}

func TestValidateMetadata_SerializedSizeBound(t *testing.T) {
	limits := testMetadataLimits()
	limits.MaxMetadataSizeBytes = 64

	// Each value is small, but together they serialize past the bound.
	meta := map[string]any{
		"a": strings.Repeat("x", 30),
		"b": strings.Repeat("y", 30),
		"c": strings.Repeat("z", 30),
	}
	assert.ErrorIs(t, ValidateMetadata(meta, limits), ErrMetadataTooLarge)
}

func TestCopyMetadata_Independence(t *testing.T) {
	orig := map[string]any{
		"nested": map[string]any{"k": "v"},
		"list":   []any{1, "two"},
	}
	cp := copyMetadata(orig)
	require.Equal(t, orig, cp)

	cp["nested"].(map[string]any)["k"] = "mutated"
	cp["list"].([]any)[0] = 99

	assert.Equal(t, "v", orig["nested"].(map[string]any)["k"])
	assert.Equal(t, 1, orig["list"].([]any)[0])

	assert.Nil(t, copyMetadata(nil))
}
