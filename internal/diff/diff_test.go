package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDiff_NoChanges(t *testing.T) {
	d := New()

	doc := map[string]any{
		"title": "summer event",
		"count": float64(3),
		"flags": map[string]any{"active": true},
		"items": []any{float64(1), float64(2)},
	}

	assert.Nil(t, d.Diff(doc, doc))
}

func TestDiff_ScalarChanges(t *testing.T) {
	d := New()

	prev := map[string]any{"a": float64(1), "b": "x", "c": true}
	next := map[string]any{"a": float64(2), "b": "x", "d": "new"}

	delta := d.Diff(prev, next)
	require.NotNil(t, delta)

	assert.Equal(t, OpReplace, delta["a"].Op)
	assert.Equal(t, float64(2), delta["a"].Value)
	assert.Nil(t, delta["b"])
	assert.Equal(t, OpRemove, delta["c"].Op)
	assert.Equal(t, OpAdd, delta["d"].Op)

	patched, err := d.Patch(prev, delta)
	require.NoError(t, err)
	assert.Equal(t, next, patched)
}

func TestDiff_NestedObject(t *testing.T) {
	d := New()

	prev := map[string]any{
		"meta": map[string]any{"round": float64(1), "state": "open"},
	}
	next := map[string]any{
		"meta": map[string]any{"round": float64(2), "state": "open"},
	}

	delta := d.Diff(prev, next)
	require.NotNil(t, delta)
	require.Equal(t, OpObject, delta["meta"].Op)
	assert.Len(t, delta["meta"].Object, 1)

	patched, err := d.Patch(prev, delta)
	require.NoError(t, err)
	assert.Equal(t, next, patched)
}

func TestDiff_KeyedArrayMoveDetection(t *testing.T) {
	d := New()

	prev := map[string]any{
		"entries": []any{
			map[string]any{"id": float64(1), "score": float64(10)},
			map[string]any{"id": float64(2), "score": float64(20)},
			map[string]any{"id": float64(3), "score": float64(30)},
		},
	}
	// Element 2 moved to the front unchanged; element 1 changed in place.
	next := map[string]any{
		"entries": []any{
			map[string]any{"id": float64(2), "score": float64(20)},
			map[string]any{"id": float64(1), "score": float64(15)},
			map[string]any{"id": float64(3), "score": float64(30)},
		},
	}

	delta := d.Diff(prev, next)
	require.NotNil(t, delta)
	require.Equal(t, OpArray, delta["entries"].Op)

	items := delta["entries"].Items
	require.Len(t, items, 3)

	// Moved element: position-only entry, no value payload.
	require.NotNil(t, items[0].From)
	assert.Equal(t, 1, *items[0].From)
	assert.Nil(t, items[0].Change)
	assert.Nil(t, items[0].Value)

	// Changed element carries only its nested change.
	require.NotNil(t, items[1].From)
	assert.Equal(t, 0, *items[1].From)
	require.NotNil(t, items[1].Change)

	patched, err := d.Patch(prev, delta)
	require.NoError(t, err)
	assert.Equal(t, next, patched)
}

func TestDiff_KeyedArrayInsertAndDelete(t *testing.T) {
	d := New()

	prev := map[string]any{
		"entries": []any{
			map[string]any{"id": "a", "v": float64(1)},
			map[string]any{"id": "b", "v": float64(2)},
		},
	}
	next := map[string]any{
		"entries": []any{
			map[string]any{"id": "b", "v": float64(2)},
			map[string]any{"id": "c", "v": float64(3)},
		},
	}

	delta := d.Diff(prev, next)
	require.NotNil(t, delta)

	patched, err := d.Patch(prev, delta)
	require.NoError(t, err)
	assert.Equal(t, next, patched)
}

func TestDiff_UnkeyedArray(t *testing.T) {
	d := New()

	prev := map[string]any{"nums": []any{float64(1), float64(2), float64(3)}}
	next := map[string]any{"nums": []any{float64(1), float64(9), float64(3)}}

	delta := d.Diff(prev, next)
	require.NotNil(t, delta)

	patched, err := d.Patch(prev, delta)
	require.NoError(t, err)
	assert.Equal(t, next, patched)

	// Length change falls back to wholesale replacement.
	longer := map[string]any{"nums": []any{float64(1)}}
	delta = d.Diff(prev, longer)
	require.NotNil(t, delta)
	assert.Equal(t, OpReplace, delta["nums"].Op)
}

func TestDiff_TextDiffGate(t *testing.T) {
	d := New()

	short := map[string]any{"body": "hello"}
	shortNext := map[string]any{"body": "hello world"}

	delta := d.Diff(short, shortNext)
	require.NotNil(t, delta)
	assert.Equal(t, OpReplace, delta["body"].Op, "short strings replace wholesale")

	longText := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40)
	longNext := longText + "one more sentence at the end."
	prev := map[string]any{"body": longText}
	next := map[string]any{"body": longNext}

	delta = d.Diff(prev, next)
	require.NotNil(t, delta)
	require.Equal(t, OpText, delta["body"].Op)
	assert.Less(t, len(delta["body"].Text), len(longNext), "text patch should be smaller than the value")

	patched, err := d.Patch(prev, delta)
	require.NoError(t, err)
	assert.Equal(t, next, patched)
}

func TestPatch_DoesNotMutatePrev(t *testing.T) {
	d := New()

	prev := map[string]any{"nested": map[string]any{"v": float64(1)}}
	next := map[string]any{"nested": map[string]any{"v": float64(2)}}

	delta := d.Diff(prev, next)
	_, err := d.Patch(prev, delta)
	require.NoError(t, err)

	assert.Equal(t, float64(1), prev["nested"].(map[string]any)["v"])
}

// docGen generates JSON-shaped documents with bounded depth.
func docGen() *rapid.Generator[map[string]any] {
	return rapid.Custom(func(t *rapid.T) map[string]any {
		return genObject(t, 0)
	})
}

func genObject(t *rapid.T, depth int) map[string]any {
	n := rapid.IntRange(0, 5).Draw(t, "keys")
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		key := rapid.StringMatching(`[a-e]`).Draw(t, "key")
		out[key] = genValue(t, depth+1)
	}
	return out
}

func genValue(t *rapid.T, depth int) any {
	max := 4
	if depth >= 3 {
		max = 2
	}
	switch rapid.IntRange(0, max).Draw(t, "kind") {
	case 0:
		return rapid.Float64Range(-1000, 1000).Draw(t, "num")
	case 1:
		return rapid.StringMatching(`[a-z]{0,12}`).Draw(t, "str")
	case 2:
		return rapid.Bool().Draw(t, "bool")
	case 3:
		n := rapid.IntRange(0, 4).Draw(t, "len")
		arr := make([]any, n)
		for i := range arr {
			arr[i] = genValue(t, depth+1)
		}
		return arr
	default:
		return genObject(t, depth)
	}
}

// TestDiffPatchRoundTripProperty verifies that for any two documents S1 and
// S2, applying Diff(S1, S2) to S1 reproduces S2 exactly.
func TestDiffPatchRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := New()
		s1 := docGen().Draw(t, "s1")
		s2 := docGen().Draw(t, "s2")

		delta := d.Diff(s1, s2)
		if delta == nil {
			// Equal documents must actually be equal.
			patched, err := d.Patch(s1, nil)
			if err != nil {
				t.Fatalf("patch with empty delta failed: %v", err)
			}
			assertDocEqual(t, s2, patched)
			return
		}

		patched, err := d.Patch(s1, delta)
		if err != nil {
			t.Fatalf("patch failed: %v", err)
		}
		assertDocEqual(t, s2, patched)
	})
}

// TestDiffSelfIsNoChangeProperty verifies Diff(S, S) reports no changes for
// any document.
func TestDiffSelfIsNoChangeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := New()
		s := docGen().Draw(t, "s")
		if delta := d.Diff(s, s); delta != nil {
			t.Fatalf("Diff(S, S) produced a delta: %#v", delta)
		}
	})
}

func assertDocEqual(t *rapid.T, want, got map[string]any) {
	w, err := Normalize(want)
	if err != nil {
		t.Fatalf("normalize want: %v", err)
	}
	g, err := Normalize(got)
	if err != nil {
		t.Fatalf("normalize got: %v", err)
	}
	if d := New().Diff(w, g); d != nil {
		t.Fatalf("documents differ: %#v", d)
	}
}
