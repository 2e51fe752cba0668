// Package diff computes minimal structural patches between two snapshot
// documents and applies them back, shrinking broadcast payloads. Documents
// are JSON-shaped values: maps, slices, strings, numbers, bools, nil.
package diff

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultMinTextLength gates the text-diff strategy: strings shorter than
// this on either side are replaced wholesale, avoiding diff overhead on
// short values.
const DefaultMinTextLength = 1024

// Op identifies how a Change applies to its position in the document.
type Op string

// Change operations.
const (
	OpAdd     Op = "add"     // key added; Value carries the new value
	OpRemove  Op = "remove"  // key removed
	OpReplace Op = "replace" // value replaced wholesale; Value carries it
	OpObject  Op = "object"  // nested object patch in Object
	OpArray   Op = "array"   // array rebuild in Items
	OpText    Op = "text"    // long-string patch in Text (diffmatchpatch format)
)

// Change describes one modification at a document position.
type Change struct {
	Op     Op          `json:"op"`
	Value  any         `json:"value,omitempty"`
	Object Delta       `json:"object,omitempty"`
	Items  []ArrayItem `json:"items,omitempty"`
	Text   string      `json:"text,omitempty"`
}

// Delta maps object keys to their changes. A nil Delta means no changes.
type Delta map[string]*Change

// ArrayItem describes one element of the rebuilt array. When From is set the
// element comes from the previous array at that index, optionally patched by
// Change; a From differing from the item's own position with a nil Change is
// a pure move. When From is nil the element is inserted from Value. Previous
// indices never referenced are deletions.
type ArrayItem struct {
	From   *int    `json:"from,omitempty"`
	Change *Change `json:"change,omitempty"`
	Value  any     `json:"value,omitempty"`
}

// Differ computes and applies deltas.
type Differ struct {
	// MinTextLength is the threshold above which string values are diffed
	// with text patches instead of replaced.
	MinTextLength int

	dmp *diffmatchpatch.DiffMatchPatch
}

// New creates a Differ with default settings.
func New() *Differ {
	return &Differ{
		MinTextLength: DefaultMinTextLength,
		dmp:           diffmatchpatch.New(),
	}
}

// Diff computes the delta that transforms prev into next. A nil result
// means the documents are equal.
func (d *Differ) Diff(prev, next map[string]any) Delta {
	delta := Delta{}

	for k, pv := range prev {
		nv, ok := next[k]
		if !ok {
			delta[k] = &Change{Op: OpRemove}
			continue
		}
		if ch := d.diffValue(pv, nv); ch != nil {
			delta[k] = ch
		}
	}
	for k, nv := range next {
		if _, ok := prev[k]; !ok {
			delta[k] = &Change{Op: OpAdd, Value: nv}
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// diffValue returns the change transforming pv into nv, or nil when equal.
func (d *Differ) diffValue(pv, nv any) *Change {
	if reflect.DeepEqual(pv, nv) {
		return nil
	}

	switch p := pv.(type) {
	case map[string]any:
		if n, ok := nv.(map[string]any); ok {
			if sub := d.Diff(p, n); sub != nil {
				return &Change{Op: OpObject, Object: sub}
			}
			return nil
		}
	case []any:
		if n, ok := nv.([]any); ok {
			return d.diffArray(p, n)
		}
	case string:
		if n, ok := nv.(string); ok {
			if len(p) >= d.MinTextLength && len(n) >= d.MinTextLength {
				patches := d.dmp.PatchMake(p, n)
				return &Change{Op: OpText, Text: d.dmp.PatchToText(patches)}
			}
		}
	}

	return &Change{Op: OpReplace, Value: nv}
}

// diffArray compares two arrays. When every element on both sides carries a
// stable "id" field the comparison is keyed by it, producing move entries
// for elements that changed position but not value; otherwise elements are
// compared index-wise.
func (d *Differ) diffArray(prev, next []any) *Change {
	prevKeys, prevKeyed := keyIndex(prev)
	_, nextKeyed := keyIndex(next)
	if prevKeyed && nextKeyed {
		return d.diffKeyedArray(prev, next, prevKeys)
	}

	if len(prev) != len(next) {
		return &Change{Op: OpReplace, Value: next}
	}

	items := make([]ArrayItem, len(next))
	changed := false
	for i := range next {
		from := i
		items[i] = ArrayItem{From: &from}
		if ch := d.diffValue(prev[i], next[i]); ch != nil {
			items[i].Change = ch
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return &Change{Op: OpArray, Items: items}
}

func (d *Differ) diffKeyedArray(prev, next []any, prevKeys map[string]int) *Change {
	items := make([]ArrayItem, len(next))
	changed := len(prev) != len(next)
	used := make(map[int]bool, len(prev))

	for i, nv := range next {
		key, _ := elementKey(nv)
		j, ok := prevKeys[key]
		if !ok {
			items[i] = ArrayItem{Value: nv}
			changed = true
			continue
		}

		from := j
		items[i] = ArrayItem{From: &from}
		used[j] = true
		if j != i {
			changed = true
		}
		if ch := d.diffValue(prev[j], nv); ch != nil {
			items[i].Change = ch
			changed = true
		}
	}

	if len(used) != len(prev) {
		changed = true
	}
	if !changed {
		return nil
	}
	return &Change{Op: OpArray, Items: items}
}

// Patch applies delta to prev and returns the resulting document. prev is
// not mutated.
func (d *Differ) Patch(prev map[string]any, delta Delta) (map[string]any, error) {
	out := make(map[string]any, len(prev))
	for k, v := range prev {
		out[k] = deepCopy(v)
	}

	for k, ch := range delta {
		switch ch.Op {
		case OpRemove:
			delete(out, k)
		case OpAdd, OpReplace:
			out[k] = deepCopy(ch.Value)
		default:
			patched, err := d.applyChange(out[k], ch)
			if err != nil {
				return nil, fmt.Errorf("failed to patch key %q: %w", k, err)
			}
			out[k] = patched
		}
	}
	return out, nil
}

// applyChange applies a non-trivial change to an existing value.
func (d *Differ) applyChange(v any, ch *Change) (any, error) {
	switch ch.Op {
	case OpReplace, OpAdd:
		return deepCopy(ch.Value), nil
	case OpObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("object patch against %T", v)
		}
		return d.Patch(obj, ch.Object)
	case OpArray:
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("array patch against %T", v)
		}
		return d.patchArray(arr, ch.Items)
	case OpText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("text patch against %T", v)
		}
		patches, err := d.dmp.PatchFromText(ch.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse text patch: %w", err)
		}
		result, applied := d.dmp.PatchApply(patches, s)
		for _, ok := range applied {
			if !ok {
				return nil, fmt.Errorf("text patch did not apply cleanly")
			}
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unknown op %q", ch.Op)
	}
}

func (d *Differ) patchArray(prev []any, items []ArrayItem) ([]any, error) {
	out := make([]any, len(items))
	for i, it := range items {
		if it.From == nil {
			out[i] = deepCopy(it.Value)
			continue
		}
		if *it.From < 0 || *it.From >= len(prev) {
			return nil, fmt.Errorf("array item %d references index %d out of %d", i, *it.From, len(prev))
		}
		elem := deepCopy(prev[*it.From])
		if it.Change != nil {
			patched, err := d.applyChange(elem, it.Change)
			if err != nil {
				return nil, fmt.Errorf("failed to patch array item %d: %w", i, err)
			}
			elem = patched
		}
		out[i] = elem
	}
	return out, nil
}

// keyIndex builds key → index for an array whose elements all carry a
// stable identifier. Duplicate or missing ids disable keyed comparison.
func keyIndex(arr []any) (map[string]int, bool) {
	if len(arr) == 0 {
		return nil, false
	}
	keys := make(map[string]int, len(arr))
	for i, v := range arr {
		key, ok := elementKey(v)
		if !ok {
			return nil, false
		}
		if _, dup := keys[key]; dup {
			return nil, false
		}
		keys[key] = i
	}
	return keys, true
}

// elementKey extracts the stable identifier of an array element.
func elementKey(v any) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := obj["id"]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%v", id), true
}

// deepCopy copies a JSON-shaped value so patched documents never share
// mutable structure with their sources.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// Normalize round-trips a document through JSON so values produced in Go
// and values loaded from the cache compare with the same scalar types.
func Normalize(doc map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return out, nil
}
