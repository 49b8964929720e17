package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Diff computes the structured change-set between two snapshots.
// It is pure: no side effects, safe to call speculatively.
//
// When both snapshots carry a well-formed data array, items are diffed by id.
// A pure reordering of the same items yields an empty ChangeSet. Otherwise the
// top-level envelopes are compared field by field (generic fallback).
func Diff(oldSnap, newSnap *Snapshot) ChangeSet {
	if oldSnap.HasData && newSnap.HasData {
		if sameUnordered(oldSnap.Data, newSnap.Data) {
			return ChangeSet{}
		}
		return diffItems(oldSnap.Data, newSnap.Data)
	}
	return genericDiff(oldSnap.Fields, newSnap.Fields)
}

// sameUnordered reports whether the two item slices hold the same items,
// ignoring order: both are sorted by id and compared in canonical form.
func sameUnordered(a, b []Collection) bool {
	if len(a) != len(b) {
		return false
	}
	as := sortedByID(a)
	bs := sortedByID(b)
	for i := range as {
		if as[i].ID != bs[i].ID {
			return false
		}
		if !bytes.Equal(as[i].canonical(), bs[i].canonical()) {
			return false
		}
	}
	return true
}

func sortedByID(items []Collection) []Collection {
	cp := append([]Collection(nil), items...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID < cp[j].ID })
	return cp
}

func diffItems(oldItems, newItems []Collection) ChangeSet {
	oldByID := make(map[int64]Collection, len(oldItems))
	for _, it := range oldItems {
		oldByID[it.ID] = it
	}
	newByID := make(map[int64]struct{}, len(newItems))

	var cs ChangeSet
	for _, it := range newItems {
		newByID[it.ID] = struct{}{}
		prev, ok := oldByID[it.ID]
		switch {
		case !ok:
			cs.Added = append(cs.Added, it)
		case !it.DeepEqual(prev):
			cs.Updated = append(cs.Updated, ItemChange{ID: it.ID, Old: prev, New: it})
		}
	}
	for _, it := range oldItems {
		if _, ok := newByID[it.ID]; !ok {
			cs.Removed = append(cs.Removed, it)
		}
	}
	return cs
}

// genericDiff compares two envelopes field by field. Composite values are
// summarized by type and size so the resulting notification stays bounded.
func genericDiff(oldFields, newFields map[string]json.RawMessage) ChangeSet {
	keys := make(map[string]struct{}, len(oldFields)+len(newFields))
	for k := range oldFields {
		keys[k] = struct{}{}
	}
	for k := range newFields {
		keys[k] = struct{}{}
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	cs := ChangeSet{Generic: true}
	for _, k := range ordered {
		oldRaw, hasOld := oldFields[k]
		newRaw, hasNew := newFields[k]
		switch {
		case !hasOld:
			cs.Fields = append(cs.Fields, FieldChange{Key: k, Old: "(absent)", New: summarizeValue(newRaw)})
		case !hasNew:
			cs.Fields = append(cs.Fields, FieldChange{Key: k, Old: summarizeValue(oldRaw), New: "(removed)"})
		case !bytes.Equal(canonicalJSON(oldRaw), canonicalJSON(newRaw)):
			cs.Fields = append(cs.Fields, FieldChange{Key: k, Old: summarizeValue(oldRaw), New: summarizeValue(newRaw)})
		}
	}
	if len(cs.Fields) == 0 {
		return ChangeSet{}
	}
	return cs
}

func summarizeValue(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "(invalid)"
	}
	switch x := v.(type) {
	case nil:
		return "null"
	case []any:
		return fmt.Sprintf("array of %d items", len(x))
	case map[string]any:
		return fmt.Sprintf("object with %d fields", len(x))
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
