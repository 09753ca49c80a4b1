// Package relationship maintains the reverse-relationship index spec.md
// §3/§4.7 requires: forward links live in an entity's own body, and a
// separate index makes the reverse direction ("who points at me")
// queryable without a full scan, kept fully reconstructible from forward
// links alone.
package relationship

import "sort"

// Ref identifies one entity a forward link points at.
type Ref struct {
	Ns string
	ID string
}

// LinkSchema describes one forward relationship field on a source type:
// its name in the body and the inverse name reverse lookups are keyed
// by (spec.md §3: "forward (-> Target.inverse) or reverse (<- Source.forward[])").
type LinkSchema struct {
	Field       string
	InverseName string
	TargetNs    string
}

// reverseKey is (targetNs, targetId, inverseName).
type reverseKey struct {
	ns, id, inverse string
}

// Index is the in-memory reverse-relationship index. It is fully derived
// from forward links, never an independent source of truth (spec.md §8
// property 3).
type Index struct {
	reverse map[reverseKey]map[string]bool // key -> set of "sourceNs/sourceId"
}

// NewIndex returns an empty reverse-relationship index.
func NewIndex() *Index {
	return &Index{reverse: map[reverseKey]map[string]bool{}}
}

func sourceKey(ns, id string) string { return ns + "/" + id }

// Add records that sourceNs/sourceID holds a forward link named field,
// pointing at each of targets, whose inverse is inverseName.
func (idx *Index) Add(sourceNs, sourceID, field, inverseName string, targets []Ref) {
	for _, t := range targets {
		key := reverseKey{t.Ns, t.ID, inverseName}

		set, ok := idx.reverse[key]
		if !ok {
			set = map[string]bool{}
			idx.reverse[key] = set
		}

		set[sourceKey(sourceNs, sourceID)] = true
	}

	_ = field // field kept for call-site readability; keying is by inverseName
}

// Remove drops sourceNs/sourceID from the reverse entries for every one
// of targets under inverseName.
func (idx *Index) Remove(sourceNs, sourceID, inverseName string, targets []Ref) {
	for _, t := range targets {
		key := reverseKey{t.Ns, t.ID, inverseName}

		set, ok := idx.reverse[key]
		if !ok {
			continue
		}

		delete(set, sourceKey(sourceNs, sourceID))

		if len(set) == 0 {
			delete(idx.reverse, key)
		}
	}
}

// GetRelated returns every source entity id (in "ns/id" form) holding a
// forward link named inverseName at targetNs/targetID, sorted for
// deterministic output.
func (idx *Index) GetRelated(targetNs, targetID, inverseName string) []string {
	set, ok := idx.reverse[reverseKey{targetNs, targetID, inverseName}]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

// ExtractLinks reads body[schema.Field] and returns the set of [Ref]s it
// encodes, supporting both the single-link ({field: EntityId}) and
// multi-link ({field: EntityId[]}) body shapes (spec.md §3).
func ExtractLinks(body map[string]any, schema LinkSchema) []Ref {
	v, ok := body[schema.Field]
	if !ok || v == nil {
		return nil
	}

	switch val := v.(type) {
	case string:
		return []Ref{parseRef(schema.TargetNs, val)}
	case []any:
		refs := make([]Ref, 0, len(val))

		for _, item := range val {
			if s, ok := item.(string); ok {
				refs = append(refs, parseRef(schema.TargetNs, s))
			}
		}

		return refs
	default:
		return nil
	}
}

// parseRef accepts either a bare local id (paired with targetNs) or a
// fully-qualified "ns/id" reference.
func parseRef(targetNs, v string) Ref {
	for i := 0; i < len(v); i++ {
		if v[i] == '/' {
			return Ref{Ns: v[:i], ID: v[i+1:]}
		}
	}

	return Ref{Ns: targetNs, ID: v}
}
