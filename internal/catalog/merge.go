package catalog

import (
	"sort"

	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
)

// Merge implements spec.md §4.B: ids must match; properties deep-merge
// (objects recurse, arrays concatenate, scalars prefer b); resources union
// by id with per-resource merge; representations union by id and must
// compare equal when present on both sides (RepresentationConflict
// otherwise). After merging, each resource is re-sanitized: "original-name"
// defaults to its own id, "nexus.pipeline-position" records its position in
// the merged resource list, and "groups" is deduplicated. Catalog-level
// "nexus.version"/"nexus.pipeline" stamping is a pipeline-facade concern
// (see AppendPipelineStage) and deliberately not part of this pure,
// commutative merge.
func Merge(a, b Catalog) (Catalog, error) {
	if a.ID != b.ID {
		return Catalog{}, nexuserrors.New(nexuserrors.Validation, "cannot merge catalogs with different ids: "+a.ID+" vs "+b.ID)
	}

	mergedProps := deepMergeValue(a.Properties, b.Properties).(map[string]interface{})

	resources, err := mergeResources(a.Resources, b.Resources)
	if err != nil {
		return Catalog{}, err
	}
	sanitizeResources(resources)

	return Catalog{ID: a.ID, Properties: mergedProps, Resources: resources}, nil
}

func mergeResources(a, b []Resource) ([]Resource, error) {
	index := make(map[string]int, len(a))
	merged := make([]Resource, 0, len(a)+len(b))
	for _, r := range a {
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	for _, r := range b {
		if i, ok := index[r.ID]; ok {
			mr, err := mergeResource(merged[i], r)
			if err != nil {
				return nil, err
			}
			merged[i] = mr
			continue
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	return merged, nil
}

func mergeResource(a, b Resource) (Resource, error) {
	props := deepMergeValue(a.Properties, b.Properties).(map[string]interface{})

	reps, err := mergeRepresentations(a.Representations, b.Representations)
	if err != nil {
		return Resource{}, err
	}

	return Resource{ID: a.ID, Properties: props, Representations: reps}, nil
}

func mergeRepresentations(a, b []Representation) ([]Representation, error) {
	type entry struct {
		rep Representation
		id  string
	}
	index := make(map[string]int, len(a))
	merged := make([]entry, 0, len(a)+len(b))
	for _, r := range a {
		id, err := r.ID()
		if err != nil {
			return nil, err
		}
		index[id] = len(merged)
		merged = append(merged, entry{rep: r, id: id})
	}
	for _, r := range b {
		id, err := r.ID()
		if err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			if !merged[i].rep.Equal(r) {
				return nil, nexuserrors.New(nexuserrors.Validation, "representation conflict for id: "+id)
			}
			continue
		}
		index[id] = len(merged)
		merged = append(merged, entry{rep: r, id: id})
	}

	out := make([]Representation, len(merged))
	for i, e := range merged {
		out[i] = e.rep
	}
	return out, nil
}

// deepMergeValue implements the deep-merge rule: map[string]interface{}
// recurse key-by-key, []interface{} concatenate, everything else prefers b.
func deepMergeValue(a, b interface{}) interface{} {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	am, aIsMap := a.(map[string]interface{})
	bm, bIsMap := b.(map[string]interface{})
	if aIsMap && bIsMap {
		out := make(map[string]interface{}, len(am)+len(bm))
		for k, v := range am {
			out[k] = v
		}
		for k, v := range bm {
			if existing, ok := out[k]; ok {
				out[k] = deepMergeValue(existing, v)
			} else {
				out[k] = v
			}
		}
		return out
	}

	aa, aIsSlice := a.([]interface{})
	ba, bIsSlice := b.([]interface{})
	if aIsSlice && bIsSlice {
		out := make([]interface{}, 0, len(aa)+len(ba))
		out = append(out, aa...)
		out = append(out, ba...)
		return out
	}

	return b
}

// sanitizeResources applies the "only implicit mutation" from spec.md §4.B.
func sanitizeResources(resources []Resource) {
	for i := range resources {
		props := resources[i].Properties
		if props == nil {
			props = make(map[string]interface{})
		}
		if _, ok := props["original-name"]; !ok {
			props["original-name"] = resources[i].ID
		}
		props["nexus.pipeline-position"] = i

		if raw, ok := props["groups"]; ok {
			props["groups"] = dedupGroups(raw)
		}
		resources[i].Properties = props
	}
}

func dedupGroups(raw interface{}) []string {
	var groups []string
	switch v := raw.(type) {
	case []string:
		groups = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				groups = append(groups, s)
			}
		}
	}
	seen := make(map[string]bool, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// AppendPipelineStage stamps catalog-level "nexus.version" (monotonically
// incremented) and "nexus.pipeline" (the ordered list of source type ids
// the catalog has flowed through) — the part of spec.md §4.B's
// re-sanitization that depends on pipeline order and so is applied by the
// pipeline facade (component D) rather than by the order-independent Merge.
func AppendPipelineStage(cat Catalog, sourceTypeID string) Catalog {
	props := make(map[string]interface{}, len(cat.Properties)+2)
	for k, v := range cat.Properties {
		props[k] = v
	}

	version := 0
	if v, ok := props["nexus.version"].(int); ok {
		version = v
	}
	props["nexus.version"] = version + 1

	var pipeline []string
	if v, ok := props["nexus.pipeline"].([]string); ok {
		pipeline = append(pipeline, v...)
	}
	pipeline = append(pipeline, sourceTypeID)
	props["nexus.pipeline"] = pipeline

	return Catalog{ID: cat.ID, Properties: props, Resources: cat.Resources}
}
