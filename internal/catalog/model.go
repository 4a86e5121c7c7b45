// Package catalog implements spec.md Components B and C: the immutable
// catalog/resource/representation model with merge semantics, and the
// catalog tree that resolves resource paths against mounted sources.
package catalog

import (
	"regexp"
	"time"

	"github.com/nexus-main/nexus-sub002/internal/kernel"
	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/internal/pathcodec"
)

var (
	catalogIDPattern  = regexp.MustCompile(`^(/[A-Za-z_][A-Za-z_0-9]*)+$`)
	resourceIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z_0-9]*$`)
)

// ParameterSchema describes one representation parameter, per spec.md §3.
type ParameterSchema struct {
	Type    string   // "input-integer" | "select"
	Options []string // valid values, when Type == "select"
}

// Representation is one view of a resource at a given sample period and
// semantic kind, per spec.md §3.
type Representation struct {
	DataType     kernel.DataType
	SamplePeriod time.Duration
	Kind         kernel.Kind
	Parameters   map[string]ParameterSchema
}

// ID derives the representation id: "<period_unit>" for Original, else
// "<period_unit>_<snake_kind>".
func (r Representation) ID() (string, error) {
	periodToken, err := pathcodec.RenderPeriod(r.SamplePeriod)
	if err != nil {
		return "", err
	}
	if r.Kind == kernel.Original {
		return periodToken, nil
	}
	return periodToken + "_" + r.Kind.String(), nil
}

// Equal reports whether two representations are identical — used by Merge
// to detect RepresentationConflict when the same id appears on both sides
// with different definitions.
func (r Representation) Equal(other Representation) bool {
	if r.DataType != other.DataType || r.SamplePeriod != other.SamplePeriod || r.Kind != other.Kind {
		return false
	}
	if len(r.Parameters) != len(other.Parameters) {
		return false
	}
	for k, v := range r.Parameters {
		ov, ok := other.Parameters[k]
		if !ok || ov.Type != v.Type || len(ov.Options) != len(v.Options) {
			return false
		}
		for i := range v.Options {
			if ov.Options[i] != v.Options[i] {
				return false
			}
		}
	}
	return true
}

// Resource is a named channel owning one or more representations, per
// spec.md §3.
type Resource struct {
	ID              string
	Properties      map[string]interface{}
	Representations []Representation
}

func (r Resource) validate() error {
	if !resourceIDPattern.MatchString(r.ID) {
		return nexuserrors.New(nexuserrors.Validation, "invalid resource id: "+r.ID)
	}
	seen := make(map[string]bool, len(r.Representations))
	for _, rep := range r.Representations {
		id, err := rep.ID()
		if err != nil {
			return err
		}
		if seen[id] {
			return nexuserrors.New(nexuserrors.Validation, "duplicate representation id: "+id)
		}
		seen[id] = true
	}
	return nil
}

// Catalog is a namespace of related time-series resources, per spec.md §3.
type Catalog struct {
	ID         string
	Properties map[string]interface{}
	Resources  []Resource
}

// New constructs and validates a Catalog.
func New(id string, properties map[string]interface{}, resources []Resource) (Catalog, error) {
	if !catalogIDPattern.MatchString(id) {
		return Catalog{}, nexuserrors.New(nexuserrors.Validation, "invalid catalog id: "+id)
	}
	seen := make(map[string]bool, len(resources))
	for _, r := range resources {
		if err := r.validate(); err != nil {
			return Catalog{}, err
		}
		if seen[r.ID] {
			return Catalog{}, nexuserrors.New(nexuserrors.Validation, "duplicate resource id: "+r.ID)
		}
		seen[r.ID] = true
	}
	return Catalog{ID: id, Properties: properties, Resources: resources}, nil
}

// Resource looks up a resource by id.
func (c Catalog) Resource(id string) (Resource, bool) {
	for _, r := range c.Resources {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}

// Item is a resolved (catalog, resource, representation, parameters)
// tuple, per spec.md §3's CatalogItem.
type Item struct {
	Catalog        Catalog
	Resource       Resource
	Representation Representation
	Parameters     map[string]string
}

// Path renders the item's canonical path:
// {catalog.id}/{resource.id}/{representation.id}[(k=v,...)].
func (it Item) Path() (string, error) {
	pp := pathcodec.ParsedPath{
		CatalogID:  it.Catalog.ID,
		ResourceID: it.Resource.ID,
		Period:     it.Representation.SamplePeriod,
		Kind:       it.Representation.Kind.String(),
		Params:     it.Parameters,
	}
	return pathcodec.Render(pp)
}

// ItemRequest is spec.md's CatalogItemRequest = (item, base_item?, container).
// BaseItem is set iff Item's representation kind is an aggregate/resample
// kind that differs from Original, identifying the raw representation to
// drive reads from. Container identifies the owning catalog path, used by
// the scheduler to group requests by source controller membership.
type ItemRequest struct {
	Item      Item
	BaseItem  *Item
	Container string
}

// Registration is spec.md's CatalogRegistration.
type Registration struct {
	Path        string
	Title       string
	IsTransient bool
	LinkTarget  string

	// AdminSupplied wins tie-breaks over registrations other sources
	// contribute for the same Path (spec.md §4.C).
	AdminSupplied bool
	// IsVisible/IsReleased filter ListChildren results only; they never
	// affect Resolve (spec.md §4.C: "a user with read permission may
	// always fetch a non-visible catalog by id").
	IsVisible  bool
	IsReleased bool
}
