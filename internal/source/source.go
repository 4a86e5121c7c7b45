// Package source implements spec.md §4.D: the plugin contract data sources
// implement, and the Controller that drives one source instance through its
// lifecycle and wraps it with the decoding/aggregation pipeline from
// internal/kernel.
package source

import (
	"context"
	"time"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
)

// Context carries everything a source needs at SetContext time: its
// resource locator, raw configuration payload (typically JSON/YAML decoded
// by the source into its own config struct inside SetContext), and system
// configuration. It carries no logger.
type Context struct {
	ResourceLocator string
	Configuration   []byte
	SystemConfig    map[string]string
}

// ReadRequest describes one contiguous sub-period read against a single
// representation, already resolved to Original (raw) granularity — spec.md
// §4.D's sources never see aggregate/resample kinds; that decoration is
// applied by Controller.Read after the plugin returns raw samples.
type ReadRequest struct {
	Item  catalog.Item
	Begin time.Time
	End   time.Time
}

// ReadResult is the raw byte span a source produces for one ReadRequest:
// Data holds ElemSize()*N bytes, Status holds one byte per sample (0 =
// invalid/missing, nonzero = valid), both at the representation's native
// Original sample period.
type ReadResult struct {
	Data   []byte
	Status []byte
}

// Source is the plugin contract spec.md §4.D requires every data source to
// implement. Implementations must be safe for concurrent Read calls against
// the same instance; SetContext is called exactly once before any other
// method.
type Source interface {
	SetContext(ctx context.Context, sctx Context) error
	GetCatalogRegistrations(ctx context.Context, path string) ([]catalog.Registration, error)
	EnrichCatalog(ctx context.Context, cat catalog.Catalog) (catalog.Catalog, error)
	GetTimeRange(ctx context.Context, item catalog.Item) (begin, end time.Time, err error)
	GetAvailability(ctx context.Context, item catalog.Item, begin, end time.Time) (float64, error)
	Read(ctx context.Context, req ReadRequest) (ReadResult, error)
}

// ConfigUpgrader is an optional capability a Source may implement when its
// on-disk configuration format has changed across versions. Controller
// calls UpgradeSourceConfiguration before SetContext whenever a version
// mismatch is detected.
type ConfigUpgrader interface {
	UpgradeSourceConfiguration(raw []byte, fromVersion int) ([]byte, error)
}

// Factory constructs a fresh, unconfigured Source instance of one plugin
// type — the object-safe façade registries key on a type id string (e.g.
// "kafka", "clickhouse", "postgres") rather than a Go type, so plugins can
// be resolved from configuration without reflection.
type Factory func() Source

// Registry maps source type ids to factories. cmd/nexus's newRegistry
// populates it; the sources/* packages do not register themselves.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under typeID, overwriting any prior registration
// — last writer wins.
func (r *Registry) Register(typeID string, factory Factory) {
	r.factories[typeID] = factory
}

// New constructs a fresh Source instance for typeID, or reports false if no
// factory is registered under that id.
func (r *Registry) New(typeID string) (Source, bool) {
	factory, ok := r.factories[typeID]
	if !ok {
		return nil, false
	}
	return factory(), true
}
