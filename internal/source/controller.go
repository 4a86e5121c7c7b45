package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/kernel"
	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/internal/pathcodec"
	"github.com/nexus-main/nexus-sub002/pkg/logging"
)

// State is a Controller's lifecycle state, per spec.md §4.D's
// New -> Initialized -> Reading* -> Disposed progression, with a one-way
// Poisoned latch set when a Source method panics (see safeCall) or when
// Poison is called; other errors leave the state unchanged —
// modeled on the teacher's CircuitBreaker state shape (pkg/clients/
// circuit_breaker.go), except Poisoned never half-opens: a poisoned
// controller is discarded, not retried in place.
type State int

const (
	StateNew State = iota
	StateInitialized
	StateReading
	StateDisposed
	StatePoisoned
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitialized:
		return "initialized"
	case StateReading:
		return "reading"
	case StateDisposed:
		return "disposed"
	case StatePoisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// Controller drives one Source instance through its lifecycle and
// decorates its raw reads with the aggregate/resample kernels, so callers
// (the scheduler) only ever deal in catalog.Item semantics, never in a
// source's native byte layout.
type Controller struct {
	mu     sync.RWMutex
	state  State
	typeID string
	source Source
	logger logging.Logger

	configVersion int
	catalogs      map[string]catalog.Catalog
}

// NewController wraps source, initially in StateNew.
func NewController(typeID string, src Source, logger logging.Logger) *Controller {
	return &Controller{
		typeID:   typeID,
		source:   src,
		logger:   logger,
		catalogs: make(map[string]catalog.Catalog),
	}
}

// TypeID returns the plugin type id this controller was constructed with
// (e.g. "kafka", "clickhouse", "postgres") — used to stamp nexus.pipeline
// via catalog.AppendPipelineStage.
func (c *Controller) TypeID() string { return c.typeID }

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Poison forces the one-way Poisoned latch. Called internally only when
// safeCall recovers a Source panic; other Internal errors (state misuse, a
// missing base item) are returned without poisoning. Exported so an owning
// reading group can poison a controller it independently judges broken.
func (c *Controller) Poison(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StatePoisoned
	if c.logger != nil {
		c.logger.WithField("source_type", c.typeID).Errorf("controller poisoned: %v", reason)
	}
}

// Initialize calls UpgradeSourceConfiguration (if the source implements
// ConfigUpgrader and configVersion is greater than the version last
// applied, 0 for a fresh Controller) then SetContext, transitioning
// New -> Initialized. A failed upgrade is ConfigUpgrade and a SetContext
// error is ContextInit; either discards this instance (caller must
// construct a fresh Controller). A returned error does not poison, since an
// un-initialized instance was never live; a SetContext panic is recovered
// by safeCall, which does.
func (c *Controller) Initialize(ctx context.Context, sctx Context, configVersion int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateNew {
		return nexuserrors.New(nexuserrors.Internal, "Initialize called outside state New, was "+c.state.String())
	}

	if upgrader, ok := c.source.(ConfigUpgrader); ok && configVersion > c.configVersion {
		upgraded, err := upgrader.UpgradeSourceConfiguration(sctx.Configuration, c.configVersion)
		if err != nil {
			return nexuserrors.Wrap(nexuserrors.ConfigUpgrade, "source configuration upgrade failed", err)
		}
		sctx.Configuration = upgraded
	}
	c.configVersion = configVersion

	if err := c.safeCall(func() error { return c.source.SetContext(ctx, sctx) }); err != nil {
		return nexuserrors.Wrap(nexuserrors.ContextInit, "source refused to initialize", err)
	}
	c.state = StateInitialized
	return nil
}

// Dispose transitions to Disposed from any non-Poisoned state. Idempotent.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePoisoned {
		return
	}
	c.state = StateDisposed
}

func (c *Controller) requireLive() error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	switch state {
	case StateInitialized, StateReading:
		return nil
	case StatePoisoned:
		return nexuserrors.New(nexuserrors.Internal, "controller is poisoned")
	case StateDisposed:
		return nexuserrors.New(nexuserrors.Internal, "controller is disposed")
	default:
		return nexuserrors.New(nexuserrors.Internal, "controller not initialized")
	}
}

// safeCall recovers a panicking Source method into an Internal error and
// poisons the controller — a source is third-party code and spec.md §7
// treats a broken invariant there the same as one in the engine itself.
func (c *Controller) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wrapped := nexuserrors.New(nexuserrors.Internal, fmt.Sprintf("source panicked: %v", r))
			c.Poison(wrapped)
			err = wrapped
		}
	}()
	return fn()
}

// ListRegistrations implements catalog.Resolver by delegating to the
// source, per spec.md §4.C/§4.D.
func (c *Controller) ListRegistrations(ctx context.Context, path string) ([]catalog.Registration, error) {
	if err := c.requireLive(); err != nil {
		return nil, err
	}
	var regs []catalog.Registration
	err := c.safeCall(func() error {
		var innerErr error
		regs, innerErr = c.source.GetCatalogRegistrations(ctx, path)
		return innerErr
	})
	if err != nil {
		return nil, nexuserrors.Wrap(nexuserrors.ExtensionRuntime, "GetCatalogRegistrations failed", err)
	}
	return regs, nil
}

// EnrichCatalog delegates to the source and caches the result for later
// Resolve lookups, keyed by catalog id.
func (c *Controller) EnrichCatalog(ctx context.Context, cat catalog.Catalog) (catalog.Catalog, error) {
	if err := c.requireLive(); err != nil {
		return catalog.Catalog{}, err
	}
	var enriched catalog.Catalog
	err := c.safeCall(func() error {
		var innerErr error
		enriched, innerErr = c.source.EnrichCatalog(ctx, cat)
		return innerErr
	})
	if err != nil {
		return catalog.Catalog{}, nexuserrors.Wrap(nexuserrors.ExtensionRuntime, "EnrichCatalog failed", err)
	}

	c.mu.Lock()
	c.catalogs[enriched.ID] = enriched
	c.mu.Unlock()
	return enriched, nil
}

// CacheCatalog overwrites the cached catalog this controller resolves
// against for cat.ID, without going through the source's EnrichCatalog
// hook. Used by PipelineController to install the fully-merged,
// multi-stage catalog against the pipeline's final (reading) stage, whose
// own EnrichCatalog call only ever saw its single stage's contribution.
func (c *Controller) CacheCatalog(cat catalog.Catalog) {
	c.mu.Lock()
	c.catalogs[cat.ID] = cat
	c.mu.Unlock()
}

// Resolve implements catalog.Resolver: parse path, look the item up in the
// most recently enriched catalog for its catalog id, and — if its
// representation is an aggregate or resample kind — locate the matching
// Original base representation to read raw samples from.
func (c *Controller) Resolve(ctx context.Context, path string) (catalog.ItemRequest, error) {
	if err := c.requireLive(); err != nil {
		return catalog.ItemRequest{}, err
	}

	pp, err := pathcodec.Parse(path)
	if err != nil {
		return catalog.ItemRequest{}, err
	}

	c.mu.RLock()
	cat, ok := c.catalogs[pp.CatalogID]
	c.mu.RUnlock()
	if !ok {
		return catalog.ItemRequest{}, nexuserrors.New(nexuserrors.NotFound, "catalog not yet enriched: "+pp.CatalogID)
	}

	res, ok := cat.Resource(pp.ResourceID)
	if !ok {
		return catalog.ItemRequest{}, nexuserrors.New(nexuserrors.NotFound, "no such resource: "+pp.ResourceID)
	}

	kind, kindOK := kernel.ParseKind(pp.Kind)
	if !kindOK {
		return catalog.ItemRequest{}, nexuserrors.New(nexuserrors.Validation, "unknown representation kind: "+pp.Kind)
	}

	rep, ok := findRepresentation(res, kind, pp.Period)
	if !ok {
		return catalog.ItemRequest{}, nexuserrors.New(nexuserrors.NotFound, "no matching representation on "+pp.ResourceID)
	}

	item := catalog.Item{Catalog: cat, Resource: res, Representation: rep, Parameters: pp.Params}

	var basePtr *catalog.Item
	if rep.Kind != kernel.Original {
		basePeriod := pp.BasePeriod
		if !pp.HasBase {
			basePeriod, ok = smallestOriginalPeriod(res)
			if !ok {
				return catalog.ItemRequest{}, nexuserrors.New(nexuserrors.NotFound, "aggregate representation has no base Original representation")
			}
		}
		baseRep, ok := findRepresentation(res, kernel.Original, basePeriod)
		if !ok {
			return catalog.ItemRequest{}, nexuserrors.New(nexuserrors.NotFound, "base representation not found for "+path)
		}
		base := catalog.Item{Catalog: cat, Resource: res, Representation: baseRep, Parameters: pp.Params}
		basePtr = &base
	}

	return catalog.ItemRequest{Item: item, BaseItem: basePtr, Container: pp.CatalogID}, nil
}

func findRepresentation(res catalog.Resource, kind kernel.Kind, period time.Duration) (catalog.Representation, bool) {
	for _, r := range res.Representations {
		if r.Kind == kind && r.SamplePeriod == period {
			return r, true
		}
	}
	return catalog.Representation{}, false
}

func smallestOriginalPeriod(res catalog.Resource) (time.Duration, bool) {
	var best time.Duration
	found := false
	for _, r := range res.Representations {
		if r.Kind != kernel.Original {
			continue
		}
		if !found || r.SamplePeriod < best {
			best = r.SamplePeriod
			found = true
		}
	}
	return best, found
}

// GetTimeRange and GetAvailability pass straight through to the source;
// they carry no decoding concerns.
func (c *Controller) GetTimeRange(ctx context.Context, item catalog.Item) (begin, end time.Time, err error) {
	if err := c.requireLive(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	err = c.safeCall(func() error {
		var innerErr error
		begin, end, innerErr = c.source.GetTimeRange(ctx, item)
		return innerErr
	})
	if err != nil {
		return time.Time{}, time.Time{}, nexuserrors.Wrap(nexuserrors.ExtensionRuntime, "GetTimeRange failed", err)
	}
	return begin, end, nil
}

func (c *Controller) GetAvailability(ctx context.Context, item catalog.Item, begin, end time.Time) (float64, error) {
	if err := c.requireLive(); err != nil {
		return 0, err
	}
	var availability float64
	err := c.safeCall(func() error {
		var innerErr error
		availability, innerErr = c.source.GetAvailability(ctx, item, begin, end)
		return innerErr
	})
	if err != nil {
		return 0, nexuserrors.Wrap(nexuserrors.ExtensionRuntime, "GetAvailability failed", err)
	}
	return availability, nil
}

// alignDown rounds t down to the nearest multiple of period, measured from
// the Unix epoch — the same absolute-time alignment the scheduler checks
// requests against, so a base-period-aligned window computed here always
// satisfies the source's own alignment precondition (spec.md §4.D).
func alignDown(t time.Time, period time.Duration) time.Time {
	rem := t.UnixNano() % int64(period)
	if rem < 0 {
		rem += int64(period)
	}
	return t.Add(-time.Duration(rem))
}

// Read fetches raw samples from the source — at the base representation's
// period when req.Item is an aggregate/resample kind — then applies the
// matching kernel decoration so the caller always receives float64 values
// at req.Item's own representation period.
//
// begin/end are the caller's requested window at req.Item's own (possibly
// finer, for Resampled, or coarser, for aggregates) sample period; they
// need not be aligned to the base representation's period. Read widens the
// source request to the enclosing base-period-aligned window, trims or
// resamples the result back down, and — for Resampled — computes the
// virtual-sequence skip so the output begins exactly at begin, per spec.md
// §4.D.3.
func (c *Controller) Read(ctx context.Context, req catalog.ItemRequest, begin, end time.Time) ([]float64, error) {
	if err := c.requireLive(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state = StateReading
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.state == StateReading {
			c.state = StateInitialized
		}
		c.mu.Unlock()
	}()

	readItem := req.Item
	if req.Item.Representation.Kind != kernel.Original {
		if req.BaseItem == nil {
			return nil, nexuserrors.New(nexuserrors.Internal, "aggregate read missing base item")
		}
		readItem = *req.BaseItem
	}

	basePeriod := readItem.Representation.SamplePeriod
	readBegin := alignDown(begin, basePeriod)
	readEnd := alignDown(end, basePeriod)
	if readEnd.Before(end) {
		readEnd = readEnd.Add(basePeriod)
	}

	var result ReadResult
	err := c.safeCall(func() error {
		var innerErr error
		result, innerErr = c.source.Read(ctx, ReadRequest{Item: readItem, Begin: readBegin, End: readEnd})
		return innerErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nexuserrors.Wrap(nexuserrors.Cancelled, "read cancelled", ctx.Err())
		}
		return nil, nexuserrors.Wrap(nexuserrors.ExtensionRuntime, "source Read failed", err)
	}

	dt := readItem.Representation.DataType
	elemSize := dt.ElemSize()
	offset := int(begin.Sub(readBegin) / basePeriod)
	count := int(end.Sub(begin) / basePeriod)

	if req.Item.Representation.Kind == kernel.Original {
		return kernel.ToFloat64(dt, result.Data[offset*elemSize:(offset+count)*elemSize], result.Status[offset:offset+count])
	}

	targetPeriod := req.Item.Representation.SamplePeriod
	if targetPeriod < basePeriod {
		ratio := int(basePeriod / targetPeriod)
		values, err := kernel.ToFloat64(dt, result.Data, result.Status)
		if err != nil {
			return nil, err
		}
		skip := int(begin.Sub(readBegin) / targetPeriod)
		outputLen := int(end.Sub(begin) / targetPeriod)
		return kernel.Resample(values, ratio, skip, outputLen)
	}

	blockSize := int(targetPeriod / basePeriod)
	return kernel.Aggregate(dt, req.Item.Representation.Kind, blockSize, result.Data[offset*elemSize:(offset+count)*elemSize], result.Status[offset:offset+count])
}
