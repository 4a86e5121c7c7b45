// Package scheduler implements spec.md Component H: the pipelined,
// back-pressured read machinery that drives a source controller's reads
// through the cache engine and out through per-request pipes, under the
// memory tracker's admission control.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-main/nexus-sub002/internal/cachefile"
	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/kernel"
	"github.com/nexus-main/nexus-sub002/internal/memtracker"
	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/internal/pipe"
	"github.com/nexus-main/nexus-sub002/internal/source"
	"github.com/nexus-main/nexus-sub002/pkg/logging"
)

// defaultMaxChunkUnits bounds how many chunk-alignment units (the group's
// output sample period, groupPlan.basePeriod) one chunk may span
// before the tracker's granted bytes are consulted, keeping a single
// group's chunk sizing request from demanding an unbounded amount of
// headroom in one shot even against a very large ceiling.
const defaultMaxChunkUnits = 4096

// GroupItem is one request sharing a DataReadingGroup's controller and
// piped to sink — spec.md §4.H's "groups: [(controller, [(request,
// writer)])]" flattened to the per-item grain.
type GroupItem struct {
	Request catalog.ItemRequest
	Sink    *pipe.Pipe
}

// Group is spec.md's DataReadingGroup: a set of requests sharing one
// source controller, scheduled and read together. Every item's
// Representation must share the same SamplePeriod — the writer controller
// and the chunk-sizing algorithm both depend on one uniform output rate
// per group.
type Group struct {
	Controller *source.Controller
	Items      []GroupItem
}

// Scheduler is spec.md §4.H's read scheduler.
type Scheduler struct {
	tracker *memtracker.Tracker
	cache   *cachefile.Engine
	logger  logging.Logger
}

// New constructs a Scheduler over the given memory tracker and cache
// engine.
func New(tracker *memtracker.Tracker, cache *cachefile.Engine, logger logging.Logger) *Scheduler {
	return &Scheduler{tracker: tracker, cache: cache, logger: logger}
}

// ReadAsStream produces a byte stream of length count(elements)*8
// representing float64 samples in native endianness for a single item
// request, spec.md §4.H's entry point for a plain network-stream consumer.
// The writer task runs independently; cancelling ctx (e.g. because the
// reader dropped the stream) completes the returned pipe with an error.
func (s *Scheduler) ReadAsStream(ctx context.Context, begin, end time.Time, ctrl *source.Controller, req catalog.ItemRequest) *pipe.Pipe {
	p := pipe.New()
	group := Group{Controller: ctrl, Items: []GroupItem{{Request: req, Sink: p}}}
	go func() {
		_ = s.Read(ctx, begin, end, []Group{group}, nil)
	}()
	return p
}

// ProgressFunc receives, after each chunk, that chunk's group index and
// the group's cumulative progress in [0,1] — spec.md §4.H step 7 and §8's
// "summed progress over all chunks equals 1 ± 1e-9."
type ProgressFunc func(groupIndex int, fraction float64)

// Read is spec.md §4.H's multiplexed read: every group runs independently
// and in parallel (errgroup), each sequentially walking its own chunk
// timeline; a group's failure completes that group's pipes with the error
// and does not affect sibling groups, per spec.md §7's "any source error
// fails its group fatally; other groups continue." Validation errors are
// detected for every group before any group's I/O begins.
func (s *Scheduler) Read(ctx context.Context, begin, end time.Time, groups []Group, onProgress ProgressFunc) error {
	if len(groups) == 0 {
		return nexuserrors.New(nexuserrors.Validation, "scheduler: no reading groups supplied")
	}
	if !end.After(begin) {
		return nexuserrors.New(nexuserrors.Validation, "scheduler: end must be after begin")
	}

	plans := make([]*groupPlan, len(groups))
	for i, g := range groups {
		plan, err := s.planGroup(g, begin, end)
		if err != nil {
			completeGroupPipes(g, err)
			return err
		}
		plans[i] = plan
	}

	var eg errgroup.Group
	for i, plan := range plans {
		i, plan := i, plan
		eg.Go(func() error {
			err := s.runGroup(ctx, i, plan, onProgress)
			completeGroupPipes(groups[i], err)
			return err
		})
	}
	return eg.Wait()
}

func completeGroupPipes(g Group, err error) {
	for _, item := range g.Items {
		item.Sink.Complete(err)
	}
}

// groupPlan is the validated, precomputed shape of one Group's chunk walk.
// basePeriod here is chunkAlign, the unit every chunk this group reads is a
// whole multiple of, and the unit the tracker grant is denominated in. It
// is always the group's own output sample period — never the (possibly
// finer, for aggregates, or coarser, for Resampled items) raw base period —
// because per-source reads are independently widened to base-period-aligned
// sub-windows by the source controller (spec.md §4.D.3); the scheduler only
// needs its own request window to line up with groupPeriod, the granularity
// it actually hands to callers.
type groupPlan struct {
	group        Group
	groupPeriod  time.Duration
	basePeriod   time.Duration
	perUnitBytes int64
	begin, end   time.Time
	totalUnits   int64
}

func (s *Scheduler) planGroup(g Group, begin, end time.Time) (*groupPlan, error) {
	if len(g.Items) == 0 {
		return nil, nexuserrors.New(nexuserrors.Validation, "scheduler: reading group has no requests")
	}

	groupPeriod := g.Items[0].Request.Item.Representation.SamplePeriod
	basePeriods := make([]time.Duration, len(g.Items))
	elemSizes := make([]int64, len(g.Items))

	for i, item := range g.Items {
		rep := item.Request.Item.Representation
		if rep.SamplePeriod != groupPeriod {
			return nil, nexuserrors.New(nexuserrors.Validation, "scheduler: all requests in a group must share one sample period")
		}

		basePeriod := rep.SamplePeriod
		elemSize := int64(rep.DataType.ElemSize())
		if rep.Kind != kernel.Original {
			if item.Request.BaseItem == nil {
				return nil, nexuserrors.New(nexuserrors.Validation, "scheduler: aggregate/resample request missing base item")
			}
			basePeriod = item.Request.BaseItem.Representation.SamplePeriod
			elemSize = int64(item.Request.BaseItem.Representation.DataType.ElemSize())
		}
		if basePeriod >= groupPeriod && basePeriod%groupPeriod != 0 {
			return nil, nexuserrors.New(nexuserrors.Validation, "scheduler: base period is not an integer multiple of the target period")
		}
		if basePeriod < groupPeriod && groupPeriod%basePeriod != 0 {
			return nil, nexuserrors.New(nexuserrors.Validation, "scheduler: target period is not an integer multiple of the base period")
		}
		basePeriods[i] = basePeriod
		elemSizes[i] = elemSize
	}

	chunkAlign := groupPeriod

	if begin.UnixNano()%int64(chunkAlign) != 0 {
		return nil, nexuserrors.New(nexuserrors.Validation, "scheduler: begin is not aligned to the group's sample period")
	}
	if end.Sub(begin)%chunkAlign != 0 {
		return nil, nexuserrors.New(nexuserrors.Validation, "scheduler: request window is not a multiple of the group's sample period")
	}

	var perUnitBytes int64
	for i := range g.Items {
		// Raw samples amortized per output unit, rounded up: exact for
		// aggregates (basePeriods[i] divides chunkAlign), and conservatively
		// 1 for Resampled items whose base period exceeds chunkAlign (one
		// raw sample serves multiple output ticks, never fewer than one
		// per unit of raw coverage).
		rawUnitsPerChunkAlign := ceilDivUnits(chunkAlign, basePeriods[i])
		// raw samples read from the source (value + status byte) plus the
		// output buffer kept twice over: once assembled in memory, once
		// handed to the cache engine's Update call.
		perUnitBytes += rawUnitsPerChunkAlign*(elemSizes[i]+1) + 1*8*2
	}

	return &groupPlan{
		group:        g,
		groupPeriod:  groupPeriod,
		basePeriod:   chunkAlign,
		perUnitBytes: perUnitBytes,
		begin:        begin,
		end:          end,
		totalUnits:   int64(end.Sub(begin) / chunkAlign),
	}, nil
}

// runGroup walks plan's window from begin to end in chunkAlign-sized
// multiples, each chunk's size chosen by negotiating a byte grant with the
// memory tracker — spec.md §4.H step 4's "request a buffer sized to cover
// as much of the remaining window as the tracker will presently grant."
func (s *Scheduler) runGroup(ctx context.Context, groupIndex int, plan *groupPlan, onProgress ProgressFunc) error {
	totalUnits := plan.totalUnits
	var doneUnits int64

	cursor := plan.begin
	for cursor.Before(plan.end) {
		remaining := plan.end.Sub(cursor) / plan.basePeriod
		maxUnits := remaining
		if maxUnits > defaultMaxChunkUnits {
			maxUnits = defaultMaxChunkUnits
		}

		grant, err := s.tracker.RegisterAllocation(ctx, plan.perUnitBytes, plan.perUnitBytes*maxUnits)
		if err != nil {
			return err
		}

		units := grant.Actual() / plan.perUnitBytes
		if units < 1 {
			units = 1
		}
		if units > remaining {
			units = remaining
		}
		chunkEnd := cursor.Add(plan.basePeriod * time.Duration(units))

		err = s.processChunk(ctx, plan, cursor, chunkEnd)
		grant.Release()
		if err != nil {
			return err
		}

		doneUnits += units
		if onProgress != nil {
			onProgress(groupIndex, float64(doneUnits)/float64(totalUnits))
		}
		cursor = chunkEnd
	}
	return nil
}

// processChunk fills [chunkBegin,chunkEnd) for every item in plan's group,
// serving cached samples where available and decorating newly-read samples
// through the group's controller for the rest, then hands each item's
// assembled output to its sink — spec.md §4.H steps 5-6.
func (s *Scheduler) processChunk(ctx context.Context, plan *groupPlan, chunkBegin, chunkEnd time.Time) error {
	for _, item := range plan.group.Items {
		if err := s.processChunkItem(ctx, plan, item, chunkBegin, chunkEnd); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) processChunkItem(ctx context.Context, plan *groupPlan, item GroupItem, chunkBegin, chunkEnd time.Time) error {
	path, err := item.Request.Item.Path()
	if err != nil {
		return err
	}
	key := cachefile.Key{CatalogItemID: path, BasePeriod: plan.groupPeriod}

	outLen := int(chunkEnd.Sub(chunkBegin) / plan.groupPeriod)
	buf := make([]float64, outLen)

	uncached, err := s.cache.Read(ctx, key, chunkBegin, chunkEnd, buf)
	if err != nil {
		return err
	}

	for _, iv := range uncached {
		values, err := plan.group.Controller.Read(ctx, item.Request, iv.Begin, iv.End)
		if err != nil {
			return err
		}
		offset := int(iv.Begin.Sub(chunkBegin) / plan.groupPeriod)
		copy(buf[offset:offset+len(values)], values)
		if err := s.cache.Update(ctx, key, iv.Begin, values); err != nil {
			return err
		}
	}

	raw := make([]byte, outLen*8)
	for i, v := range buf {
		kernel.PutFloat64(kernel.F64, raw[i*8:i*8+8], v)
	}
	return item.Sink.Write(ctx, raw)
}
