// Package memsource is a pure in-memory Source used by the engine's own
// unit tests (internal/scheduler) and as a reference
// implementation of the plugin contract — no network, no disk.
package memsource

import (
	"context"
	"sort"
	"time"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/kernel"
	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/internal/source"
)

// Series holds one resource/representation's samples as a dense array
// starting at Begin, spaced by the representation's SamplePeriod.
type Series struct {
	Item   catalog.Item
	Begin  time.Time
	Values []float64
}

// Source serves pre-loaded Series out of memory. Register adds series
// before or after SetContext. The series map has no lock: concurrent reads
// are safe, but Register must not run concurrently with any other method.
type Source struct {
	catalog catalog.Catalog
	series  map[string]Series
}

// New constructs an empty memsource.Source advertising cat as its catalog
// contribution.
func New(cat catalog.Catalog) *Source {
	return &Source{catalog: cat, series: make(map[string]Series)}
}

// Register loads one series, keyed by its item's canonical path.
func (s *Source) Register(series Series) error {
	path, err := series.Item.Path()
	if err != nil {
		return err
	}
	s.series[path] = series
	return nil
}

func (s *Source) SetContext(ctx context.Context, sctx source.Context) error { return nil }

func (s *Source) GetCatalogRegistrations(ctx context.Context, path string) ([]catalog.Registration, error) {
	if path != s.catalog.ID {
		return nil, nil
	}
	regs := make([]catalog.Registration, 0, len(s.catalog.Resources))
	for _, r := range s.catalog.Resources {
		regs = append(regs, catalog.Registration{
			Path:      s.catalog.ID + "/" + r.ID,
			Title:     r.ID,
			IsVisible: true,
		})
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Path < regs[j].Path })
	return regs, nil
}

func (s *Source) EnrichCatalog(ctx context.Context, cat catalog.Catalog) (catalog.Catalog, error) {
	if cat.ID != s.catalog.ID {
		return cat, nil
	}
	return catalog.Merge(cat, s.catalog)
}

func (s *Source) GetTimeRange(ctx context.Context, item catalog.Item) (time.Time, time.Time, error) {
	path, err := item.Path()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	series, ok := s.series[path]
	if !ok {
		return time.Time{}, time.Time{}, nexuserrors.New(nexuserrors.NotFound, "no series registered for "+path)
	}
	end := series.Begin.Add(time.Duration(len(series.Values)) * item.Representation.SamplePeriod)
	return series.Begin, end, nil
}

func (s *Source) GetAvailability(ctx context.Context, item catalog.Item, begin, end time.Time) (float64, error) {
	path, err := item.Path()
	if err != nil {
		return 0, err
	}
	series, ok := s.series[path]
	if !ok {
		return 0, nexuserrors.New(nexuserrors.NotFound, "no series registered for "+path)
	}
	seriesEnd := series.Begin.Add(time.Duration(len(series.Values)) * item.Representation.SamplePeriod)
	overlapBegin := maxTime(begin, series.Begin)
	overlapEnd := minTime(end, seriesEnd)
	if !overlapEnd.After(overlapBegin) {
		return 0, nil
	}
	total := end.Sub(begin)
	if total <= 0 {
		return 0, nil
	}
	return float64(overlapEnd.Sub(overlapBegin)) / float64(total), nil
}

func (s *Source) Read(ctx context.Context, req source.ReadRequest) (source.ReadResult, error) {
	path, err := req.Item.Path()
	if err != nil {
		return source.ReadResult{}, err
	}
	series, ok := s.series[path]
	if !ok {
		return source.ReadResult{}, nexuserrors.New(nexuserrors.NotFound, "no series registered for "+path)
	}

	period := req.Item.Representation.SamplePeriod
	startIdx := int(req.Begin.Sub(series.Begin) / period)
	count := int(req.End.Sub(req.Begin) / period)

	values := make([]float64, count)
	status := make([]byte, count)
	for i := 0; i < count; i++ {
		idx := startIdx + i
		if idx < 0 || idx >= len(series.Values) {
			continue
		}
		values[i] = series.Values[idx]
		status[i] = 1
	}

	data, err := encodeFloat64(req.Item.Representation.DataType, values, status)
	if err != nil {
		return source.ReadResult{}, err
	}
	return source.ReadResult{Data: data, Status: status}, nil
}

func encodeFloat64(dt kernel.DataType, values []float64, status []byte) ([]byte, error) {
	if dt != kernel.F64 {
		return nil, nexuserrors.New(nexuserrors.Validation, "memsource only encodes F64 series")
	}
	size := dt.ElemSize()
	out := make([]byte, size*len(values))
	for i, v := range values {
		kernel.PutFloat64(dt, out[i*size:i*size+size], v)
	}
	return out, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
