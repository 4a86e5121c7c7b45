// Package writer implements spec.md Component I: the file-period loop that
// demultiplexes a set of pipe-fed streams — normally produced by
// internal/scheduler's multiplexed Read — into a single pluggable writer
// instance, one output file per file_period-aligned window.
package writer

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/internal/pipe"
	"github.com/nexus-main/nexus-sub002/pkg/logging"
)

// Context carries what a writer needs at SetContext time, mirroring
// source.Context's shape for the symmetric half of the plugin surface.
type Context struct {
	ResourceLocator string
	Configuration   []byte
	SystemConfig    map[string]string
}

// ItemSlice is one item's samples for the current Write call, at the
// requests' shared sample period.
type ItemSlice struct {
	Item   catalog.Item
	Values []float64
}

// Writer is the pluggable sink contract from spec.md §6's "Data writer
// plugin contract": set_context, open, write, close.
type Writer interface {
	SetContext(ctx context.Context, wctx Context) error
	Open(ctx context.Context, fileBegin time.Time, filePeriod, samplePeriod time.Duration, items []catalog.Item) error
	Write(ctx context.Context, fileOffset time.Duration, slices []ItemSlice) error
	Close(ctx context.Context) error
}

// Request pairs one item with the pipe it is read from — the reader half of
// a scheduler-produced stream.
type Request struct {
	Item   catalog.Item
	Source *pipe.Pipe
}

// ProgressFunc receives the controller's cumulative progress in [0,1], per
// spec.md §4.I's "(consumed_ticks + relative_progress * current_ticks) /
// total_ticks" formula.
type ProgressFunc func(fraction float64)

// Controller drives one Writer instance through the file-period loop.
type Controller struct {
	logger logging.Logger
}

// New constructs a Controller.
func New(logger logging.Logger) *Controller {
	return &Controller{logger: logger}
}

// Run partitions [begin, end) into filePeriod-aligned windows and, for each,
// opens wr, repeatedly batches the minimum slice length currently available
// across every request's pipe, calls wr.Write, and advances each pipe by
// exactly the bytes consumed — spec.md §4.I. Close is guaranteed on every
// exit path, and every request's pipe is completed with Run's own result so
// a cancelled or failed writer never leaves a producer blocked on Write.
func (c *Controller) Run(ctx context.Context, begin, end time.Time, samplePeriod, filePeriod time.Duration, requests []Request, wr Writer, onProgress ProgressFunc) (err error) {
	if len(requests) == 0 {
		return nexuserrors.New(nexuserrors.Validation, "writer: no requests supplied")
	}
	if samplePeriod <= 0 || begin.UnixNano()%int64(samplePeriod) != 0 {
		return nexuserrors.New(nexuserrors.Validation, "writer: begin is not aligned to the sample period")
	}
	if filePeriod <= 0 || filePeriod%samplePeriod != 0 {
		return nexuserrors.New(nexuserrors.Validation, "writer: file period must be a multiple of the sample period")
	}
	if !end.After(begin) {
		return nexuserrors.New(nexuserrors.Validation, "writer: end must be after begin")
	}
	for _, r := range requests {
		if r.Item.Representation.SamplePeriod != samplePeriod {
			return nexuserrors.New(nexuserrors.Validation, "writer: all requests must share the writer's sample period")
		}
	}

	totalTicks := int64(end.Sub(begin) / samplePeriod)
	items := make([]catalog.Item, len(requests))
	for i, r := range requests {
		items[i] = r.Item
	}
	bufs := make([][]byte, len(requests))

	var isOpen bool
	closeCurrent := func() error {
		if !isOpen {
			return nil
		}
		isOpen = false
		return wr.Close(ctx)
	}

	defer func() {
		if cerr := closeCurrent(); cerr != nil && err == nil {
			err = cerr
		}
		for _, r := range requests {
			r.Source.Complete(err)
		}
	}()

	var consumedTicks int64
	cursor := begin
	for cursor.Before(end) {
		select {
		case <-ctx.Done():
			return nexuserrors.Wrap(nexuserrors.Cancelled, "writer: cancelled", ctx.Err())
		default:
		}

		fileBegin := cursor.Add(-time.Duration(cursor.UnixNano() % int64(filePeriod)))
		fileEnd := fileBegin.Add(filePeriod)
		if fileEnd.After(end) {
			fileEnd = end
		}
		fileTicks := int64(fileEnd.Sub(cursor) / samplePeriod)

		if err := closeCurrent(); err != nil {
			return err
		}
		if err := wr.Open(ctx, fileBegin, filePeriod, samplePeriod, items); err != nil {
			return nexuserrors.Wrap(nexuserrors.ExtensionRuntime, "writer: Open failed", err)
		}
		isOpen = true

		fileOffset := cursor.Sub(fileBegin)
		var writtenTicks int64
		for writtenTicks < fileTicks {
			select {
			case <-ctx.Done():
				return nexuserrors.Wrap(nexuserrors.Cancelled, "writer: cancelled", ctx.Err())
			default:
			}

			minTicks := int64(-1)
			for i, r := range requests {
				if len(bufs[i]) == 0 {
					chunk, rerr := readChunk(r.Source)
					if rerr != nil {
						if rerr == io.EOF {
							return nexuserrors.New(nexuserrors.Internal, "writer: source stream ended before its file window was filled")
						}
						return rerr
					}
					bufs[i] = chunk
				}
				ticks := int64(len(bufs[i]) / 8)
				if minTicks < 0 || ticks < minTicks {
					minTicks = ticks
				}
			}
			if remaining := fileTicks - writtenTicks; minTicks > remaining {
				minTicks = remaining
			}
			minBytes := int(minTicks * 8)

			slices := make([]ItemSlice, len(requests))
			for i, r := range requests {
				slices[i] = ItemSlice{Item: r.Item, Values: bytesToFloat64(bufs[i][:minBytes])}
				bufs[i] = bufs[i][minBytes:]
			}

			if err := wr.Write(ctx, fileOffset, slices); err != nil {
				return nexuserrors.Wrap(nexuserrors.ExtensionRuntime, "writer: Write failed", err)
			}
			fileOffset += time.Duration(minTicks) * samplePeriod
			writtenTicks += minTicks
			consumedTicks += minTicks

			if onProgress != nil {
				onProgress(float64(consumedTicks) / float64(totalTicks))
			}
		}

		cursor = fileEnd
	}

	return nil
}

// readChunk drains exactly one producer-side chunk from p: the bytes handed
// to one Write call, however many Read calls it takes to fully consume
// them. This is the unit the "minimum available slice" batching in Run
// compares across requests each round.
func readChunk(p *pipe.Pipe) ([]byte, error) {
	scratch := make([]byte, 4096)
	n, err := p.Read(scratch)
	if n == 0 {
		return nil, err
	}
	out := append([]byte(nil), scratch[:n]...)
	for p.Pending() > 0 {
		n2, err2 := p.Read(scratch)
		out = append(out, scratch[:n2]...)
		if err2 != nil {
			return out, err2
		}
	}
	return out, nil
}

func bytesToFloat64(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8 : i*8+8]))
	}
	return out
}
