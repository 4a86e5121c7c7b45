package cachefile

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
)

// magic and version identify the on-disk cache file format from spec.md §6:
// header (magic, version u32, base-period-ticks u64, file-begin-ticks i64,
// element-count u32), then N×f64 data, then an interval table
// (u32 count, N×(i64,i64)).
const (
	magic         uint32 = 0x4e455831 // "NEX1"
	formatVersion uint32 = 1
	headerSize           = 4 + 4 + 8 + 8 + 4
)

type header struct {
	BasePeriodTicks uint64
	FileBeginTicks  int64
	ElementCount    uint32
}

// tick is spec.md's 100ns unit — the glossary's "sample period... always an
// integer number of 100-ns ticks."
const tickDuration = 100 * time.Nanosecond

func toTicks(t time.Time) int64       { return t.UnixNano() / int64(tickDuration) }
func fromTicks(ticks int64) time.Time { return time.Unix(0, ticks*int64(tickDuration)).UTC() }
func periodTicks(d time.Duration) uint64 {
	return uint64(d / tickDuration)
}

// encodeFile renders a complete cache file image: header, dense data array,
// interval table — intervals given in absolute time, stored as ticks.
func encodeFile(hdr header, data []float64, intervals []Interval) []byte {
	buf := make([]byte, headerSize+len(data)*8+4+len(intervals)*16)
	off := 0

	binary.LittleEndian.PutUint32(buf[off:], magic)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], formatVersion)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], hdr.BasePeriodTicks)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(hdr.FileBeginTicks))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], hdr.ElementCount)
	off += 4

	for _, v := range data {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(intervals)))
	off += 4
	for _, iv := range intervals {
		binary.LittleEndian.PutUint64(buf[off:], uint64(toTicks(iv.Begin)))
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], uint64(toTicks(iv.End)))
		off += 8
	}
	return buf
}

// decodeFile is encodeFile's inverse.
func decodeFile(raw []byte) (header, []float64, []Interval, error) {
	if len(raw) < headerSize {
		return header{}, nil, nil, nexuserrors.New(nexuserrors.Internal, "cachefile: truncated header")
	}
	off := 0
	gotMagic := binary.LittleEndian.Uint32(raw[off:])
	off += 4
	if gotMagic != magic {
		return header{}, nil, nil, nexuserrors.New(nexuserrors.Internal, "cachefile: bad magic")
	}
	gotVersion := binary.LittleEndian.Uint32(raw[off:])
	off += 4
	if gotVersion != formatVersion {
		return header{}, nil, nil, nexuserrors.New(nexuserrors.Internal, "cachefile: unsupported format version")
	}

	var hdr header
	hdr.BasePeriodTicks = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	hdr.FileBeginTicks = int64(binary.LittleEndian.Uint64(raw[off:]))
	off += 8
	hdr.ElementCount = binary.LittleEndian.Uint32(raw[off:])
	off += 4

	dataEnd := off + int(hdr.ElementCount)*8
	if dataEnd > len(raw) {
		return header{}, nil, nil, nexuserrors.New(nexuserrors.Internal, "cachefile: truncated data section")
	}
	data := make([]float64, hdr.ElementCount)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
		off += 8
	}

	if off+4 > len(raw) {
		return header{}, nil, nil, nexuserrors.New(nexuserrors.Internal, "cachefile: truncated interval count")
	}
	count := binary.LittleEndian.Uint32(raw[off:])
	off += 4
	intervals := make([]Interval, count)
	for i := range intervals {
		if off+16 > len(raw) {
			return header{}, nil, nil, nexuserrors.New(nexuserrors.Internal, "cachefile: truncated interval table")
		}
		beginTicks := int64(binary.LittleEndian.Uint64(raw[off:]))
		off += 8
		endTicks := int64(binary.LittleEndian.Uint64(raw[off:]))
		off += 8
		intervals[i] = Interval{Begin: fromTicks(beginTicks), End: fromTicks(endTicks)}
	}

	return hdr, data, intervals, nil
}
