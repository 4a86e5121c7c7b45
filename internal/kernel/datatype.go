// Package kernel implements spec.md Component E: pure numeric primitives
// operating over contiguous byte spans — elementwise conversion to
// float64, aggregation (mean/min/max/.../sum) and resampling. Kernels take
// no logger and no context: they never suspend, consistent with spec.md
// §5's "no other operation suspends" rule. Each allocates its output
// slice; Aggregate also allocates one intermediate float64 slice for the
// converted inputs.
package kernel

import (
	"encoding/binary"
	"math"

	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
)

// DataType is one of the representation data types from spec.md §3.
type DataType int

const (
	U8 DataType = iota
	I8
	U16
	I16
	U32
	I32
	U64
	I64
	F32
	F64
)

// ElemSize returns the encoded element size, in bytes.
func (dt DataType) ElemSize() int {
	switch dt {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case U32, I32, F32:
		return 4
	case U64, I64, F64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether dt is a floating-point representation.
func (dt DataType) IsFloat() bool {
	return dt == F32 || dt == F64
}

// elemAt decodes the value at index i of raw as a float64. It does not
// look at status; ToFloat64 applies the status-to-NaN mapping from
// spec.md §4.D.1 before calling it.
func elemAt(dt DataType, raw []byte, i int) float64 {
	size := dt.ElemSize()
	b := raw[i*size : i*size+size]
	switch dt {
	case U8:
		return float64(b[0])
	case I8:
		return float64(int8(b[0]))
	case U16:
		return float64(binary.LittleEndian.Uint16(b))
	case I16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case U32:
		return float64(binary.LittleEndian.Uint32(b))
	case I32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case U64:
		return float64(binary.LittleEndian.Uint64(b))
	case I64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case F32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case F64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		return math.NaN()
	}
}

// bitsAt decodes the value at index i of raw as its raw unsigned bit
// pattern, used by MinBitwise/MaxBitwise per spec.md §4.E.
func bitsAt(dt DataType, raw []byte, i int) uint64 {
	size := dt.ElemSize()
	b := raw[i*size : i*size+size]
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		return 0
	}
}

// bitsToValue reinterprets an aggregated bit pattern back into the output
// domain: float-like source types decode the bits as a float of the same
// width; integer source types are promoted to their numeric value.
func bitsToValue(dt DataType, bits uint64) float64 {
	switch dt {
	case F32:
		return float64(math.Float32frombits(uint32(bits)))
	case F64:
		return math.Float64frombits(bits)
	case I8:
		return float64(int8(uint8(bits)))
	case I16:
		return float64(int16(uint16(bits)))
	case I32:
		return float64(int32(uint32(bits)))
	case I64:
		return float64(int64(bits))
	default:
		return float64(bits)
	}
}

// PutFloat64 encodes v into dst as dt's native element encoding — the
// inverse of elemAt, used by sources that keep their backing store as
// float64 and must still speak the wire layout ToFloat64 decodes. dst must
// be at least dt.ElemSize() bytes.
func PutFloat64(dt DataType, dst []byte, v float64) {
	switch dt {
	case U8:
		dst[0] = byte(uint8(v))
	case I8:
		dst[0] = byte(int8(v))
	case U16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case I16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
	case U32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case I32:
		binary.LittleEndian.PutUint32(dst, uint32(int32(v)))
	case U64:
		binary.LittleEndian.PutUint64(dst, uint64(v))
	case I64:
		binary.LittleEndian.PutUint64(dst, uint64(int64(v)))
	case F32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
	case F64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
	}
}

// ToFloat64 converts raw bytes of the given type to float64, mapping any
// sample whose status byte is 0 to NaN, per spec.md §4.D.1.
func ToFloat64(dt DataType, raw []byte, status []byte) ([]float64, error) {
	size := dt.ElemSize()
	if size == 0 {
		return nil, nexuserrors.New(nexuserrors.Validation, "unknown data type")
	}
	if len(raw) != len(status)*size {
		return nil, nexuserrors.New(nexuserrors.Validation, "data/status buffer length mismatch")
	}
	out := make([]float64, len(status))
	for i := range status {
		if status[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = elemAt(dt, raw, i)
	}
	return out, nil
}
