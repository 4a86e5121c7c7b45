package kernel

import "github.com/nexus-main/nexus-sub002/internal/nexuserrors"

var errInvalidBlockSize = nexuserrors.New(nexuserrors.Validation, "block size must evenly divide the input length")

// Resample upsamples values by integer ratio r: each input sample is
// conceptually repeated r times, forming a virtual sequence of
// len(values)*r elements. skip is the offset into that virtual sequence
// where the output window begins (computed by the caller so the output
// begins exactly at the requested begin timestamp, per spec.md §4.D.3);
// outputLen is the number of samples to emit. Boundary truncation at
// either edge of values is the caller's responsibility to avoid by sizing
// skip/outputLen correctly — Resample returns a Validation error if the
// caller requests samples outside [0, len(values)*r).
func Resample(values []float64, r int, skip int, outputLen int) ([]float64, error) {
	if r <= 0 {
		return nil, nexuserrors.New(nexuserrors.Validation, "resample ratio must be a positive integer")
	}
	if skip < 0 || outputLen < 0 || skip+outputLen > len(values)*r {
		return nil, nexuserrors.New(nexuserrors.Validation, "resample window out of range")
	}

	out := make([]float64, outputLen)
	for i := 0; i < outputLen; i++ {
		out[i] = values[(skip+i)/r]
	}
	return out, nil
}
