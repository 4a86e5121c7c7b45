package kernel

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func f64Bytes(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func allValid(n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// TestRoundTripAggregationScenario is spec.md §8 scenario 1: 10-minute mean
// over one hour of per-second samples x[i]=i.
func TestRoundTripAggregationScenario(t *testing.T) {
	n := 3600
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i)
	}
	raw := f64Bytes(values)
	status := allValid(n)

	out, err := Aggregate(F64, Mean, 600, raw, status)
	require.NoError(t, err)
	require.Equal(t, []float64{299.5, 899.5, 1499.5, 2099.5, 2699.5, 3299.5}, out)
}

func TestResampleBoundaryScenario(t *testing.T) {
	n := 2
	values := []float64{0, 1}
	_ = n
	out, err := Resample(values, 10, 2, 15)
	require.NoError(t, err)
	want := []float64{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1}
	require.Equal(t, want, out)
}

func TestMeanSkipsNaN(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	raw := f64Bytes(values)
	status := []byte{1, 0, 1, 1}
	out, err := Aggregate(F64, Mean, 4, raw, status)
	require.NoError(t, err)
	require.InDelta(t, (1.0+3.0+4.0)/3.0, out[0], 1e-9)
}

func TestAllNaNWindowYieldsNaN(t *testing.T) {
	values := []float64{1, 2}
	raw := f64Bytes(values)
	status := []byte{0, 0}
	out, err := Aggregate(F64, Mean, 2, raw, status)
	require.NoError(t, err)
	require.True(t, math.IsNaN(out[0]))
}

func TestStdUsesSampleDenominator(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	raw := f64Bytes(values)
	status := allValid(len(values))
	out, err := Aggregate(F64, Std, len(values), raw, status)
	require.NoError(t, err)
	require.InDelta(t, 2.13809, out[0], 1e-4)
}

func TestRmsDefinition(t *testing.T) {
	values := []float64{3, 4}
	raw := f64Bytes(values)
	status := allValid(len(values))
	out, err := Aggregate(F64, Rms, 2, raw, status)
	require.NoError(t, err)
	require.InDelta(t, math.Sqrt((9.0+16.0)/2.0), out[0], 1e-9)
}

// TestMeanPolarDegAgainstIndependentReference computes the circular mean a
// different way (summing unit vectors directly instead of reusing
// reduceMeanPolarDeg's own math) per spec.md §8/§9's demand for an
// independent check on this historically fragile kernel.
func TestMeanPolarDegAgainstIndependentReference(t *testing.T) {
	degrees := []float64{350, 10, 0}
	raw := f64Bytes(degrees)
	status := allValid(len(degrees))

	out, err := Aggregate(F64, MeanPolarDeg, len(degrees), raw, status)
	require.NoError(t, err)

	var x, y float64
	for _, d := range degrees {
		rad := d * math.Pi / 180
		x += math.Cos(rad)
		y += math.Sin(rad)
	}
	reference := math.Atan2(y, x) * 180 / math.Pi
	if reference <= -180 {
		reference += 360
	}
	if reference > 180 {
		reference -= 360
	}
	require.InDelta(t, reference, out[0], 1e-9)
	require.InDelta(t, 0.0, out[0], 1e-6)
}

func TestMinBitwiseOnIntegerType(t *testing.T) {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint16(raw[0:2], 0b1100)
	binary.LittleEndian.PutUint16(raw[2:4], 0b1010)
	status := allValid(2)

	out, err := Aggregate(U16, MinBitwise, 2, raw, status)
	require.NoError(t, err)
	require.Equal(t, float64(0b1000), out[0])
}

func TestMaxBitwiseOnIntegerType(t *testing.T) {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint16(raw[0:2], 0b1100)
	binary.LittleEndian.PutUint16(raw[2:4], 0b0010)
	status := allValid(2)

	out, err := Aggregate(U16, MaxBitwise, 2, raw, status)
	require.NoError(t, err)
	require.Equal(t, float64(0b1110), out[0])
}

func TestAggregateRejectsBlockSizeNotDividingLength(t *testing.T) {
	values := []float64{1, 2, 3}
	raw := f64Bytes(values)
	status := allValid(3)
	_, err := Aggregate(F64, Mean, 2, raw, status)
	require.Error(t, err)
}

func TestResampleRejectsOutOfRangeWindow(t *testing.T) {
	_, err := Resample([]float64{1, 2}, 10, 0, 21)
	require.Error(t, err)
}
