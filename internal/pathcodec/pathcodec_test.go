package pathcodec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
)

func TestParseRenderRoundTrip(t *testing.T) {
	paths := []string{
		"/building/temperature/1_s",
		"/building/temperature/10_min_mean#base=1_s",
		"/building/temperature/100_ms_resampled#base=1_s",
		"/a/b/c/sensor/1_h_max(threshold=5)",
		"/a/b/c/sensor/1_h_max(mode=strict,threshold=5)",
		"/a/b/c/sensor/1_h_max(zeta=1,alpha=2,mid=3)",
	}
	for _, path := range paths {
		pp, err := Parse(path)
		require.NoError(t, err, path)
		rendered, err := Render(pp)
		require.NoError(t, err, path)
		require.Equal(t, path, rendered)
	}
}

func TestRenderPreservesParseOrderEvenWhenNotSorted(t *testing.T) {
	pp, err := Parse("/c/r/1_h_max(zeta=1,alpha=2,mid=3)")
	require.NoError(t, err)
	require.Equal(t, []string{"zeta", "alpha", "mid"}, pp.ParamOrder)

	rendered, err := Render(pp)
	require.NoError(t, err)
	require.Equal(t, "/c/r/1_h_max(zeta=1,alpha=2,mid=3)", rendered)
}

func TestRenderSortsParamsWhenNoOrderGiven(t *testing.T) {
	pp := ParsedPath{
		CatalogID:  "/c",
		ResourceID: "r",
		Period:     time.Hour,
		Kind:       "max",
		Params:     map[string]string{"zeta": "1", "alpha": "2"},
	}
	rendered, err := Render(pp)
	require.NoError(t, err)
	require.Equal(t, "/c/r/1_h_max(alpha=2,zeta=1)", rendered)
}

func TestRenderPeriodPicksLargestExactUnit(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{time.Second, "1_s"},
		{10 * time.Minute, "10_min"},
		{24 * time.Hour, "1_d"},
		{100 * time.Millisecond, "100_ms"},
		{1500 * time.Millisecond, "1500_ms"},
	}
	for _, c := range cases {
		got, err := RenderPeriod(c.d)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestParsePeriodRoundTripForAllUnits(t *testing.T) {
	for _, u := range units {
		token, err := RenderPeriod(u.duration)
		require.NoError(t, err)
		d, err := ParsePeriod(token)
		require.NoError(t, err)
		require.Equal(t, u.duration, d)
	}
}

func TestParseInvalidPath(t *testing.T) {
	_, err := Parse("not-a-path")
	require.Error(t, err)
	require.True(t, nexuserrors.Is(err, nexuserrors.Validation))
}

func TestRenderPeriodRejectsNonTickMultiple(t *testing.T) {
	_, err := RenderPeriod(150 * time.Nanosecond)
	require.Error(t, err)
}

func TestParseWithParams(t *testing.T) {
	pp, err := Parse("/c/r/1_h_max(threshold=5,mode=strict)")
	require.NoError(t, err)
	require.Equal(t, "5", pp.Params["threshold"])
	require.Equal(t, "strict", pp.Params["mode"])
	require.Equal(t, "max", pp.Kind)
}
