package clickhousesource

import (
	"context"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/kernel"
	"github.com/nexus-main/nexus-sub002/internal/source"
)

func newTestSource(t *testing.T) (*Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Source{db: db, cfg: Config{
		Table:        "samples",
		CatalogID:    "/weather",
		ResourceID:   "temperature",
		SamplePeriod: time.Minute,
	}}, mock
}

func TestGetTimeRangeReadsMinAndMax(t *testing.T) {
	s, mock := newTestSource(t)
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(59 * time.Minute)

	query := regexp.QuoteMeta("SELECT min(ts), max(ts) FROM samples WHERE resource_id = ?")
	mock.ExpectQuery(query).WithArgs("temperature").
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(t0, t1))

	item, err := s.item()
	require.NoError(t, err)
	begin, end, err := s.GetTimeRange(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, begin.Equal(t0))
	assert.True(t, end.Equal(t0.Add(time.Hour)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTimeRangeReturnsNotFoundWhenEmpty(t *testing.T) {
	s, mock := newTestSource(t)

	query := regexp.QuoteMeta("SELECT min(ts), max(ts) FROM samples WHERE resource_id = ?")
	mock.ExpectQuery(query).WithArgs("temperature").
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(nil, nil))

	item, err := s.item()
	require.NoError(t, err)
	_, _, err = s.GetTimeRange(context.Background(), item)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAvailabilityComputesFractionOfExpectedSamples(t *testing.T) {
	s, mock := newTestSource(t)
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	query := regexp.QuoteMeta("SELECT count(*) FROM samples WHERE resource_id = ? AND ts >= ? AND ts < ?")
	mock.ExpectQuery(query).WithArgs("temperature", t0, t0.Add(10*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	availability, err := s.GetAvailability(context.Background(), catalog.Item{}, t0, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, availability, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadFillsGapsWithInvalidStatus(t *testing.T) {
	s, mock := newTestSource(t)
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	query := regexp.QuoteMeta("SELECT ts, value FROM samples WHERE resource_id = ? AND ts >= ? AND ts < ? ORDER BY ts")
	mock.ExpectQuery(query).WithArgs("temperature", t0, t0.Add(3*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"ts", "value"}).
			AddRow(t0, 10.0).
			AddRow(t0.Add(2*time.Minute), 30.0))

	item, err := s.item()
	require.NoError(t, err)
	result, err := s.Read(context.Background(), source.ReadRequest{Item: item, Begin: t0, End: t0.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []byte{1, 0, 1}, result.Status)
	values, err := kernel.ToFloat64(kernel.F64, result.Data, result.Status)
	require.NoError(t, err)
	assert.Equal(t, 10.0, values[0])
	assert.True(t, math.IsNaN(values[1]))
	assert.Equal(t, 30.0, values[2])
}
