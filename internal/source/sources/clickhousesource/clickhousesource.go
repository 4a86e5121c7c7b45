// Package clickhousesource is a Source backed by a ClickHouse table of raw
// samples — the natural fit for a columnar time-series store among the
// reference plugins. Connection setup is grounded on the teacher's
// pkg/database/clickhouse.go ConnectClickHouse (the database/sql-flavored
// connection, since this plugin only ever issues SELECTs, never the native
// driver's batch insert path).
package clickhousesource

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/kernel"
	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/internal/source"
)

// Config is the JSON payload a clickhousesource instance expects as its
// source.Context.Configuration.
type Config struct {
	Addr         []string      `json:"addr"`
	Database     string        `json:"database"`
	Username     string        `json:"username"`
	Password     string        `json:"password"`
	Table        string        `json:"table"`
	CatalogID    string        `json:"catalog_id"`
	ResourceID   string        `json:"resource_id"`
	SamplePeriod time.Duration `json:"sample_period"`
}

// Source reads raw samples from one ClickHouse table shaped
// (resource_id String, ts DateTime64(9), value Float64).
type Source struct {
	db  *sql.DB
	cfg Config
}

// New constructs an unconfigured clickhousesource.Source — a source.Factory.
func New() source.Source { return &Source{} }

func (s *Source) SetContext(ctx context.Context, sctx source.Context) error {
	var cfg Config
	if err := json.Unmarshal(sctx.Configuration, &cfg); err != nil {
		return fmt.Errorf("clickhousesource: invalid configuration: %w", err)
	}
	if len(cfg.Addr) == 0 || cfg.Table == "" || cfg.CatalogID == "" || cfg.ResourceID == "" || cfg.SamplePeriod <= 0 {
		return fmt.Errorf("clickhousesource: addr, table, catalog_id, resource_id and sample_period are required")
	}

	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("clickhousesource: failed to ping clickhouse: %w", err)
	}

	s.db = db
	s.cfg = cfg
	return nil
}

func (s *Source) representation() catalog.Representation {
	return catalog.Representation{DataType: kernel.F64, SamplePeriod: s.cfg.SamplePeriod, Kind: kernel.Original}
}

func (s *Source) item() (catalog.Item, error) {
	resource := catalog.Resource{ID: s.cfg.ResourceID, Representations: []catalog.Representation{s.representation()}}
	cat, err := catalog.New(s.cfg.CatalogID, nil, []catalog.Resource{resource})
	if err != nil {
		return catalog.Item{}, err
	}
	return catalog.Item{Catalog: cat, Resource: resource, Representation: s.representation()}, nil
}

func (s *Source) GetCatalogRegistrations(ctx context.Context, path string) ([]catalog.Registration, error) {
	if path != s.cfg.CatalogID {
		return nil, nil
	}
	return []catalog.Registration{{
		Path:       s.cfg.CatalogID + "/" + s.cfg.ResourceID,
		Title:      s.cfg.ResourceID,
		IsVisible:  true,
		IsReleased: true,
	}}, nil
}

func (s *Source) EnrichCatalog(ctx context.Context, cat catalog.Catalog) (catalog.Catalog, error) {
	if cat.ID != s.cfg.CatalogID {
		return cat, nil
	}
	self, err := s.item()
	if err != nil {
		return catalog.Catalog{}, err
	}
	return catalog.Merge(cat, self.Catalog)
}

func (s *Source) GetTimeRange(ctx context.Context, item catalog.Item) (time.Time, time.Time, error) {
	query := fmt.Sprintf("SELECT min(ts), max(ts) FROM %s WHERE resource_id = ?", s.cfg.Table)
	var begin, end sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, s.cfg.ResourceID).Scan(&begin, &end); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("clickhousesource: GetTimeRange: %w", err)
	}
	if !begin.Valid || !end.Valid {
		return time.Time{}, time.Time{}, nexuserrors.New(nexuserrors.NotFound, "clickhousesource: no samples for "+s.cfg.ResourceID)
	}
	return begin.Time.UTC(), end.Time.Add(s.cfg.SamplePeriod).UTC(), nil
}

func (s *Source) GetAvailability(ctx context.Context, item catalog.Item, begin, end time.Time) (float64, error) {
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE resource_id = ? AND ts >= ? AND ts < ?", s.cfg.Table)
	var count int64
	if err := s.db.QueryRowContext(ctx, query, s.cfg.ResourceID, begin, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("clickhousesource: GetAvailability: %w", err)
	}
	expected := int64(end.Sub(begin) / s.cfg.SamplePeriod)
	if expected <= 0 {
		return 0, nil
	}
	availability := float64(count) / float64(expected)
	if availability > 1 {
		availability = 1
	}
	return availability, nil
}

// Read issues a single SELECT ... WHERE ts >= ? AND ts < ? query and
// scatters the result into a dense, period-aligned buffer, leaving rows
// ClickHouse doesn't have marked invalid — spec.md §4.D.1's convention.
func (s *Source) Read(ctx context.Context, req source.ReadRequest) (source.ReadResult, error) {
	period := req.Item.Representation.SamplePeriod
	count := int(req.End.Sub(req.Begin) / period)
	if count <= 0 {
		return source.ReadResult{Data: []byte{}, Status: []byte{}}, nil
	}

	query := fmt.Sprintf("SELECT ts, value FROM %s WHERE resource_id = ? AND ts >= ? AND ts < ? ORDER BY ts", s.cfg.Table)
	rows, err := s.db.QueryContext(ctx, query, s.cfg.ResourceID, req.Begin, req.End)
	if err != nil {
		return source.ReadResult{}, fmt.Errorf("clickhousesource: Read: %w", err)
	}
	defer rows.Close()

	values := make([]float64, count)
	status := make([]byte, count)
	for rows.Next() {
		var ts time.Time
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return source.ReadResult{}, fmt.Errorf("clickhousesource: Read: scan: %w", err)
		}
		idx := int(ts.Sub(req.Begin) / period)
		if idx < 0 || idx >= count {
			continue
		}
		values[idx] = value
		status[idx] = 1
	}
	if err := rows.Err(); err != nil {
		return source.ReadResult{}, fmt.Errorf("clickhousesource: Read: %w", err)
	}

	data := make([]byte, count*kernel.F64.ElemSize())
	for i, v := range values {
		kernel.PutFloat64(kernel.F64, data[i*8:i*8+8], v)
	}
	return source.ReadResult{Data: data, Status: status}, nil
}
