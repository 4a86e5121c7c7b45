// Package kafkasource is a Source backed by a log-compacted Kafka topic: one
// record per (catalog item, sample), keyed by catalog item ID so compaction
// keeps only the latest value for keys that get overwritten, with historical
// samples retained as long as the topic's retention window allows. The
// consume loop is grounded on the teacher's pkg/kafka/consumer.go Consumer
// (PollFetches loop, manual offset commits, BlockRebalanceOnPoll), adapted
// from an event-bus consumer into a tailing index builder: records are
// folded into an in-memory per-item series instead of being dispatched to a
// handler.
package kafkasource

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/kernel"
	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/internal/source"
	"github.com/nexus-main/nexus-sub002/pkg/logging"
)

// Config is the JSON payload a kafkasource instance expects as its
// source.Context.Configuration.
type Config struct {
	Brokers      []string      `json:"brokers"`
	Topic        string        `json:"topic"`
	GroupID      string        `json:"group_id"`
	ClientID     string        `json:"client_id"`
	CatalogID    string        `json:"catalog_id"`
	ResourceID   string        `json:"resource_id"`
	SamplePeriod time.Duration `json:"sample_period"`
}

// record is the JSON value carried by each topic message.
type record struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// series holds one item's samples in an unordered map keyed by timestamp.
// Compaction means a later record for a timestamp already seen
// replaces it rather than appending a duplicate.
type series struct {
	mu      sync.RWMutex
	samples map[int64]float64 // unix nanos -> value
}

func newSeries() *series { return &series{samples: make(map[int64]float64)} }

func (s *series) put(ts time.Time, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[ts.UnixNano()] = value
}

func (s *series) timeRange() (time.Time, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.samples) == 0 {
		return time.Time{}, time.Time{}, false
	}
	keys := make([]int64, 0, len(s.samples))
	for k := range s.samples {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return time.Unix(0, keys[0]).UTC(), time.Unix(0, keys[len(keys)-1]).UTC(), true
}

func (s *series) read(begin, end time.Time, period time.Duration) ([]float64, []byte) {
	count := int(end.Sub(begin) / period)
	values := make([]float64, count)
	status := make([]byte, count)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for tsNanos, v := range s.samples {
		ts := time.Unix(0, tsNanos).UTC()
		if ts.Before(begin) || !ts.Before(end) {
			continue
		}
		idx := int(ts.Sub(begin) / period)
		values[idx] = v
		status[idx] = 1
	}
	return values, status
}

// Source tails one compacted Kafka topic and exposes its contents as a
// single item's Original representation.
type Source struct {
	cfg    Config
	logger logging.Logger
	client *kgo.Client
	series *series
	cancel context.CancelFunc
}

// New constructs an unconfigured kafkasource.Source — a source.Factory.
func New() source.Source { return &Source{series: newSeries()} }

// SetContext connects to the cluster and starts a background goroutine that
// tails the topic for the lifetime of the process. source.Source has no
// Close method, so the consumer only stops when the process exits; it is
// still given its own cancellable context (rather than reusing the one
// passed here, which may be request-scoped) so a future lifecycle hook has
// somewhere to attach.
func (s *Source) SetContext(ctx context.Context, sctx source.Context) error {
	var cfg Config
	if err := json.Unmarshal(sctx.Configuration, &cfg); err != nil {
		return nexuserrors.Wrap(nexuserrors.Validation, "kafkasource: invalid configuration", err)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.CatalogID == "" || cfg.ResourceID == "" || cfg.SamplePeriod <= 0 {
		return nexuserrors.New(nexuserrors.Validation, "kafkasource: brokers, topic, catalog_id, resource_id and sample_period are required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "nexus-" + cfg.CatalogID + "-" + cfg.ResourceID
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	)
	if err != nil {
		return nexuserrors.Wrap(nexuserrors.ContextInit, "kafkasource: failed to create kafka client", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cfg = cfg
	s.logger = logging.NewWithComponent("kafkasource")
	s.client = client
	s.cancel = cancel

	go s.consume(runCtx)
	return nil
}

func (s *Source) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fetches := s.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				s.logger.WithError(e.Err).Error("kafkasource: error while polling")
			}
			continue
		}

		var records []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			records = append(records, rec)
			var r record
			if err := json.Unmarshal(rec.Value, &r); err != nil {
				s.logger.WithError(err).Error("kafkasource: failed to unmarshal record")
				return
			}
			s.series.put(r.Timestamp, r.Value)
		})

		if len(records) > 0 {
			if err := s.client.CommitRecords(ctx, records...); err != nil {
				s.logger.WithError(err).Error("kafkasource: failed to commit offsets")
			}
		}
		s.client.AllowRebalance()
	}
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
	begin, end, ok := s.series.timeRange()
	if !ok {
		return time.Time{}, time.Time{}, nexuserrors.New(nexuserrors.NotFound, "kafkasource: no samples consumed yet for "+s.cfg.ResourceID)
	}
	return begin, end.Add(s.cfg.SamplePeriod), nil
}

func (s *Source) GetAvailability(ctx context.Context, item catalog.Item, begin, end time.Time) (float64, error) {
	_, status := s.series.read(begin, end, s.cfg.SamplePeriod)
	if len(status) == 0 {
		return 0, nil
	}
	var present int
	for _, b := range status {
		if b != 0 {
			present++
		}
	}
	return float64(present) / float64(len(status)), nil
}

// Read serves entirely from the in-memory index built by consume; it never
// blocks on the network.
func (s *Source) Read(ctx context.Context, req source.ReadRequest) (source.ReadResult, error) {
	period := req.Item.Representation.SamplePeriod
	values, status := s.series.read(req.Begin, req.End, period)

	data := make([]byte, len(values)*kernel.F64.ElemSize())
	for i, v := range values {
		kernel.PutFloat64(kernel.F64, data[i*8:i*8+8], v)
	}
	return source.ReadResult{Data: data, Status: status}, nil
}
