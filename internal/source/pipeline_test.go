package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/kernel"
)

// stageSource enriches a catalog by stamping one property onto the
// resource it's told to own, so a test can observe whether a later
// stage's EnrichCatalog really did see an earlier stage's contribution.
type stageSource struct {
	stubSource
	resourceID string
	propKey    string
	propValue  string
}

func (s *stageSource) EnrichCatalog(ctx context.Context, cat catalog.Catalog) (catalog.Catalog, error) {
	rep := catalog.Representation{DataType: kernel.F64, SamplePeriod: time.Second, Kind: kernel.Original}
	res := catalog.Resource{
		ID:         s.resourceID,
		Properties: map[string]interface{}{s.propKey: s.propValue},
		Representations: []catalog.Representation{rep},
	}
	return catalog.New(cat.ID, nil, []catalog.Resource{res})
}

func (s *stageSource) GetCatalogRegistrations(ctx context.Context, path string) ([]catalog.Registration, error) {
	return []catalog.Registration{{Path: path + "/" + s.resourceID, Title: s.resourceID, IsVisible: true}}, nil
}

func TestPipelineControllerMergesEachStageOntoThePrevious(t *testing.T) {
	stage1 := NewController("kafka", &stageSource{resourceID: "temp", propKey: "from_stage", propValue: "kafka"}, nil)
	stage2 := NewController("clickhouse", &stageSource{resourceID: "temp", propKey: "enriched_by_clickhouse", propValue: "true"}, nil)
	require.NoError(t, stage1.Initialize(context.Background(), Context{}, 1))
	require.NoError(t, stage2.Initialize(context.Background(), Context{}, 1))

	pipeline, err := NewPipeline(stage1, stage2)
	require.NoError(t, err)

	built, err := pipeline.BuildCatalog(context.Background(), "/building")
	require.NoError(t, err)
	require.Len(t, built, 1)

	cat := built[0]
	require.Len(t, cat.Resources, 1)
	props := cat.Resources[0].Properties
	require.Equal(t, "kafka", props["from_stage"])
	require.Equal(t, "true", props["enriched_by_clickhouse"])

	require.Equal(t, 2, cat.Properties["nexus.version"])
	require.Equal(t, []string{"kafka", "clickhouse"}, cat.Properties["nexus.pipeline"])
}

func TestPipelineControllerResolveUsesFinalStageCache(t *testing.T) {
	stage1 := NewController("kafka", &stageSource{resourceID: "temp", propKey: "a", propValue: "1"}, nil)
	stage2 := NewController("clickhouse", &stageSource{resourceID: "temp", propKey: "b", propValue: "2"}, nil)
	require.NoError(t, stage1.Initialize(context.Background(), Context{}, 1))
	require.NoError(t, stage2.Initialize(context.Background(), Context{}, 1))

	pipeline, err := NewPipeline(stage1, stage2)
	require.NoError(t, err)

	_, err = pipeline.BuildCatalog(context.Background(), "/building")
	require.NoError(t, err)

	req, err := pipeline.Resolve(context.Background(), "/building/temp/temp/1_s")
	require.NoError(t, err)
	require.Equal(t, "temp", req.Item.Resource.ID)
	require.Equal(t, "1", req.Item.Resource.Properties["a"])
	require.Equal(t, "2", req.Item.Resource.Properties["b"])
}
