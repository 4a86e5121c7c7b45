package source

import (
	"context"

	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
)

// PipelineController composes an ordered sequence of per-source Controllers
// into spec.md §3's pipeline facade: "a pipeline is an ordered sequence of
// descriptors owned by a user; each subsequent source sees the enriched
// catalog produced by the previous." It implements catalog.Resolver so a
// whole pipeline, not just a single Controller, can be bound to one
// catalog.MountPoint.
//
// Catalog resources are enumerated once, by the first stage — the pipeline's
// primary data source. Every stage then enriches and the running catalog is
// folded together with catalog.Merge, stamping catalog.AppendPipelineStage
// after each fold so nexus.version/nexus.pipeline track the stages actually
// applied, per spec.md §4.B. Resolve and Read are served by the last stage:
// earlier stages in a pipeline contribute catalog metadata only (aliasing,
// derived properties, grouping), while the final stage is the one whose
// backing source actually answers reads — the same "later wins" precedence
// spec.md §4.B's merge rule uses for scalar catalog properties.
type PipelineController struct {
	stages []*Controller
}

// NewPipeline builds a pipeline facade over stages in their configured
// order. len(stages) == 1 degenerates to a single plain source, which is
// the common case.
func NewPipeline(stages ...*Controller) (*PipelineController, error) {
	if len(stages) == 0 {
		return nil, nexuserrors.New(nexuserrors.Validation, "pipeline: at least one stage is required")
	}
	return &PipelineController{stages: stages}, nil
}

// Primary returns the first-stage controller, the one ListRegistrations and
// the health-check reachability probe are driven against.
func (p *PipelineController) Primary() *Controller { return p.stages[0] }

// Final returns the last-stage controller, the one Resolve and Read are
// served from.
func (p *PipelineController) Final() *Controller { return p.stages[len(p.stages)-1] }

// ListRegistrations implements catalog.Resolver by delegating to the
// pipeline's primary (first) stage — the stage that owns the resource
// namespace every later stage only enriches.
func (p *PipelineController) ListRegistrations(ctx context.Context, path string) ([]catalog.Registration, error) {
	return p.Primary().ListRegistrations(ctx, path)
}

// Resolve implements catalog.Resolver by delegating to the pipeline's final
// stage, whose cache BuildCatalog installs the fully-merged, multi-stage
// catalog into via Controller.CacheCatalog.
func (p *PipelineController) Resolve(ctx context.Context, path string) (catalog.ItemRequest, error) {
	return p.Final().Resolve(ctx, path)
}

// BuildCatalog runs spec.md §4.B/§3's pipeline catalog construction for
// every registration the primary stage lists under mountPath, each
// registration's path becoming one catalog id: each stage's
// EnrichCatalog sees the catalog the previous stage produced, folded
// together by catalog.Merge, with catalog.AppendPipelineStage stamping
// nexus.version/nexus.pipeline after every stage. The final, fully-merged
// catalog for each registration is cached against the pipeline's last stage so
// Resolve (which always delegates there) sees every stage's contribution.
func (p *PipelineController) BuildCatalog(ctx context.Context, mountPath string) ([]catalog.Catalog, error) {
	regs, err := p.Primary().ListRegistrations(ctx, mountPath)
	if err != nil {
		return nil, err
	}

	built := make([]catalog.Catalog, 0, len(regs))
	for _, reg := range regs {
		cat, err := catalog.New(reg.Path, nil, nil)
		if err != nil {
			continue
		}

		acc := cat
		for i, stage := range p.stages {
			enriched, err := stage.EnrichCatalog(ctx, acc)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				acc = enriched
			} else {
				acc, err = catalog.Merge(acc, enriched)
				if err != nil {
					return nil, err
				}
			}
			acc = catalog.AppendPipelineStage(acc, stage.TypeID())
		}

		p.Final().CacheCatalog(acc)
		built = append(built, acc)
	}
	return built, nil
}
