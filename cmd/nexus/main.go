// Command nexus is the engine entrypoint: it loads configuration, wires
// the catalog tree to whatever sources a sources file names, constructs the
// scheduler/writer/tracker/cache singletons, and serves the observability
// HTTP surface until SIGINT/SIGTERM, mirroring the shape of the teacher's
// per-service main.go (logger first, config next, dependencies wired in
// order, HTTP server started last and blocking).
package main

import (
	"context"
	"time"

	"github.com/nexus-main/nexus-sub002/internal/cachefile"
	"github.com/nexus-main/nexus-sub002/internal/catalog"
	"github.com/nexus-main/nexus-sub002/internal/memtracker"
	"github.com/nexus-main/nexus-sub002/internal/scheduler"
	"github.com/nexus-main/nexus-sub002/internal/source"
	"github.com/nexus-main/nexus-sub002/internal/source/sources/clickhousesource"
	"github.com/nexus-main/nexus-sub002/internal/source/sources/kafkasource"
	"github.com/nexus-main/nexus-sub002/internal/source/sources/postgressource"
	"github.com/nexus-main/nexus-sub002/internal/writer"
	"github.com/nexus-main/nexus-sub002/pkg/config"
	"github.com/nexus-main/nexus-sub002/pkg/logging"
	"github.com/nexus-main/nexus-sub002/pkg/monitoring"
	"github.com/nexus-main/nexus-sub002/pkg/server"
)

const serviceName = "nexus"

func main() {
	logger := logging.New()
	config.LoadDotEnv(logger)

	configPath := config.GetEnv("NEXUS_CONFIG_FILE", "")
	sourcesPath := config.GetEnv("NEXUS_SOURCES_FILE", "")

	data, err := config.Load(configPath, nil, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	logger.WithFields(logging.Fields{
		"cache_dir":          data.CacheDir,
		"cache_file_period":  data.CacheFilePeriod,
		"tracker_ceiling":    data.TotalBufferMemoryConsumption,
		"default_file_type":  data.DefaultFileType,
	}).Info("starting nexus")

	tracker := memtracker.New(data.TotalBufferMemoryConsumption, logger)
	cache := cachefile.New(data.CacheDir, data.CacheFilePeriod)
	tree := catalog.NewTree(logger)
	sched := scheduler.New(tracker, cache, logger)
	_ = writer.New(logger) // constructed here so wiring failures surface at startup; driven per-request by callers of the engine library

	registry := newRegistry(kafkasource.New, clickhousesource.New, postgressource.New)

	healthChecker := monitoring.NewHealthChecker(serviceName, "dev")
	metricsCollector := monitoring.NewMetricsCollector(serviceName, "dev", "")

	healthChecker.AddCheck("tracker", monitoring.TrackerHealthCheck(tracker.InUse, tracker.Ceiling()))
	healthChecker.AddCheck("cache_dir", monitoring.WritableDirHealthCheck(data.CacheDir))

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mounts, err := loadMountSpecs(sourcesPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load sources file")
	}

	pipelineGroups := groupPipelines(mounts)
	mountPoints := make([]catalog.MountPoint, 0, len(pipelineGroups))
	for _, stages := range pipelineGroups {
		mountPath := stages[0].MountPath
		ctrls := make([]*source.Controller, 0, len(stages))
		for _, spec := range stages {
			src, ok := registry.New(spec.TypeID)
			if !ok {
				logger.WithField("type", spec.TypeID).Fatal("unknown source type in sources file")
			}

			ctrl := source.NewController(spec.TypeID, src, logger)
			if err := ctrl.Initialize(bootCtx, source.Context{
				ResourceLocator: spec.ResourceLocator,
				Configuration:   spec.Configuration,
			}, spec.ConfigVersion); err != nil {
				logger.WithError(err).WithField("mount", mountPath).Fatal("failed to initialize source")
			}
			ctrls = append(ctrls, ctrl)
		}

		pipeline, err := source.NewPipeline(ctrls...)
		if err != nil {
			logger.WithError(err).WithField("mount", mountPath).Fatal("failed to build source pipeline")
		}
		if _, err := pipeline.BuildCatalog(bootCtx, mountPath); err != nil {
			logger.WithError(err).WithField("mount", mountPath).Fatal("initial catalog registration failed")
		}

		mountPoints = append(mountPoints, catalog.MountPoint{Path: mountPath, Resolver: pipeline, AdminSupplied: stages[0].AdminSupplied})
		healthChecker.AddCheck("source:"+stages[0].TypeID, monitoring.SourceReachabilityCheck(stages[0].TypeID, func(ctx context.Context) error {
			_, err := pipeline.ListRegistrations(ctx, mountPath)
			return err
		}))

		stageTypes := make([]string, len(stages))
		for i, s := range stages {
			stageTypes[i] = s.TypeID
		}
		logger.WithFields(logging.Fields{"types": stageTypes, "mount": mountPath}).Info("mounted source pipeline")
	}
	tree.Swap(mountPoints)

	_ = sched // held by the engine library surface that drives ReadAsStream/Read against tree-resolved requests

	app := server.SetupRouter(logger, serviceName, healthChecker, metricsCollector)
	serverConfig := server.DefaultConfig(serviceName, "8080")
	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.WithError(err).Fatal("server startup failed")
	}
}
