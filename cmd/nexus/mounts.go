package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nexus-main/nexus-sub002/internal/source"
)

// mountSpec is one entry of the sources file: which plugin type to
// instantiate, where in the catalog it mounts, and what to hand it at
// SetContext time. Unlike the teacher's services, Nexus never accepts this
// over an admin HTTP route — spec.md §1 keeps configuration surfaces
// out-of-process, so the only way in is this file, reloaded only on
// restart.
type mountSpec struct {
	TypeID          string          `json:"type"`
	MountPath       string          `json:"mount_path"`
	ResourceLocator string          `json:"resource_locator"`
	ConfigVersion   int             `json:"config_version"`
	Configuration   json.RawMessage `json:"configuration"`
	AdminSupplied   bool            `json:"admin_supplied"`
}

// loadMountSpecs reads the sources file. A missing path is not an error —
// an engine with no configured sources still starts and serves health and
// metrics, which is useful when every mount is supplied by tests or a
// follow-up restart.
func loadMountSpecs(path string) ([]mountSpec, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sources file: %w", err)
	}
	var specs []mountSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("parsing sources file: %w", err)
	}
	return specs, nil
}

// groupPipelines folds the sources file's flat entry list into spec.md
// §3's pipelines: entries sharing one mount_path form an ordered pipeline,
// in the order they appear in the file — the same "array order is pipeline
// order" convention the file already uses for mount entries generally.
// Groups are returned in order of each group's first appearance.
func groupPipelines(specs []mountSpec) [][]mountSpec {
	order := make([]string, 0, len(specs))
	byPath := make(map[string][]mountSpec, len(specs))
	for _, s := range specs {
		if _, ok := byPath[s.MountPath]; !ok {
			order = append(order, s.MountPath)
		}
		byPath[s.MountPath] = append(byPath[s.MountPath], s)
	}
	groups := make([][]mountSpec, 0, len(order))
	for _, path := range order {
		groups = append(groups, byPath[path])
	}
	return groups
}

// newRegistry registers every reference plugin under its type id. A
// deployment with a custom plugin would fork this function, not the
// engine's wiring loop.
func newRegistry(kafkaNew, clickhouseNew, postgresNew source.Factory) *source.Registry {
	reg := source.NewRegistry()
	reg.Register("kafka", kafkaNew)
	reg.Register("clickhouse", clickhouseNew)
	reg.Register("postgres", postgresNew)
	return reg
}
