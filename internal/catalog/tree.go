package catalog

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/pkg/logging"
)

// Resolver is implemented by whatever owns a mounted subtree of the catalog
// — in practice internal/source's Controller, kept decoupled here so this
// package never imports source (source imports catalog, not the reverse).
type Resolver interface {
	ListRegistrations(ctx context.Context, path string) ([]Registration, error)
	Resolve(ctx context.Context, path string) (ItemRequest, error)
}

// MountPoint binds one Resolver to the catalog path it governs.
type MountPoint struct {
	Path          string
	Resolver      Resolver
	AdminSupplied bool
}

// Tree is spec.md §4.C's CatalogTree: a copy-on-write index over mounted
// sources, with static-registration memoization and softlink following.
// The static cache is adapted from the teacher's TTL+stale-while-revalidate
// singleflight.Group cache (pkg/cache/cache.go), generalized here to a
// tree-shaped cache keyed by listed catalog path: unlike the teacher's flat cache,
// catalog entries must be invalidated as a unit whenever the tree is
// swapped rather than expiring on a timer, so Swap simply discards the
// whole memo rather than tracking per-key TTLs.
type Tree struct {
	mu     sync.RWMutex
	mounts []MountPoint

	cacheMu sync.RWMutex
	cache   map[string][]Registration
	sf      singleflight.Group

	logger logging.Logger
}

// NewTree constructs an empty Tree.
func NewTree(logger logging.Logger) *Tree {
	return &Tree{
		cache:  make(map[string][]Registration),
		logger: logger,
	}
}

// Swap atomically replaces the full set of mount points — the copy-on-write
// update spec.md §5 requires so in-flight reads never observe a half-built
// tree. Overlapping mounts are resolved at swap time per the tie-break
// rule: admin-supplied wins, else first-registered wins; every dropped
// duplicate is logged as a warning, never silently discarded.
func (t *Tree) Swap(mounts []MountPoint) {
	deduped := make([]MountPoint, 0, len(mounts))
	seen := make(map[string]int, len(mounts))
	for _, mp := range mounts {
		if i, ok := seen[mp.Path]; ok {
			existing := deduped[i]
			if mp.AdminSupplied && !existing.AdminSupplied {
				deduped[i] = mp
				t.logf("dropping non-admin mount at %s in favor of admin-supplied registration", mp.Path)
				continue
			}
			t.logf("dropping duplicate mount at %s (first-registered wins)", mp.Path)
			continue
		}
		seen[mp.Path] = len(deduped)
		deduped = append(deduped, mp)
	}

	t.mu.Lock()
	t.mounts = deduped
	t.mu.Unlock()

	t.cacheMu.Lock()
	t.cache = make(map[string][]Registration)
	t.cacheMu.Unlock()
}

func (t *Tree) logf(format string, args ...interface{}) {
	if t.logger == nil {
		return
	}
	t.logger.Warnf(format, args...)
}

// findMount returns the mount point governing path: the one whose Path is
// the longest segment-aligned prefix of path (or an exact match).
func (t *Tree) findMount(path string) (MountPoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best MountPoint
	found := false
	bestLen := -1
	for _, mp := range t.mounts {
		if !isPrefixPath(mp.Path, path) {
			continue
		}
		if len(mp.Path) > bestLen {
			best = mp
			bestLen = len(mp.Path)
			found = true
		}
	}
	return best, found
}

// isPrefixPath reports whether prefix is path itself or an ancestor of path
// on a "/"-segment boundary, so "/building" matches "/building/east" but
// not "/buildingX".
func isPrefixPath(prefix, path string) bool {
	if prefix == path {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return strings.HasPrefix(path[len(prefix):], "/")
}

// ListChildren returns the registrations directly under path, per spec.md
// §4.C. Transient registrations are never memoized; static ones are cached
// per listed path until the next Swap, with concurrent callers for the same
// path collapsed onto one upstream call via singleflight. Visibility
// filtering happens here, never in Resolve.
func (t *Tree) ListChildren(ctx context.Context, path string) ([]Registration, error) {
	mp, ok := t.findMount(path)
	if !ok {
		return nil, nexuserrors.New(nexuserrors.NotFound, "no source mounted at "+path)
	}

	regs, err := t.listViaCache(ctx, mp, path)
	if err != nil {
		return nil, err
	}

	visible := make([]Registration, 0, len(regs))
	for _, r := range regs {
		if r.IsVisible {
			visible = append(visible, r)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].Path < visible[j].Path })
	return visible, nil
}

func (t *Tree) listViaCache(ctx context.Context, mp MountPoint, path string) ([]Registration, error) {
	key := path

	t.cacheMu.RLock()
	cached, hit := t.cache[key]
	t.cacheMu.RUnlock()
	if hit {
		return cached, nil
	}

	result, err, _ := t.sf.Do(key, func() (interface{}, error) {
		regs, err := mp.Resolver.ListRegistrations(ctx, path)
		if err != nil {
			return nil, err
		}
		deduped := dedupeRegistrations(regs, t.logf)
		return deduped, nil
	})
	if err != nil {
		return nil, err
	}
	regs := result.([]Registration)

	if !anyTransient(regs) {
		t.cacheMu.Lock()
		t.cache[key] = regs
		t.cacheMu.Unlock()
	}
	return regs, nil
}

func anyTransient(regs []Registration) bool {
	for _, r := range regs {
		if r.IsTransient {
			return true
		}
	}
	return false
}

func dedupeRegistrations(regs []Registration, warnf func(string, ...interface{})) []Registration {
	index := make(map[string]int, len(regs))
	out := make([]Registration, 0, len(regs))
	for _, r := range regs {
		if i, ok := index[r.Path]; ok {
			existing := out[i]
			if r.AdminSupplied && !existing.AdminSupplied {
				out[i] = r
				warnf("dropping non-admin registration at %s in favor of admin-supplied entry", r.Path)
				continue
			}
			warnf("dropping duplicate registration at %s (first-registered wins)", r.Path)
			continue
		}
		index[r.Path] = len(out)
		out = append(out, r)
	}
	return out
}

const maxSoftlinkHops = 8

// Resolve implements spec.md §4.C: find the owning mount for path, follow
// any softlinks encountered along the way, then delegate to that mount's
// Resolver to build the full ItemRequest. Unlike ListChildren, Resolve
// performs no visibility filtering — a caller who already knows the exact
// path may always read it.
func (t *Tree) Resolve(ctx context.Context, path string) (ItemRequest, error) {
	resolved, err := t.followLinks(ctx, path)
	if err != nil {
		return ItemRequest{}, err
	}

	mp, ok := t.findMount(resolved)
	if !ok {
		return ItemRequest{}, nexuserrors.New(nexuserrors.NotFound, "no source mounted for "+resolved)
	}
	return mp.Resolver.Resolve(ctx, resolved)
}

// followLinks walks path's ancestor directories one segment at a time,
// substituting in a registration's LinkTarget whenever one is found, up to
// maxSoftlinkHops substitutions to guard against a link cycle.
func (t *Tree) followLinks(ctx context.Context, path string) (string, error) {
	current := path
	for hop := 0; hop < maxSoftlinkHops; hop++ {
		redirected, changed, err := t.tryFollowOneLink(ctx, current)
		if err != nil {
			return "", err
		}
		if !changed {
			return current, nil
		}
		current = redirected
	}
	return "", nexuserrors.New(nexuserrors.Validation, "softlink chain exceeded "+strconv.Itoa(maxSoftlinkHops)+" hops starting at "+path)
}

// tryFollowOneLink checks whether any ancestor segment of path is itself a
// registered softlink, and if so returns path rewritten with that segment
// replaced by its LinkTarget.
func (t *Tree) tryFollowOneLink(ctx context.Context, path string) (string, bool, error) {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	prefix := ""
	for i, seg := range segments {
		parent := prefix
		prefix = prefix + "/" + seg
		if parent == "" {
			continue
		}
		mp, ok := t.findMount(parent)
		if !ok {
			continue
		}
		regs, err := t.listViaCache(ctx, mp, parent)
		if err != nil {
			continue
		}
		for _, r := range regs {
			if r.Path == prefix && r.LinkTarget != "" {
				rest := strings.Join(segments[i+1:], "/")
				rewritten := r.LinkTarget
				if rest != "" {
					rewritten = rewritten + "/" + rest
				}
				return rewritten, true, nil
			}
		}
	}
	return path, false, nil
}
