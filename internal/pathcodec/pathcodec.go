// Package pathcodec implements spec.md Component A: parsing and rendering
// the resource path wire format
//
//	/catalog/resource/<period>_<kind>(params)#base=<period>
//
// per the grammar in spec.md §6:
//
//	^(?P<catalog>(/[A-Za-z_][A-Za-z_0-9]*)+)/(?P<resource>[A-Za-z_][A-Za-z_0-9]*)/(?P<period>\d+_(ns|us|ms|s|min|h|d))(?:_(?P<kind>[a-z_]+))?(?:\((?P<params>.*)\))?(?:#base=(?P<base>\d+_(ns|us|ms|s|min|h|d)))?$
package pathcodec

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
)

var pathPattern = regexp.MustCompile(
	`^(?P<catalog>(?:/[A-Za-z_][A-Za-z_0-9]*)+)/(?P<resource>[A-Za-z_][A-Za-z_0-9]*)/(?P<period>\d+_(?:ns|us|ms|s|min|h|d))(?:_(?P<kind>[a-z_]+))?(?:\((?P<params>.*)\))?(?:#base=(?P<base>\d+_(?:ns|us|ms|s|min|h|d)))?$`,
)

// ParsedPath is the decoded form of a resource path.
type ParsedPath struct {
	CatalogID  string
	ResourceID string
	Period     time.Duration
	Kind       string // "" means Original
	Params     map[string]string
	// ParamOrder is the key order Parse captured params in, preserved so
	// Render reproduces the input verbatim instead of an arbitrary order.
	// Callers that build a ParsedPath directly (not via Parse) may leave it
	// nil; Render then falls back to ascending key order.
	ParamOrder []string
	BasePeriod time.Duration
	HasBase    bool
}

// tickUnit is one rung of the period-rendering ladder from spec.md §4.A.
type tickUnit struct {
	suffix   string
	duration time.Duration
}

// units are ordered smallest to largest; quotient chains [1000,1000,1000,60,60,24,1]
// over ns -> us -> ms -> s -> min -> h -> d.
var units = []tickUnit{
	{"ns", time.Nanosecond},
	{"us", time.Microsecond},
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"min", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParsePeriod decodes a "<n>_<unit>" period token into a Duration.
func ParsePeriod(token string) (time.Duration, error) {
	parts := strings.SplitN(token, "_", 2)
	if len(parts) != 2 {
		return 0, nexuserrors.New(nexuserrors.Validation, "malformed period token: "+token)
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, nexuserrors.Wrap(nexuserrors.Validation, "malformed period magnitude: "+token, err)
	}
	for _, u := range units {
		if u.suffix == parts[1] {
			return time.Duration(n) * u.duration, nil
		}
	}
	return 0, nexuserrors.New(nexuserrors.Validation, "unknown period unit: "+parts[1])
}

// RenderPeriod walks [ns,us,ms,s,min,h,d] and emits the largest unit whose
// quotient against d is an exact integer with no remainder, i.e. the
// largest unit that still yields an integer count.
func RenderPeriod(d time.Duration) (string, error) {
	if d <= 0 || d%(100*time.Nanosecond) != 0 {
		return "", nexuserrors.New(nexuserrors.Validation, "period must be a positive multiple of 100ns")
	}

	best := units[0]
	bestN := int64(d / units[0].duration)
	for _, u := range units[1:] {
		if d%u.duration != 0 {
			continue
		}
		best = u
		bestN = int64(d / u.duration)
	}
	return fmt.Sprintf("%d_%s", bestN, best.suffix), nil
}

// Parse decodes a resource path into its structured form.
func Parse(path string) (ParsedPath, error) {
	m := pathPattern.FindStringSubmatch(path)
	if m == nil {
		return ParsedPath{}, nexuserrors.New(nexuserrors.Validation, "invalid resource path: "+path)
	}
	names := pathPattern.SubexpNames()
	groups := make(map[string]string, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		groups[name] = m[i]
	}

	period, err := ParsePeriod(groups["period"])
	if err != nil {
		return ParsedPath{}, err
	}

	params, order, err := parseParams(groups["params"])
	if err != nil {
		return ParsedPath{}, err
	}

	pp := ParsedPath{
		CatalogID:  groups["catalog"],
		ResourceID: groups["resource"],
		Period:     period,
		Kind:       groups["kind"],
		Params:     params,
		ParamOrder: order,
	}

	if groups["base"] != "" {
		basePeriod, err := ParsePeriod(groups["base"])
		if err != nil {
			return ParsedPath{}, err
		}
		pp.BasePeriod = basePeriod
		pp.HasBase = true
	}

	return pp, nil
}

// parseParams decodes the comma-separated "key=value" param list, returning
// both the map and the keys in the order they appeared — a later duplicate
// key overwrites the map entry but does not add a second order entry, so
// Render still emits one key per distinct param.
func parseParams(raw string) (map[string]string, []string, error) {
	if raw == "" {
		return nil, nil, nil
	}
	out := make(map[string]string)
	var order []string
	for _, kv := range strings.Split(raw, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, nil, nexuserrors.New(nexuserrors.Validation, "malformed parameter: "+kv)
		}
		key := strings.TrimSpace(parts[0])
		if _, exists := out[key]; !exists {
			order = append(order, key)
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out, order, nil
}

// paramKeyOrder picks the key order Render emits params in: pp.ParamOrder
// when it accounts for every key in pp.Params (the normal case for a
// ParsedPath that came out of Parse), otherwise ascending by key — the
// deterministic fallback for a ParsedPath a caller assembled directly.
func paramKeyOrder(pp ParsedPath) []string {
	if len(pp.ParamOrder) == len(pp.Params) {
		ordered := true
		for _, k := range pp.ParamOrder {
			if _, ok := pp.Params[k]; !ok {
				ordered = false
				break
			}
		}
		if ordered {
			return pp.ParamOrder
		}
	}

	keys := make([]string, 0, len(pp.Params))
	for k := range pp.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render is the inverse of Parse: for any ParsedPath produced by Parse,
// Render(Parse(path)) == path (the round-trip invariant from spec.md §8).
func Render(pp ParsedPath) (string, error) {
	periodToken, err := RenderPeriod(pp.Period)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(pp.CatalogID)
	sb.WriteByte('/')
	sb.WriteString(pp.ResourceID)
	sb.WriteByte('/')
	sb.WriteString(periodToken)
	if pp.Kind != "" {
		sb.WriteByte('_')
		sb.WriteString(pp.Kind)
	}
	if len(pp.Params) > 0 {
		sb.WriteByte('(')
		keys := paramKeyOrder(pp)
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(pp.Params[k])
		}
		sb.WriteByte(')')
	}
	if pp.HasBase {
		baseToken, err := RenderPeriod(pp.BasePeriod)
		if err != nil {
			return "", err
		}
		sb.WriteString("#base=")
		sb.WriteString(baseToken)
	}
	return sb.String(), nil
}
