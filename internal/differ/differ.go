package differ

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/pkg/types"
)

// Input is everything a differ needs to compare two captures of one job
type Input struct {
	OldData      string
	NewData      string
	OldTimestamp float64
	NewTimestamp float64
	OldMimeType  string
	NewMimeType  string
	// History holds older captures, most recent first, when the job compares several versions
	History    []types.Snapshot
	IsMarkdown bool
	Location   string
	JobIndex   int
	Tz         *time.Location
}

// Result holds one rendering of the diff per report kind. Empty strings mean no difference.
type Result map[types.ReportKind]string

// Empty reports whether no kind carries a difference
func (r Result) Empty() bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}

func emptyResult() Result {
	return Result{types.ReportText: "", types.ReportMarkdown: "", types.ReportHTML: ""}
}

// Differ compares two captures and renders every report kind at once
type Differ interface {
	Name() string
	Description() string
	Keys() []string
	Diff(ctx context.Context, in Input, config map[string]interface{}) (Result, error)
}

// Spec selects a differ and its options
type Spec struct {
	Kind   string
	Config map[string]interface{}
}

// DefaultKind is used when a job does not name a differ
const DefaultKind = "unified"

// Registry maps differ kinds to implementations
type Registry struct {
	mu      sync.RWMutex
	differs map[string]Differ
}

// NewRegistry creates a registry holding the given differs
func NewRegistry(differs ...Differ) *Registry {
	r := &Registry{differs: make(map[string]Differ)}
	for _, d := range differs {
		r.Register(d)
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of built-in differs
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(NewUnifiedDiffer(), NewCommandDiffer())
	})
	return defaultRegistry
}

// Register adds a differ, replacing any differ of the same kind
func (r *Registry) Register(d Differ) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.differs[d.Name()] = d
}

// Get returns the differ registered for kind
func (r *Registry) Get(kind string) (Differ, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.differs[kind]
	return d, ok
}

// List returns the registered differs sorted by kind
func (r *Registry) List() []Differ {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Differ, 0, len(r.differs))
	for _, d := range r.differs {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// NormalizeDiffer validates a differ directive. It accepts nothing (the default
// differ), a kind name, or a map with a "name" key plus the differ's options.
func (r *Registry) NormalizeDiffer(spec interface{}, jobIndex int) (Spec, error) {
	var kind string
	config := make(map[string]interface{})

	switch v := spec.(type) {
	case nil:
		kind = DefaultKind
	case string:
		kind = strings.TrimSpace(v)
		if kind == "" {
			kind = DefaultKind
		}
	case map[string]interface{}:
		for k, val := range v {
			if k == "name" {
				kind = fmt.Sprint(val)
				continue
			}
			config[k] = val
		}
		if kind == "" {
			kind = DefaultKind
		}
	default:
		return Spec{}, vahtierrors.ValidationError(fmt.Sprintf("job %d: differ must be a name or a map, got %T", jobIndex, spec))
	}

	d, ok := r.Get(kind)
	if !ok {
		return Spec{}, vahtierrors.ValidationError(fmt.Sprintf("job %d: unknown differ %q", jobIndex, kind)).
			WithHelp("vahti features")
	}

	allowed := make(map[string]bool)
	for _, k := range d.Keys() {
		allowed[k] = true
	}
	for k := range config {
		if !allowed[k] {
			return Spec{}, vahtierrors.ValidationError(
				fmt.Sprintf("job %d: differ %q does not accept %q (accepted: %s)", jobIndex, kind, k, strings.Join(d.Keys(), ", ")))
		}
	}

	return Spec{Kind: kind, Config: config}, nil
}

// Diff runs the differ named by spec. Identical data short-circuits to an empty result.
func (r *Registry) Diff(ctx context.Context, spec Spec, in Input) (Result, error) {
	if spec.Kind == "" {
		spec.Kind = DefaultKind
	}
	d, ok := r.Get(spec.Kind)
	if !ok {
		return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: unknown differ %q", in.JobIndex, spec.Kind))
	}

	if in.Tz == nil {
		in.Tz = time.Local
	}
	in = selectBase(in)
	if in.OldData == in.NewData {
		return emptyResult(), nil
	}

	result, err := d.Diff(ctx, in, spec.Config)
	if err != nil {
		return nil, fmt.Errorf("differ %s: %w", spec.Kind, err)
	}
	for _, kind := range types.AllReportKinds {
		if _, ok := result[kind]; !ok {
			result[kind] = ""
		}
	}
	return result, nil
}

// FormatTimestamp renders a capture time for diff headers
func FormatTimestamp(ts float64, tz *time.Location) string {
	if tz == nil {
		tz = time.Local
	}
	return types.TimeFromTimestamp(ts).In(tz).Format(time.RFC1123Z)
}
