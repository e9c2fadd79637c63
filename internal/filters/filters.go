package filters

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/logger"
)

// Context carries the job details a filter may need
type Context struct {
	JobIndex int
	Location string
	Logger   logger.Logger
}

// Filter transforms captured content
type Filter interface {
	Name() string
	Description() string
	// Keys lists the sub-config keys the filter accepts
	Keys() []string
	// DefaultKey receives the value of the "kind:value" shorthand; empty if none
	DefaultKey() string
	Process(ctx Context, config map[string]interface{}, data, mimeType string) (string, string, error)
}

// Step is one normalized entry of a filter chain
type Step struct {
	Kind   string
	Config map[string]interface{}
}

func (s Step) String() string {
	if len(s.Config) == 0 {
		return s.Kind
	}
	return fmt.Sprintf("%s:%v", s.Kind, s.Config)
}

// Registry maps filter kinds to implementations
type Registry struct {
	mu      sync.RWMutex
	filters map[string]Filter
}

// NewRegistry creates a registry holding the given filters
func NewRegistry(filters ...Filter) *Registry {
	r := &Registry{filters: make(map[string]Filter)}
	for _, f := range filters {
		r.Register(f)
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of built-in filters
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(
			&html2textFilter{},
			&stripFilter{},
			&stripTagsFilter{},
			&cssFilter{},
			&lineMatchFilter{kind: "keep_lines_containing", keep: true},
			&lineMatchFilter{kind: "delete_lines_containing", keep: false},
			&reSubFilter{},
			&sortFilter{},
			&removeDuplicateLinesFilter{},
			&reverseFilter{},
		)
	})
	return defaultRegistry
}

// Register adds a filter, replacing any filter of the same kind
func (r *Registry) Register(f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[f.Name()] = f
}

// Get returns the filter registered for kind
func (r *Registry) Get(kind string) (Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[kind]
	return f, ok
}

// List returns the registered filters sorted by kind
func (r *Registry) List() []Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Filter, 0, len(r.filters))
	for _, f := range r.filters {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// NormalizeFilterList turns a filter directive into an ordered list of steps.
// Accepted forms: a comma separated string ("html2text,strip" or "css:div.main"),
// a list of such strings, or a list of single-key maps ({css: {selector: div}}).
func (r *Registry) NormalizeFilterList(spec interface{}, jobIndex int) ([]Step, error) {
	var items []interface{}
	switch v := spec.(type) {
	case nil:
		return nil, nil
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	case []interface{}:
		items = v
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []map[string]interface{}:
		for _, m := range v {
			items = append(items, m)
		}
	default:
		return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: filter must be a string or a list, got %T", jobIndex, spec))
	}

	steps := make([]Step, 0, len(items))
	for _, item := range items {
		step, err := r.normalizeItem(item, jobIndex)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (r *Registry) normalizeItem(item interface{}, jobIndex int) (Step, error) {
	switch v := item.(type) {
	case string:
		kind, value, hasValue := strings.Cut(strings.TrimSpace(v), ":")
		if hasValue {
			return r.build(kind, value, jobIndex)
		}
		return r.build(kind, nil, jobIndex)
	case map[string]interface{}:
		if len(v) != 1 {
			return Step{}, vahtierrors.ValidationError(fmt.Sprintf("job %d: each filter map must have exactly one key, got %d", jobIndex, len(v)))
		}
		for kind, value := range v {
			return r.build(kind, value, jobIndex)
		}
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(v))
		for k, val := range v {
			converted[fmt.Sprint(k)] = val
		}
		return r.normalizeItem(converted, jobIndex)
	}
	return Step{}, vahtierrors.ValidationError(fmt.Sprintf("job %d: unsupported filter entry %v (%T)", jobIndex, item, item))
}

func (r *Registry) build(kind string, value interface{}, jobIndex int) (Step, error) {
	kind = strings.TrimSpace(kind)
	f, ok := r.Get(kind)
	if !ok {
		return Step{}, vahtierrors.UnknownFilterError(kind, jobIndex)
	}

	config := make(map[string]interface{})
	switch v := value.(type) {
	case nil:
	case map[string]interface{}:
		for k, val := range v {
			config[k] = val
		}
	case map[interface{}]interface{}:
		for k, val := range v {
			config[fmt.Sprint(k)] = val
		}
	default:
		if f.DefaultKey() == "" {
			return Step{}, vahtierrors.ValidationError(fmt.Sprintf("job %d: filter %q takes no value", jobIndex, kind))
		}
		config[f.DefaultKey()] = v
	}

	allowed := make(map[string]bool, len(f.Keys()))
	for _, k := range f.Keys() {
		allowed[k] = true
	}
	for k := range config {
		if !allowed[k] {
			return Step{}, vahtierrors.ValidationError(
				fmt.Sprintf("job %d: filter %q does not accept %q (accepted: %s)", jobIndex, kind, k, strings.Join(f.Keys(), ", ")))
		}
	}

	return Step{Kind: kind, Config: config}, nil
}

// Process runs a single step
func (r *Registry) Process(ctx Context, step Step, data, mimeType string) (string, string, error) {
	f, ok := r.Get(step.Kind)
	if !ok {
		return data, mimeType, vahtierrors.UnknownFilterError(step.Kind, ctx.JobIndex)
	}
	out, outMime, err := f.Process(ctx, step.Config, data, mimeType)
	if err != nil {
		return data, mimeType, vahtierrors.FilterError(step.Kind, ctx.JobIndex, err)
	}
	if outMime == "" {
		outMime = mimeType
	}
	return out, outMime, nil
}

// ProcessChain runs steps in order, feeding each output into the next step
func (r *Registry) ProcessChain(ctx Context, steps []Step, data, mimeType string) (string, string, error) {
	var err error
	for _, step := range steps {
		if ctx.Logger != nil {
			ctx.Logger.WithField("filter", step.Kind).Debug("applying filter")
		}
		data, mimeType, err = r.Process(ctx, step, data, mimeType)
		if err != nil {
			return data, mimeType, err
		}
	}
	return data, mimeType, nil
}

// AutoProcess normalizes text content before the explicit filters run:
// a leading UTF-8 byte order mark is removed and line endings become "\n".
func AutoProcess(ctx Context, data, mimeType string) (string, string) {
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if !isText(mimeType) {
		return data, mimeType
	}
	data = strings.TrimPrefix(data, "\ufeff")
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")
	return data, mimeType
}

func isText(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(strings.ToLower(base))
	if strings.HasPrefix(base, "text/") {
		return true
	}
	switch base {
	case "application/json", "application/xml", "application/xhtml+xml", "application/javascript",
		"application/rss+xml", "application/atom+xml":
		return true
	}
	return strings.HasSuffix(base, "+json") || strings.HasSuffix(base, "+xml")
}

// stringValue reads an optional string sub-config value
func stringValue(config map[string]interface{}, key, fallback string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// boolValue reads an optional bool sub-config value
func boolValue(config map[string]interface{}, key string, fallback bool) (bool, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("%s must be a boolean, got %v", key, v)
}
