package jobs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/config"
	"github.com/yairfalse/vahti/pkg/types"
)

// Job kinds
const (
	KindURL     = "url"
	KindBrowser = "browser"
	KindCommand = "command"
)

// Deps are the shared resources jobs retrieve through
type Deps struct {
	Config  *config.Config
	HTTP    *HTTPClient
	Browser *BrowserManager
	Logger  logger.Logger
}

// Constructor builds a job of one kind from its directives
type Constructor func(spec types.JobSpec, deps Deps) (runner.Job, error)

// Kind describes a registered job kind
type Kind struct {
	Name        string
	Description string
	// Keys lists the directives specific to the kind
	Keys []string
	New  Constructor
}

// Registry maps job kinds to constructors
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates a registry holding the given kinds
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[string]Kind)}
	for _, k := range kinds {
		r.Register(k)
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry of built-in job kinds
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(
			Kind{
				Name:        KindURL,
				Description: "Retrieve a web page or API response over HTTP",
				Keys: []string{"url", "use_browser", "method", "headers", "data", "timeout", "user_agent",
					"ignore_connection_errors", "ignore_timeout_errors", "ignore_too_many_redirects", "ignore_http_error_codes"},
				New: newURLJob,
			},
			Kind{
				Name:        KindBrowser,
				Description: "Render a web page in a headless Chromium browser",
				Keys:        []string{"url", "use_browser", "timeout", "user_agent", "wait_for", "headers"},
				New:         newBrowserJob,
			},
			Kind{
				Name:        KindCommand,
				Description: "Run a shell command and capture its output",
				Keys:        []string{"command", "timeout"},
				New:         newCommandJob,
			},
		)
	})
	return defaultRegistry
}

// Register adds a kind, replacing any kind of the same name
func (r *Registry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Name] = k
}

// Get returns the kind registered under name
func (r *Registry) Get(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	return k, ok
}

// List returns the registered kinds sorted by name
func (r *Registry) List() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		list = append(list, k)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// InferKind returns the explicit kind of spec or derives it from its directives
func InferKind(spec *types.JobSpec) (string, error) {
	kind, err := inferKind(spec.Kind, spec.URL, spec.Command, spec.UseBrowser)
	if err != nil {
		return "", fmt.Errorf("job %d %w", spec.Index, err)
	}
	return kind, nil
}

func inferKind(kind, url, command string, useBrowser bool) (string, error) {
	if kind != "" {
		return kind, nil
	}
	switch {
	case url != "" && command != "":
		return "", errors.New("has both url and command")
	case url != "" && useBrowser:
		return KindBrowser, nil
	case url != "":
		return KindURL, nil
	case command != "":
		return KindCommand, nil
	default:
		return "", errors.New("has neither url nor command")
	}
}

// Build validates spec and constructs the job it describes
func (r *Registry) Build(spec types.JobSpec, deps Deps) (runner.Job, error) {
	kind, err := InferKind(&spec)
	if err != nil {
		return nil, vahtierrors.ValidationError(err.Error()).WithHelp("vahti features")
	}
	k, ok := r.Get(kind)
	if !ok {
		names := make([]string, 0)
		for _, known := range r.List() {
			names = append(names, known.Name)
		}
		return nil, vahtierrors.ValidationError(
			fmt.Sprintf("job %d: unknown kind %q (known: %s)", spec.Index, kind, strings.Join(names, ", "))).
			WithHelp("vahti features")
	}
	spec.Kind = kind
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	return k.New(spec, deps)
}

// base carries what every job kind shares
type base struct {
	spec types.JobSpec
	log  logger.Logger
}

func newBase(spec types.JobSpec, deps Deps) base {
	return base{
		spec: spec,
		log:  deps.Logger.WithField("job", spec.Index),
	}
}

func (b *base) Spec() *types.JobSpec { return &b.spec }
func (b *base) GUID() string         { return b.spec.GUID() }

// FormatError returns the detailed error text
func (b *base) FormatError(err error, trace string) string {
	if trace != "" {
		return strings.TrimRight(trace, "\n")
	}
	return err.Error()
}

// IgnoreError ignores nothing unless a kind overrides it
func (b *base) IgnoreError(err error) (bool, string) {
	return false, ""
}

// Label renders the job for listings: "name (location)" or just the location
func Label(spec *types.JobSpec) string {
	name := spec.PrettyName()
	if location := spec.Location(); name != location {
		return fmt.Sprintf("%s (%s)", name, location)
	}
	return name
}
