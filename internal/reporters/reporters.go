package reporters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/config"
)

// Reporter delivers a finished report through one channel
type Reporter interface {
	Name() string
	Description() string
	// Enabled reports whether the reporter is switched on in cfg
	Enabled(cfg *config.Config) bool
	Submit(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration, jobsFiles []string) error
}

// Registry maps reporter names to implementations
type Registry struct {
	mu        sync.RWMutex
	reporters map[string]Reporter
}

// NewRegistry creates a registry holding the given reporters
func NewRegistry(reporters ...Reporter) *Registry {
	r := &Registry{reporters: make(map[string]Reporter)}
	for _, rep := range reporters {
		r.Register(rep)
	}
	return r
}

// Default returns a registry of the built-in reporters writing to the process stdout
func Default() *Registry {
	return NewRegistry(NewStdoutReporter(os.Stdout), NewWebhookReporter(nil), NewSlackReporter(nil))
}

// Register adds a reporter, replacing any reporter of the same name
func (r *Registry) Register(rep Reporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporters[rep.Name()] = rep
}

// Get returns the reporter registered under name
func (r *Registry) Get(name string) (Reporter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reporters[name]
	return rep, ok
}

// List returns the registered reporters sorted by name
func (r *Registry) List() []Reporter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Reporter, 0, len(r.reporters))
	for _, rep := range r.reporters {
		list = append(list, rep)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Names returns the sorted reporter names
func (r *Registry) Names() []string {
	var names []string
	for _, rep := range r.List() {
		names = append(names, rep.Name())
	}
	return names
}

// Dispatcher sends reports through the reporters of a registry
type Dispatcher struct {
	registry *Registry
	log      logger.Logger
}

var _ runner.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over registry
func NewDispatcher(registry *Registry, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{registry: registry, log: log}
}

// SubmitAll runs every enabled reporter. A failing reporter does not stop the others.
func (d *Dispatcher) SubmitAll(ctx context.Context, report *runner.Report, states []*runner.JobState, duration time.Duration, jobsFiles []string) error {
	var errs []error
	for _, rep := range d.registry.List() {
		if !rep.Enabled(report.Config) {
			continue
		}
		d.log.WithField("reporter", rep.Name()).Debug("submitting report")
		if err := rep.Submit(ctx, report, states, duration, jobsFiles); err != nil {
			d.log.WithField("reporter", rep.Name()).Error("reporter failed", err)
			errs = append(errs, fmt.Errorf("reporter %s: %w", rep.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SubmitOne runs the named reporter. With checkEnabled a disabled reporter is skipped.
func (d *Dispatcher) SubmitOne(ctx context.Context, name string, report *runner.Report, states []*runner.JobState, duration time.Duration, jobsFiles []string, checkEnabled bool) error {
	rep, ok := d.registry.Get(name)
	if !ok {
		return vahtierrors.ValidationError(fmt.Sprintf("no such reporter: %s", name)).
			WithSolutions("Use one of: " + strings.Join(d.registry.Names(), ", "))
	}
	if !rep.Enabled(report.Config) {
		if checkEnabled {
			d.log.WithField("reporter", name).Debug("reporter is not enabled")
			return nil
		}
		d.log.WithField("reporter", name).Warn("reporter is not enabled; sending anyway")
	}
	if err := rep.Submit(ctx, report, states, duration, jobsFiles); err != nil {
		return fmt.Errorf("reporter %s: %w", name, err)
	}
	return nil
}
