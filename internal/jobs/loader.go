package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/vahti/internal/differ"
	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/filters"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/config"
	"github.com/yairfalse/vahti/pkg/types"
)

// commonKeys are the directives every job kind accepts
var commonKeys = []string{
	"kind", "name", "note", "filter", "diff_filter", "differ", "compared_versions",
	"is_markdown", "max_tries", "no_report", "ignore_cached",
}

// Loader reads jobs files and turns their documents into jobs
type Loader struct {
	Kinds   *Registry
	Filters *filters.Registry
	Differs *differ.Registry
	Deps    Deps
}

// NewLoader creates a loader using the built-in registries
func NewLoader(deps Deps) *Loader {
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	return &Loader{
		Kinds:   Default(),
		Filters: filters.Default(),
		Differs: differ.Default(),
		Deps:    deps,
	}
}

// LoadFiles reads the jobs of every file in order. Job numbers continue across files.
func (l *Loader) LoadFiles(paths ...string) ([]runner.Job, error) {
	var specs []types.JobSpec
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, vahtierrors.ConfigurationError(fmt.Sprintf("jobs file %s not found", path), err).
					WithSolutions("Create the file with one YAML document per job", "Point --jobs at an existing file")
			}
			return nil, vahtierrors.ConfigurationError(fmt.Sprintf("cannot open jobs file %s", path), err)
		}
		parsed, err := l.Parse(f, path, len(specs))
		f.Close()
		if err != nil {
			return nil, err
		}
		specs = append(specs, parsed...)
	}
	return l.Build(specs)
}

// Parse decodes the YAML documents of r into job specs with job_defaults merged in.
// offset is the number of jobs already read from earlier files.
func (l *Loader) Parse(r io.Reader, source string, offset int) ([]types.JobSpec, error) {
	dec := yaml.NewDecoder(r)
	var specs []types.JobSpec

	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, vahtierrors.ConfigurationError(fmt.Sprintf("%s: invalid YAML", source), err)
		}

		var raw map[string]interface{}
		if err := node.Decode(&raw); err != nil {
			return nil, vahtierrors.ConfigurationError(
				fmt.Sprintf("%s: job %d must be a mapping", source, offset+len(specs)+1), err)
		}
		if len(raw) == 0 {
			continue
		}

		index := offset + len(specs) + 1
		spec, err := l.decodeSpec(raw, index)
		if err != nil {
			return nil, vahtierrors.Wrap(vahtierrors.ErrorTypeValidation, err, fmt.Sprintf("%s: job %d", source, index))
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (l *Loader) decodeSpec(raw map[string]interface{}, index int) (types.JobSpec, error) {
	kind, err := rawKind(raw)
	if err != nil {
		return types.JobSpec{}, err
	}
	k, ok := l.Kinds.Get(kind)
	if !ok {
		return types.JobSpec{}, fmt.Errorf("unknown kind %q", kind)
	}

	allowed := make(map[string]bool)
	for _, key := range append(append([]string{}, commonKeys...), k.Keys...) {
		allowed[key] = true
	}
	var unknown []string
	for key := range raw {
		if !allowed[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return types.JobSpec{}, fmt.Errorf("directive(s) %s not supported by %s jobs", strings.Join(unknown, ", "), kind)
	}

	merged := WithDefaults(raw, kind, l.Deps.Config.JobDefaults, allowed)

	// Re-decode strictly so mistyped values are reported
	buf, err := yaml.Marshal(merged)
	if err != nil {
		return types.JobSpec{}, err
	}
	var spec types.JobSpec
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return types.JobSpec{}, err
	}
	spec.Index = index
	spec.Kind = kind
	return spec, nil
}

// rawKind infers the kind of an undecoded job document
func rawKind(raw map[string]interface{}) (string, error) {
	kind, _ := raw["kind"].(string)
	url, _ := raw["url"].(string)
	command, _ := raw["command"].(string)
	useBrowser, _ := raw["use_browser"].(bool)
	return inferKind(kind, url, command, useBrowser)
}

// WithDefaults merges job_defaults into a job document. Directives set on the
// job win, then the defaults of its kind, then the "all" defaults. Defaults the
// kind does not accept are skipped.
func WithDefaults(raw map[string]interface{}, kind string, defaults config.JobDefaultsConfig, allowed map[string]bool) map[string]interface{} {
	merged := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		merged[k] = v
	}

	var specific map[string]interface{}
	switch kind {
	case KindURL:
		specific = defaults.URL
	case KindBrowser:
		specific = defaults.Browser
	case KindCommand:
		specific = defaults.Command
	}

	for _, layer := range []map[string]interface{}{specific, defaults.All} {
		for k, v := range layer {
			if _, set := merged[k]; set {
				continue
			}
			if allowed != nil && !allowed[k] {
				continue
			}
			merged[k] = v
		}
	}
	return merged
}

// Build validates the filter and differ directives of specs and constructs their jobs
func (l *Loader) Build(specs []types.JobSpec) ([]runner.Job, error) {
	seen := make(map[string]int)
	jobs := make([]runner.Job, 0, len(specs))

	for _, spec := range specs {
		if prev, dup := seen[spec.GUID()]; dup {
			return nil, vahtierrors.ValidationError(
				fmt.Sprintf("job %d: location %q is already used by job %d", spec.Index, spec.Location(), prev)).
				WithSolutions("Give every job a unique url or command")
		}
		seen[spec.GUID()] = spec.Index

		if spec.ComparedVersions < 0 {
			return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: compared_versions must not be negative", spec.Index))
		}
		if spec.MaxTries < 0 {
			return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: max_tries must not be negative", spec.Index))
		}
		if _, err := l.Filters.NormalizeFilterList(spec.Filter, spec.Index); err != nil {
			return nil, err
		}
		if _, err := l.Filters.NormalizeFilterList(spec.DiffFilter, spec.Index); err != nil {
			return nil, err
		}
		if _, err := l.Differs.NormalizeDiffer(spec.Differ, spec.Index); err != nil {
			return nil, err
		}

		job, err := l.Kinds.Build(spec, l.Deps)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
