package app

import (
	"errors"
	"io"

	"github.com/yairfalse/vahti/internal/jobs"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/internal/orchestrator"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/internal/storage"
	"github.com/yairfalse/vahti/pkg/config"
)

// Options are the per-invocation settings that do not live in the config file
type Options struct {
	JobsFiles []string
	Joblist   []int
	Headless  bool
	Verbose   bool
	Out       io.Writer
	// SkipJobs opens the store without reading the jobs file
	SkipJobs bool
}

// App holds the wired components of one vahti invocation
type App struct {
	Config       *config.Config
	Logger       logger.Logger
	Store        storage.Store
	Jobs         []runner.Job
	JobsFiles    []string
	Kinds        *jobs.Registry
	Orchestrator *orchestrator.Orchestrator

	browser *jobs.BrowserManager
	closers []io.Closer
}

// Close shuts down the browser and the store
func (a *App) Close() error {
	var errs []error
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
