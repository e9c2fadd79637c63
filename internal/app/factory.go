package app

import (
	"fmt"
	"os"
	"path/filepath"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/jobs"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/internal/orchestrator"
	"github.com/yairfalse/vahti/internal/reporters"
	"github.com/yairfalse/vahti/internal/storage"
	"github.com/yairfalse/vahti/pkg/config"
)

// AppFactory creates and configures the application with all dependencies
type AppFactory struct{}

func NewAppFactory() *AppFactory {
	return &AppFactory{}
}

// Create builds a fully configured App. The caller must Close it.
func (f *AppFactory) Create(cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, vahtierrors.ConfigurationError("invalid configuration", err)
	}

	app := &App{Config: cfg, Kinds: jobs.Default()}

	log, err := f.newLogger(app, cfg.Logging)
	if err != nil {
		return nil, err
	}
	app.Logger = log

	store, err := storage.New(storage.Config{
		Backend:      cfg.Storage.Backend,
		Path:         cfg.Storage.Path,
		MaxSnapshots: cfg.Storage.MaxSnapshots,
	})
	if err != nil {
		app.Close()
		return nil, vahtierrors.StorageError("open", err).
			WithSolutions(fmt.Sprintf("Check that %s is writable", cfg.Storage.Path))
	}
	app.Store = store

	app.JobsFiles = opts.JobsFiles
	if len(app.JobsFiles) == 0 {
		app.JobsFiles = []string{cfg.Jobs.File}
	}

	if !opts.SkipJobs {
		app.browser = jobs.NewBrowserManager(cfg.Browser, log)
		loader := jobs.NewLoader(jobs.Deps{
			Config:  cfg,
			HTTP:    jobs.NewHTTPClient(cfg.HTTP),
			Browser: app.browser,
			Logger:  log,
		})
		loader.Kinds = app.Kinds
		app.Jobs, err = loader.LoadFiles(app.JobsFiles...)
		if err != nil {
			app.Close()
			return nil, err
		}
		log.Debug(fmt.Sprintf("loaded %d jobs from %v", len(app.Jobs), app.JobsFiles))
	}

	app.Orchestrator = orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Store:     store,
		Jobs:      app.Jobs,
		JobsFiles: app.JobsFiles,
		Reporters: reporters.Default(),
		Logger:    log,
		Out:       opts.Out,
		Joblist:   opts.Joblist,
		Headless:  opts.Headless,
		Verbose:   opts.Verbose,
	})
	return app, nil
}

func (f *AppFactory) newLogger(app *App, cfg config.LoggingConfig) (logger.Logger, error) {
	opts := logger.Options{Level: cfg.Level, Format: cfg.Format, Output: os.Stderr}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, vahtierrors.IOError(err)
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, vahtierrors.IOError(err)
		}
		app.closers = append(app.closers, file)
		opts.Output = file
	}

	log, err := logger.New(opts)
	if err != nil {
		return nil, vahtierrors.ConfigurationError("invalid logging settings", err)
	}
	return log, nil
}
