package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/logger"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/config"
	"github.com/yairfalse/vahti/pkg/types"
)

// BrowserManager launches Chromium lazily and shares it between browser jobs.
// A headless and a headful instance are kept apart.
type BrowserManager struct {
	cfg config.BrowserConfig
	log logger.Logger

	mu        sync.Mutex
	browsers  map[bool]*rod.Browser
	launchers []*launcher.Launcher
	closed    bool
}

// NewBrowserManager creates a manager; no browser starts until a job needs one
func NewBrowserManager(cfg config.BrowserConfig, log logger.Logger) *BrowserManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &BrowserManager{
		cfg:      cfg,
		log:      log,
		browsers: make(map[bool]*rod.Browser),
	}
}

// Browser returns a connected browser, launching or connecting on first use
func (m *BrowserManager) Browser(ctx context.Context, headless bool) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if b, ok := m.browsers[headless]; ok {
		return b, nil
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		m.log.WithField("url", wsURL).Info("browser: connecting to remote")
	} else {
		l := launcher.New().Headless(headless)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.launchers = append(m.launchers, l)
		m.log.WithField("headless", headless).Info("browser: launched local chromium")
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	// Detach from the caller's context so the browser outlives one job
	b = b.Context(context.Background())
	m.browsers[headless] = b
	return b, nil
}

// Close shuts down every browser the manager started
func (m *BrowserManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	var errs []string
	for headless, b := range m.browsers {
		if err := b.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		delete(m.browsers, headless)
	}
	for _, l := range m.launchers {
		l.Kill()
	}
	m.launchers = nil
	if len(errs) > 0 {
		return fmt.Errorf("browser: close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BrowserJob renders a page in Chromium and captures the resulting DOM
type BrowserJob struct {
	base
	manager *BrowserManager
	timeout float64
}

func newBrowserJob(spec types.JobSpec, deps Deps) (runner.Job, error) {
	if spec.URL == "" {
		return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: url is required", spec.Index))
	}
	manager := deps.Browser
	if manager == nil {
		manager = NewBrowserManager(deps.Config.Browser, deps.Logger)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = deps.Config.Browser.Timeout.Seconds()
	}
	return &BrowserJob{base: newBase(spec, deps), manager: manager, timeout: timeout}, nil
}

// Retrieve navigates to the URL, waits for the load event and for wait_for
// when set, then returns the page HTML
func (j *BrowserJob) Retrieve(ctx context.Context, state *runner.JobState, headless bool) (string, string, string, error) {
	ctx, cancel := withTimeout(ctx, j.timeout)
	defer cancel()

	b, err := j.manager.Browser(ctx, headless)
	if err != nil {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, fmt.Errorf("browser: create tab: %w", err))
	}
	defer page.Close()
	page = page.Context(ctx)

	if j.spec.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: j.spec.UserAgent}); err != nil {
			return "", "", "", vahtierrors.RetrievalError(j.spec.URL, err)
		}
	}
	if len(j.spec.Headers) > 0 {
		dict := make([]string, 0, len(j.spec.Headers)*2)
		for k, v := range j.spec.Headers {
			dict = append(dict, k, v)
		}
		cleanup, err := page.SetExtraHeaders(dict)
		if err != nil {
			return "", "", "", vahtierrors.RetrievalError(j.spec.URL, err)
		}
		defer cleanup()
	}

	if err := page.Navigate(j.spec.URL); err != nil {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, fmt.Errorf("browser: navigate: %w", err))
	}
	if err := page.WaitLoad(); err != nil {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, fmt.Errorf("browser: wait load: %w", err))
	}
	if j.spec.WaitFor != "" {
		if _, err := page.Element(j.spec.WaitFor); err != nil {
			return "", "", "", vahtierrors.RetrievalError(j.spec.URL, fmt.Errorf("browser: wait for %q: %w", j.spec.WaitFor, err))
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, fmt.Errorf("browser: get DOM: %w", err))
	}
	return html, "", "text/html", nil
}

// IgnoreError honors ignore_timeout_errors for slow pages
func (j *BrowserJob) IgnoreError(err error) (bool, string) {
	if isTimeout(err) {
		return j.spec.IgnoreTimeoutErrors, ""
	}
	return false, ""
}

// IsBrowser reports whether job drives a browser
func IsBrowser(job runner.Job) bool {
	_, ok := job.(*BrowserJob)
	return ok
}
