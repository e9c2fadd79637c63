package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	vahtierrors "github.com/yairfalse/vahti/internal/errors"
	"github.com/yairfalse/vahti/internal/runner"
	"github.com/yairfalse/vahti/pkg/types"
)

// maxBodyBytes caps the size of a retrieved body
var maxBodyBytes int64 = 50 << 20

// URLJob retrieves content over HTTP
type URLJob struct {
	base
	client *HTTPClient
}

func newURLJob(spec types.JobSpec, deps Deps) (runner.Job, error) {
	if spec.URL == "" {
		return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: url is required", spec.Index))
	}
	if !strings.HasPrefix(spec.URL, "http://") && !strings.HasPrefix(spec.URL, "https://") {
		return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: url must start with http:// or https://", spec.Index))
	}
	if _, err := parseHTTPCodes(spec.IgnoreHTTPErrorCodes); err != nil {
		return nil, vahtierrors.ValidationError(fmt.Sprintf("job %d: ignore_http_error_codes: %v", spec.Index, err))
	}
	client := deps.HTTP
	if client == nil {
		client = NewHTTPClient(deps.Config.HTTP)
	}
	return &URLJob{base: newBase(spec, deps), client: client}, nil
}

// Retrieve fetches the URL. A previous ETag is sent with If-None-Match and a
// 304 answer is reported as not modified.
func (j *URLJob) Retrieve(ctx context.Context, state *runner.JobState, headless bool) (string, string, string, error) {
	ctx, cancel := withTimeout(ctx, j.spec.Timeout)
	defer cancel()

	method := strings.ToUpper(j.spec.Method)
	var body io.Reader
	if j.spec.Data != "" {
		body = strings.NewReader(j.spec.Data)
		if method == "" {
			method = http.MethodPost
		}
	}
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, j.spec.URL, body)
	if err != nil {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, err)
	}
	if j.spec.UserAgent != "" {
		req.Header.Set("User-Agent", j.spec.UserAgent)
	}
	if j.spec.Data != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range j.spec.Headers {
		req.Header.Set(k, v)
	}
	if state != nil && !j.spec.IgnoreCached {
		if state.OldETag != "" {
			req.Header.Set("If-None-Match", state.OldETag)
		} else if state.OldTimestamp != types.EpochTimestamp && state.OldData != "" {
			req.Header.Set("If-Modified-Since", types.TimeFromTimestamp(state.OldTimestamp).UTC().Format(http.TimeFormat))
		}
	}

	j.log.Debug(fmt.Sprintf("%s %s", method, j.spec.URL))
	resp, err := j.client.Do(req)
	if err != nil {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, err)
	}
	defer resp.Body.Close()

	etag := resp.Header.Get("ETag")
	if resp.StatusCode == http.StatusNotModified {
		return "", etag, "", vahtierrors.NotModified(etag)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > maxBodyBytes {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, fmt.Errorf("response body exceeds %d bytes", maxBodyBytes))
	}

	if resp.StatusCode >= 400 {
		return "", "", "", vahtierrors.RetrievalError(j.spec.URL, &vahtierrors.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(data),
		})
	}

	mimeType := types.DefaultMimeType
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
		}
	}
	return string(data), etag, mimeType, nil
}

// FormatError renders HTTP status failures as "HTTP <code> <reason>"
func (j *URLJob) FormatError(err error, trace string) string {
	var httpErr *vahtierrors.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Error()
	}
	return j.base.FormatError(err, trace)
}

// IgnoreError applies the ignore_* directives
func (j *URLJob) IgnoreError(err error) (bool, string) {
	if vahtierrors.IsNotModified(err) {
		return false, ""
	}

	var httpErr *vahtierrors.HTTPError
	if errors.As(err, &httpErr) {
		codes, _ := parseHTTPCodes(j.spec.IgnoreHTTPErrorCodes)
		return codes.match(httpErr.StatusCode), ""
	}
	if errors.Is(err, errTooManyRedirects) {
		return j.spec.IgnoreTooManyRedirects, ""
	}
	if isTimeout(err) {
		return j.spec.IgnoreTimeoutErrors, ""
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return j.spec.IgnoreConnectionErrors, ""
	}
	return false, ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// httpCodes holds ignored status codes and status classes (4 for "4xx")
type httpCodes struct {
	codes   map[int]bool
	classes map[int]bool
}

func (c httpCodes) match(code int) bool {
	return c.codes[code] || c.classes[code/100]
}

// parseHTTPCodes accepts a code, a comma separated string such as "404, 5xx", or a list of either
func parseHTTPCodes(v interface{}) (httpCodes, error) {
	c := httpCodes{codes: make(map[int]bool), classes: make(map[int]bool)}

	var items []string
	switch val := v.(type) {
	case nil:
		return c, nil
	case int:
		items = []string{strconv.Itoa(val)}
	case string:
		items = strings.Split(val, ",")
	case []interface{}:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	case []int:
		for _, item := range val {
			items = append(items, strconv.Itoa(item))
		}
	case []string:
		items = val
	default:
		return c, fmt.Errorf("unsupported value %v", v)
	}

	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if len(item) == 3 && strings.HasSuffix(item, "xx") {
			class, err := strconv.Atoi(item[:1])
			if err != nil {
				return c, fmt.Errorf("invalid status class %q", item)
			}
			c.classes[class] = true
			continue
		}
		code, err := strconv.Atoi(item)
		if err != nil || code < 100 || code > 599 {
			return c, fmt.Errorf("invalid status code %q", item)
		}
		c.codes[code] = true
	}
	return c, nil
}
