package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// Remote implements [ObjectStore] over a path-addressed HTTP endpoint
// offering presigned PUT/GET URLs (spec.md §6 "Remote protocol").
//
// Range reads use an inclusive "Range: bytes=a-b" header; negative starts
// are translated to the suffix form "bytes=-N". Conditional writes use
// "If-Match: <etag>", expecting 412 on precondition failure. Transient
// failures (network errors, 429/502/503/504) are retried with exponential
// backoff (100ms, 200ms, 400ms, up to 3 retries after the first attempt)
// per spec.md §5; 4xx
// (other than 429) and explicit cancellation are never retried.
type Remote struct {
	baseURL *url.URL
	client  *http.Client
	log     zerolog.Logger
}

// NewRemote creates a [Remote] object store rooted at baseURL.
func NewRemote(baseURL string, client *http.Client, log zerolog.Logger) (*Remote, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("objectstore: parse base url: %w", err)
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &Remote{baseURL: u, client: client, log: log}, nil
}

func (r *Remote) resolve(path string) (string, error) {
	clean, err := CleanPath(path)
	if err != nil {
		return "", err
	}

	u := *r.baseURL
	u.Path = u.Path + "/" + clean

	return u.String(), nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryableHTTPError wraps a non-2xx response so retry.Do's RetryIf can
// distinguish transient from permanent failures without re-parsing status.
type retryableHTTPError struct {
	status int
	path   string
}

func (e *retryableHTTPError) Error() string {
	return fmt.Sprintf("objectstore: remote %s: http %d", e.path, e.status)
}

func (r *Remote) do(ctx context.Context, req *http.Request, path string) (*http.Response, error) {
	var resp *http.Response

	err := retry.Do(
		func() error {
			var doErr error
			resp, doErr = r.client.Do(req.Clone(ctx)) //nolint:bodyclose // caller closes on success path
			if doErr != nil {
				return doErr
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}

			if resp.StatusCode == http.StatusPreconditionFailed || resp.StatusCode == http.StatusNotFound {
				// Permanent: surface immediately, do not retry.
				return retry.Unrecoverable(&retryableHTTPError{status: resp.StatusCode, path: path})
			}

			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			httpErr := &retryableHTTPError{status: resp.StatusCode, path: path}
			if !isRetryableStatus(resp.StatusCode) {
				return retry.Unrecoverable(fmt.Errorf("%w: %s", httpErr, string(body)))
			}

			return httpErr
		},
		retry.Context(ctx),
		retry.Attempts(4), // initial attempt + 3 retries
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(400*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			var httpErr *retryableHTTPError
			if errors.As(err, &httpErr) {
				return isRetryableStatus(httpErr.status)
			}
			// Network errors (DNS, connection refused, timeouts) are transient.
			return true
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		var httpErr *retryableHTTPError
		if errors.As(err, &httpErr) {
			switch httpErr.status {
			case http.StatusNotFound:
				return nil, newError(CodeNotFound, path, err)
			case http.StatusPreconditionFailed:
				return nil, newError(CodeETagMismatch, path, err)
			case http.StatusForbidden, http.StatusUnauthorized:
				return nil, newError(CodePermissionDenied, path, err)
			}
		}

		return nil, newError(CodeNetwork, path, err)
	}

	return resp, nil
}

func (r *Remote) Read(ctx context.Context, path string) ([]byte, error) {
	u, err := r.resolve(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, newError(CodeNetwork, path, err)
	}

	resp, err := r.do(ctx, req, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func rangeHeader(r Range) string {
	if r.IsSuffix() {
		return fmt.Sprintf("bytes=%d", r.Start)
	}

	// Half-open [Start, End) -> inclusive HTTP Range: bytes=Start-(End-1).
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

func (r *Remote) ReadRange(ctx context.Context, path string, rng Range) ([]byte, error) {
	u, err := r.resolve(path)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, newError(CodeNetwork, path, err)
	}

	req.Header.Set("Range", rangeHeader(rng))

	resp, err := r.do(ctx, req, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (r *Remote) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.Stat(ctx, path)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (r *Remote) Stat(ctx context.Context, path string) (Stat, error) {
	u, err := r.resolve(path)
	if err != nil {
		return Stat{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return Stat{}, newError(CodeNetwork, path, err)
	}

	resp, err := r.do(ctx, req, path)
	if err != nil {
		return Stat{}, err
	}
	defer resp.Body.Close()

	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	etag := resp.Header.Get("ETag")

	var mtime int64
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			mtime = t.UnixMilli()
		}
	}

	return Stat{Size: size, Mtime: mtime, ETag: etag}, nil
}

// List is not generally supported by presigned-URL remote endpoints in this
// protocol; manifest listing is expected to go through the manifest object
// itself rather than bucket-style prefix listing.
func (r *Remote) List(context.Context, string, string) (ListPage, error) {
	return ListPage{}, newError(CodePermissionDenied, "", fmt.Errorf("objectstore: remote backend does not support List"))
}

func (r *Remote) Write(ctx context.Context, path string, data []byte) error {
	u, err := r.resolve(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return newError(CodeNetwork, path, err)
	}

	req.ContentLength = int64(len(data))

	resp, err := r.do(ctx, req, path)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

func (r *Remote) WriteAtomic(ctx context.Context, path string, data []byte) error {
	// Presigned PUT is already atomic at the object level for this protocol.
	return r.Write(ctx, path, data)
}

func (r *Remote) WriteConditional(ctx context.Context, path string, data []byte, ifMatchEtag string) (Stat, error) {
	u, err := r.resolve(path)
	if err != nil {
		return Stat{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return Stat{}, newError(CodeNetwork, path, err)
	}

	req.ContentLength = int64(len(data))

	if ifMatchEtag != "" {
		req.Header.Set("If-Match", ifMatchEtag)
	} else {
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := r.do(ctx, req, path)
	if err != nil {
		return Stat{}, err
	}
	defer resp.Body.Close()

	return Stat{Size: int64(len(data)), Mtime: nowMillis(), ETag: resp.Header.Get("ETag")}, nil
}

func (r *Remote) Delete(ctx context.Context, path string) error {
	u, err := r.resolve(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return newError(CodeNetwork, path, err)
	}

	resp, err := r.do(ctx, req, path)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

func (r *Remote) DeletePrefix(context.Context, string) error {
	return newError(CodePermissionDenied, "", fmt.Errorf("objectstore: remote backend does not support DeletePrefix"))
}

func (r *Remote) Mkdir(context.Context, string) error { return nil }

func (r *Remote) Rmdir(context.Context, string) error { return nil }

var _ ObjectStore = (*Remote)(nil)
