package carbonado

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/diba-io/bitmask/fn"
	"github.com/sony/gobreaker"
)

const (
	// DefaultHTTPTimeout bounds a single request to one endpoint.
	DefaultHTTPTimeout = 10 * time.Second

	// maxObjectSize caps how much of a response body is read.
	maxObjectSize = 64 << 20

	// breakerTrip is the number of consecutive failures after which an
	// endpoint is skipped until its breaker half-opens again.
	breakerTrip = 5

	breakerCoolDown = 30 * time.Second
)

// errEndpoint marks a failure of a single endpoint, as opposed to a missing
// object.
var errEndpoint = errors.New("endpoint failure")

// HTTPBackend stores objects on one or more remote carbonado endpoints.
// Writes go to every endpoint and succeed if any accepts them, reads are
// served by the first endpoint that answers.
type HTTPBackend struct {
	endpoints []string
	client    *http.Client
	breakers  map[string]*gobreaker.CircuitBreaker
	retry     fn.RetryConfig
}

// NewHTTPBackend creates a backend for the given endpoint base URLs.
func NewHTTPBackend(endpoints []string,
	timeout time.Duration) (*HTTPBackend, error) {

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("carbonado: no endpoints configured")
	}
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}

	b := &HTTPBackend{
		client:   &http.Client{Timeout: timeout},
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		retry:    fn.DefaultRetryConfig(),
	}
	b.retry.IsRetryable = func(err error) bool {
		return errors.Is(err, errEndpoint)
	}

	for _, e := range endpoints {
		e = strings.TrimRight(e, "/")
		if _, err := url.Parse(e); err != nil {
			return nil, fmt.Errorf("carbonado: bad endpoint %q: %w",
				e, err)
		}

		b.endpoints = append(b.endpoints, e)
		b.breakers[e] = newBreaker(e)
	}

	return b, nil
}

func newBreaker(endpoint string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    endpoint,
		Timeout: breakerCoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			switch {
			case to == gobreaker.StateOpen:
				log.Warnf("Endpoint %v seems down, pausing "+
					"requests", name)

			case from == gobreaker.StateHalfOpen &&
				to == gobreaker.StateClosed:

				log.Infof("Endpoint %v is back", name)
			}
		},
	})
}

func objectURL(endpoint, dir, file string) string {
	return fmt.Sprintf("%s/%s/%s", endpoint, url.PathEscape(dir),
		url.PathEscape(file))
}

// Put posts the object to every endpoint.
func (b *HTTPBackend) Put(ctx context.Context, dir, file string,
	blob []byte) error {

	var (
		stored  int
		lastErr error
	)
	for _, endpoint := range b.endpoints {
		_, err := b.breakers[endpoint].Execute(func() (interface{},
			error) {

			return nil, b.post(ctx, objectURL(endpoint, dir, file),
				blob)
		})
		if err != nil {
			log.Warnf("Unable to store %v at %v: %v", file, endpoint,
				err)
			lastErr = err
			continue
		}
		stored++
	}

	if stored == 0 {
		return fmt.Errorf("%w: %v", ErrAllEndpointsFailed, lastErr)
	}

	return nil
}

func (b *HTTPBackend) post(ctx context.Context, target string,
	blob []byte) error {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, target, bytes.NewReader(blob),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", errEndpoint,
			resp.StatusCode, bytes.TrimSpace(msg))
	}

	return nil
}

// Get reads the object from the first endpoint that has it. An object that
// every reachable endpoint reports as missing is ErrObjectNotFound.
func (b *HTTPBackend) Get(ctx context.Context, dir, file string) ([]byte,
	error) {

	var (
		missing int
		lastErr error
	)
	for _, endpoint := range b.endpoints {
		target := objectURL(endpoint, dir, file)
		blob, err := fn.RetryFuncN(ctx, b.retry, func() ([]byte, error) {
			res, err := b.breakers[endpoint].Execute(
				func() (interface{}, error) {
					return b.get(ctx, target)
				},
			)
			if err != nil {
				return nil, err
			}

			return res.([]byte), nil
		})
		switch {
		case err == nil && len(blob) > 0:
			return blob, nil

		case err == nil:
			missing++

		default:
			log.Debugf("Unable to read %v from %v: %v", file,
				endpoint, err)
			lastErr = err
		}
	}

	if missing > 0 {
		return nil, ErrObjectNotFound
	}

	return nil, fmt.Errorf("%w: %v", ErrAllEndpointsFailed, lastErr)
}

// get returns an empty slice and no error for a missing object so the
// breaker does not count it as a failure.
func (b *HTTPBackend) get(ctx context.Context, target string) ([]byte,
	error) {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, target, nil,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errEndpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return []byte{}, nil

	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("%w: status %d", errEndpoint,
			resp.StatusCode)
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errEndpoint, err)
	}

	return blob, nil
}
