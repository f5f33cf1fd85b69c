// Package provider fetches Tempo day colors from RTE.
// Two strategies implement Provider: the public preview feed and the
// authenticated supply-contract calendar.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrUnreachable = errors.New("provider unreachable")
	ErrBadResponse = errors.New("provider returned a bad response")
)

// Provider fetches today's and tomorrow's colors.
// The returned state is always usable: on failure both colors are Unavailable
// and the error wraps ErrUnreachable or ErrBadResponse.
type Provider interface {
	Name() string
	FetchColors(ctx context.Context, today, tomorrow time.Time) (DayColorState, FetchOutcome, error)
	Close() error
}

const (
	userAgent      = "tempod/1.0"
	maxPayloadSize = 1 << 20
	defaultTimeout = 15 * time.Second
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// readBody checks the status and reads a bounded body
func readBody(resp *http.Response, outcome *FetchOutcome) ([]byte, error) {
	outcome.HTTPStatus = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	outcome.RawPayloadPresent = len(body) > 0

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnreachable, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadResponse)
	}
	return body, nil
}
