package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// NTPSource queries an NTP server
type NTPSource struct {
	server  string
	timeout time.Duration
}

// NewNTPSource creates an NTP-backed network source
func NewNTPSource(server string, timeout time.Duration) *NTPSource {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &NTPSource{server: server, timeout: timeout}
}

// Query asks the server for the current time, honouring ctx's deadline when shorter
func (s *NTPSource) Query(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	resp, err := ntp.QueryWithOptions(s.server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, fmt.Errorf("ntp query %s: %w", s.server, err)
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, fmt.Errorf("ntp response from %s: %w", s.server, err)
	}

	return time.Now().Add(resp.ClockOffset), nil
}
