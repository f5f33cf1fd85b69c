package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tempod/internal/clock"
)

// Preview reads the public tempoLight feed: one unauthenticated request
// answers both today and tomorrow.
type Preview struct {
	url        string
	httpClient *http.Client
}

// previewPayload is {"values": {"YYYY-MM-DD": "RED"|"WHITE"|"BLUE"|null}}
type previewPayload struct {
	Values map[string]*string `json:"values"`
}

// NewPreview creates a preview strategy
func NewPreview(url string, timeout time.Duration) *Preview {
	return &Preview{
		url:        url,
		httpClient: newHTTPClient(timeout),
	}
}

// Name returns the strategy name
func (p *Preview) Name() string { return "preview" }

// Close releases idle connections
func (p *Preview) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// FetchColors fetches the feed once and reads both day keys from it
func (p *Preview) FetchColors(ctx context.Context, today, tomorrow time.Time) (DayColorState, FetchOutcome, error) {
	state := NewDayColorState()
	var outcome FetchOutcome

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return state, outcome, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return state, outcome, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp, &outcome)
	if err != nil {
		return state, outcome, err
	}

	var payload previewPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return state, outcome, fmt.Errorf("%w: decode: %v", ErrBadResponse, err)
	}
	if payload.Values == nil {
		return state, outcome, fmt.Errorf("%w: missing values", ErrBadResponse)
	}

	todayKey := clock.DayKey(today)
	tomorrowKey := clock.DayKey(tomorrow)
	state.Today = colorAt(payload.Values, todayKey)
	state.Tomorrow = colorAt(payload.Values, tomorrowKey)
	state.DeriveFound()
	outcome.Success = true

	log.Debug().
		Str("today_key", todayKey).
		Str("tomorrow_key", tomorrowKey).
		Int("days", len(payload.Values)).
		Msg("Preview feed decoded")

	return state, outcome, nil
}

func colorAt(values map[string]*string, key string) Color {
	token, ok := values[key]
	if !ok || token == nil {
		return Unavailable
	}
	return ParseColor(*token)
}
