package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dokzlo13/tempod/internal/clock"
)

// ContractOptions configures the supply-contract strategy
type ContractOptions struct {
	TokenURL     string
	CalendarURL  string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Contract reads the authenticated Tempo calendar. It requests the whole
// season so the per-color counters can be filled alongside today and tomorrow.
type Contract struct {
	calendarURL string
	creds       clientcredentials.Config
	httpClient  *http.Client
}

type calendarPayload struct {
	Calendars *struct {
		Values []calendarValue `json:"values"`
	} `json:"tempo_like_calendars"`
}

type calendarValue struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Value     string `json:"value"`
}

// NewContract creates a contract strategy
func NewContract(opts ContractOptions) *Contract {
	return &Contract{
		calendarURL: opts.CalendarURL,
		creds: clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: newHTTPClient(opts.Timeout),
	}
}

// Name returns the strategy name
func (c *Contract) Name() string { return "contract" }

// Close releases idle connections
func (c *Contract) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SeasonStart returns September 1st of the Tempo season containing t,
// at midnight in t's location.
func SeasonStart(t time.Time) time.Time {
	year := t.Year()
	if t.Month() < time.September {
		year--
	}
	return time.Date(year, time.September, 1, 0, 0, 0, 0, t.Location())
}

// FetchColors requests the calendar from the season start up to the end of
// tomorrow. Counters include every colored day from the season start through
// today.
func (c *Contract) FetchColors(ctx context.Context, today, tomorrow time.Time) (DayColorState, FetchOutcome, error) {
	state := NewDayColorState()
	var outcome FetchOutcome

	start := SeasonStart(today)
	end := clock.Tomorrow(tomorrow)

	u, err := url.Parse(c.calendarURL)
	if err != nil {
		return state, outcome, fmt.Errorf("%w: calendar url: %v", ErrBadResponse, err)
	}
	q := u.Query()
	q.Set("start_date", start.Format(time.RFC3339))
	q.Set("end_date", end.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return state, outcome, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	// The token exchange goes through the same bounded client
	client := c.creds.Client(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	client.Timeout = c.httpClient.Timeout

	resp, err := client.Do(req)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			if rerr.Response != nil {
				outcome.HTTPStatus = rerr.Response.StatusCode
			}
			return state, outcome, fmt.Errorf("%w: token exchange: %v", ErrBadResponse, err)
		}
		return state, outcome, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp, &outcome)
	if err != nil {
		return state, outcome, err
	}

	var payload calendarPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return state, outcome, fmt.Errorf("%w: decode: %v", ErrBadResponse, err)
	}
	if payload.Calendars == nil {
		return state, outcome, fmt.Errorf("%w: missing tempo_like_calendars", ErrBadResponse)
	}

	todayKey := clock.DayKey(today)
	tomorrowKey := clock.DayKey(tomorrow)
	seasonKey := clock.DayKey(start)
	loc := today.Location()

	skipped := 0
	for _, v := range payload.Calendars.Values {
		day, err := time.Parse(time.RFC3339, v.StartDate)
		if err != nil {
			skipped++
			continue
		}
		key := clock.DayKey(day.In(loc))
		color := ParseColor(v.Value)

		switch key {
		case todayKey:
			state.Today = color
		case tomorrowKey:
			state.Tomorrow = color
		}

		// ISO day keys order lexically
		if key < seasonKey || key > todayKey {
			continue
		}
		switch color {
		case Red:
			state.CountRed++
		case White:
			state.CountWhite++
		case Blue:
			state.CountBlue++
		}
	}

	state.DeriveFound()
	outcome.Success = true

	log.Debug().
		Str("season_start", seasonKey).
		Int("days", len(payload.Calendars.Values)).
		Int("skipped", skipped).
		Int("red", state.CountRed).
		Int("white", state.CountWhite).
		Int("blue", state.CountBlue).
		Msg("Contract calendar decoded")

	return state, outcome, nil
}
