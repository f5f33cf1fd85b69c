package provider

// DayColorState is the color data gathered during one wake cycle
type DayColorState struct {
	Today         Color `json:"today"`
	Tomorrow      Color `json:"tomorrow"`
	CountRed      int   `json:"count_red"`
	CountWhite    int   `json:"count_white"`
	CountBlue     int   `json:"count_blue"`
	TodayFound    bool  `json:"today_found"`
	TomorrowFound bool  `json:"tomorrow_found"`
}

// NewDayColorState returns a state with both days Unavailable
func NewDayColorState() DayColorState {
	return DayColorState{Today: Unavailable, Tomorrow: Unavailable}
}

// DeriveFound sets the found flags from the colors.
// The flags are never set any other way.
func (s *DayColorState) DeriveFound() {
	s.TodayFound = s.Today.Known()
	s.TomorrowFound = s.Tomorrow.Known()
}

// FetchOutcome describes the transport-level result of a fetch
type FetchOutcome struct {
	Success           bool `json:"success"`
	HTTPStatus        int  `json:"http_status"`
	RawPayloadPresent bool `json:"raw_payload_present"`
}
