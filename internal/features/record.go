package features

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"court-pricer/internal/common"
)

// BookingRecord is one court booking as supplied by a form or an extraction adapter.
// day_of_week and season are not fields: they are derived from BookingDate.
type BookingRecord struct {
	BookingDate         time.Time
	BookingTime         TimeOfDay
	Duration            float64 // hours
	NumPlayers          int
	CourtSurface        Surface
	CourtType           CourtType
	MatchType           MatchType
	CourtQuality        Quality
	CourtLighting       bool
	EquipmentRental     bool
	CoachingRequested   bool
	BallMachine         bool
	Refreshments        bool
	SpecialRequests     bool
	BookingLeadTime     int // days
	HistoricalDemand    float64
	Temperature         float64 // degrees Celsius
	PrecipitationChance float64
}

// Season returns the season derived from the booking date.
func (r BookingRecord) Season() Season { return SeasonOf(r.BookingDate) }

// DayOfWeek returns the weekday derived from the booking date.
func (r BookingRecord) DayOfWeek() string { return DayOfWeek(r.BookingDate) }

// Row flattens the record into the encoded schema, deriving the calendar fields and
// decomposing the booking time.
func (r BookingRecord) Row() Row {
	return Row{
		Numeric: map[string]float64{
			FieldDuration:            r.Duration,
			FieldNumPlayers:          float64(r.NumPlayers),
			FieldBookingLeadTime:     float64(r.BookingLeadTime),
			FieldHistoricalDemand:    r.HistoricalDemand,
			FieldTemperature:         r.Temperature,
			FieldPrecipitationChance: r.PrecipitationChance,
			FieldBookingHour:         float64(r.BookingTime.Hour),
			FieldBookingMinute:       float64(r.BookingTime.Minute),
		},
		Categorical: map[string]string{
			FieldCourtSurface: string(r.CourtSurface),
			FieldCourtType:    string(r.CourtType),
			FieldMatchType:    string(r.MatchType),
			FieldCourtQuality: string(r.CourtQuality),
			FieldDayOfWeek:    r.DayOfWeek(),
			FieldSeason:       string(r.Season()),
		},
		Boolean: map[string]bool{
			FieldCourtLighting:     r.CourtLighting,
			FieldEquipmentRental:   r.EquipmentRental,
			FieldCoachingRequested: r.CoachingRequested,
			FieldBallMachine:       r.BallMachine,
			FieldRefreshments:      r.Refreshments,
			FieldSpecialRequests:   r.SpecialRequests,
		},
	}
}

// Validate checks value domains. Enumeration values outside their vocabulary are
// reported as unseen categories; other violations as schema mismatches.
func (r BookingRecord) Validate() error {
	if r.BookingDate.IsZero() {
		return &common.SchemaMismatchError{Field: FieldBookingDate, Reason: "is required"}
	}
	if !r.BookingTime.Valid() {
		return &common.SchemaMismatchError{Field: FieldBookingTime, Reason: fmt.Sprintf("has invalid value %s", r.BookingTime)}
	}
	if !(r.Duration > 0) || math.IsInf(r.Duration, 0) {
		return &common.SchemaMismatchError{Field: FieldDuration, Reason: fmt.Sprintf("must be a positive number of hours, got %g", r.Duration)}
	}
	if !slices.Contains(PlayerCounts, r.NumPlayers) {
		return &common.SchemaMismatchError{Field: FieldNumPlayers, Reason: fmt.Sprintf("must be 2 or 4, got %d", r.NumPlayers)}
	}
	if !r.CourtSurface.Valid() {
		return &common.UnseenCategoryError{Field: FieldCourtSurface, Value: string(r.CourtSurface)}
	}
	if !r.CourtType.Valid() {
		return &common.UnseenCategoryError{Field: FieldCourtType, Value: string(r.CourtType)}
	}
	if !r.MatchType.Valid() {
		return &common.UnseenCategoryError{Field: FieldMatchType, Value: string(r.MatchType)}
	}
	if !r.CourtQuality.Valid() {
		return &common.UnseenCategoryError{Field: FieldCourtQuality, Value: string(r.CourtQuality)}
	}
	if !inUnitInterval(r.HistoricalDemand) {
		return &common.SchemaMismatchError{Field: FieldHistoricalDemand, Reason: fmt.Sprintf("must be within [0,1], got %g", r.HistoricalDemand)}
	}
	if !inUnitInterval(r.PrecipitationChance) {
		return &common.SchemaMismatchError{Field: FieldPrecipitationChance, Reason: fmt.Sprintf("must be within [0,1], got %g", r.PrecipitationChance)}
	}
	if math.IsNaN(r.Temperature) || math.IsInf(r.Temperature, 0) {
		return &common.SchemaMismatchError{Field: FieldTemperature, Reason: "must be finite"}
	}
	return nil
}

func inUnitInterval(v float64) bool { return v >= 0 && v <= 1 }

// recordJSON is the wire form of a BookingRecord.
type recordJSON struct {
	BookingDate         string    `json:"booking_date"`
	BookingTime         TimeOfDay `json:"booking_time"`
	Duration            float64   `json:"duration"`
	NumPlayers          int       `json:"num_players"`
	CourtSurface        Surface   `json:"court_surface"`
	CourtType           CourtType `json:"court_type"`
	MatchType           MatchType `json:"match_type"`
	CourtQuality        Quality   `json:"court_quality"`
	CourtLighting       bool      `json:"court_lighting"`
	EquipmentRental     bool      `json:"equipment_rental"`
	CoachingRequested   bool      `json:"coaching_requested"`
	BallMachine         bool      `json:"ball_machine"`
	Refreshments        bool      `json:"refreshments"`
	SpecialRequests     bool      `json:"special_requests"`
	BookingLeadTime     int       `json:"booking_lead_time"`
	HistoricalDemand    float64   `json:"historical_demand"`
	Temperature         float64   `json:"temperature"`
	PrecipitationChance float64   `json:"precipitation_chance"`
}

// InputFields lists the raw input field names every record must carry.
var InputFields = []string{
	FieldBookingDate, FieldBookingTime, FieldDuration, FieldNumPlayers,
	FieldCourtSurface, FieldCourtType, FieldMatchType, FieldCourtQuality,
	FieldCourtLighting, FieldEquipmentRental, FieldCoachingRequested,
	FieldBallMachine, FieldRefreshments, FieldSpecialRequests,
	FieldBookingLeadTime, FieldHistoricalDemand, FieldTemperature, FieldPrecipitationChance,
}

func (r BookingRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		BookingDate:         r.BookingDate.Format(time.DateOnly),
		BookingTime:         r.BookingTime,
		Duration:            r.Duration,
		NumPlayers:          r.NumPlayers,
		CourtSurface:        r.CourtSurface,
		CourtType:           r.CourtType,
		MatchType:           r.MatchType,
		CourtQuality:        r.CourtQuality,
		CourtLighting:       r.CourtLighting,
		EquipmentRental:     r.EquipmentRental,
		CoachingRequested:   r.CoachingRequested,
		BallMachine:         r.BallMachine,
		Refreshments:        r.Refreshments,
		SpecialRequests:     r.SpecialRequests,
		BookingLeadTime:     r.BookingLeadTime,
		HistoricalDemand:    r.HistoricalDemand,
		Temperature:         r.Temperature,
		PrecipitationChance: r.PrecipitationChance,
	})
}

func (r *BookingRecord) UnmarshalJSON(data []byte) error {
	rec, err := DecodeRecord(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// DecodeRecord parses a JSON object into a BookingRecord. Every input field is
// required; absent, null, unknown or mistyped fields are schema mismatches. Nothing
// is defaulted here: filling gaps is the caller's policy.
func DecodeRecord(data []byte) (BookingRecord, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return BookingRecord{}, &common.SchemaMismatchError{Field: "record", Reason: fmt.Sprintf("is not a JSON object: %v", err)}
	}

	extra := make([]string, 0)
	for k := range raw {
		if !slices.Contains(InputFields, k) {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		reason := "is not an input field"
		if extra[0] == FieldDayOfWeek || extra[0] == FieldSeason {
			reason = "is derived from booking_date and cannot be set"
		}
		return BookingRecord{}, &common.SchemaMismatchError{Field: extra[0], Reason: reason}
	}
	for _, name := range InputFields {
		v, ok := raw[name]
		if !ok || string(v) == "null" {
			return BookingRecord{}, &common.SchemaMismatchError{Field: name, Reason: "is required"}
		}
	}

	var wire recordJSON
	targets := map[string]any{
		FieldBookingDate:         &wire.BookingDate,
		FieldBookingTime:         &wire.BookingTime,
		FieldDuration:            &wire.Duration,
		FieldNumPlayers:          &wire.NumPlayers,
		FieldCourtSurface:        &wire.CourtSurface,
		FieldCourtType:           &wire.CourtType,
		FieldMatchType:           &wire.MatchType,
		FieldCourtQuality:        &wire.CourtQuality,
		FieldCourtLighting:       &wire.CourtLighting,
		FieldEquipmentRental:     &wire.EquipmentRental,
		FieldCoachingRequested:   &wire.CoachingRequested,
		FieldBallMachine:         &wire.BallMachine,
		FieldRefreshments:        &wire.Refreshments,
		FieldSpecialRequests:     &wire.SpecialRequests,
		FieldBookingLeadTime:     &wire.BookingLeadTime,
		FieldHistoricalDemand:    &wire.HistoricalDemand,
		FieldTemperature:         &wire.Temperature,
		FieldPrecipitationChance: &wire.PrecipitationChance,
	}
	for _, name := range InputFields {
		if err := json.Unmarshal(raw[name], targets[name]); err != nil {
			return BookingRecord{}, &common.SchemaMismatchError{Field: name, Reason: fmt.Sprintf("has invalid value %s", raw[name])}
		}
	}

	date, err := ParseDate(wire.BookingDate)
	if err != nil {
		return BookingRecord{}, &common.SchemaMismatchError{Field: FieldBookingDate, Reason: err.Error()}
	}

	rec := BookingRecord{
		BookingDate:         date,
		BookingTime:         wire.BookingTime,
		Duration:            wire.Duration,
		NumPlayers:          wire.NumPlayers,
		CourtSurface:        wire.CourtSurface,
		CourtType:           wire.CourtType,
		MatchType:           wire.MatchType,
		CourtQuality:        wire.CourtQuality,
		CourtLighting:       wire.CourtLighting,
		EquipmentRental:     wire.EquipmentRental,
		CoachingRequested:   wire.CoachingRequested,
		BallMachine:         wire.BallMachine,
		Refreshments:        wire.Refreshments,
		SpecialRequests:     wire.SpecialRequests,
		BookingLeadTime:     wire.BookingLeadTime,
		HistoricalDemand:    wire.HistoricalDemand,
		Temperature:         wire.Temperature,
		PrecipitationChance: wire.PrecipitationChance,
	}
	if err := rec.Validate(); err != nil {
		return BookingRecord{}, err
	}
	return rec, nil
}
