// Package features defines the booking feature schema and turns booking records into
// fixed-width numeric vectors for the price model.
//
// The schema is closed: every categorical field has a declared vocabulary, and the
// Encoder learns its scaling parameters and indicator layout once, at fit time.
// After fitting, the encoder is read-only and can be shared across goroutines.
package features

import "slices"

// Kind is the value type of a schema field.
type Kind int

const (
	Numeric Kind = iota
	Categorical
	Boolean
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	case Boolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Field names as they appear in the encoded schema and in attribution output.
const (
	FieldDuration            = "duration"
	FieldNumPlayers          = "num_players"
	FieldBookingLeadTime     = "booking_lead_time"
	FieldHistoricalDemand    = "historical_demand"
	FieldTemperature         = "temperature"
	FieldPrecipitationChance = "precipitation_chance"
	FieldBookingHour         = "booking_hour"
	FieldBookingMinute       = "booking_minute"

	FieldCourtSurface = "court_surface"
	FieldCourtType    = "court_type"
	FieldMatchType    = "match_type"
	FieldCourtQuality = "court_quality"
	FieldDayOfWeek    = "day_of_week"
	FieldSeason       = "season"

	FieldCourtLighting     = "court_lighting"
	FieldEquipmentRental   = "equipment_rental"
	FieldCoachingRequested = "coaching_requested"
	FieldBallMachine       = "ball_machine"
	FieldRefreshments      = "refreshments"
	FieldSpecialRequests   = "special_requests"

	// Raw input fields that do not survive into the encoded schema.
	FieldBookingDate = "booking_date"
	FieldBookingTime = "booking_time"
)

// Surface is the playing surface of a court.
type Surface string

const (
	SurfaceHard   Surface = "Hard"
	SurfaceClay   Surface = "Clay"
	SurfaceGrass  Surface = "Grass"
	SurfaceCarpet Surface = "Carpet"
)

// Surfaces lists every valid Surface.
var Surfaces = []Surface{SurfaceHard, SurfaceClay, SurfaceGrass, SurfaceCarpet}

// CourtType tells whether a court is covered.
type CourtType string

const (
	CourtIndoor  CourtType = "Indoor"
	CourtOutdoor CourtType = "Outdoor"
)

var CourtTypes = []CourtType{CourtIndoor, CourtOutdoor}

// MatchType is the kind of session booked.
type MatchType string

const (
	MatchSingles  MatchType = "Singles"
	MatchDoubles  MatchType = "Doubles"
	MatchTraining MatchType = "Training"
)

var MatchTypes = []MatchType{MatchSingles, MatchDoubles, MatchTraining}

// Quality is the court grade.
type Quality string

const (
	QualityStandard Quality = "Standard"
	QualityPremium  Quality = "Premium"
	QualityElite    Quality = "Elite"
)

var Qualities = []Quality{QualityStandard, QualityPremium, QualityElite}

// Season is derived from the booking date, see SeasonOf.
type Season string

const (
	SeasonWinter Season = "Winter"
	SeasonSpring Season = "Spring"
	SeasonSummer Season = "Summer"
	SeasonFall   Season = "Fall"
)

var Seasons = []Season{SeasonWinter, SeasonSpring, SeasonSummer, SeasonFall}

// Weekdays holds the day_of_week vocabulary in calendar order.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// PlayerCounts lists the accepted num_players values.
var PlayerCounts = []int{2, 4}

func (s Surface) Valid() bool   { return slices.Contains(Surfaces, s) }
func (c CourtType) Valid() bool { return slices.Contains(CourtTypes, c) }
func (m MatchType) Valid() bool { return slices.Contains(MatchTypes, m) }
func (q Quality) Valid() bool   { return slices.Contains(Qualities, q) }
func (s Season) Valid() bool    { return slices.Contains(Seasons, s) }

// Field describes one column of the post-decomposition schema.
type Field struct {
	Name       string
	Kind       Kind
	Vocabulary []string // declared vocabulary, categorical fields only
}

var schema = []Field{
	{Name: FieldDuration, Kind: Numeric},
	{Name: FieldNumPlayers, Kind: Numeric},
	{Name: FieldBookingLeadTime, Kind: Numeric},
	{Name: FieldHistoricalDemand, Kind: Numeric},
	{Name: FieldTemperature, Kind: Numeric},
	{Name: FieldPrecipitationChance, Kind: Numeric},
	{Name: FieldBookingHour, Kind: Numeric},
	{Name: FieldBookingMinute, Kind: Numeric},

	{Name: FieldCourtSurface, Kind: Categorical, Vocabulary: vocabulary(Surfaces)},
	{Name: FieldCourtType, Kind: Categorical, Vocabulary: vocabulary(CourtTypes)},
	{Name: FieldMatchType, Kind: Categorical, Vocabulary: vocabulary(MatchTypes)},
	{Name: FieldCourtQuality, Kind: Categorical, Vocabulary: vocabulary(Qualities)},
	{Name: FieldDayOfWeek, Kind: Categorical, Vocabulary: Weekdays},
	{Name: FieldSeason, Kind: Categorical, Vocabulary: vocabulary(Seasons)},

	{Name: FieldCourtLighting, Kind: Boolean},
	{Name: FieldEquipmentRental, Kind: Boolean},
	{Name: FieldCoachingRequested, Kind: Boolean},
	{Name: FieldBallMachine, Kind: Boolean},
	{Name: FieldRefreshments, Kind: Boolean},
	{Name: FieldSpecialRequests, Kind: Boolean},
}

// Schema returns the encoded field list in canonical order.
func Schema() []Field {
	out := make([]Field, len(schema))
	for i, f := range schema {
		out[i] = f
		out[i].Vocabulary = slices.Clone(f.Vocabulary)
	}
	return out
}

// FieldsOf returns the schema fields of one kind, in canonical order.
func FieldsOf(kind Kind) []Field {
	var out []Field
	for _, f := range Schema() {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Lookup returns the schema field with the given name.
func Lookup(name string) (Field, bool) {
	for _, f := range Schema() {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func vocabulary[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
