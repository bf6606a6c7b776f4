// Package extract turns a free-text booking request into a BookingRecord by asking an
// OpenAI-compatible chat completions endpoint for the booking fields.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/features"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUncertainField means the text did not determine a required field and
	// defaults are disabled.
	ErrUncertainField = errors.New("uncertain field")

	// ErrExtraction covers transport failures and unusable model answers.
	ErrExtraction = errors.New("extraction failed")
)

// UncertainFieldError names the field the text left open.
type UncertainFieldError struct {
	Field string
}

func (e *UncertainFieldError) Error() string {
	return fmt.Sprintf("uncertain field %q: not stated in the request", e.Field)
}

func (e *UncertainFieldError) Is(target error) bool { return target == ErrUncertainField }

// Defaults fills the fields a request does not state.
type Defaults struct {
	Duration            float64            `yaml:"duration"`
	CourtSurface        features.Surface   `yaml:"courtSurface"`
	CourtType           features.CourtType `yaml:"courtType"`
	NumPlayers          int                `yaml:"numPlayers"`
	MatchType           features.MatchType `yaml:"matchType"`
	CourtQuality        features.Quality   `yaml:"courtQuality"`
	BookingLeadTime     int                `yaml:"bookingLeadTime"`
	HistoricalDemand    float64            `yaml:"historicalDemand"`
	Temperature         float64            `yaml:"temperature"`
	PrecipitationChance float64            `yaml:"precipitationChance"`
}

// DefaultDefaults returns the values the booking desk assumes for an unspecified request.
func DefaultDefaults() Defaults {
	return Defaults{
		Duration:         1,
		CourtSurface:     features.SurfaceHard,
		CourtType:        features.CourtIndoor,
		NumPlayers:       2,
		MatchType:        features.MatchSingles,
		CourtQuality:     features.QualityStandard,
		HistoricalDemand: 0.5,
		Temperature:      20,
	}
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	UseDefaults bool // fill unstated booking fields from Defaults instead of failing
	Defaults    Defaults
}

// Client calls the chat completions API.
type Client struct {
	cfg  Config
	rest *resty.Client
	now  func() time.Time
}

// New creates a client.
func New(cfg Config) *Client {
	r := resty.New()
	if cfg.Timeout > 0 {
		r.SetTimeout(cfg.Timeout)
	} else {
		r.SetTimeout(15 * time.Second)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = common.DefaultExtractorBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = common.DefaultExtractorModel
	}
	if cfg.Defaults == (Defaults{}) {
		cfg.Defaults = DefaultDefaults()
	}
	return &Client{cfg: cfg, rest: r, now: time.Now}
}

// Fields is the model's answer. A nil pointer means the text did not say.
type Fields struct {
	BookingDate       *string  `json:"booking_date"`
	BookingTime       *string  `json:"booking_time"`
	Duration          *float64 `json:"duration"`
	CourtSurface      *string  `json:"court_surface"`
	CourtType         *string  `json:"court_type"`
	NumPlayers        *int     `json:"num_players"`
	MatchType         *string  `json:"match_type"`
	CourtQuality      *string  `json:"court_quality"`
	CourtLighting     *bool    `json:"court_lighting"`
	EquipmentRental   *bool    `json:"equipment_rental"`
	CoachingRequested *bool    `json:"coaching_requested"`
	BallMachine       *bool    `json:"ball_machine"`
	Refreshments      *bool    `json:"refreshments"`
	SpecialRequests   *bool    `json:"special_requests"`
}

const systemPrompt = `You extract tennis court booking details from a customer's message.
Answer with a single JSON object using only these keys:
booking_date (YYYY-MM-DD), booking_time (HH:MM, 24h), duration (hours),
court_surface (Hard, Clay, Grass or Carpet), court_type (Indoor or Outdoor),
num_players (2 or 4), match_type (Singles, Doubles or Training),
court_quality (Standard, Premium or Elite), court_lighting, equipment_rental,
coaching_requested, ball_machine, refreshments, special_requests (booleans).
Use null for anything the message does not state. Today is %s.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract asks the model for the booking fields in text and completes the record.
func (c *Client) Extract(ctx context.Context, text string) (features.BookingRecord, error) {
	now := c.now()
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, now.Format(time.DateOnly))},
			{Role: "user", Content: text},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	result := &chatResponse{}
	apiErr := &apiError{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(c.cfg.APIKey).
		SetBody(req).
		SetResult(result).
		SetError(apiErr).
		Post(strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions")
	if err != nil {
		return features.BookingRecord{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if resp.IsError() {
		return features.BookingRecord{}, fmt.Errorf("%w: status %d %s", ErrExtraction, resp.StatusCode(), apiErr.Error.Message)
	}
	if len(result.Choices) == 0 {
		return features.BookingRecord{}, fmt.Errorf("%w: empty completion", ErrExtraction)
	}

	fields, err := ParseFields(result.Choices[0].Message.Content)
	if err != nil {
		return features.BookingRecord{}, err
	}
	log.Debug().Str("model", c.cfg.Model).Msg("Booking fields extracted")
	return c.Complete(fields, now)
}

// ParseFields decodes the model's JSON answer, tolerating a Markdown code fence.
func ParseFields(content string) (Fields, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var f Fields
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return Fields{}, fmt.Errorf("%w: answer is not a JSON object: %v", ErrExtraction, err)
	}
	return f, nil
}

// Complete turns extracted fields into a validated record, applying the default
// policy to what the text left open. Extras not mentioned are off.
func (c *Client) Complete(f Fields, now time.Time) (features.BookingRecord, error) {
	d := c.cfg.Defaults
	var missing string
	need := func(field string, ok bool) bool {
		if !ok && missing == "" {
			missing = field
		}
		return ok
	}

	rec := features.BookingRecord{
		BookingLeadTime:     d.BookingLeadTime,
		HistoricalDemand:    d.HistoricalDemand,
		Temperature:         d.Temperature,
		PrecipitationChance: d.PrecipitationChance,
		CourtLighting:       deref(f.CourtLighting),
		EquipmentRental:     deref(f.EquipmentRental),
		CoachingRequested:   deref(f.CoachingRequested),
		BallMachine:         deref(f.BallMachine),
		Refreshments:        deref(f.Refreshments),
		SpecialRequests:     deref(f.SpecialRequests),
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rec.BookingDate = today
	if need(features.FieldBookingDate, f.BookingDate != nil) {
		date, err := features.ParseDate(*f.BookingDate)
		if err != nil {
			return features.BookingRecord{}, &common.SchemaMismatchError{Field: features.FieldBookingDate, Reason: err.Error()}
		}
		rec.BookingDate = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		if days := int(rec.BookingDate.Sub(today).Hours() / 24); days > 0 {
			rec.BookingLeadTime = days
		}
	}

	rec.BookingTime = features.TimeOfDayOf(now)
	if need(features.FieldBookingTime, f.BookingTime != nil) {
		tod, err := features.ParseTimeOfDay(*f.BookingTime)
		if err != nil {
			return features.BookingRecord{}, &common.SchemaMismatchError{Field: features.FieldBookingTime, Reason: err.Error()}
		}
		rec.BookingTime = tod
	}

	rec.Duration = d.Duration
	if need(features.FieldDuration, f.Duration != nil) {
		rec.Duration = *f.Duration
	}
	rec.NumPlayers = d.NumPlayers
	if need(features.FieldNumPlayers, f.NumPlayers != nil) {
		rec.NumPlayers = *f.NumPlayers
	}

	var err error
	if rec.CourtSurface, err = category(features.FieldCourtSurface, f.CourtSurface, d.CourtSurface, features.Surfaces, need); err != nil {
		return features.BookingRecord{}, err
	}
	if rec.CourtType, err = category(features.FieldCourtType, f.CourtType, d.CourtType, features.CourtTypes, need); err != nil {
		return features.BookingRecord{}, err
	}
	if rec.MatchType, err = category(features.FieldMatchType, f.MatchType, d.MatchType, features.MatchTypes, need); err != nil {
		return features.BookingRecord{}, err
	}
	if rec.CourtQuality, err = category(features.FieldCourtQuality, f.CourtQuality, d.CourtQuality, features.Qualities, need); err != nil {
		return features.BookingRecord{}, err
	}

	if missing != "" && !c.cfg.UseDefaults {
		return features.BookingRecord{}, &UncertainFieldError{Field: missing}
	}
	if err := rec.Validate(); err != nil {
		return features.BookingRecord{}, err
	}
	return rec, nil
}

// category resolves an extracted value against vocab case-insensitively.
func category[T ~string](field string, v *string, def T, vocab []T, need func(string, bool) bool) (T, error) {
	if !need(field, v != nil) {
		return def, nil
	}
	for _, c := range vocab {
		if strings.EqualFold(string(c), strings.TrimSpace(*v)) {
			return c, nil
		}
	}
	return def, &common.UnseenCategoryError{Field: field, Value: *v}
}

func deref(b *bool) bool {
	return b != nil && *b
}
