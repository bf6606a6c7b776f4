package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/features"

	"github.com/rs/zerolog/log"
)

// PriceColumn is the label column of a bookings CSV.
const PriceColumn = "price"

// Header is the column order written by WriteCSV.
func Header() []string {
	return append(append([]string{}, features.InputFields...), PriceColumn)
}

// derived columns may appear in older exports; they are recomputed from booking_date.
var derivedColumns = map[string]bool{
	features.FieldDayOfWeek: true,
	features.FieldSeason:    true,
}

// ReadCSV parses labelled bookings. Every input field and the price column must be
// present; unknown columns are rejected.
func ReadCSV(r io.Reader) ([]Sample, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int, len(header))
	for i, col := range header {
		if derivedColumns[col] {
			continue
		}
		if col != PriceColumn && !isInputField(col) {
			return nil, &common.SchemaMismatchError{Field: col, Reason: "is not an input field"}
		}
		indices[col] = i
	}
	for _, col := range Header() {
		if _, ok := indices[col]; !ok {
			return nil, &common.SchemaMismatchError{Field: col, Reason: "is required"}
		}
	}

	var samples []Sample
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}
		s, err := parseSample(row, indices)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func isInputField(name string) bool {
	for _, f := range features.InputFields {
		if f == name {
			return true
		}
	}
	return false
}

type rowParser struct {
	row     []string
	indices map[string]int
	err     error
}

func (p *rowParser) text(field string) string {
	return p.row[p.indices[field]]
}

func (p *rowParser) fail(field, value string) {
	if p.err == nil {
		p.err = &common.SchemaMismatchError{Field: field, Reason: fmt.Sprintf("has invalid value %q", value)}
	}
}

func (p *rowParser) float(field string) float64 {
	s := p.text(field)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(field, s)
	}
	return v
}

func (p *rowParser) int(field string) int {
	s := p.text(field)
	v, err := strconv.Atoi(s)
	if err != nil {
		// Accept integral floats such as "4.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			p.fail(field, s)
		}
		return int(f)
	}
	return v
}

func (p *rowParser) bool(field string) bool {
	s := p.text(field)
	v, err := strconv.ParseBool(s)
	if err != nil {
		p.fail(field, s)
	}
	return v
}

func parseSample(row []string, indices map[string]int) (Sample, error) {
	p := &rowParser{row: row, indices: indices}

	date, err := features.ParseDate(p.text(features.FieldBookingDate))
	if err != nil {
		return Sample{}, &common.SchemaMismatchError{Field: features.FieldBookingDate, Reason: err.Error()}
	}
	tod, err := features.ParseTimeOfDay(p.text(features.FieldBookingTime))
	if err != nil {
		return Sample{}, &common.SchemaMismatchError{Field: features.FieldBookingTime, Reason: err.Error()}
	}

	rec := features.BookingRecord{
		BookingDate:         time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
		BookingTime:         tod,
		Duration:            p.float(features.FieldDuration),
		NumPlayers:          p.int(features.FieldNumPlayers),
		CourtSurface:        features.Surface(p.text(features.FieldCourtSurface)),
		CourtType:           features.CourtType(p.text(features.FieldCourtType)),
		MatchType:           features.MatchType(p.text(features.FieldMatchType)),
		CourtQuality:        features.Quality(p.text(features.FieldCourtQuality)),
		CourtLighting:       p.bool(features.FieldCourtLighting),
		EquipmentRental:     p.bool(features.FieldEquipmentRental),
		CoachingRequested:   p.bool(features.FieldCoachingRequested),
		BallMachine:         p.bool(features.FieldBallMachine),
		Refreshments:        p.bool(features.FieldRefreshments),
		SpecialRequests:     p.bool(features.FieldSpecialRequests),
		BookingLeadTime:     p.int(features.FieldBookingLeadTime),
		HistoricalDemand:    p.float(features.FieldHistoricalDemand),
		Temperature:         p.float(features.FieldTemperature),
		PrecipitationChance: p.float(features.FieldPrecipitationChance),
	}
	price := p.float(PriceColumn)
	if p.err != nil {
		return Sample{}, p.err
	}
	if err := rec.Validate(); err != nil {
		return Sample{}, err
	}
	return Sample{Record: rec, Price: price}, nil
}

// WriteCSV writes samples with a Header row.
func WriteCSV(w io.Writer, samples []Sample) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header()); err != nil {
		return err
	}
	for _, s := range samples {
		r := s.Record
		row := []string{
			r.BookingDate.Format(time.DateOnly),
			r.BookingTime.String(),
			formatFloat(r.Duration),
			strconv.Itoa(r.NumPlayers),
			string(r.CourtSurface),
			string(r.CourtType),
			string(r.MatchType),
			string(r.CourtQuality),
			strconv.FormatBool(r.CourtLighting),
			strconv.FormatBool(r.EquipmentRental),
			strconv.FormatBool(r.CoachingRequested),
			strconv.FormatBool(r.BallMachine),
			strconv.FormatBool(r.Refreshments),
			strconv.FormatBool(r.SpecialRequests),
			strconv.Itoa(r.BookingLeadTime),
			formatFloat(r.HistoricalDemand),
			formatFloat(r.Temperature),
			formatFloat(r.PrecipitationChance),
			formatFloat(s.Price),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// LoadCSV reads a bookings CSV from disk.
func LoadCSV(path string) ([]Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	samples, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().Str("file", path).Int("rows", len(samples)).Msg("CSV data loaded successfully")
	return samples, nil
}

// SaveCSV writes samples to path, creating parent directories.
func SaveCSV(path string, samples []Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	if err := WriteCSV(file, samples); err != nil {
		file.Close()
		return fmt.Errorf("failed to write CSV file: %w", err)
	}
	return file.Close()
}
