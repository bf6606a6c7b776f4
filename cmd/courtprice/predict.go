package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"court-pricer/internal/extract"
	"court-pricer/internal/features"
	"court-pricer/internal/ml"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var predictOpts struct {
	file string
	text string
	top  int
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Quote one booking read as JSON from a file or stdin, or described in free text",
	RunE:  runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.StringVarP(&predictOpts.file, "file", "f", "-", "booking JSON file, - for stdin")
	f.StringVar(&predictOpts.text, "text", "", "free-text booking request, parsed by the extractor")
	f.IntVar(&predictOpts.top, "top", 5, "number of strongest fields to log")
	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	m, err := loadActiveModel(settings)
	if err != nil {
		return err
	}

	var rec features.BookingRecord
	if predictOpts.text != "" {
		if !settings.ExtractorEnabled() {
			return errors.New("free-text quotes need EXTRACTOR_API_KEY")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), settings.Extractor.Timeout)
		defer cancel()
		rec, err = extract.New(settings.ExtractConfig()).Extract(ctx, predictOpts.text)
	} else {
		rec, err = readRecord(cmd.InOrStdin(), predictOpts.file)
	}
	if err != nil {
		return err
	}

	q, err := m.Quote(rec)
	if err != nil {
		return err
	}
	for _, fa := range ml.TopFields(q.Attributions, predictOpts.top) {
		log.Debug().Str("feature", fa.Feature).Float64("contribution", fa.Value).Msg("Price driver")
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(q)
}

func readRecord(stdin io.Reader, path string) (features.BookingRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return features.BookingRecord{}, err
	}
	return features.DecodeRecord(data)
}
