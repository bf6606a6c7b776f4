package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"court-pricer/internal/cfg"
	"court-pricer/internal/extract"
	"court-pricer/internal/metrics"
	"court-pricer/internal/ml"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve quotes over HTTP and WebSocket; SIGHUP reloads the active model",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (defaults to SERVER_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if servePort != 0 {
		settings.ServerPort = servePort
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(registry)
	mw := metrics.NewWrapper(m)

	predictor := ml.NewPredictor(nil, mw)
	if model, err := loadActiveModel(settings); err != nil {
		log.Warn().Err(err).Msg("No model available, quotes fail until one is loaded")
	} else {
		install(predictor, m, model)
	}

	var extractor ml.Extractor
	if settings.ExtractorEnabled() {
		extractor = extract.New(settings.ExtractConfig())
		log.Info().Str("model", settings.Extractor.Model).Msg("Free-text quotes enabled")
	}

	server := ml.NewModelServer(predictor, extractor, mw, ml.ServerConfig{
		Port:           settings.ServerPort,
		Timeout:        settings.ServerTimeout,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go reloadOnHangup(ctx, settings, predictor, m)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

func install(p *ml.Predictor, m *metrics.Metrics, model *ml.TrainedModel) {
	p.Swap(model)
	m.ObserveTraining(model.Report.TrainingTime.Seconds(), model.Report.Rows)
}

func reloadOnHangup(ctx context.Context, settings cfg.Settings, p *ml.Predictor, m *metrics.Metrics) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			model, err := loadActiveModel(settings)
			if err != nil {
				log.Error().Err(err).Msg("Model reload failed, keeping the current model")
				continue
			}
			install(p, m, model)
		}
	}
}
