package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"court-pricer/internal/common"
	"court-pricer/internal/extract"
	"court-pricer/internal/features"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const maxRequestBytes = 1 << 16

// Extractor turns free text into a booking record.
type Extractor interface {
	Extract(ctx context.Context, text string) (features.BookingRecord, error)
}

// ServerConfig configures a ModelServer.
type ServerConfig struct {
	Port           int
	Timeout        time.Duration // per-request budget, also used for the text extractor
	MetricsHandler http.Handler  // served on /metrics when set
}

// ModelServer provides the HTTP API for quotes.
type ModelServer struct {
	predictor *Predictor
	extractor Extractor
	metrics   MetricsInterface
	timeout   time.Duration
	upgrader  websocket.Upgrader
	router    *mux.Router
	server    *http.Server
}

// PredictionResponse is the body returned by the quote endpoints.
type PredictionResponse struct {
	*Quote
	RequestID string                  `json:"request_id"`
	Latency   float64                 `json:"latency_ms"`
	Timestamp time.Time               `json:"timestamp"`
	Record    *features.BookingRecord `json:"record,omitempty"`
}

// ErrorResponse describes a rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// TextRequest is the body of POST /predict/text.
type TextRequest struct {
	Text string `json:"text"`
}

// NewModelServer wires the routes. extractor and metrics may be nil.
func NewModelServer(predictor *Predictor, extractor Extractor, metrics MetricsInterface, cfg ServerConfig) *ModelServer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ms := &ModelServer{
		predictor: predictor,
		extractor: extractor,
		metrics:   metrics,
		timeout:   cfg.Timeout,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	r := mux.NewRouter()
	r.HandleFunc("/predict", ms.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/predict/text", ms.handlePredictText).Methods(http.MethodPost)
	r.HandleFunc("/health", ms.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/model/info", ms.handleModelInfo).Methods(http.MethodGet)
	r.HandleFunc("/ws/quotes", ms.handleQuotesWS)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}
	ms.router = r

	ms.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: 2 * cfg.Timeout,
		IdleTimeout:  120 * time.Second,
	}
	return ms
}

// Handler exposes the router, mainly for tests.
func (ms *ModelServer) Handler() http.Handler { return ms.router }

// Start begins serving HTTP requests.
func (ms *ModelServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("Starting model server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (ms *ModelServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

func (ms *ModelServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := features.DecodeRecord(body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	ms.quote(w, rec, start, false)
}

func (ms *ModelServer) handlePredictText(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if ms.extractor == nil {
		writeError(w, http.StatusNotImplemented, errors.New("text extraction is not configured"))
		return
	}

	var req TextRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text cannot be empty"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ms.timeout)
	defer cancel()

	rec, err := ms.extractor.Extract(ctx, req.Text)
	if ms.metrics != nil {
		ms.metrics.ExtractionsInc()
	}
	if err != nil {
		if ms.metrics != nil {
			ms.metrics.ExtractionFailuresInc()
		}
		log.Warn().Err(err).Msg("Booking extraction failed")
		writeError(w, statusFor(err), err)
		return
	}
	ms.quote(w, rec, start, true)
}

func (ms *ModelServer) quote(w http.ResponseWriter, rec features.BookingRecord, start time.Time, echo bool) {
	q, err := ms.predictor.Quote(rec)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Msg("Prediction failed")
		}
		writeError(w, status, err)
		return
	}

	resp := PredictionResponse{
		Quote:     q,
		RequestID: uuid.NewString(),
		Latency:   float64(time.Since(start).Microseconds()) / 1000,
		Timestamp: time.Now().UTC(),
	}
	if echo {
		resp.Record = &rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (ms *ModelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := ms.predictor.Model()
	if m == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"healthy": false, "reason": ErrNoModel.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": true, "model_id": m.ID})
}

func (ms *ModelServer) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	m := ms.predictor.Model()
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNoModel)
		return
	}
	columns := make([]string, 0, m.Encoder().Width())
	for _, c := range m.Encoder().Columns() {
		columns = append(columns, c.Label())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_id":       m.ID,
		"created_at":     m.CreatedAt,
		"explain_method": m.Explainer().Method(),
		"baseline":       m.Explainer().Baseline(),
		"trees":          m.Model().Trees(),
		"columns":        columns,
		"report":         m.Report,
	})
}

type wsReply struct {
	Quote *Quote         `json:"quote,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// handleQuotesWS answers every booking message on the socket with a quote.
func (ms *ModelServer) handleQuotesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ms.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	if ms.metrics != nil {
		ms.metrics.WSConnectionsAdd(1)
		defer ms.metrics.WSConnectionsAdd(-1)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("WebSocket read failed")
			}
			return
		}

		var reply wsReply
		rec, err := features.DecodeRecord(msg)
		if err == nil {
			reply.Quote, err = ms.predictor.Quote(rec)
		}
		if err != nil {
			reply.Error = errorBody(err)
		}
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrSchemaMismatch), errors.Is(err, common.ErrUnseenCategory):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrUncertainField):
		return http.StatusUnprocessableEntity
	case errors.Is(err, extract.ErrExtraction):
		return http.StatusBadGateway
	case errors.Is(err, ErrNoModel):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) *ErrorResponse {
	resp := &ErrorResponse{Error: err.Error(), Kind: "internal"}
	var (
		mismatch  *common.SchemaMismatchError
		unseen    *common.UnseenCategoryError
		uncertain *extract.UncertainFieldError
	)
	switch {
	case errors.As(err, &mismatch):
		resp.Kind, resp.Field = "schema_mismatch", mismatch.Field
	case errors.As(err, &unseen):
		resp.Kind, resp.Field = "unseen_category", unseen.Field
	case errors.As(err, &uncertain):
		resp.Kind, resp.Field = "uncertain_field", uncertain.Field
	case errors.Is(err, extract.ErrExtraction):
		resp.Kind = "extraction_failed"
	case errors.Is(err, ErrNoModel):
		resp.Kind = "no_model"
	}
	return resp
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody(err)
	if status == http.StatusBadRequest && body.Kind == "internal" {
		body.Kind = "bad_request"
	}
	if status == http.StatusNotImplemented {
		body.Kind = "not_configured"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}
