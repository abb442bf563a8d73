package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Brownie44l1/imagenet-classifier/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const RequestIDHeader = "X-Request-Id"

// Classifier is the part of the classifier the handlers call.
type Classifier interface {
	Ready() bool
	Classify(ctx context.Context) (string, error)
	Predict(ctx context.Context, image []byte) (*model.Prediction, error)
	PredictTensor(ctx context.Context, data []float32) (*model.Prediction, error)
}

type Handler struct {
	classifier     Classifier
	maxUploadBytes int64
}

func NewHandler(classifier Classifier, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		classifier:     classifier,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes registers the handlers on mux, each wrapped with CORS headers.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", EnableCORS(h.Health))
	mux.HandleFunc("/classify", EnableCORS(h.Classify))
	mux.HandleFunc("/classify/image", EnableCORS(h.ClassifyImage))
	mux.HandleFunc("/predict", EnableCORS(h.Predict))
}

func EnableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"ready":  h.classifier.Ready(),
	})
}

// Classify labels the bundled sample image.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	logger := requestLogger(w)

	label, err := h.classifier.Classify(r.Context())
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	logger.Info().Str("label", label).Msg("classified sample image")
	writeJSON(w, http.StatusOK, map[string]string{"label": label})
}

// Predict runs a raw, already normalized [1,3,224,224] tensor.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	logger := requestLogger(w)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	expectedSize := int(model.ElementCount(model.InputShape()))
	if len(req.Image) != expectedSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Expected %d values, got %d", expectedSize, len(req.Image)))
		return
	}

	result, err := h.classifier.PredictTensor(r.Context(), req.Image)
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ClassifyImage labels an uploaded image sent in the "image" form field.
func (h *Handler) ClassifyImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	logger := requestLogger(w)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided. Use 'image' as the form field name")
		return
	}
	defer file.Close()

	logger.Info().Str("filename", header.Filename).Int64("size", header.Size).Msg("received image")

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read image")
		return
	}

	result, err := h.classifier.Predict(r.Context(), data)
	if err != nil {
		h.fail(w, logger, err)
		return
	}
	logger.Info().Str("label", result.Class).Int("index", result.Index).Msg("classified uploaded image")
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := StatusFor(err)
	logger.Error().Err(err).Int("status", status).Msg("request failed")
	writeError(w, status, err.Error())
}

// StatusFor maps classifier errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case model.IsDecode(err):
		return http.StatusBadRequest
	case model.IsResourceLoad(err):
		return http.StatusServiceUnavailable
	case model.IsModelMismatch(err):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(w http.ResponseWriter) zerolog.Logger {
	id := uuid.NewString()
	w.Header().Set(RequestIDHeader, id)
	return log.With().Str("request_id", id).Logger()
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
