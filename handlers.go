package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tutortoise/deepfake-detector/classifier"
	"github.com/Tutortoise/deepfake-detector/config"
	"github.com/Tutortoise/deepfake-detector/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidImage    = errors.New("failed to decode image")
	ErrNoImage         = errors.New("no image provided")
)

type AppState struct {
	Config       *config.Config
	Pool         *ModelSessionPool
	Preprocessor *classifier.Preprocessor
	Logger       *zap.Logger
	Page         *template.Template
}

type PredictionResponse struct {
	RequestID  string  `json:"request_id"`
	Label      string  `json:"label"`
	Score      float32 `json:"score"`
	Confidence float32 `json:"confidence"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type pageData struct {
	Title  string
	Accept string
	Info   string
	Error  string
	Result *pageResult
}

type pageResult struct {
	ImageURI   template.URL
	Filename   string
	Label      string
	LabelClass string
	Confidence string
	Progress   int
}

func newRouter(state *AppState) (*mux.Router, error) {
	static, err := staticHandler()
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.Use(requestLogger(state.Logger))
	r.HandleFunc("/", state.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/", state.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/predict", state.handlePredict).Methods(http.MethodPost)
	r.PathPrefix("/static/").Handler(static).Methods(http.MethodGet)
	state.addMonitoringRoutes(r)
	return r, nil
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
}

func (s *AppState) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, pageData{Info: MsgUploadPrompt})
}

func (s *AppState) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize())
	if err := r.ParseMultipartForm(s.Config.Upload.MaxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.renderPage(w, http.StatusRequestEntityTooLarge, pageData{Error: MsgTooLarge})
			return
		}
		s.renderPage(w, http.StatusOK, pageData{Info: MsgUploadPrompt})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.renderPage(w, http.StatusOK, pageData{Info: MsgUploadPrompt})
		return
	}
	defer file.Close()

	if !s.Config.Upload.IsAllowedExtension(filepath.Ext(header.Filename)) {
		s.renderPage(w, http.StatusBadRequest, pageData{Error: MsgUnsupportedType})
		return
	}

	imgBytes, err := io.ReadAll(file)
	if err != nil {
		s.renderPage(w, http.StatusBadRequest, pageData{Error: MsgInvalidImage})
		return
	}

	prediction, format, err := s.classify(r, imgBytes)
	if err != nil {
		status, msg := pageError(err)
		s.renderPage(w, status, pageData{Error: msg})
		return
	}

	s.renderPage(w, http.StatusOK, pageData{Result: newPageResult(prediction, header.Filename, format, imgBytes)})
}

func (s *AppState) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize())

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var imgBytes []byte
	var err error

	switch mediaType {
	case "application/json":
		imgBytes, err = handleJSONRequest(r)
	case "multipart/form-data":
		imgBytes, err = s.handleMultipartRequest(r)
	default:
		imgBytes, err = handleRawRequest(r)
	}

	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			sendErrorResponse(w, "too_large", MsgTooLarge, http.StatusRequestEntityTooLarge)
		case errors.Is(err, ErrUnsupportedType):
			sendErrorResponse(w, "unsupported_type", MsgUnsupportedType, http.StatusBadRequest)
		default:
			sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		}
		return
	}
	if len(imgBytes) == 0 {
		sendErrorResponse(w, "invalid_request", ErrNoImage.Error(), http.StatusBadRequest)
		return
	}

	prediction, _, err := s.classify(r, imgBytes)
	if err != nil {
		status, _ := pageError(err)
		code := "processing_error"
		switch {
		case errors.Is(err, ErrInvalidImage):
			code = "invalid_image"
		case errors.Is(err, ErrUnsupportedType):
			code = "unsupported_type"
		case status == http.StatusServiceUnavailable:
			code = "session_error"
		}
		sendErrorResponse(w, code, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PredictionResponse{
		RequestID:  requestIDFrom(r.Context()),
		Label:      prediction.Label,
		Score:      prediction.Score,
		Confidence: prediction.Confidence,
	})
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"cpu_features": classifier.CPUFeatures(),
	})
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Pool.GetMetrics())
}

// classify decodes the upload and runs it through one pooled session.
func (s *AppState) classify(r *http.Request, imgBytes []byte) (models.Prediction, string, error) {
	startTotal := time.Now()
	ctx := r.Context()
	timings := &models.ProcessingTimings{RequestID: requestIDFrom(ctx)}

	decodeStart := time.Now()
	img, format, err := image.Decode(bytes.NewReader(imgBytes))
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return models.Prediction{}, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	// imaging links in extra decoders; only the configured formats are served.
	if !s.Config.Upload.IsAllowedExtension(format) {
		return models.Prediction{}, "", fmt.Errorf("%w: %s", ErrUnsupportedType, format)
	}

	session, err := s.Pool.Acquire(ctx)
	if err != nil {
		return models.Prediction{}, "", err
	}
	defer s.Pool.Release(session)

	prediction, err := classifier.ProcessImage(ctx, img, s.Preprocessor, session, timings)
	if err != nil {
		s.Logger.Error("prediction failed", zap.String("request_id", timings.RequestID), zap.Error(err))
		return models.Prediction{}, "", err
	}

	timings.Total = time.Since(startTotal)
	s.logTimings(timings, prediction)

	return prediction, format, nil
}

func (s *AppState) logTimings(t *models.ProcessingTimings, p models.Prediction) {
	s.Logger.Debug("prediction",
		zap.String("request_id", t.RequestID),
		zap.String("label", p.Label),
		zap.Float32("score", p.Score),
		zap.Duration("decode", t.ImageDecode),
		zap.Duration("resize", t.Resize),
		zap.Duration("preprocess", t.Preprocess),
		zap.Duration("inference", t.Inference),
		zap.Duration("total", t.Total),
	)
}

func (s *AppState) renderPage(w http.ResponseWriter, status int, data pageData) {
	data.Title = PageTitle
	data.Accept = acceptList(s.Config.Upload.AllowedExtensions)

	var buf bytes.Buffer
	if err := s.Page.Execute(&buf, data); err != nil {
		s.Logger.Error("failed to render page", zap.Error(err))
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// maxBodySize leaves room for multipart framing around a maximum size file.
func (s *AppState) maxBodySize() int64 {
	return s.Config.Upload.MaxSize + 1<<20
}

func (s *AppState) handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(s.Config.Upload.MaxSize); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, ErrNoImage
	}
	defer file.Close()

	if !s.Config.Upload.IsAllowedExtension(filepath.Ext(header.Filename)) {
		return nil, ErrUnsupportedType
	}
	return io.ReadAll(file)
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func newPageResult(p models.Prediction, filename, format string, imgBytes []byte) *pageResult {
	labelClass := "label-fake"
	if p.Label == classifier.LabelReal {
		labelClass = "label-real"
	}

	confidence := float64(p.Confidence)
	return &pageResult{
		ImageURI:   template.URL("data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(imgBytes)),
		Filename:   filename,
		Label:      p.Label,
		LabelClass: labelClass,
		Confidence: fmt.Sprintf("%.2f%%", confidence*100),
		Progress:   int(confidence * 100),
	}
}

// pageError maps a classification failure to a status and a user message.
func pageError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidImage):
		return http.StatusBadRequest, MsgInvalidImage
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusBadRequest, MsgUnsupportedType
	case errors.Is(err, ErrAcquireTimeout), errors.Is(err, ErrPoolClosed):
		return http.StatusServiceUnavailable, MsgBusy
	default:
		return http.StatusInternalServerError, MsgPredictionFailed
	}
}

func acceptList(exts []string) string {
	accept := make([]string, 0, len(exts))
	for _, ext := range exts {
		accept = append(accept, "."+strings.TrimPrefix(strings.ToLower(ext), "."))
	}
	return strings.Join(accept, ",")
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
