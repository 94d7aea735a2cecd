package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/twoframe/internal/domain"
	"github.com/dunamismax/twoframe/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const contentTypeGIF = "image/gif"

type converter interface {
	Convert(ctx context.Context, req domain.ConvertRequest) (pipeline.Result, error)
}

// ResponseOptions holds the optional success headers.
type ResponseOptions struct {
	CacheControl string
	AcceptRanges bool
}

type Server struct {
	logger    *zap.Logger
	converter converter
	response  ResponseOptions
	metrics   *metrics
	tracer    trace.Tracer
	mux       *http.ServeMux
}

func NewServer(logger *zap.Logger, converter converter, response ResponseOptions) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger:    logger,
		converter: converter,
		response:  response,
		metrics:   newMetrics(),
		tracer:    otel.Tracer("twoframe/api"),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler serves the public conversion route.
func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withAccessLog(s.withRecover(s.mux))))
}

// AdminHandler serves metrics and health checks, kept off the public listener.
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.metricsHandler())
	return mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleConvert)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	req := domain.ConvertRequestFromQuery(r.URL.Query())
	if err := req.Validate(); err != nil {
		s.writeConvertError(w, req, err)
		return
	}

	result, err := s.converter.Convert(r.Context(), req)
	if err != nil {
		s.writeConvertError(w, req, err)
		return
	}
	s.metrics.observeConversion(result)

	header := w.Header()
	header.Set("Content-Type", contentTypeGIF)
	if s.response.CacheControl != "" {
		header.Set("Cache-Control", s.response.CacheControl)
	}

	if s.response.AcceptRanges {
		header.Set("Accept-Ranges", "bytes")
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(result.GIF))
		return
	}

	header.Set("Content-Length", strconv.Itoa(len(result.GIF)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(result.GIF)
	}
}

func (s *Server) writeConvertError(w http.ResponseWriter, req domain.ConvertRequest, err error) {
	kind := pipeline.Kind(err)
	status := statusFor(err)
	s.metrics.conversionsTotal.WithLabelValues(kind).Inc()

	fields := []zap.Field{
		zap.String("kind", kind),
		zap.String("url", req.URL),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("conversion failed", fields...)
		http.Error(w, "internal error: "+err.Error(), status)
		return
	}

	s.logger.Warn("conversion rejected", fields...)
	http.Error(w, err.Error(), status)
}

// statusFor maps caller-attributable failures to 400. Encode failures and anything
// unclassified are internal defects.
func statusFor(err error) int {
	switch pipeline.Kind(err) {
	case pipeline.KindMissingParameter,
		pipeline.KindUpstreamFetch,
		pipeline.KindUnsupportedFormat,
		pipeline.KindDecode,
		pipeline.KindCanceled:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
