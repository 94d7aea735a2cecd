package api

import (
	"net/http"
	"time"

	"github.com/dunamismax/twoframe/internal/id"
	"github.com/dunamismax/twoframe/internal/pipeline"
	"go.uber.org/zap"
)

// withRecover turns a panic in one request into a 500 so the process keeps serving.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			s.logger.Error("panic while handling request",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.Stack("stack"),
			)
			s.metrics.conversionsTotal.WithLabelValues(pipeline.KindInternal).Inc()
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-ID"

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := id.RequestID(r.Header.Get(requestIDHeader))
		w.Header().Set(requestIDHeader, requestID)
		recorder := newStatusRecorder(w)
		next.ServeHTTP(recorder, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Int64("bytes", recorder.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
