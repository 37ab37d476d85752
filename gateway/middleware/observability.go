package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"aqualedger/observability"
)

// Observability wraps handlers with OTel HTTP spans, request metrics and an
// access log line per request.
type Observability struct {
	service     string
	logger      *slog.Logger
	logRequests bool
}

func NewObservability(service string, logger *slog.Logger, logRequests bool) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	if service == "" {
		service = "ledgerd"
	}
	return &Observability{service: service, logger: logger, logRequests: logRequests}
}

func (o *Observability) Middleware(next http.Handler) http.Handler {
	recorded := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, r.Method, recorder.status, elapsed)
		if o.logRequests {
			o.logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", recorder.status),
				slog.Duration("duration", elapsed))
		}
	})
	return otelhttp.NewHandler(recorded, o.service,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so websocket upgrades work
// behind the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
