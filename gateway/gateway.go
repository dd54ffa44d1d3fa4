// Package gateway exposes a host over HTTP. Requests are translated
// into operations, routed through the host and written back as JSON;
// the host's metrics registry is served on /metrics.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weftlabs/weft/operation"
	"github.com/weftlabs/weft/pkg/logger"
	"github.com/weftlabs/weft/service"
)

// PragmaHeader carries operation pragmas over HTTP; repeat the header
// for multiple pragmas.
const PragmaHeader = "X-Weft-Pragma"

const maxBodyBytes = 8 << 20

// Router is what the gateway needs from a host: operation routing plus
// the metrics and token surfaces.
type Router interface {
	SendRequest(op *operation.Operation)
	MetricsRegistry() *prometheus.Registry
	TokenVerifier() service.Verifier
	PublicURI() string
}

// Gateway is the HTTP front end of a host.
type Gateway struct {
	host   Router
	log    *logger.Logger
	router *mux.Router

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New builds a gateway for the given host.
func New(host Router) *Gateway {
	g := &Gateway{
		host: host,
		log:  logger.NewDefault("gateway"),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "weft",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "weft",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"method"},
		),
	}
	host.MetricsRegistry().MustRegister(g.requests, g.duration)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(host.MetricsRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(g.handleOperation)
	g.router = r
	return g
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.router }

// errorBody is the JSON wire shape of a failed operation.
type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

func (g *Gateway) handleOperation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	action, err := operation.ParseAction(r.Method)
	if err != nil {
		g.writeError(w, r, operation.NewServiceError(operation.StatusBadMethod, "%v", err))
		return
	}

	op := operation.New(action, r.URL.RequestURI())
	op.SetReferer(r.Referer())
	for _, pragma := range r.Header[PragmaHeader] {
		op.AddPragma(pragma)
	}

	if !g.readBody(w, r, op) {
		return
	}
	if !g.authenticate(w, r, op) {
		return
	}

	done := make(chan struct{})
	op.SetCompletion(func(o *operation.Operation, err error) {
		defer close(done)
		if err != nil {
			g.writeError(w, r, err)
			return
		}
		g.writeResult(w, r, o)
	})
	g.host.SendRequest(op)

	select {
	case <-done:
	case <-r.Context().Done():
		g.log.Warn("client went away before the operation completed",
			"method", r.Method, "path", r.URL.Path)
		<-done
	}
	g.duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
}

// readBody attaches the request body, raw, to the operation. Services
// own their body schemas; the gateway does not interpret them.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request, op *operation.Operation) bool {
	if r.Body == nil {
		return true
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		g.writeError(w, r, operation.NewServiceError(operation.StatusBadRequest, "reading body: %v", err))
		return false
	}
	if len(data) > maxBodyBytes {
		g.writeError(w, r, operation.NewServiceError(operation.StatusBadRequest, "body exceeds %d bytes", maxBodyBytes))
		return false
	}
	if len(data) > 0 {
		op.SetBody(json.RawMessage(data))
		op.SetContentType(r.Header.Get("Content-Type"))
	}
	return true
}

// authenticate resolves a bearer token into an authorization context.
// Requests without a token proceed anonymously; the host policy
// decides what anonymous principals may do.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request, op *operation.Operation) bool {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return true
	}
	tok, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		g.writeError(w, r, operation.NewServiceError(operation.StatusBadRequest, "malformed authorization header"))
		return false
	}
	verifier := g.host.TokenVerifier()
	if verifier == nil {
		g.writeError(w, r, operation.NewServiceError(operation.StatusBadRequest, "token authentication is not enabled"))
		return false
	}
	subject, err := verifier.Verify(tok)
	if err != nil {
		g.writeError(w, r, operation.Forbidden("invalid token"))
		return false
	}
	op.SetAuthorizationContext(operation.NewAuthorizationContext(subject, tok))
	return true
}

func (g *Gateway) writeResult(w http.ResponseWriter, r *http.Request, op *operation.Operation) {
	status := op.StatusCode()
	g.requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()

	body := op.Body()
	if body == nil || status == operation.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		g.log.Error("response encoding failed", "path", r.URL.Path, "error", err)
		g.requests.WithLabelValues(r.Method, strconv.Itoa(operation.StatusInternalError)).Inc()
		http.Error(w, `{"message":"response encoding failed"}`, operation.StatusInternalError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		g.log.Warn("response write failed", "path", r.URL.Path, "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := operation.StatusInternalError
	msg := err.Error()
	var se *operation.ServiceError
	if errors.As(err, &se) {
		status = se.StatusCode
		msg = se.Message
	}
	g.requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(errorBody{Message: msg, StatusCode: status}); encodeErr != nil {
		g.log.Warn("error response write failed", "path", r.URL.Path, "error", encodeErr)
	}
}
