// Package relay serves the compiler over HTTP and provides a client that
// presents a remote relay as a local host adapter.
//
// Wire contract:
//
//	GET  /api/health         {"status":"healthy","timestamp":"..."}
//	POST /api/compile        {"code":"...","witness_data":"..."} -> {"cmr":...,"error":...,"witness_data":{...}}
//	POST /api/encode-base64  {"data":"..."} -> {"encoded":"..."}
//	GET  /metrics            Prometheus exposition, when a gatherer is set
//
// /api/compile answers 200 both for a CMR and for a compiler-reported
// error, including a malformed witness. Non-2xx statuses mean the request
// body was unusable (400), the compiler could not start (503), or the
// bridge itself failed (500).
package relay

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/host"
)

// Route paths.
const (
	PathHealth  = "/api/health"
	PathCompile = "/api/compile"
	PathEncode  = "/api/encode-base64"
	PathMetrics = "/metrics"
)

// Messages the original relay clients match on.
const (
	msgNoJSON = "No JSON data provided"
	msgNoData = "No data provided"
)

// CompileRequest is the /api/compile request body.
type CompileRequest struct {
	Code string `json:"code"`
	// WitnessData is the witness as JSON text. A JSON object is also
	// accepted.
	WitnessData json.RawMessage `json:"witness_data,omitempty"`
}

// CompileResponse is the /api/compile response body. WitnessData is
// omitted when there is none.
type CompileResponse struct {
	CMR         *string         `json:"cmr"`
	Error       *string         `json:"error"`
	WitnessData json.RawMessage `json:"witness_data,omitempty"`
}

// HealthResponse is the /api/health response body.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Server is the HTTP relay shell.
type Server struct {
	adapter  host.Adapter
	gatherer prometheus.Gatherer
	service  string
	now      func() time.Time
	engine   *gin.Engine
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithServiceName sets the service name reported in traces.
func WithServiceName(name string) ServerOption {
	return func(s *Server) { s.service = name }
}

// WithClock replaces time.Now for health timestamps.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer creates a relay serving a.
func NewServer(a host.Adapter, opts ...ServerOption) *Server {
	s := &Server{adapter: a, service: "simplicity-relay", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), otelgin.Middleware(s.service), accessLog(), cors())
	s.engine.GET(PathHealth, s.health)
	s.engine.POST(PathCompile, s.compile)
	s.engine.POST(PathEncode, s.encodeBase64)
	if s.gatherer != nil {
		s.engine.GET(PathMetrics, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) compile(c *gin.Context) {
	req, ok := decodeCompileRequest(c)
	if !ok {
		c.JSON(http.StatusBadRequest, failure(msgNoJSON))
		return
	}

	res, err := s.adapter.Submit(c.Request.Context(), req)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			host.Logger().Error("relay compile failed", zap.Int("status", status), zap.Error(err))
		}
		c.JSON(status, body)
		return
	}

	resp := CompileResponse{CMR: res.CMR, Error: res.Error}
	if res.CMR != nil && len(res.Witness) > 0 {
		resp.WitnessData = res.Witness
	}
	c.JSON(http.StatusOK, resp)
}

// decodeCompileRequest reads the body. An empty, non-JSON or empty-object
// body is unusable.
func decodeCompileRequest(c *gin.Context) (compiler.Request, bool) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(c.Request.Body).Decode(&fields); err != nil || len(fields) == 0 {
		return compiler.Request{}, false
	}

	var req compiler.Request
	if code, ok := fields["code"]; ok && !isNull(code) {
		if err := json.Unmarshal(code, &req.Source); err != nil {
			return compiler.Request{}, false
		}
	}
	if w, ok := fields["witness_data"]; ok && !isNull(w) {
		var text string
		if err := json.Unmarshal(w, &text); err == nil {
			req.WitnessData = text
		} else {
			// an inline object; ParseWitness rejects anything else
			req.WitnessData = string(w)
		}
	}
	return req, true
}

// errorResponse maps a bridge failure to a status and body. A malformed
// witness is a compiler-style answer, not a transport failure.
func errorResponse(err error) (int, CompileResponse) {
	var e *errors.Error
	switch {
	case errors.KindOf(err) == errors.KindWitnessValidation:
		msg := "Invalid witness data"
		if stderrors.As(err, &e) {
			if len(e.Path) > 0 {
				msg += " at " + strings.Join(e.Path, ".")
			}
			msg += ": " + e.Detail
		}
		return http.StatusOK, failure(msg)
	case errors.KindOf(err) == errors.KindInvalidInput:
		return http.StatusOK, failure("Invalid input: " + err.Error())
	case errors.IsStartup(err):
		return http.StatusServiceUnavailable, failure("Compiler unavailable: " + err.Error())
	default:
		return http.StatusInternalServerError, failure("Server error: " + err.Error())
	}
}

func (s *Server) encodeBase64(c *gin.Context) {
	var body struct {
		Data *string `json:"data"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil || body.Data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoData})
		return
	}
	c.JSON(http.StatusOK, gin.H{"encoded": base64.StdEncoding.EncodeToString([]byte(*body.Data))})
}

func failure(msg string) CompileResponse {
	return CompileResponse{Error: &msg}
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		host.Logger().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// cors allows browser pages on other origins to call the relay.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
