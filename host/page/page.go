// Package page is the embedded-page host: one HTML document carrying the
// compiler module and glue inline as data: URLs, served next to a compile
// endpoint backed by a single long-lived session.
//
// The document compiles in the browser when it can load the module and
// falls back to the server endpoint otherwise. Render writes the same
// document without the endpoint for offline use.
package page

import (
	"embed"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/host"
	"github.com/wippyai/simplicity-bridge/payload"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Route paths.
const (
	PathIndex   = "/"
	PathCompile = "/compile"
	PathPayload = "/payload.json"
	PathMetrics = "/metrics"
)

// DefaultTitle is the document title when none is configured.
const DefaultTitle = "Simplicity Compiler"

// CompileRequest is the body of a compile call from the page.
type CompileRequest struct {
	Source      string `json:"source"`
	WitnessData string `json:"witness_data"`
}

// ErrorResponse is the body of a failed compile call.
type ErrorResponse struct {
	Error string      `json:"error"`
	Kind  errors.Kind `json:"kind,omitempty"`
}

type document struct {
	Title           string
	Version         string
	Digest          string
	ModuleSize      int
	Source          string
	ModuleURL       string
	GlueURL         string
	CompileEndpoint string
}

// Render writes a standalone page for p with source preloaded.
func Render(w io.Writer, p *payload.Payload, title, source string) error {
	return render(w, p, title, source, "")
}

func render(w io.Writer, p *payload.Payload, title, source, endpoint string) error {
	if title == "" {
		title = DefaultTitle
	}
	if source == "" {
		source = bridge.DefaultSource
	}
	return templates.ExecuteTemplate(w, "index.html", document{
		Title:           title,
		Version:         p.Version,
		Digest:          p.Digest,
		ModuleSize:      p.ModuleSize,
		Source:          source,
		ModuleURL:       p.ModuleDataURL(),
		GlueURL:         p.GlueDataURL(),
		CompileEndpoint: endpoint,
	})
}

// Server serves the page and its compile endpoint.
type Server struct {
	provider *host.Provider
	managed  *host.Managed
	title    string
	gatherer prometheus.Gatherer
	engine   *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithTitle sets the document title.
func WithTitle(title string) Option {
	return func(s *Server) { s.title = title }
}

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a page server. The document is rendered from the
// provider's current build; compile calls run on m.
func NewServer(p *host.Provider, m *host.Managed, opts ...Option) *Server {
	s := &Server{provider: p, managed: m, title: DefaultTitle}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), otelgin.Middleware("simplicity-page"))
	s.engine.GET(PathIndex, s.index)
	s.engine.GET(PathPayload, s.payload)
	s.engine.POST(PathCompile, s.compile)
	if s.gatherer != nil {
		s.engine.GET(PathMetrics, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the page's HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) index(c *gin.Context) {
	p, err := s.provider.Payload()
	if err != nil {
		host.Logger().Error("page unavailable", zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Compiler unavailable: %s", err.Error())
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := render(c.Writer, p, s.title, "", PathCompile); err != nil {
		host.Logger().Error("render page", zap.Error(err))
	}
}

func (s *Server) payload(c *gin.Context) {
	p, err := s.provider.Payload()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Kind: errors.KindOf(err)})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) compile(c *gin.Context) {
	var req CompileRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "request body is not JSON", Kind: errors.KindInvalidInput})
		return
	}

	start := time.Now()
	res, err := s.managed.Submit(c.Request.Context(), compiler.Request{Source: req.Source, WitnessData: req.WitnessData})
	if err != nil {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			host.Logger().Error("page compile failed",
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Kind: errors.KindOf(err)})
		return
	}
	c.JSON(http.StatusOK, res)
}

// statusOf classifies a pipeline failure for the page.
func statusOf(err error) int {
	switch {
	case errors.KindOf(err) == errors.KindWitnessValidation, errors.KindOf(err) == errors.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case errors.IsStartup(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
