package http

import (
	"bytes"
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"verdeling/internal/auth"
	applog "verdeling/internal/log"
	"verdeling/internal/metrics"
	"verdeling/internal/middleware/ratelimit"
	"verdeling/internal/middleware/security"
	"verdeling/internal/middleware/trace"
	"verdeling/internal/ports"
	"verdeling/internal/services"
	appweb "verdeling/web"
)

// Deps are the collaborators the server is built from. Metrics and Logger
// may be nil.
type Deps struct {
	Store         ports.Store
	Auth          *auth.Provider
	Readings      *services.ReadingService
	Invoices      *services.InvoiceService
	Distributions *services.DistributionService
	Metrics       *metrics.Metrics
	Logger        *applog.Logger
	RateLimit     ratelimit.Config
	CookieSecure  bool
}

type Server struct {
	http.Server
	templates *template.Template

	log    *applog.Logger
	events *applog.StructuredLogger

	store         ports.Store
	auth          *auth.Provider
	readings      *services.ReadingService
	invoices      *services.InvoiceService
	distributions *services.DistributionService
	metrics       *metrics.Metrics

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	cookieSecure bool
	started      time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		log:           logger,
		events:        applog.NewStructuredLogger(logger),
		store:         deps.Store,
		auth:          deps.Auth,
		readings:      deps.Readings,
		invoices:      deps.Invoices,
		distributions: deps.Distributions,
		metrics:       deps.Metrics,
		limiter:       ratelimit.NewLimiter(deps.RateLimit),
		detector:      security.NewDetector(),
		cookieSecure:  deps.CookieSecure,
		started:       time.Now(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger, deps.Metrics)

	t, err := template.New("").Funcs(templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates", "error", err)
	} else {
		s.templates = t
	}

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)

	var h http.Handler = mux
	h = security.SameOrigin(h)
	h = limited(h)
	h = s.tracer.Middleware(h)
	h = s.detector.Middleware(h)
	h = headers.Middleware(h)
	s.Handler = h
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.log.Warn("Failed to mount embedded static FS", "error", err)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("GET /dashboard", s.requireUser(s.handleDashboard))
	mux.Handle("GET /verdeling", s.requireUser(s.handleDistributionPage))
	mux.Handle("GET /ui/verdeling", s.requireUser(s.handleDistributionPanel))

	mux.Handle("GET /readings", s.requireAdmin(s.handleReadings))
	mux.Handle("POST /readings", s.requireAdmin(s.handleSaveReadings))
	mux.Handle("GET /readings/form", s.requireAdmin(s.handleReadingForm))
	mux.Handle("GET /readings/initial", s.requireAdmin(s.handleInitialForm))
	mux.Handle("POST /readings/initial", s.requireAdmin(s.handleSaveInitial))
	mux.Handle("POST /readings/delete", s.requireAdmin(s.handleDeleteReadings))

	mux.Handle("GET /invoices", s.requireAdmin(s.handleInvoices))
	mux.Handle("POST /invoices", s.requireAdmin(s.handleCreateInvoice))
	mux.Handle("POST /invoices/update", s.requireAdmin(s.handleUpdateInvoice))
	mux.Handle("POST /invoices/delete", s.requireAdmin(s.handleDeleteInvoice))
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.metrics.IncRateLimited()
	s.log.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Te veel verzoeken. Probeer het later opnieuw.").Write(w)
}

// Shutdown stops background cleanup and gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// page is the data every full page template receives.
type page struct {
	Title  string
	Active string
	Viewer *viewer
	Error  string
	Data   any
}

// render executes a template into a buffer first so a failing template never
// leaves a half-written response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if s.templates == nil {
		s.log.ErrorContext(r.Context(), "Templates not loaded",
			applog.FieldPath, r.URL.Path,
			"template", name)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.events.LogError(r.Context(), "Template execution failed", err, applog.ComponentTemplate, applog.OpRender,
			applog.LogFields{"template": name})
		InternalServerError("Er ging iets mis bij het tonen van deze pagina.").Write(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, name, title, active string, data any) {
	s.render(w, r, http.StatusOK, name, page{
		Title:  title,
		Active: active,
		Viewer: viewerFrom(r.Context()),
		Data:   data,
	})
}
