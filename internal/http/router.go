package httpapi

import (
	"net/http"

	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Router stdlib http.ServeMux with per-route method checks
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler registers an http.Handler (websocket hub)
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// WithCORS wraps the router for the dashboard origins. Empty origins allows any.
func (r *Router) WithCORS(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	})(r)
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// RegisterVitalsRoutes registers the monitoring API
func (r *Router) RegisterVitalsRoutes(v *VitalsHandler) {
	r.Handle("/api/status", method(http.MethodGet, v.Status))

	// vitals
	r.Handle("/api/vitals/simulate", method(http.MethodGet, v.Simulate))
	r.Handle("/api/vitals/submit", method(http.MethodPost, v.Submit))
	r.Handle("/api/vitals/history", method(http.MethodGet, v.History))
	r.Handle("/api/vitals/history/export", method(http.MethodGet, v.ExportHistory))
	r.Handle("/api/vitals/alerts", method(http.MethodGet, v.Alerts))
	r.Handle("/api/risk-history", method(http.MethodGet, v.RiskHistory))

	// settings (GET/POST)
	r.Handle("/api/settings", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			v.GetSettings(w, req)
		case http.MethodPost:
			v.UpdateSettings(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// analysis
	r.Handle("/api/patient/summary", method(http.MethodGet, v.PatientSummary))
	r.Handle("/api/trend-analysis", method(http.MethodGet, v.TrendAnalysis))
}

// RegisterWebSocket mounts the push hub at /ws
func (r *Router) RegisterWebSocket(hub http.Handler) {
	r.HandleHandler("/ws", hub)
}
