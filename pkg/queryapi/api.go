// Package queryapi serves stored traces over HTTP.
package queryapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/pulse/pkg/config"
	"github.com/itsneelabh/pulse/pkg/core"
	"github.com/itsneelabh/pulse/pkg/logger"
	"github.com/itsneelabh/pulse/pkg/store"
	"github.com/itsneelabh/pulse/pkg/telemetry"
)

// API is the HTTP handler for trace queries.
type API struct {
	store   *store.TraceStore
	logger  logger.Logger
	tp      trace.TracerProvider
	handler http.Handler
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = logger.WithComponent(l, "queryapi")
		}
	}
}

// WithTracerProvider sets where request spans go. Defaults to the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *API) {
		a.tp = tp
	}
}

// New builds the handler:
//
//	GET /runs                 all runs grouped by app
//	GET /runs/{app}           runs of one app
//	GET /runs/{app}/latest    newest run of one app
//	GET /trace/{id}           trace as text/csv
//	GET /trace/{id}/json      trace column by column
//	GET /info/{id}            row count, start and duration
func New(ts *store.TraceStore, opts ...Option) *API {
	a := &API{store: ts, logger: &logger.NoOpLogger{}}
	for _, opt := range opts {
		opt(a)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /runs", a.allRuns)
	mux.HandleFunc("GET /runs/{app}", a.appRuns)
	mux.HandleFunc("GET /runs/{app}/latest", a.latestRun)
	mux.HandleFunc("GET /trace/{id}", a.traceCSV)
	mux.HandleFunc("GET /trace/{id}/json", a.traceJSON)
	mux.HandleFunc("GET /info/{id}", a.runInfo)

	var otelOpts []otelhttp.Option
	if a.tp != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(a.tp))
	}
	a.handler = otelhttp.NewHandler(telemetry.RequestIDMiddleware(mux), "pulse.queryapi", otelOpts...)
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// NewServer wraps h in an http.Server configured from cfg.
func NewServer(cfg config.QueryAPIConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

type runInfoResponse struct {
	AppName         string   `json:"app_name"`
	Counter         int64    `json:"counter"`
	Started         string   `json:"started"`
	Duration        string   `json:"duration,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

func (a *API) allRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.GetAllRuns(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.AppRuns{}
	}
	a.writeJSON(w, r, runs)
}

func (a *API) appRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.GetRunsForApp(r.Context(), r.PathValue("app"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, runs)
}

func (a *API) latestRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.LatestRun(r.Context(), r.PathValue("app"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, run)
}

func (a *API) traceCSV(w http.ResponseWriter, r *http.Request) {
	text, err := a.store.ReadTrace(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	_, _ = w.Write([]byte(text))
}

func (a *API) traceJSON(w http.ResponseWriter, r *http.Request) {
	columns, err := a.store.ReadTraceJSON(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, columns)
}

func (a *API) runInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.store.GetRunInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := runInfoResponse{
		AppName: info.AppName,
		Counter: info.RowCount,
		Started: store.FormatTime(info.StartTime),
	}
	if info.HasDuration {
		seconds := info.Duration.Seconds()
		resp.Duration = info.Duration.String()
		resp.DurationSeconds = &seconds
	}
	a.writeJSON(w, r, resp)
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("Failed to encode response", a.fields(r.Context(), map[string]interface{}{
			"error": err,
			"path":  r.URL.Path,
		}))
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	if core.IsNotFound(err) {
		status = http.StatusNotFound
		message = "run not found"
	} else {
		a.logger.Error("Query failed", a.fields(r.Context(), map[string]interface{}{
			"error": err,
			"path":  r.URL.Path,
		}))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (a *API) fields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	return telemetry.EnrichLogFields(ctx, fields)
}
