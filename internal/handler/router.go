package handler

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Routes collects the handlers the router mounts. Ingest, Simulator and
// Hub are optional.
type Routes struct {
	Circuit   *CircuitHandler
	Ledger    *LedgerHandler
	Reporting *ReportingHandler
	Health    *HealthHandler
	Ingest    *IngestHandler
	Simulator *SimulatorHandler
	Hub       *Hub
	Metrics   http.Handler

	CORSOrigins []string
	Recorder    HTTPRecorder
	Log         *zap.Logger
}

// NewRouter builds the API.
func NewRouter(rt Routes) http.Handler {
	log := rt.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := mux.NewRouter()
	r.Use(RequestID, Logging(log, rt.Recorder))

	r.HandleFunc("/health", rt.Health.Health).Methods(http.MethodGet)
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/state", rt.Circuit.State).Methods(http.MethodGet)
	v1.HandleFunc("/decisions", rt.Circuit.Decide).Methods(http.MethodPost)
	v1.HandleFunc("/reset", rt.Circuit.Reset).Methods(http.MethodPost)
	v1.HandleFunc("/ledger", rt.Ledger.List).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/verify", rt.Ledger.Verify).Methods(http.MethodGet)
	v1.HandleFunc("/incidents", rt.Reporting.GetIncidents).Methods(http.MethodGet)
	v1.HandleFunc("/metrics", rt.Health.Metrics).Methods(http.MethodGet)
	if rt.Ingest != nil {
		v1.HandleFunc("/readings", rt.Ingest.PostReading).Methods(http.MethodPost)
	}
	if rt.Simulator != nil {
		v1.HandleFunc("/simulator/mode", rt.Simulator.GetMode).Methods(http.MethodGet)
		v1.HandleFunc("/simulator/mode", rt.Simulator.SetMode).Methods(http.MethodPost)
	}
	if rt.Hub != nil {
		v1.HandleFunc("/stream", rt.Hub.ServeWS).Methods(http.MethodGet)
	}

	origins := rt.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	var h http.Handler = r
	h = c.Handler(h)
	h = handlers.CompressHandler(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{log}), handlers.PrintRecoveryStack(false))(h)
	return h
}

type recoveryLogger struct{ log *zap.Logger }

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error("panic recovered", zap.Any("panic", v))
}
