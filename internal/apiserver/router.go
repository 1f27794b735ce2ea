package apiserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clustermeter/clustermeter/internal/apiserver/handler"
	"github.com/clustermeter/clustermeter/internal/store"
)

// NewRouter creates the API router with all endpoints.
func NewRouter(db *store.DB) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	sliceHandler := handler.NewSliceHandler(db)
	runHandler := handler.NewRunCostHandler(db)
	pipelineHandler := handler.NewPipelineHandler(db)

	r.Route("/api/v1", func(r chi.Router) {
		// State slices
		r.Get("/slices", sliceHandler.List)
		r.Get("/slices/clusters/{cluster}", sliceHandler.ListForCluster)

		// Job run costs
		r.Get("/runs", runHandler.List)
		r.Get("/runs/{runID}", runHandler.Get)

		// Pipeline audit
		r.Get("/pipeline-runs", pipelineHandler.List)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
