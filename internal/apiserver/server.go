// Package apiserver exposes the persisted billing facts over a read-only REST
// API so downstream reporting can query slices and run costs without touching
// the database directly.
package apiserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/clustermeter/clustermeter/internal/config"
	"github.com/clustermeter/clustermeter/internal/store"
)

// NewServer creates the HTTP server for the REST API.
func NewServer(cfg *config.Config, db *store.DB) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.APIServer.Address, cfg.APIServer.Port),
		Handler:      NewRouter(db),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
