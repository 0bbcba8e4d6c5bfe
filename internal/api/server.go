// Package api carries the small HTTP surface that lives next to the socket
// endpoint: health checking and anything else a load balancer needs.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func NewRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	return router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "Operational"})
}

// NewServer wraps the handler in an http.Server with sane timeouts. The
// socket endpoint streams indefinitely, so there is no write timeout.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
