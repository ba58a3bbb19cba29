package httpserver

import (
	"net/http"
	"time"
)

// New builds the loopback HTTP server. Timeouts are tight: every client is
// on the same host, so a slow request indicates a stuck caller, not a slow
// network.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
