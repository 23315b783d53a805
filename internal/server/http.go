package server

import (
	"fmt"
	"net/http"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// HealthServer exposes the HTTP healthcheck endpoint. It never touches the
// hardware directly: probes are injected into the reactor and run
// serialized with client traffic.
type HealthServer struct {
	port    uint
	httpLog bool
	reactor *Server
}

// NewHealthServer builds the HTTP server for the healthcheck endpoint.
func NewHealthServer(port uint, httpLog bool, reactor *Server) *http.Server {
	hs := &HealthServer{
		port:    port,
		httpLog: httpLog,
		reactor: reactor,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", hs.port),
		Handler:      hs.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
