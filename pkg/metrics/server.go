package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is an internal-only "/metrics" listener, the promhttp.Handler
// wiring from cmd/exporter_example1/main.go adapted to a *http.Server this
// package owns and can shut down cleanly instead of a bare
// http.ListenAndServe.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) a metrics listener serving reg on
// addr's "/metrics" path.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks accepting connections on addr until Shutdown is called,
// mirroring http.ListenAndServe's contract but over a caller-owned
// listener so the bridge can log the bound address.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
