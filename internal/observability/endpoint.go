package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/logger"
	metricspkg "github.com/tphakala/polecam/internal/observability/metrics"
)

// Endpoint serves the Prometheus scrape endpoint.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics

	mu   sync.Mutex
	addr net.Addr
}

// NewEndpoint creates a telemetry endpoint. It returns an error if telemetry
// is not enabled in settings.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, fmt.Errorf("telemetry not enabled in settings")
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       metrics,
	}, nil
}

// Start binds the listen address and serves /metrics until quitChan is closed.
// The server goroutine is tracked by wg.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("telemetry endpoint listen on %s: %w", e.listenAddress, err)
	}

	e.mu.Lock()
	e.addr = ln.Addr()
	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: metricspkg.ShutdownTimeout,
	}
	server := e.server
	e.mu.Unlock()

	wg.Go(func() {
		log.Info("telemetry endpoint starting", logger.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("telemetry HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		e.gracefulShutdown(server, quitChan)
	})
	return nil
}

// Addr returns the bound address once Start succeeded
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

func (e *Endpoint) gracefulShutdown(server *http.Server, quitChan <-chan struct{}) {
	<-quitChan
	log.Info("stopping telemetry server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("telemetry server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
