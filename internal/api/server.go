package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server runs the control API on its own listener
type Server struct {
	echo       *echo.Echo
	controller *Controller
	listen     string
	log        logger.Logger

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewServer builds the echo instance and the controller. archive may be nil.
func NewServer(settings *conf.Settings, p PoleControl, archive EventArchive) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	log := GetLogger()
	return &Server{
		echo:       e,
		controller: New(e, settings, p, archive, log),
		listen:     settings.API.Listen,
		log:        log,
	}
}

// Echo exposes the router, mainly for tests
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start binds the listen address and serves until quit is closed.
// Both server goroutines are tracked by wg.
func (s *Server) Start(wg *sync.WaitGroup, quit <-chan struct{}) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errors.New(fmt.Errorf("api listen on %s: %w", s.listen, err)).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}

	server := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.mu.Lock()
	s.server = server
	s.addr = ln.Addr()
	s.mu.Unlock()

	wg.Go(func() {
		s.log.Info("control api listening", logger.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control api server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		<-quit
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			s.log.Error("control api shutdown error", logger.Error(err))
		}
	})
	return nil
}

// Addr returns the bound address once Start succeeded
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
