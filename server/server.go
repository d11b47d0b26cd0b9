package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

type Server struct {
	service sectionsense.MonitorService
	addr    string
}

func NewServer(addr string, s sectionsense.MonitorService) Server {
	return Server{s, addr}
}

// Handler returns the API routes
func (s Server) Handler() http.Handler {
	r := httprouter.New()

	// register routes
	r.GET("/ping", s.pingHandler())
	r.GET("/accounts", s.listHandler())
	r.PUT("/accounts/:id", s.onboardHandler())
	r.GET("/accounts/:id", s.accountHandler())
	r.DELETE("/accounts/:id", s.unregisterHandler())
	r.POST("/accounts/:id/check", s.checkHandler())
	r.PUT("/accounts/:id/interval", s.intervalHandler())
	r.GET("/accounts/:id/sections", s.sectionsHandler())

	return r
}

func (s Server) Start(ctx context.Context) error {
	srv := http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	log.Info().Str("module", "server").Str("addr", s.addr).Msg("listening")

	// start server, respecting context cancelation
	errChan := make(chan error, 1)
	go func() { errChan <- srv.ListenAndServe() }()
	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info().Str("module", "server").Msg("gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Info().Str("module", "server").Msg("server shutdown complete")
	}

	return nil
}
