// Package http hosts the billing HTTP API on echo.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	mw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/ziflex/lecho/v3"
)

type Config struct {
	Address string `yaml:"address" env:"WEB_ADDRESS" env-default:"0.0.0.0" env-description:"Server address"`
	Port    string `yaml:"port" env:"WEB_PORT" env-default:"8080" env-description:"Server port"`
}

// Opt mutates the server at construction time. Route groups are attached
// through opts so transports stay out of each other's way.
type Opt func(*Server)

type Server struct {
	config Config
	echo   *echo.Echo
	logger *zerolog.Logger
}

func New(config Config, logger *zerolog.Logger, opts ...Opt) *Server {
	log := logger.With().Str("channel", "web_server").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	l := lecho.From(log)
	e.Logger = l

	e.Use(mw.RequestID())
	e.Use(lecho.Middleware(lecho.Config{Logger: l}))
	e.Use(mw.Recover())

	server := &Server{
		config: config,
		echo:   e,
		logger: &log,
	}

	for _, opt := range opts {
		opt(server)
	}

	return server
}

func (s *Server) Run() error {
	address := fmt.Sprintf("%s:%s", s.config.Address, s.config.Port)
	s.logger.Info().Str("address", address).Msg("starting web server")

	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "unable to start web server")
	}

	return nil
}

func (s *Server) Shutdown() error {
	s.logger.Info().Msg("shutting down web server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
