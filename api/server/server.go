package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/go-units"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/api/middleware"
	"github.com/peer-mapper/trust-indexer/api/service"
)

const (
	DefaultMaxBodySize = "64KB"

	shutdownTimeout = 10 * time.Second
)

// Config defines the config of the http server.
type Config struct {
	Port        int                        `yaml:"port" envconfig:"port"`
	MaxBodySize string                     `yaml:"max_body_size" envconfig:"max_body_size"`
	CORSOrigins []string                   `yaml:"cors_origins" envconfig:"cors_origins"`
	RateLimit   middleware.RateLimitConfig `yaml:"rate_limit" envconfig:"rate_limit"`
	Auth        middleware.AuthConfig      `yaml:"auth" envconfig:"auth"`
}

// Server defines an instance of a server that handles the requests of
// the third-party application.
type Server struct {
	port    int
	engine  *gin.Engine
	handler http.Handler
}

// New returns a new instance of the server.
func New(cfg Config, service *service.Service) (*Server, error) {
	if cfg.MaxBodySize == "" {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	maxBodySize, err := units.RAMInBytes(cfg.MaxBodySize)
	if err != nil {
		return nil, errors.Wrapf(err, "parse max body size %q", cfg.MaxBodySize)
	}

	server := &Server{
		port:   cfg.Port,
		engine: gin.New(),
	}
	if err := server.registerRouter(cfg, maxBodySize, service); err != nil {
		return nil, err
	}

	server.handler = newCORS(cfg.CORSOrigins).Handler(server.engine)
	return server, nil
}

func (s *Server) registerRouter(cfg Config, maxBodySize int64, svc *service.Service) error {
	if err := service.RegisterValidators(); err != nil {
		return err
	}

	s.engine.Use(
		gin.Logger(),
		gin.CustomRecovery(recovery),
		middleware.SecurityHeaders(),
		middleware.BodyLimit(maxBodySize),
		handleError(),
	)

	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	auth := middleware.NewAuth(cfg.Auth)

	s.engine.GET("healthz", s.handle(svc.Healthz))

	g := s.engine.Group("", limiter.Handler())
	g.GET("profile/:subjectId", s.handle(svc.Profile))
	g.GET("qr/challenge", s.handle(svc.QrChallenge))
	g.POST("qr/verify", s.handle(svc.QrVerify))
	g.POST("psi/intersection", s.handle(svc.Intersection))

	attest := g.Group("attest", auth.Handler())
	attest.POST("prepare", s.handle(svc.AttestPrepare))
	attest.POST("relay", s.handle(svc.AttestRelay))

	return nil
}

func newCORS(origins []string) *cors.Cors {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}
	if len(origins) > 0 {
		opts.AllowedOrigins = origins
	} else {
		opts.AllowOriginFunc = func(string) bool { return true }
	}

	return cors.New(opts)
}

// Handler returns the http handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("api server listening", "port", s.port)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "run the server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown the server")
	}

	return nil
}
