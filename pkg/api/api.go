package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gravewhisper/gravewhisper/pkg/backup"
	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/gravewhisper/gravewhisper/pkg/media"
	"github.com/gravewhisper/gravewhisper/pkg/session"
	"github.com/gravewhisper/gravewhisper/pkg/store"
	"github.com/gravewhisper/gravewhisper/pkg/workflow"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout = 10 * time.Second
	// secretEnvVar is consulted on every request when auth.secret is
	// empty, so a rotated secret applies without a restart.
	secretEnvVar = "AUTH_SECRET"
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log     logrus.FieldLogger
	cfg     *config.Config
	store   store.Store
	flow    *workflow.Service
	cookies *session.Cookies
	media   media.Storage
	local   *media.LocalStorage
	backup  *backup.Manager
	sizes   config.MediaSizes
	window  time.Duration
	now     func() time.Time

	authLimiter       *rateLimiterMap
	submissionLimiter *rateLimiterMap

	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		now:  time.Now,
		done: make(chan struct{}),
	}
}

// Start opens the store, wires the services and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	if err := s.setup(ctx); err != nil {
		return err
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithFields(logrus.Fields{
			"listen":      s.cfg.Server.Listen,
			"environment": s.cfg.Server.Environment,
			"driver":      s.store.Driver(),
		}).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// setup builds everything the handlers depend on. s.store must be
// started.
func (s *server) setup(ctx context.Context) error {
	var err error

	if s.sizes, err = s.cfg.Media.Sizes(); err != nil {
		return err
	}

	if s.window, err = s.cfg.RateLimitWindow(); err != nil {
		return err
	}

	ttl, err := s.cfg.SessionTTL()
	if err != nil {
		return err
	}

	var secret session.SecretSource = session.EnvSecret(secretEnvVar)
	if s.cfg.Auth.Secret != "" {
		secret = session.StaticSecret(s.cfg.Auth.Secret)
	}

	s.cookies = &session.Cookies{
		Signer: session.NewHMACSigner(secret,
			session.WithTTL(ttl),
			session.WithClock(s.now),
		),
		Secure: s.cfg.Server.IsProduction(),
	}

	s.flow = workflow.New(s.log, s.store, workflow.WithClock(s.now))

	if s.media, err = media.NewStorage(s.log, &s.cfg.Media); err != nil {
		return fmt.Errorf("initializing media storage: %w", err)
	}

	if local, ok := s.media.(*media.LocalStorage); ok {
		s.local = local

		s.log.WithField("prefix", local.Prefix()).Info("Local media serving enabled")
	}

	s.backup = backup.NewManager(s.log, &s.cfg.Database, s.sizes.Database)

	if s.cfg.Server.RateLimit.Enabled {
		s.authLimiter = newRateLimiterMap(
			s.cfg.Server.RateLimit.Auth.RequestsPerMinute, s.done)
		s.submissionLimiter = newRateLimiterMap(
			s.cfg.Server.RateLimit.Submissions.RequestsPerMinute, s.done)
	}

	if err := s.flow.EnsureDefaultCategories(ctx); err != nil {
		return fmt.Errorf("ensuring default categories: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
