package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/skobkin/meshola/internal/app"
	"github.com/skobkin/meshola/internal/connectors"
	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/profile"
	"github.com/skobkin/meshola/internal/protocol"
)

const requestTimeout = 30 * time.Second

// Backend is the part of the application service the API drives.
type Backend interface {
	Status() (connectors.StatusEvent, error)
	NodeInfo() (name string, key domain.PublicKey, err error)
	StartRadio() error
	StopRadio()
	RadioConfig() domain.RadioConfig
	SetRadioConfig(cfg domain.RadioConfig) error

	Protocols() []protocol.Entry

	ActiveProfile() (profile.Profile, bool)
	Profiles() []profile.Profile
	CreateProfile(name string) (profile.Profile, error)
	SwitchProfile(ref string) error
	DeleteProfile(ref string) error
	RenameProfile(ref, name string) (profile.Profile, error)
	RegenerateProfileKeys(ref string) (profile.Profile, error)

	Contacts(offset, limit int) []domain.Contact
	SetContactFavorite(key domain.PublicKey, favorite bool) (domain.Contact, error)
	PromoteContact(key domain.PublicKey) (domain.Contact, error)
	RemoveContact(key domain.PublicKey) error
	Channels() []domain.Channel
	SetChannel(index int, ch domain.Channel) (domain.Channel, error)

	Conversations() ([]app.ConversationSummary, error)
	ContactHistory(key domain.PublicKey, max int) ([]domain.Message, error)
	ChannelHistory(id domain.ChannelID, max int) ([]domain.Message, error)
	SendDirect(key domain.PublicKey, text string) (uint32, error)
	SendChannel(id domain.ChannelID, text string) error
	SendAdvertisement() error
}

type Config struct {
	Listen string
	// HistoryLimit is the default number of messages returned by history endpoints.
	HistoryLimit int
	// AllowedOrigins defaults to any origin.
	AllowedOrigins []string
}

// Server serves the JSON API over a Backend.
type Server struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
	router  chi.Router
	server  *http.Server
}

func NewServer(backend Backend, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(requestTimeout))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Route("/api/v1", s.setupAPIRoutes)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting http api", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
