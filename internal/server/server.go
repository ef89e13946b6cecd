package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/nexuschat/backend/internal/broadcast"
	"github.com/nexuschat/backend/internal/media"
	"github.com/nexuschat/backend/internal/storage"
)

// Server defines fields used in HTTP processing.
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
	h             *handler
}

// Deps are the collaborators the HTTP surface glues together. Store is the
// sole mutation authority; Hub receives one event per committed mutation.
type Deps struct {
	Store  *storage.Store
	Hub    *broadcast.Hub
	Tokens TokenVerifier
	Mailer Mailer
	Google GoogleVerifier
	Media  *media.Store
}

// TokenVerifier issues and verifies bearer tokens.
type TokenVerifier interface {
	Issue(userID int64) (string, error)
	Verify(tokenString string) (int64, error)
}

type handler struct {
	logger    *zap.SugaredLogger
	store     *storage.Store
	hub       *broadcast.Hub
	tokens    TokenVerifier
	mailer    Mailer
	google    GoogleVerifier
	media     *media.Store
	validate  *validator.Validate
	wsParsers fastjson.ParserPool
}

// New wires the router and returns a Server ready to Start.
func New(logger *zap.SugaredLogger, deps Deps, opts ...Option) (*Server, error) {
	h := &handler{
		logger:   logger,
		store:    deps.Store,
		hub:      deps.Hub,
		tokens:   deps.Tokens,
		mailer:   deps.Mailer,
		google:   deps.Google,
		media:    deps.Media,
		validate: validator.New(),
	}

	cfg := &config{
		httpServer: &http.Server{
			Handler: h.routes(logger.Desugar()),
		},
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		afterShutdown: cfg.afterShutdown,
		h:             h,
	}, nil
}

func (h *handler) routes(logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(logRequests(logger))

	r.Group(func(r chi.Router) {
		r.Use(enforceJSON)
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Post("/verify-otp", h.verifyOTP)
		r.Post("/auth/google", h.googleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/logout", h.logout)
		r.Get("/users/search", h.searchUsers)
		r.Get("/ws", h.serveWS)

		r.Route("/chat", func(r chi.Router) {
			r.With(enforceJSON).Post("/provide", h.provideRoom)
			r.Get("/rooms", h.listRooms)
			r.Get("/rooms/{id}/messages", h.roomMessages)
			r.Post("/rooms/{id}/messages", h.sendRoomMessage)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.listGroups)
			r.Post("/", h.createGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.showGroup)
				r.Put("/", h.updateGroup)
				r.Delete("/", h.deleteGroup)
				r.Post("/leave", h.leaveGroup)
				r.Get("/messages", h.groupMessages)
				r.Post("/messages", h.sendGroupMessage)
				r.Get("/members", h.groupMembers)
				r.With(enforceJSON).Post("/members", h.addGroupMembers)
				r.Delete("/members/{userID}", h.removeGroupMember)
				r.With(enforceJSON).Put("/members/{userID}/role", h.updateMemberRole)
			})
		})
	})

	if h.media != nil {
		fileServer := http.FileServer(http.Dir(h.media.Dir()))
		r.Handle("/storage/*", http.StripPrefix("/storage/", fileServer))
	}

	return r
}

// Start calls ListenAndServe on the http.Server inside the Server struct and
// implements graceful shutdown via a goroutine waiting for signals.
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
