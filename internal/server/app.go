// Package server wires the application together: the websocket upgrade path,
// the HTTP API for non-realtime chat operations, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/auth"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/chat"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/directory"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/realtime"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/server/middleware"
	"github.com/abusaleh34/care-booking-windsurf-sub001/internal/session"
	"github.com/abusaleh34/care-booking-windsurf-sub001/pkg/config"
	"github.com/abusaleh34/care-booking-windsurf-sub001/pkg/transport"
)

// Deps carries the already-constructed collaborators the App serves.
type Deps struct {
	Registry  *session.Registry
	Router    *realtime.Router
	Chats     *chat.Service
	Directory *directory.Directory
	Verifier  *auth.Verifier
	Issuer    *auth.Issuer
}

type App struct {
	logger *slog.Logger
	config *config.Config
	deps   Deps
	wg     sync.WaitGroup
	http   *http.Server

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, deps Deps) *App {
	app := &App{
		logger: logger,
		config: cfg,
		deps:   deps,
		ctx:    rootCtx,
	}

	mux := http.NewServeMux()

	connCycler := func(addr string) {
		oldest, found := deps.Registry.OldestByAddr(addr)
		if found {
			logger.Info("cycling connection: closing oldest", slog.String("addr", addr), slog.String("connID", oldest.ID().String()))
			oldest.Close(errors.New("connection cycled by new connection"))
		}
	}

	public := []middleware.Middleware{
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger),
	}
	authed := append(append([]middleware.Middleware{}, public...),
		middleware.NewAuthMiddleware(logger, deps.Verifier.Verify),
	)

	mux.Handle("GET /ws", middleware.Chain(http.HandlerFunc(app.upgradeHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger),
		middleware.NewConnectionLimiter(logger, deps.Registry.CountByAddr, connCycler, cfg.Server.ConnectionLimit),
	))

	api := &apiHandlers{logger: logger, deps: deps}
	mux.Handle("POST /api/v1/auth/register", middleware.Chain(http.HandlerFunc(api.register), public...))
	mux.Handle("POST /api/v1/auth/login", middleware.Chain(http.HandlerFunc(api.login), public...))
	mux.Handle("GET /api/v1/chats", middleware.Chain(http.HandlerFunc(api.listChats), authed...))
	mux.Handle("POST /api/v1/chats", middleware.Chain(http.HandlerFunc(api.createChat), authed...))
	mux.Handle("GET /api/v1/chats/{id}", middleware.Chain(http.HandlerFunc(api.getChat), authed...))
	mux.Handle("POST /api/v1/chats/{id}/read", middleware.Chain(http.HandlerFunc(api.markRead), authed...))

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

// Handler exposes the wired mux, mainly for tests against the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.deps.Router.HandleMessage,
		nil,
		a.logger,
	)
	if _, err := a.deps.Registry.Register(conn, reqMeta.IP); err != nil {
		connLogger.Error("failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("cleaning up closed connection", slog.String("connID", id.String()))
		a.deps.Router.ConnectionClosed(id)
	})

	connLogger.Info("connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// Shutdown drains the HTTP server, closes every live websocket connection,
// and waits for their goroutines to finish cleanup.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("closing all active connections...")
	for _, link := range a.deps.Registry.Everyone() {
		link.Close(errors.New("graceful shutdown"))
	}

	a.wg.Wait()
	a.logger.Info("server shut down gracefully.")
	return nil
}
