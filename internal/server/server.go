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

	"github.com/mkhaled87/chat-relay/internal/broadcast"
	"github.com/mkhaled87/chat-relay/internal/pipeline"
	"github.com/mkhaled87/chat-relay/internal/presence"
	"github.com/mkhaled87/chat-relay/internal/router"
	"github.com/mkhaled87/chat-relay/internal/server/middleware"
	"github.com/mkhaled87/chat-relay/pkg/config"
	"github.com/mkhaled87/chat-relay/pkg/state"
	"github.com/mkhaled87/chat-relay/pkg/state/statemanager"
	"github.com/mkhaled87/chat-relay/pkg/store"
	"github.com/mkhaled87/chat-relay/pkg/transport"
)

type App struct {
	logger     *slog.Logger
	config     *config.Config
	store      store.Store
	registry   state.Registry
	pipeline   *pipeline.Pipeline
	dispatcher *router.Dispatcher
	http       *http.Server

	wg      sync.WaitGroup
	connMu  sync.Mutex
	conns   map[uuid.UUID]*transport.Connection

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st store.Store) *App {
	registry := statemanager.NewInMemoryRegistry(logger, cfg.Chat.Rooms, cfg.Chat.DefaultRoom)
	broadcaster := broadcast.New(registry, logger)
	tracker := presence.New(registry, broadcaster, logger)
	pl := pipeline.New(registry, st, broadcaster, logger)
	dispatcher := router.NewDispatcher(logger, registry, st, pl, tracker, broadcaster, cfg.Chat.HistoryLimit)

	app := &App{
		logger:     logger,
		config:     cfg,
		store:      st,
		registry:   registry,
		pipeline:   pl,
		dispatcher: dispatcher,
		conns:      make(map[uuid.UUID]*transport.Connection),
		ctx:        rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(logger, registry.CountForIP, cfg.Server.ConnectionLimit),
		),
	)
	app.registerAPIRoutes(mux)

	app.http = &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	var ip string
	if reqMeta, ok := middleware.ReqMetadataFrom(r.Context()); ok {
		ip = reqMeta.IP
	}
	connLogger := a.logger.With(slog.String("remoteAddr", ip))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)

	if err := a.dispatcher.OnConnect(conn.ID(), conn, ip); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	a.trackConn(conn)

	conn.SetOnMessageHandler(a.dispatcher.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		a.untrackConn(id)
		// The session must be torn down even though the connection's own
		// context is gone.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.dispatcher.OnDisconnect(ctx, id)
	})

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

func (a *App) trackConn(conn *transport.Connection) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	a.conns[conn.ID()] = conn
}

func (a *App) untrackConn(id uuid.UUID) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	delete(a.conns, id)
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	a.connMu.Lock()
	conns := make([]*transport.Connection, 0, len(a.conns))
	for _, conn := range a.conns {
		conns = append(conns, conn)
	}
	a.connMu.Unlock()
	for _, conn := range conns {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
