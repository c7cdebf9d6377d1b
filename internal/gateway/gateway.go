// Package gateway exposes the memory engine, the transcript store and the
// assistant turn over a JSON HTTP API. It binds to loopback by default and
// follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/metrics"
	"github.com/flemzord/hafiza/internal/security"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// MemoryService is the engine surface the API exposes. *memory.Engine
// implements it.
type MemoryService interface {
	Settings() memory.Settings
	Store() memory.Store
	Embedder() memory.Embedder
	Get(ctx context.Context, id int64) (memory.Memory, bool, error)
	Delete(ctx context.Context, id int64) error
	Rewrite(ctx context.Context, id int64, text string) error
	Remember(ctx context.Context, n memory.NewMemory, opts *memory.NoveltyOptions) (int64, memory.UpsertOutcome, error)
	Search(ctx context.Context, userID, query string, opts memory.SearchOptions) ([]memory.Hit, error)
	SearchScoped(ctx context.Context, userID, query string, opts memory.ScopedOptions) ([]memory.Hit, error)
	RetrieveContext(ctx context.Context, userID, query string, opts memory.ContextOptions) ([]string, error)
}

var _ MemoryService = (*memory.Engine)(nil)

// Turner answers user messages. *assistant.Assistant implements it.
type Turner interface {
	UserID() string
	OpenSession(ctx context.Context, userID string, convID int64) (*assistant.Session, error)
	Turn(ctx context.Context, s *assistant.Session, text string) (assistant.TurnResult, error)
}

var _ Turner = (*assistant.Assistant)(nil)

// Gateway is the HTTP gateway module. It is a leaf module: nothing imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// Resolved lazily at Start() via the service registry.
	memories  MemoryService
	chats     chat.Store
	assistant Turner
	metrics   *metrics.Metrics
	limiter   *security.RateLimiter
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.config.defaults()
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	if (g.config.Auth.BasicUser == "") != (g.config.Auth.BasicPass == "") {
		return errors.New("gateway: basic_user and basic_pass must be set together")
	}
	return nil
}

// Start implements core.Starter. It resolves the engine, transcript store
// and assistant from the service registry and starts the HTTP server.
func (g *Gateway) Start() error {
	if err := g.resolve(); err != nil {
		return err
	}
	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway: /api/v1 is not authenticated", "addr", g.config.Bind)
	}

	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolve binds required and optional services. Metrics are optional.
func (g *Gateway) resolve() error {
	var err error
	if g.memories, err = core.LookupService[MemoryService](g.appCtx, memory.ServiceEngine); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if g.chats, err = core.LookupService[chat.Store](g.appCtx, chat.ServiceStore); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if g.assistant, err = core.LookupService[Turner](g.appCtx, assistant.ServiceName); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	if m, err := core.LookupService[*metrics.Metrics](g.appCtx, metrics.ServiceName); err == nil {
		g.metrics = m
	}
	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
