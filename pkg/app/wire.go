package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/flemzord/hafiza/internal/assistant"
	"github.com/flemzord/hafiza/internal/chat"
	"github.com/flemzord/hafiza/internal/core"
	"github.com/flemzord/hafiza/internal/memory"
	"github.com/flemzord/hafiza/internal/metrics"
	"github.com/flemzord/hafiza/internal/provider"
)

// secretHolder is implemented by modules that carry credentials.
type secretHolder interface {
	Secrets() []string
}

// engineModule puts the assembled engine in the app lifecycle so the
// embedding cache is released on shutdown.
type engineModule struct {
	cache *memory.CachedEmbedder
}

func (m *engineModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "memory.engine"}
}

func (m *engineModule) Stop(context.Context) error {
	if m.cache != nil {
		m.cache.Close()
	}
	return nil
}

// wire assembles the components that span several modules: the memory
// engine, the provider chain, the extractor and the assistant. It runs
// after LoadModules and before Start, so modules resolving services in
// Start find them.
func (a *App) wire(ids []string) error {
	ctx := a.ctx
	logger := a.Logger

	var providers []provider.Provider
	for _, id := range ids {
		mod, ok := a.core.Module(id)
		if !ok {
			continue
		}
		if s, ok := mod.(secretHolder); ok {
			for _, secret := range s.Secrets() {
				a.redactor.AddLiteral(secret)
			}
		}
		if p, ok := mod.(provider.Provider); ok {
			providers = append(providers, p)
			logger.Info("app: discovered provider", "module", id, "model", p.ModelName())
		}
	}

	a.Metrics = metrics.New()
	ctx.RegisterService(metrics.ServiceName, a.Metrics)

	store, err := core.LookupService[memory.Store](ctx, memory.ServiceStore)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	embedder, err := core.LookupService[memory.Embedder](ctx, memory.ServiceEmbedder)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	engineMod := &engineModule{}
	if cc := a.Config.Memory.Cache; !cc.Disabled {
		cached, err := memory.NewCachedEmbedder(embedder, memory.CacheConfig{MaxBytes: cc.MaxBytes, MaxEntries: cc.MaxEntries})
		if err != nil {
			return err
		}
		engineMod.cache = cached
		embedder = cached
	}

	opts := []memory.EngineOption{
		memory.WithSettings(a.Config.Memory.Settings),
		memory.WithLogger(logger.With("component", "memory")),
		memory.WithObserver(a.Metrics),
	}
	if f, err := core.LookupService[memory.NearestFinder](ctx, memory.ServiceFinder); err == nil {
		opts = append(opts, memory.WithFinder(f))
	} else if !errors.Is(err, core.ErrServiceNotFound) {
		return fmt.Errorf("app: %w", err)
	}
	if ix, err := core.LookupService[memory.Indexer](ctx, memory.ServiceIndexer); err == nil {
		opts = append(opts, memory.WithIndexer(ix))
	} else if !errors.Is(err, core.ErrServiceNotFound) {
		return fmt.Errorf("app: %w", err)
	}

	engine, err := memory.NewEngine(store, embedder, opts...)
	if err != nil {
		if engineMod.cache != nil {
			engineMod.cache.Close()
		}
		return err
	}
	a.Engine = engine
	ctx.RegisterService(memory.ServiceEngine, engine)
	a.core.AppendModule("memory.engine", engineMod)

	chats, err := core.LookupService[chat.Store](ctx, chat.ServiceStore)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.Chats = chats

	var extractor memory.CandidateExtractor = memory.HeuristicExtractor{}
	switch len(providers) {
	case 0:
		logger.Warn("app: no provider module configured, replies echo the user")
		a.Provider = provider.Echo{}
	default:
		chain, err := provider.NewChain(logger, providers...)
		if err != nil {
			return err
		}
		a.Provider = chain
		extractor = memory.NewChainExtractor(logger, memory.NewLLMExtractor(chain), memory.HeuristicExtractor{})
	}
	ctx.RegisterService(provider.ServiceChain, a.Provider)
	ctx.RegisterService(memory.ServiceExtractor, extractor)

	asst, err := assistant.New(assistant.Deps{
		Memories:  engine,
		Chats:     chats,
		Provider:  a.Provider,
		Extractor: extractor,
		Observer:  a.Metrics,
		Logger:    logger,
	}, a.Config.Assistant)
	if err != nil {
		return err
	}
	a.Assistant = asst
	ctx.RegisterService(assistant.ServiceName, asst)

	logger.Info("app: memory engine ready",
		"embedder", embedder.Model(), "providers", len(providers), "user", a.Config.UserID)
	return nil
}
