package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"codeassist/internal/chunker"
	"codeassist/internal/chunker/languages"
	"codeassist/internal/config"
	"codeassist/internal/embedder"
	"codeassist/internal/llm"
	"codeassist/internal/rag"
	"codeassist/internal/store"
)

// app holds what every command needs: configuration, logging and the
// opened index collection.
type app struct {
	cfg        *config.AppConfig
	log        *slog.Logger
	store      *store.Store
	collection *store.Collection
	embedder   embedder.Embedder
}

func openApp(ctx context.Context) (*app, error) {
	cfg, cfgPath, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if cfgPath != "" {
		log.Debug("loaded config", "path", cfgPath)
	}

	emb, err := embedder.New(embedder.Config{
		Provider: cfg.Embedder.Provider,
		BaseURL:  cfg.Embedder.BaseURL,
		Model:    cfg.Embedder.Model,
		APIKey:   cfg.EmbedderAPIKey(),
		Timeout:  cfg.Embedder.Timeout,
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Index.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	st, err := store.Open(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	coll, err := st.GetOrCreateCollection(ctx, cfg.Index.Collection)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open collection: %w", err)
	}
	log.Debug("opened index", "path", cfg.Index.Path, "collection", coll.Name())

	return &app{cfg: cfg, log: log, store: st, collection: coll, embedder: emb}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) retriever() (*rag.Retriever, error) {
	return rag.NewRetriever(a.collection, a.embedder,
		rag.WithCacheSize(a.cfg.Retrieval.CacheSize),
		rag.WithLogger(a.log),
	)
}

func (a *app) chatClient() (llm.Client, error) {
	return llm.New(llm.Config{
		Provider: a.cfg.Chat.Provider,
		BaseURL:  a.cfg.Chat.BaseURL,
		Model:    a.cfg.Chat.Model,
		APIKey:   a.cfg.ChatAPIKey(),
		Timeout:  a.cfg.Chat.Timeout,
	})
}

func newChunker() *chunker.Chunker {
	reg := chunker.NewRegistry()
	languages.RegisterAll(reg)
	return chunker.New(reg)
}

// newLogger writes text logs to stderr so they never mix with the session on stdout.
func newLogger(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
