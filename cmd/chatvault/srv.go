package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"chatvault/internal/blobcache"
	"chatvault/internal/broker"
	"chatvault/internal/chunkstore"
	"chatvault/internal/config"
	"chatvault/internal/metrics"
	"chatvault/internal/server"
	"chatvault/internal/store"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the chatvault API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("db path is required")
			}

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			logger.Info("opening database", "path", cfg.DBPath)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			chunks, closeChunks, err := openChunkStore(cfg, st)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeChunks(); err != nil {
					logger.Warn("closing chunk store", "error", err)
				}
			}()

			registry := newRegistry()
			m := metrics.New(registry)

			srv := server.New(server.Options{
				Addr:         addr,
				Store:        st,
				Chunks:       chunks,
				ChunkBackend: cfg.Storage.Backend,
				Cache: blobcache.New(blobcache.Config{
					MaxEntries:    cfg.Cache.MaxEntries,
					TTL:           cfg.Cache.TTL,
					MaxEntryBytes: cfg.Cache.MaxEntryBytes,
				}),
				Broker: broker.New(broker.Options{
					SubscriberBuffer: cfg.Broker.SubscriberBuffer,
					Logger:           logger,
					Metrics:          m,
				}),
				Registry:           registry,
				Metrics:            m,
				Logger:             logger,
				ChunkSize:          cfg.Storage.ChunkSize,
				MaxUploadBytes:     cfg.Uploads.MaxUploadBytes,
				MultipartMaxMemory: cfg.Uploads.MultipartMaxMemory,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
}

// openChunkStore returns the configured payload backend. The sqlite backend
// shares the metadata database, so closing it is left to the store.
func openChunkStore(cfg *config.Config, st *store.Store) (chunkstore.ChunkStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Storage.Backend {
	case "", config.BackendSQLite:
		return st, noop, nil
	case config.BackendLocalFS:
		fs, err := chunkstore.NewLocalFS(cfg.ChunkDir())
		if err != nil {
			return nil, nil, fmt.Errorf("open localfs chunk store: %w", err)
		}
		return fs, noop, nil
	case config.BackendBadger:
		b, err := chunkstore.NewBadger(cfg.ChunkDir())
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}
