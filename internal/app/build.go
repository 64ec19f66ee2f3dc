package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/five82/segcache/internal/compute"
	"github.com/five82/segcache/internal/config"
	"github.com/five82/segcache/internal/kv"
	"github.com/five82/segcache/internal/query"
	"github.com/five82/segcache/internal/remote"
	"github.com/five82/segcache/internal/segment"
	"github.com/five82/segcache/internal/store"
	"github.com/five82/segcache/internal/view"
)

// ErrNoPanels is returned when the config declares nothing to render.
var ErrNoPanels = errors.New("app: no panels configured")

// Runtime is a built store together with the panel bindings that read it.
type Runtime struct {
	Store    *store.Store
	Bindings []view.Binding

	closers []func() error
}

// Close stops the store and releases backend connections.
func (r *Runtime) Close() error {
	errs := []error{r.Store.Close()}
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Build creates a store in the given mode, registers every configured
// segment and binds every configured panel.
func Build(ctx context.Context, cfg config.Config, mode store.Mode, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.Panels) == 0 {
		return nil, ErrNoPanels
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rt := &Runtime{
		Store: store.New(ctx,
			store.WithLogger(logger),
			store.WithMode(mode),
			store.WithMaxConcurrent(cfg.MaxConcurrentFetches),
		),
	}
	b := builder{cfg: cfg, rt: rt}
	if err := b.registerSegments(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	if err := b.bindPanels(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Info("store built",
		slog.String("store", rt.Store.ID()),
		slog.String("mode", mode.String()),
		slog.Int("segments", len(cfg.Segments)),
		slog.Int("panels", len(rt.Bindings)),
	)
	return rt, nil
}

type builder struct {
	cfg config.Config
	rt  *Runtime

	httpClient *remote.Client
	redis      *kv.RedisFetcher

	kvSegments      map[string]*segment.Segment[query.Flat]
	computeSegments map[string]*segment.Segment[compute.Query]
}

func (b *builder) registerSegments() error {
	b.kvSegments = make(map[string]*segment.Segment[query.Flat])
	b.computeSegments = make(map[string]*segment.Segment[compute.Query])

	for _, sc := range b.cfg.Segments {
		switch sc.Kind {
		case config.KindKV:
			fetcher, err := b.fetcher(sc.Backend)
			if err != nil {
				return fmt.Errorf("segment %q: %w", sc.ID, err)
			}
			seg, err := kv.New(sc.ID, sc.Resource, fetcher)
			if err != nil {
				return fmt.Errorf("segment %q: %w", sc.ID, err)
			}
			if err := b.rt.Store.Register(seg); err != nil {
				return err
			}
			b.kvSegments[sc.ID] = seg

		case config.KindCompute:
			seg, err := compute.New(sc.ID, compute.NewMemoryCache(), compute.WithDefaultEngine(sc.Engine))
			if err != nil {
				return fmt.Errorf("segment %q: %w", sc.ID, err)
			}
			if err := b.rt.Store.Register(seg); err != nil {
				return err
			}
			b.computeSegments[sc.ID] = seg
		}
	}
	return nil
}

// fetcher returns the shared fetcher for a kv backend, connecting lazily.
func (b *builder) fetcher(backend string) (kv.Fetcher, error) {
	switch backend {
	case config.BackendRedis:
		if b.redis == nil {
			client := redis.NewClient(&redis.Options{Addr: b.cfg.RedisAddr})
			b.rt.closers = append(b.rt.closers, client.Close)
			b.redis = kv.NewRedisFetcher(client, b.cfg.RedisPrefix)
		}
		return b.redis, nil
	default:
		if b.httpClient == nil {
			client, err := remote.NewClient(b.cfg.APIBind)
			if err != nil {
				return nil, err
			}
			b.httpClient = client
		}
		return b.httpClient, nil
	}
}

func (b *builder) bindPanels() error {
	for i, p := range b.cfg.Panels {
		if seg, ok := b.kvSegments[p.Segment]; ok {
			q := query.Flat(p.Query)
			if err := q.Validate(); err != nil {
				return fmt.Errorf("panels[%d] %q: %w", i, p.Title, err)
			}
			b.rt.Bindings = append(b.rt.Bindings, view.Bind(p.Title, seg, q, p.ServerFetch))
			continue
		}
		if seg, ok := b.computeSegments[p.Segment]; ok {
			q := compute.Query{Engine: p.Engine, Expr: p.Expr, Env: p.Env}
			b.rt.Bindings = append(b.rt.Bindings, view.Bind(p.Title, seg, q, p.ServerFetch))
			continue
		}
		return fmt.Errorf("panels[%d] %q: unknown segment %q", i, p.Title, p.Segment)
	}
	return nil
}
