package main

import (
	"context"
	"time"

	"github.com/lexiqai/narrator/internal/audio"
	"github.com/lexiqai/narrator/internal/cache"
	"github.com/lexiqai/narrator/internal/config"
	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/playback"
	"github.com/lexiqai/narrator/internal/resilience"
	"github.com/lexiqai/narrator/internal/sink"
	"github.com/lexiqai/narrator/internal/speech"
	"github.com/lexiqai/narrator/internal/tts"
)

// pipeline is a resolver plus a queue playing into the selected sink
type pipeline struct {
	cfg      *config.Config
	resolver speech.Resolver
	format   audio.Format
	queue    *playback.Queue
	cache    *cache.Cache
}

// loadConfig requires an API key unless audio comes from a server
func loadConfig() (*config.Config, error) {
	if serverURL != "" {
		return config.LoadClient()
	}
	return config.Load()
}

func openCache(ctx context.Context, cfg *config.Config) (*cache.Cache, error) {
	backend := cfg.CacheBackend
	if cacheKind != "" {
		backend = cacheKind
	}
	store, err := cache.NewStore(cache.StoreOptions{
		Backend:          backend,
		RedisURL:         cfg.RedisURL,
		DiskPath:         cfg.CacheDiskPath,
		DiskCapacity:     cfg.CacheDiskCapacity,
		CompressionLevel: cfg.CacheCompressionLevel,
		MemoryCapacity:   cfg.CacheMemoryCapacity,
	})
	if err != nil {
		return nil, err
	}

	c := cache.New(store, cache.WithReconnect(&resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  5 * time.Second,
	}))
	if err := c.Connect(ctx); err != nil {
		observability.Component("narrate").Warn().Err(err).Str("backend", backend).Msg("Cache unavailable")
	}
	return c, nil
}

func newPipeline(ctx context.Context) (*pipeline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.PlaybackSink = sinkKind

	p := &pipeline{cfg: cfg}
	if serverURL != "" {
		p.resolver = speech.NewRemoteResolver(serverURL, nil)
		p.format, err = audio.ParseFormat(cfg.ElevenLabsOutputFormat)
		if err != nil {
			return nil, err
		}
	} else {
		p.cache, err = openCache(ctx, cfg)
		if err != nil {
			return nil, err
		}
		service := speech.NewService(tts.NewClientFromConfig(cfg), p.cache, speech.VoiceTableFromConfig(cfg))
		p.resolver = service
		p.format = service.Format()
	}

	out, err := sink.New(cfg, p.format)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.queue = playback.NewQueue(p.resolver, out, playback.Options{AutoPlay: true, Volume: volume})
	return p, nil
}

func (p *pipeline) Close() {
	if p.queue != nil {
		p.queue.Dispose()
	}
	if p.cache != nil {
		p.cache.Close()
	}
}

// speakAndWait plays one request and blocks until it ends
func (p *pipeline) speakAndWait(ctx context.Context, req speech.Request) error {
	result := make(chan error, 1)
	var id string
	idSet := make(chan struct{})

	unsubscribe := p.queue.Subscribe(func(ev playback.Event) {
		<-idSet
		if ev.Item == nil || ev.Item.ID != id {
			return
		}
		switch ev.Type {
		case playback.EventItemEnd:
			result <- nil
		case playback.EventItemError:
			result <- ev.Err
		}
	})
	defer unsubscribe()

	id, err := p.queue.Enqueue(req)
	close(idSet)
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		p.queue.Stop()
		return ctx.Err()
	}
}
