package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fathom-terminal/fathom/internal/adapter"
	"github.com/fathom-terminal/fathom/internal/adapter/binance"
	"github.com/fathom-terminal/fathom/internal/adapter/bitstamp"
	"github.com/fathom-terminal/fathom/internal/book"
	"github.com/fathom-terminal/fathom/internal/config"
	"github.com/fathom-terminal/fathom/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Printf("fathom starting (env=%s pair=%s)", cfg.Env, cfg.Pair.Symbol())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := book.NewStore()
	pub := book.NewPublisher(store)

	monitorCfg := book.DefaultMonitorConfig()
	monitorCfg.StaleThreshold = time.Duration(cfg.Feed.StaleThresholdSec) * time.Second
	monitorCfg.DisconnectGrace = time.Duration(cfg.Feed.DisconnectGraceSec) * time.Second
	monitor := book.NewMonitor(monitorCfg, store)

	if cfg.Binance.Enabled {
		url := binance.StreamURL(cfg.Binance.URL, cfg.Pair.Base, cfg.Pair.Quote)
		ws := adapter.NewWSClient(wsConfig(cfg.Feed, "binance", url))
		if err := ws.Connect(ctx); err != nil {
			log.Fatalf("binance: connect: %v", err)
		}
		defer ws.Close()

		ad := binance.New(ws)
		monitor.Watch(adapter.ExchangeBinance, ws)
		go ad.Run(ctx)
		go ingest(ctx, store, monitor, ad.Updates())
	}

	if cfg.Bitstamp.Enabled {
		ws := adapter.NewWSClient(wsConfig(cfg.Feed, "bitstamp", cfg.Bitstamp.URL))
		ad := bitstamp.New(ws)
		// Bitstamp sessions lose subscriptions on reconnect; replay the
		// handshake every time the connection comes back.
		ws.OnReconnect(func() { ad.Subscribe(cfg.Pair.Base, cfg.Pair.Quote) })

		if err := ws.Connect(ctx); err != nil {
			log.Fatalf("bitstamp: connect: %v", err)
		}
		defer ws.Close()

		ad.Subscribe(cfg.Pair.Base, cfg.Pair.Quote)
		monitor.Watch(adapter.ExchangeBitstamp, ws)
		go ad.Run(ctx)
		go ingest(ctx, store, monitor, ad.Updates())
	}

	go monitor.Run(ctx)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		sub := pub.Subscribe(ctx)
		rw := book.NewRedisWriter(redisClient{client}, cfg.Pair.Symbol(), sub.Updates())
		go rw.Run(ctx)
		log.Printf("redis: mirroring summary to %s", cfg.Redis.Addr)
	}

	srv, err := server.New(cfg.Server.ListenAddr, pub)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	go func() {
		<-ctx.Done()
		log.Printf("fathom shutting down")
		srv.GracefulStop()
	}()

	log.Printf("grpc: listening on %s", srv.Addr())
	if err := srv.Serve(); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// wsConfig applies feed tuning from the environment on top of the client
// defaults.
func wsConfig(feed config.FeedConfig, name, url string) adapter.WSConfig {
	cfg := adapter.DefaultWSConfig(name, url)
	cfg.HeartbeatTimeout = time.Duration(feed.HeartbeatTimeoutMS) * time.Millisecond
	cfg.BackoffInitial = time.Duration(feed.BackoffInitialMS) * time.Millisecond
	cfg.BackoffMax = time.Duration(feed.BackoffMaxMS) * time.Millisecond
	return cfg
}

// ingest drains one adapter's updates into the shared store. The store lock
// is only ever taken after a snapshot is fully parsed, never across a
// network wait.
func ingest(ctx context.Context, store *book.Store, monitor *book.Monitor, updates <-chan adapter.BookUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			store.Apply(update)
			monitor.Observe(update.Exchange)
		}
	}
}

// redisClient adapts *redis.Client to the book.RedisClient interface.
type redisClient struct {
	c *redis.Client
}

func (r redisClient) HSet(ctx context.Context, key string, values ...any) error {
	return r.c.HSet(ctx, key, values...).Err()
}
