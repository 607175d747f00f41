package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	bg "github.com/sagarsuperuser/bucketguard"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	clients := flag.Int("clients", 8, "number of simulated clients")
	requests := flag.Int("requests", 20, "requests per client")
	redisAddr := flag.String("redis", "", "publish stats to this Redis address, e.g. 127.0.0.1:6379")
	flag.Parse()

	// A missing .env file is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := bg.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var evicted atomic.Int64
	sched := bg.NewTimerScheduler()
	limiter, err := bg.NewKeyedLimiter(
		cfg.RateSpec(nil),
		bg.KeyedStoreSpec(cfg.Keyed, func(uuid.UUID) { evicted.Add(1) }),
		bg.WithLogger(logger),
		bg.WithScheduler(sched),
	)
	if err != nil {
		log.Fatalf("keyed limiter: %v", err)
	}
	defer limiter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var client *bg.RadixClient
	if *redisAddr != "" {
		client, err = bg.NewRadixClient("tcp", *redisAddr, 4, false)
		if err != nil {
			log.Fatalf("redis client: %v", err)
		}
		defer client.Close()

		pub := bg.NewStatsPublisher(limiter, client, bg.PublisherConfig{Prefix: "bucketguard:demo:", TTL: time.Minute}, logger)
		if err := pub.Start(sched, time.Second); err != nil {
			log.Fatalf("publisher: %v", err)
		}
		defer pub.Stop()
	}

	fmt.Printf("---- %d clients, %d requests each, rate %s ----\n", *clients, *requests, cfg.RateSpec(nil))

	var granted, denied atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for range *clients {
		key := uuid.New()
		g.Go(func() error {
			for range *requests {
				p, err := limiter.Allow(key)
				if err != nil {
					return fmt.Errorf("allow %s: %w", key, err)
				}
				if p.Granted {
					granted.Add(1)
					continue
				}
				denied.Add(1)
				if _, err := limiter.Acquire(ctx, key, 1); err != nil {
					return fmt.Errorf("acquire %s: %w", key, err)
				}
				granted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("workers: %v", err)
	}

	fmt.Printf("granted=%d denied_then_waited=%d keys=%d evicted=%d\n",
		granted.Load(), denied.Load(), limiter.Len(), evicted.Load())

	if client != nil {
		fmt.Printf("redis active_conns=%d\n", client.NumActiveConns())
	}

	sample := limiter.SnapshotSample(3)
	for key, st := range sample.Samples {
		fmt.Printf("%s available=%d/%d\n", key, st.Available, st.Capacity)
	}
}
