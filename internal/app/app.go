package app

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"tush00nka/bbbab_sync/internal/config"
	"tush00nka/bbbab_sync/internal/handler"
	"tush00nka/bbbab_sync/internal/history"
	"tush00nka/bbbab_sync/internal/pkg/auth"
	"tush00nka/bbbab_sync/internal/repository"
	"tush00nka/bbbab_sync/internal/room"
	"tush00nka/bbbab_sync/internal/service"
	"tush00nka/bbbab_sync/internal/sync"
)

type App struct {
}

func Run(cfg *config.Config) {
	userID, err := auth.UserIDFromToken(cfg.AuthToken)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	conn, err := room.Dial(ctx, cfg.WSURL, cfg.AuthToken)
	if err != nil {
		log.Fatal(err)
	}

	sub := room.NewSubscription(conn, 256)
	go conn.ReadPump(sub.Dispatch)
	go conn.WritePump()

	fetcher := history.NewHTTPPageFetcher(cfg.APIBaseURL, cfg.AuthToken)

	opts := sync.Options{PageSize: cfg.PageSize}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, hot cache disabled: %v", err)
		} else {
			opts.Cache = repository.NewHotCache(rdb)
		}
	}

	if cfg.ArchivePath != "" {
		db, err := repository.NewDB(cfg.ArchivePath)
		if err != nil {
			log.Fatal(err)
		}
		archive, err := repository.NewMessageArchive(db)
		if err != nil {
			log.Fatal(err)
		}
		opts.Archive = archive
	}

	engine := sync.NewEngine(userID, fetcher, sub, opts)
	go func() {
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("engine stopped: %v", err)
		}
	}()

	var media *service.MediaService
	if cfg.S3Endpoint != "" {
		media, err = service.NewMediaService(cfg)
		if err != nil {
			log.Fatal(err)
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := media.HealthCheck(checkCtx); err != nil {
			log.Printf("media storage unavailable, attachments will fail: %v", err)
		}
		cancel()
	}

	syncHandler := handler.NewSyncHandler(engine, media)

	server := NewServer(syncHandler)
	server.Run(cfg.ServerPort)
}
