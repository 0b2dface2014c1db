package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/raichat/social/cache"
	"github.com/raichat/social/feed"
	"github.com/raichat/social/ingest"
	"github.com/raichat/social/server"
	"github.com/raichat/social/storage"
	dbstore "github.com/raichat/social/storage/db"
	memstore "github.com/raichat/social/storage/mem"
	"github.com/raichat/social/storage/models"
	"github.com/raichat/social/tasks"
	"github.com/raichat/social/utils"
)

func buildStore(ctx context.Context) storage.Store {
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		log.Info("DB_HOST not set, using in-memory store")
		return memstore.NewStore()
	}

	connectionPool, err := pgxpool.New(
		ctx,
		fmt.Sprintf(
			"user=%s password=%s dbname=%s sslmode=disable host=%s port=%s",
			os.Getenv("DB_USERNAME"),
			os.Getenv("DB_PASSWORD"),
			"raichat_social",
			dbHost,
			os.Getenv("DB_PORT"),
		),
	)
	if err != nil {
		panic(err)
	}
	return dbstore.NewStore(connectionPool)
}

func buildCaches() (*cache.CounterCache, *cache.SettingsCache) {
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		log.Info("REDIS_HOST not set, running without caches")
		return nil, nil
	}

	redisConnection := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", redisHost, os.Getenv("REDIS_PORT")),
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	countersExpiration := utils.IntFromString(
		os.Getenv("COUNTERS_CACHE_EXPIRATION_MINUTES"), 1440,
	)
	settingsExpiration := utils.IntFromString(
		os.Getenv("SETTINGS_CACHE_EXPIRATION_MINUTES"), 60,
	)
	return cache.NewCounterCache(redisConnection, time.Duration(countersExpiration)*time.Minute),
		cache.NewSettingsCache(redisConnection, time.Duration(settingsExpiration)*time.Minute)
}

func runBackgroundTasks(manager *storage.Manager, engine *feed.Engine) {
	// Counter audit
	go utils.Recoverer(math.MaxInt, 1, func() {
		auditInterval := utils.IntFromString(os.Getenv("AUDIT_INTERVAL_MINUTES"), 15)
		auditor := tasks.NewAuditor(manager, time.Duration(auditInterval)*time.Minute)
		auditor.Run()
	})

	// Upstream message stream
	streamURL := os.Getenv("STREAM_URL")
	if streamURL == "" {
		log.Info("STREAM_URL not set, feed log will not be fed")
		return
	}
	go utils.Recoverer(math.MaxInt, 2, func() {
		u, err := url.Parse(streamURL)
		if err != nil {
			log.Errorf("Invalid STREAM_URL: %v", err)
			return
		}
		consumer := ingest.New("message_stream", manager, engine, *u)
		if consumer == nil {
			panic("could not connect to message stream")
		}
		consumer.Run()
	})
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file loaded")
	}
	log.SetLevel(log.InfoLevel)

	ctx := context.Background()
	store := buildStore(ctx)
	counters, settings := buildCaches()
	manager := storage.NewManager(store, counters, settings)

	engine := feed.NewEngine(
		func(ctx context.Context, authorID string) (models.Profile, json.RawMessage, error) {
			p, err := manager.GetProfile(ctx, authorID)
			if err != nil {
				return models.Profile{}, nil, err
			}
			blob, err := manager.GetSettings(ctx, authorID)
			if err != nil {
				return p, nil, err
			}
			return p, blob, nil
		},
		utils.IntFromString(os.Getenv("FEED_BUFFER_SIZE"), feed.DefaultBufferSize),
	)

	plans := &server.StaticPlanService{
		Plans:   make(map[string]server.Plan),
		Default: server.Plan{Name: os.Getenv("DEFAULT_PLAN")},
	}

	s := server.NewServer(manager, engine, plans)

	runBackgroundTasks(manager, engine)

	s.Run()
}
