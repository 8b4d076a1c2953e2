package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"raggate-api/internal/config"
	"raggate-api/internal/database"
	"raggate-api/internal/knowledge"
	"raggate-api/internal/middleware"
	"raggate-api/internal/prompt"
	"raggate-api/internal/providers"
	"raggate-api/internal/retrieval"
	"raggate-api/internal/routers"
	"raggate-api/internal/routes/chat"
	"raggate-api/internal/shared"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	// Flags / ENV Variables
	listenAddr := flag.String("listen", ":8080", "Listen address")
	configPath := flag.String("config", "raggate.json", "Gateway config file")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for the embedding cache (optional)")
	historyDSN := flag.String("history-dsn", "", "MySQL DSN for query history (optional)")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed loading config: %s", err))
	}

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	// Knowledge-store collaborators
	store := knowledge.NewStore(cfg.Retrieval.StoreURL)
	embedClient := knowledge.NewEmbedder(cfg.Retrieval.EmbedURL, cfg.Retrieval.EmbedModel)
	var embedder retrieval.Embedder = embedClient
	var redisClient *redis.Client
	if *redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
		embedder = knowledge.NewCachedEmbedder(embedClient, redisClient, shared.DefaultEmbedCacheTTL, log)
		log.Info("Embedding cache enabled")
	}
	retriever := retrieval.New(embedder, store, log)

	counter, err := prompt.NewTokenCounter("gpt-4")
	if err != nil {
		panic(fmt.Sprintf("failed initializing tokenizer: %s", err))
	}
	composer := prompt.NewComposer(counter)

	registry, err := providers.NewRegistry(cfg, providers.DefaultRetryPolicy(), log)
	if err != nil {
		panic(fmt.Sprintf("failed building provider registry: %s", err))
	}

	// Query history is optional; a nil *History records nothing.
	var history *database.History
	var historyDB *sql.DB
	if *historyDSN != "" {
		historyDB, err = sql.Open("mysql", *historyDSN)
		if err != nil {
			panic(fmt.Sprintf("failed initializing history db: %s", err))
		}
		if err = historyDB.Ping(); err != nil {
			panic(fmt.Sprintf("failed ping to history db: %s", err))
		}
		history = database.NewHistory(historyDB, log)
		log.Info("Query history enabled")
	}

	defer func() {
		history.Shutdown()
		if historyDB != nil {
			_ = historyDB.Close()
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	e := echo.New()
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractBearer(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}
			if apiKey != *metricsAPIKey {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	})

	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	dispatcher := chat.NewDispatcher(cfg, registry, retriever, composer, history, log)
	routers.RegisterGatewayRoutes(base, dispatcher, registry)

	go func() {
		if err := e.Start(*listenAddr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}
