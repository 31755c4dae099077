package main

import (
	"collaborative-document-server/auth"
	"collaborative-document-server/internal/collection"
	"collaborative-document-server/internal/config"
	"collaborative-document-server/internal/db"
	"collaborative-document-server/internal/document"
	apperrors "collaborative-document-server/internal/errors"
	"collaborative-document-server/internal/lockq"
	"collaborative-document-server/internal/room"
	"collaborative-document-server/internal/session"
	"collaborative-document-server/internal/user"
	"collaborative-document-server/internal/worker"
	"collaborative-document-server/redis"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	config.LoadConfig()

	logger := newLogger()

	// Connect to database
	db.ConnectDb()
	defer db.CloseDb()

	// Migrate database schema
	db.Migrate()

	// Seed database with initial data (for development)
	db.SeedData()

	// Initialize Redis
	redis.InitRedis()

	// Background flush pool for cache write-backs
	pool := worker.NewPool(4, logger)

	// The hub: per-key lock queue and room fan-out, owned here and
	// injected so tests can build independent instances.
	locks := lockq.New()
	rooms := room.NewBroadcaster()

	// Initialize repositories
	userRepo := user.NewRepository(db.AppDb)
	colRepo := collection.NewRepository(db.AppDb)
	docRepo := document.NewRepository(db.AppDb)

	// Initialize services
	userService := user.NewService(userRepo)
	engine := document.NewEngine(docRepo, pool, config.AppConfig.DocumentTTL, logger)
	collections := collection.NewService(colRepo, docRepo, config.AppConfig.DocumentTTL, logger)

	// Session protocol: router is built once and shared
	sessionRouter := session.NewRouter(apperrors.DefaultChain(), logger)
	handlers := session.NewHandlers(collections, userService, engine, locks, logger)
	if err := handlers.Bind(sessionRouter); err != nil {
		logger.Fatal().Err(err).Msg("failed to register protocol handlers")
	}
	endpoint := session.NewEndpoint(userService, rooms, sessionRouter, logger)

	userHandler := user.NewHandler(userService, logger)

	// Initialize Gin router
	router := gin.Default()

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if config.AppConfig.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.DELETE("/logout", auth.AuthMiddleWare(), userHandler.Logout)
	router.GET("/profile", auth.AuthMiddleWare(), userHandler.GetProfile)

	// Live session upgrade
	router.GET("/ws", endpoint.Handle)

	// Server configuration
	serverPort := config.AppConfig.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		logger.Info().Str("port", serverPort).Msg("server listening")
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown error")
	}

	// Reject queued edits, flush hot documents, drain the pool.
	locks.ClearAll()
	engine.Flush()
	pool.Shutdown()

	logger.Info().Msg("server shutdown complete")
}

func newLogger() zerolog.Logger {
	if config.AppConfig.Environment == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
}
