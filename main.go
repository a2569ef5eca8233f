package main

import (
	"context"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"canvasclash/canvas"
	"canvasclash/config"
	"canvasclash/game"
	"canvasclash/migrations"
	"canvasclash/session"
	"canvasclash/storage"
	"canvasclash/wordbank"
)

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", func(ctx *gin.Context) { ctx.String(200, "healthy") })

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")
		if origin == "" || slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(403, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

func main() {
	cfg := config.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	gin.SetMode(cfg.GinMode)
	allowedOrigins := strings.Split(cfg.AllowedOrigins, ",")

	var store storage.Store
	if cfg.PostgresURL != "" {
		if err := migrations.Migrate(cfg.PostgresURL); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		pg, err := storage.NewPostgresStore(context.Background(), cfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("could not connect to postgres")
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn().Msg("POSTGRES_URL not set, snapshots held in memory only")
		store = storage.NewMemoryStore()
	}

	reg := session.NewRegistry(cfg.RoomIdleTimeout, logger)
	fabric := session.NewFabric(reg, logger)
	bank := wordbank.NewBank()

	canvasSvc := canvas.NewService(reg, fabric, store, logger)
	gameSvc := game.NewService(reg, fabric, bank, store, cfg.DisconnectGrace, logger)

	handler := NewHandler(reg, canvasSvc, gameSvc, logger)

	r := CreateServer(allowedOrigins)
	{
		rooms := r.Group("/rooms")
		rooms.POST("/game", handler.CreateGameHandler)
		rooms.GET("/game", handler.ListGamesHandler)
		rooms.GET("/canvas/:id/snapshot", handler.CanvasSnapshotHandler)
	}
	{
		ws := r.Group("/ws")
		ws.GET("/canvas/:id", handler.CanvasSocketHandler)
		ws.GET("/game/:code", handler.GameSocketHandler)
	}

	logger.Info().Str("port", cfg.Port).Msg("server listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
