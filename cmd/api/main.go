package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/darshilaggarwal/ravello/internal/config"
	"github.com/darshilaggarwal/ravello/internal/handlers"
	"github.com/darshilaggarwal/ravello/internal/ledger"
	"github.com/darshilaggarwal/ravello/internal/middleware"
	"github.com/darshilaggarwal/ravello/internal/services"
	"github.com/darshilaggarwal/ravello/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the shared game state; without it a single-process
	// in-memory store keeps development working.
	var st store.Store
	if redisStore, err := store.NewRedisStore(cfg); err != nil {
		logger.Warn("redis unavailable, falling back to in-memory store", zap.Error(err))
		st = store.NewMemoryStore()
	} else {
		st = redisStore
	}
	defer st.Close()

	db, err := ledger.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	lg := ledger.New(db, logger)

	jwtService := services.NewJWTService(cfg)
	crashEngine := services.NewCrashEngine(st, lg, nil, logger, services.CrashConfig{
		BettingWindow: cfg.CrashBettingWindow,
		TickInterval:  cfg.CrashTickInterval,
		Cooldown:      cfg.CrashCooldown,
	})
	minesEngine := services.NewMinesEngine(st, lg, logger)
	diceService := services.NewDiceService(lg, logger)
	verifyService := services.NewVerifyService(lg)

	hub := handlers.NewHub(crashEngine, logger)
	crashEngine.SetBroadcaster(hub)
	go crashEngine.Run(ctx)

	crashHandler := handlers.NewCrashHandler(crashEngine)
	minesHandler := handlers.NewMinesHandler(minesEngine)
	diceHandler := handlers.NewDiceHandler(diceService)
	fairnessHandler := handlers.NewFairnessHandler(lg, verifyService)
	userHandler := handlers.NewUserHandler(lg)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	{
		protected.GET("/me", userHandler.Me)
		protected.GET("/me/balance", userHandler.Balance)

		protected.GET("/ws", hub.Handle)

		games := protected.Group("/games")
		{
			games.GET("/seeds", fairnessHandler.Seeds)
			games.POST("/seeds", fairnessHandler.RotateSeed)
			games.GET("/verify/:gameId", fairnessHandler.VerifyGame)
			games.POST("/verify", fairnessHandler.Verify)

			crash := games.Group("/crash")
			{
				crash.POST("/bet", crashHandler.PlaceBet)
				crash.POST("/cashout", crashHandler.Cashout)
				crash.GET("/current", crashHandler.Current)
				crash.GET("/history", crashHandler.History)
			}

			games.POST("/mines", minesHandler.Start)
			mines := games.Group("/mines")
			{
				mines.POST("/reveal", minesHandler.Reveal)
				mines.POST("/cashout", minesHandler.Cashout)
				mines.GET("/active", minesHandler.Active)
			}

			games.POST("/dice", diceHandler.Play)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
