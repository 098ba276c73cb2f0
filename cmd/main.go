package main

import (
	"crypto/rand"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Wbbdlr/kvitlach/config"
	"github.com/Wbbdlr/kvitlach/internal/audit"
	"github.com/Wbbdlr/kvitlach/internal/game/store"
	"github.com/Wbbdlr/kvitlach/internal/session"
	"github.com/Wbbdlr/kvitlach/internal/storage"
	"github.com/Wbbdlr/kvitlach/internal/utils"
	"github.com/Wbbdlr/kvitlach/internal/websocket"
)

func main() {
	config.Load()
	utils.Init()

	//-------------------------------------------------------
	// 1. Session backend: Redis when configured, memory otherwise
	//-------------------------------------------------------
	var sessionRepo session.Repo
	if config.C.Redis.Addr != "" {
		if err := storage.InitRedis(
			config.C.Redis.Addr,
			config.C.Redis.Password,
			config.C.Redis.DB,
		); err != nil {
			utils.Log.Fatal("redis init failed", "err", err)
		}
		sessionRepo = session.NewRedisRepo(storage.Rdb)
		utils.Log.Info("sessions backed by redis", "addr", config.C.Redis.Addr)
	} else {
		sessionRepo = session.NewMemoryRepo()
	}

	secret := []byte(config.C.JWT.Secret)
	if len(secret) == 0 {
		// Per-process key: sessions then die with the process, which
		// matches the no-persistence contract.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			utils.Log.Fatal("rng unavailable", "err", err)
		}
	}
	sessions := session.NewManager(secret, sessionRepo)

	//-------------------------------------------------------
	// 2. Audit sink: Postgres when a DSN is configured
	//-------------------------------------------------------
	sink := audit.NewNop()
	if config.C.Database.DSN != "" {
		pg, err := audit.NewPostgres(config.C.Database.DSN, utils.Log)
		if err != nil {
			utils.Log.Fatal("audit sink init failed", "err", err)
		}
		sink = pg
		defer sink.Close()
		utils.Log.Info("connection audit enabled")
	}

	//-------------------------------------------------------
	// 3. Store, hub, dispatcher
	//-------------------------------------------------------
	st := store.New(sessions, sink, utils.Log)
	hub := websocket.NewHub(utils.Log)
	go hub.Run()
	dispatcher := websocket.NewDispatcher(st, hub, sink, utils.Log)

	//-------------------------------------------------------
	// 4. Health endpoint
	//-------------------------------------------------------
	gin.SetMode(gin.ReleaseMode)
	health := gin.Default()
	health.Use(corsConfig())
	health.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	go func() {
		addr := fmt.Sprintf("%s:%d", config.C.Server.Host, config.C.Server.HTTPPort)
		utils.Log.Info("health endpoint", "addr", addr)
		if err := health.Run(addr); err != nil {
			utils.Log.Fatal("health server failed", "err", err)
		}
	}()

	//-------------------------------------------------------
	// 5. WebSocket listener
	//-------------------------------------------------------
	ws := gin.Default()
	ws.Use(corsConfig())
	ws.GET("/ws", websocket.ServeWS(hub, dispatcher))

	addr := fmt.Sprintf("%s:%d", config.C.Server.Host, config.C.Server.WSPort)
	utils.Log.Info("server running", "addr", addr)
	if err := ws.Run(addr); err != nil {
		utils.Log.Fatal("server failed", "err", err)
	}
}

func corsConfig() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
	})
}
